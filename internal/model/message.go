package model

import (
	"time"

	"gorm.io/datatypes"
)

type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeVideo  MessageType = "video"
	MessageTypeAudio  MessageType = "audio"
	MessageTypeFile   MessageType = "file"
	MessageTypeSystem MessageType = "system"
)

// Valid reports whether t is a known type. System messages are valid here
// but only the server creates them.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeVideo,
		MessageTypeAudio, MessageTypeFile, MessageTypeSystem:
		return true
	}
	return false
}

// Message 消息. Deleted messages keep their content and are hidden from reads.
type Message struct {
	ID            int64          `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	ChatID        int64          `gorm:"not null;index:idx_messages_chat_created,priority:1" json:"chat_id,string"`
	SenderID      int64          `gorm:"not null;index" json:"sender_id,string"`
	Content       *string        `gorm:"type:text" json:"content"`
	Type          MessageType    `gorm:"not null;type:varchar(16);default:text" json:"type"`
	MediaURL      *string        `gorm:"type:text" json:"media_url"`
	MediaMetadata datatypes.JSON `gorm:"type:jsonb" json:"media_metadata,omitempty"`
	ReplyToID     *int64         `gorm:"index" json:"reply_to_id,string"`
	IsEdited      bool           `gorm:"not null;default:false" json:"is_edited"`
	IsDeleted     bool           `gorm:"not null;default:false" json:"is_deleted"`

	CreatedAt time.Time `gorm:"not null;index:idx_messages_chat_created,priority:2" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Message) TableName() string {
	return "messages"
}

// MessageReaction 消息表情回应. At most one row per (message, user, emoji).
type MessageReaction struct {
	ID        int64     `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	MessageID int64     `gorm:"not null;uniqueIndex:idx_reactions_message_user_emoji,priority:1" json:"message_id,string"`
	UserID    int64     `gorm:"not null;uniqueIndex:idx_reactions_message_user_emoji,priority:2" json:"user_id,string"`
	Emoji     string    `gorm:"not null;type:varchar(32);uniqueIndex:idx_reactions_message_user_emoji,priority:3" json:"emoji"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (MessageReaction) TableName() string {
	return "message_reactions"
}

// ReplyPreview is resolved when the page is read, so it shows the current
// content of the original. Content is withheld once the original is deleted.
type ReplyPreview struct {
	ID         int64   `json:"id,string"`
	SenderID   int64   `json:"sender_id,string"`
	SenderName string  `json:"sender_name"`
	Content    *string `json:"content"`
	IsDeleted  bool    `json:"is_deleted"`
}

// ReactionView is a reaction with the reactor's display fields.
type ReactionView struct {
	ID          int64     `json:"id,string"`
	MessageID   int64     `json:"message_id,string"`
	UserID      int64     `json:"user_id,string"`
	Emoji       string    `json:"emoji"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// MessageView is a message enriched for clients.
type MessageView struct {
	Message
	Sender    *UserProfile   `json:"sender"`
	ReplyTo   *ReplyPreview  `json:"reply_to,omitempty"`
	Reactions []ReactionView `json:"reactions"`
}

// ReactionResult reports the state a toggle left behind.
type ReactionResult struct {
	MessageID int64  `json:"message_id,string"`
	Emoji     string `json:"emoji"`
	Added     bool   `json:"added"`
}

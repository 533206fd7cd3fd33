package model

import (
	"fmt"
	"time"
)

type ChatType string

const (
	ChatTypeDirect  ChatType = "direct"
	ChatTypeGroup   ChatType = "group"
	ChatTypeChannel ChatType = "channel"
)

func (t ChatType) Valid() bool {
	switch t {
	case ChatTypeDirect, ChatTypeGroup, ChatTypeChannel:
		return true
	}
	return false
}

type MemberRole string

const (
	RoleAdmin  MemberRole = "admin"
	RoleMember MemberRole = "member"
)

// Chat 会话. DirectKey is set only for direct chats and is unique, so a pair
// of users can own at most one direct chat.
type Chat struct {
	ID          int64    `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	Type        ChatType `gorm:"not null;type:varchar(16)" json:"type"`
	Name        *string  `gorm:"type:varchar(100)" json:"name"`
	Description *string  `gorm:"type:text" json:"description"`
	AvatarURL   *string  `gorm:"type:text" json:"avatar_url"`
	CreatedBy   int64    `gorm:"not null" json:"created_by,string"`
	DirectKey   *string  `gorm:"uniqueIndex;type:varchar(64)" json:"-"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;index" json:"updated_at"`
}

func (Chat) TableName() string {
	return "chats"
}

// DirectKey returns the order-independent key of a user pair.
func DirectKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

// ChatMember 会话成员. LastReadMessageID is the read cursor; nil means nothing read.
type ChatMember struct {
	ID                int64      `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	ChatID            int64      `gorm:"not null;uniqueIndex:idx_chat_members_chat_user,priority:1" json:"chat_id,string"`
	UserID            int64      `gorm:"not null;index;uniqueIndex:idx_chat_members_chat_user,priority:2" json:"user_id,string"`
	Role              MemberRole `gorm:"not null;type:varchar(16);default:member" json:"role"`
	LastReadMessageID *int64     `json:"last_read_message_id,string"`
	IsMuted           bool       `gorm:"not null;default:false" json:"is_muted"`
	JoinedAt          time.Time  `gorm:"not null" json:"joined_at"`
}

func (ChatMember) TableName() string {
	return "chat_members"
}

// MemberView is a membership row joined with the member's profile.
type MemberView struct {
	UserID            int64      `json:"user_id,string"`
	Role              MemberRole `json:"role"`
	JoinedAt          time.Time  `json:"joined_at"`
	LastReadMessageID *int64     `json:"last_read_message_id,string"`
	IsMuted           bool       `json:"is_muted"`
	Username          string     `json:"username"`
	DisplayName       string     `json:"display_name"`
	AvatarURL         *string    `json:"avatar_url"`
	IsOnline          bool       `json:"is_online"`
	LastSeen          *time.Time `json:"last_seen"`
}

// ChatSummary is one entry of a user's chat list.
type ChatSummary struct {
	Chat
	LastReadMessageID *int64       `json:"last_read_message_id,string"`
	IsMuted           bool         `json:"is_muted"`
	UnreadCount       int64        `json:"unread_count"`
	LastMessage       *MessageView `json:"last_message"`
	OtherUser         *UserProfile `json:"other_user,omitempty"`
}

// ChatDetail is a chat with its full member list and the caller's role.
type ChatDetail struct {
	Chat
	Members     []MemberView `json:"members"`
	UserRole    MemberRole   `json:"user_role"`
	UnreadCount int64        `json:"unread_count"`
}

// CreateChatResult reports the chat id and whether a new chat was created.
type CreateChatResult struct {
	ID      int64  `json:"id,string"`
	Created bool   `json:"created"`
	Message string `json:"message"`
}

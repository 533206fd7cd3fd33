package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Gopher0727/KaifLake/internal/model"
)

// IChatRepository defines the interface for chat and membership data operations
type IChatRepository interface {
	// CreateWithMembers inserts the chat, its members and the optional system
	// message in one transaction. A direct chat whose key already exists
	// yields ErrDuplicate and nothing is written.
	CreateWithMembers(ctx context.Context, chat *model.Chat, members []*model.ChatMember, system *model.Message) error
	FindByID(ctx context.Context, id int64) (*model.Chat, error)
	FindDirect(ctx context.Context, a, b int64) (*model.Chat, error)
	FindMember(ctx context.Context, chatID, userID int64) (*model.ChatMember, error)
	ListMembers(ctx context.Context, chatID int64) ([]model.MemberView, error)
	// ListForUser returns the user's chats, newest activity first, with unread counts.
	ListForUser(ctx context.Context, userID int64) ([]model.ChatSummary, error)
	// DirectPeers maps each given chat to the member that is not userID.
	DirectPeers(ctx context.Context, userID int64, chatIDs []int64) (map[int64]model.UserProfile, error)
	CountUnread(ctx context.Context, chatID, userID int64, cursor *int64) (int64, error)
	SetReadCursor(ctx context.Context, chatID, userID, messageID int64) error
}

// ChatRepository implements IChatRepository on gorm
type ChatRepository struct {
	db *gorm.DB
}

func NewChatRepository(db *gorm.DB) IChatRepository {
	return &ChatRepository{db: db}
}

func (r *ChatRepository) CreateWithMembers(ctx context.Context, chat *model.Chat, members []*model.ChatMember, system *model.Message) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(chat).Error; err != nil {
			return err
		}
		if len(members) > 0 {
			if err := tx.Create(&members).Error; err != nil {
				return err
			}
		}
		if system != nil {
			if err := tx.Create(system).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create chat: %w", translate(err))
	}
	return nil
}

func (r *ChatRepository) FindByID(ctx context.Context, id int64) (*model.Chat, error) {
	var chat model.Chat
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&chat).Error; err != nil {
		return nil, translate(err)
	}
	return &chat, nil
}

// FindDirect looks the pair up by direct key first, then by membership for
// direct chats that were stored without a key.
func (r *ChatRepository) FindDirect(ctx context.Context, a, b int64) (*model.Chat, error) {
	var chats []model.Chat
	err := r.db.WithContext(ctx).
		Where("direct_key = ?", model.DirectKey(a, b)).
		Limit(1).
		Find(&chats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find direct chat: %w", err)
	}
	if len(chats) > 0 {
		return &chats[0], nil
	}

	err = r.db.WithContext(ctx).Raw(`
		SELECT c.* FROM chats c
		JOIN chat_members m1 ON m1.chat_id = c.id AND m1.user_id = ?
		JOIN chat_members m2 ON m2.chat_id = c.id AND m2.user_id = ?
		WHERE c.type = ?
		ORDER BY c.id
		LIMIT 1`, a, b, model.ChatTypeDirect).
		Scan(&chats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find direct chat: %w", err)
	}
	if len(chats) == 0 {
		return nil, ErrNotFound
	}
	return &chats[0], nil
}

func (r *ChatRepository) FindMember(ctx context.Context, chatID, userID int64) (*model.ChatMember, error) {
	var member model.ChatMember
	err := r.db.WithContext(ctx).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		First(&member).Error
	if err != nil {
		return nil, translate(err)
	}
	return &member, nil
}

func (r *ChatRepository) ListMembers(ctx context.Context, chatID int64) ([]model.MemberView, error) {
	var members []model.MemberView
	err := r.db.WithContext(ctx).
		Table("chat_members AS cm").
		Select("cm.user_id, cm.role, cm.joined_at, cm.last_read_message_id, cm.is_muted, " +
			"u.username, u.display_name, u.avatar_url, u.is_online, u.last_seen").
		Joins("JOIN users u ON u.id = cm.user_id").
		Where("cm.chat_id = ?", chatID).
		Order("cm.joined_at, cm.id").
		Scan(&members).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	return members, nil
}

type chatListRow struct {
	model.Chat
	LastReadMessageID *int64
	IsMuted           bool
	UnreadCount       int64
}

func (r *ChatRepository) ListForUser(ctx context.Context, userID int64) ([]model.ChatSummary, error) {
	var rows []chatListRow
	err := r.db.WithContext(ctx).Raw(`
		SELECT c.id, c.type, c.name, c.description, c.avatar_url, c.created_by,
		       c.created_at, c.updated_at, cm.last_read_message_id, cm.is_muted,
		       (SELECT COUNT(*) FROM messages m
		         WHERE m.chat_id = c.id
		           AND m.id > COALESCE(cm.last_read_message_id, 0)
		           AND m.sender_id <> ?
		           AND m.type <> 'system'
		           AND m.is_deleted = false) AS unread_count
		FROM chats c
		JOIN chat_members cm ON cm.chat_id = c.id
		WHERE cm.user_id = ?
		ORDER BY c.updated_at DESC, c.id DESC`, userID, userID).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}

	summaries := make([]model.ChatSummary, 0, len(rows))
	for _, row := range rows {
		summaries = append(summaries, model.ChatSummary{
			Chat:              row.Chat,
			LastReadMessageID: row.LastReadMessageID,
			IsMuted:           row.IsMuted,
			UnreadCount:       row.UnreadCount,
		})
	}
	return summaries, nil
}

type peerRow struct {
	ChatID      int64
	ID          int64
	Username    string
	DisplayName string
	AvatarURL   *string
	IsOnline    bool
	LastSeen    *time.Time
}

func (r *ChatRepository) DirectPeers(ctx context.Context, userID int64, chatIDs []int64) (map[int64]model.UserProfile, error) {
	peers := make(map[int64]model.UserProfile, len(chatIDs))
	if len(chatIDs) == 0 {
		return peers, nil
	}

	var rows []peerRow
	err := r.db.WithContext(ctx).
		Table("chat_members AS cm").
		Select("cm.chat_id, u.id, u.username, u.display_name, u.avatar_url, u.is_online, u.last_seen").
		Joins("JOIN users u ON u.id = cm.user_id").
		Where("cm.chat_id IN ? AND cm.user_id <> ?", chatIDs, userID).
		Order("cm.chat_id, cm.joined_at").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load direct peers: %w", err)
	}
	for _, row := range rows {
		if _, ok := peers[row.ChatID]; ok {
			continue
		}
		peers[row.ChatID] = model.UserProfile{
			ID:          row.ID,
			Username:    row.Username,
			DisplayName: row.DisplayName,
			AvatarURL:   row.AvatarURL,
			IsOnline:    row.IsOnline,
			LastSeen:    row.LastSeen,
		}
	}
	return peers, nil
}

// CountUnread counts visible messages from other users after the cursor.
// A nil cursor counts every such message. System notices never count.
func (r *ChatRepository) CountUnread(ctx context.Context, chatID, userID int64, cursor *int64) (int64, error) {
	var after int64
	if cursor != nil {
		after = *cursor
	}
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Message{}).
		Where("chat_id = ? AND id > ? AND sender_id <> ? AND type <> ? AND is_deleted = ?",
			chatID, after, userID, model.MessageTypeSystem, false).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count unread: %w", err)
	}
	return count, nil
}

func (r *ChatRepository) SetReadCursor(ctx context.Context, chatID, userID, messageID int64) error {
	res := r.db.WithContext(ctx).Model(&model.ChatMember{}).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Update("last_read_message_id", messageID)
	if res.Error != nil {
		return fmt.Errorf("failed to set read cursor: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

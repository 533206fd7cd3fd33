package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/Gopher0727/KaifLake/internal/model"
)

// IMessageRepository defines the interface for message and reaction data operations
type IMessageRepository interface {
	// Create inserts the message and bumps its chat's updated_at in one transaction.
	Create(ctx context.Context, msg *model.Message) error
	FindByID(ctx context.Context, id int64) (*model.Message, error)
	FindByIDs(ctx context.Context, ids []int64) (map[int64]*model.Message, error)
	// ListPage returns up to limit visible messages, newest first, strictly
	// older than before when it is set.
	ListPage(ctx context.Context, chatID int64, limit int, before *model.Message) ([]*model.Message, error)
	// LastVisible returns the newest non-deleted message of each chat.
	LastVisible(ctx context.Context, chatIDs []int64) (map[int64]*model.Message, error)
	Reactions(ctx context.Context, messageIDs []int64) (map[int64][]model.ReactionView, error)
	// UpdateContent and SoftDelete only touch messages that are not deleted.
	UpdateContent(ctx context.Context, id int64, content string) error
	SoftDelete(ctx context.Context, id int64) error
	// ToggleReaction removes the (message, user, emoji) row if present and
	// inserts it otherwise. It reports whether the reaction now exists.
	ToggleReaction(ctx context.Context, reaction *model.MessageReaction) (bool, error)
}

// MessageRepository implements IMessageRepository on gorm
type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) IMessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(ctx context.Context, msg *model.Message) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&model.Chat{}).
			Where("id = ?", msg.ChatID).
			Update("updated_at", msg.CreatedAt).Error
	})
	if err != nil {
		return fmt.Errorf("failed to create message: %w", translate(err))
	}
	return nil
}

func (r *MessageRepository) FindByID(ctx context.Context, id int64) (*model.Message, error) {
	var msg model.Message
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&msg).Error; err != nil {
		return nil, translate(err)
	}
	return &msg, nil
}

func (r *MessageRepository) FindByIDs(ctx context.Context, ids []int64) (map[int64]*model.Message, error) {
	result := make(map[int64]*model.Message, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var msgs []*model.Message
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	for _, m := range msgs {
		result[m.ID] = m
	}
	return result, nil
}

func (r *MessageRepository) ListPage(ctx context.Context, chatID int64, limit int, before *model.Message) ([]*model.Message, error) {
	q := r.db.WithContext(ctx).Where("chat_id = ? AND is_deleted = ?", chatID, false)
	if before != nil {
		q = q.Where("(created_at < ? OR (created_at = ? AND id < ?))",
			before.CreatedAt, before.CreatedAt, before.ID)
	}

	var msgs []*model.Message
	if err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return msgs, nil
}

func (r *MessageRepository) LastVisible(ctx context.Context, chatIDs []int64) (map[int64]*model.Message, error) {
	result := make(map[int64]*model.Message, len(chatIDs))
	if len(chatIDs) == 0 {
		return result, nil
	}
	var msgs []*model.Message
	err := r.db.WithContext(ctx).Raw(`
		SELECT DISTINCT ON (chat_id) * FROM messages
		WHERE chat_id IN ? AND is_deleted = false
		ORDER BY chat_id, created_at DESC, id DESC`, chatIDs).
		Scan(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load last messages: %w", err)
	}
	for _, m := range msgs {
		result[m.ChatID] = m
	}
	return result, nil
}

func (r *MessageRepository) Reactions(ctx context.Context, messageIDs []int64) (map[int64][]model.ReactionView, error) {
	result := make(map[int64][]model.ReactionView, len(messageIDs))
	if len(messageIDs) == 0 {
		return result, nil
	}
	var rows []model.ReactionView
	err := r.db.WithContext(ctx).
		Table("message_reactions AS r").
		Select("r.id, r.message_id, r.user_id, r.emoji, r.created_at, u.username, u.display_name").
		Joins("JOIN users u ON u.id = r.user_id").
		Where("r.message_id IN ?", messageIDs).
		Order("r.created_at, r.id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load reactions: %w", err)
	}
	for _, row := range rows {
		result[row.MessageID] = append(result[row.MessageID], row)
	}
	return result, nil
}

func (r *MessageRepository) UpdateContent(ctx context.Context, id int64, content string) error {
	res := r.db.WithContext(ctx).Model(&model.Message{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Updates(map[string]any{"content": content, "is_edited": true})
	if res.Error != nil {
		return fmt.Errorf("failed to edit message: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MessageRepository) SoftDelete(ctx context.Context, id int64) error {
	res := r.db.WithContext(ctx).Model(&model.Message{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Update("is_deleted", true)
	if res.Error != nil {
		return fmt.Errorf("failed to delete message: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MessageRepository) ToggleReaction(ctx context.Context, reaction *model.MessageReaction) (bool, error) {
	var added bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("message_id = ? AND user_id = ? AND emoji = ?",
			reaction.MessageID, reaction.UserID, reaction.Emoji).
			Delete(&model.MessageReaction{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			added = false
			return nil
		}
		added = true
		return tx.Create(reaction).Error
	})
	if err != nil {
		// A concurrent toggle inserted the same triple first; it exists either way.
		if errors.Is(translate(err), ErrDuplicate) {
			return true, nil
		}
		return false, fmt.Errorf("failed to toggle reaction: %w", err)
	}
	return added, nil
}

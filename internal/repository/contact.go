package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Gopher0727/KaifLake/internal/model"
)

type IContactRepository interface {
	// Create inserts a contact; a second row for the same pair yields ErrDuplicate.
	Create(ctx context.Context, contact *model.Contact) error
	ListVisible(ctx context.Context, userID int64) ([]model.ContactView, error)
}

type ContactRepository struct {
	db *gorm.DB
}

func NewContactRepository(db *gorm.DB) IContactRepository {
	return &ContactRepository{db: db}
}

func (r *ContactRepository) Create(ctx context.Context, contact *model.Contact) error {
	if err := r.db.WithContext(ctx).Create(contact).Error; err != nil {
		return fmt.Errorf("failed to create contact: %w", translate(err))
	}
	return nil
}

type contactRow struct {
	ID          int64
	ContactID   int64
	Nickname    *string
	IsBlocked   bool
	CreatedAt   time.Time
	Username    string
	DisplayName string
	AvatarURL   *string
	Bio         *string
	IsOnline    bool
	LastSeen    *time.Time
}

// ListVisible returns non-blocked contacts ordered by display name.
func (r *ContactRepository) ListVisible(ctx context.Context, userID int64) ([]model.ContactView, error) {
	var rows []contactRow
	err := r.db.WithContext(ctx).
		Table("contacts AS c").
		Select("c.id, c.contact_id, c.nickname, c.is_blocked, c.created_at, " +
			"u.username, u.display_name, u.avatar_url, u.bio, u.is_online, u.last_seen").
		Joins("JOIN users u ON u.id = c.contact_id").
		Where("c.user_id = ? AND c.is_blocked = ?", userID, false).
		Order("u.display_name, u.id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}

	views := make([]model.ContactView, 0, len(rows))
	for _, row := range rows {
		views = append(views, model.ContactView{
			ID:        row.ID,
			ContactID: row.ContactID,
			Nickname:  row.Nickname,
			IsBlocked: row.IsBlocked,
			CreatedAt: row.CreatedAt,
			Contact: model.UserProfile{
				ID:          row.ContactID,
				Username:    row.Username,
				DisplayName: row.DisplayName,
				AvatarURL:   row.AvatarURL,
				Bio:         row.Bio,
				IsOnline:    row.IsOnline,
				LastSeen:    row.LastSeen,
			},
		})
	}
	return views, nil
}

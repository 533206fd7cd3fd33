package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Gopher0727/KaifLake/internal/model"
)

type ISessionRepository interface {
	Create(ctx context.Context, session *model.Session) error
	// FindActive returns session id if it was issued for token and has not
	// expired at now.
	FindActive(ctx context.Context, id int64, token string, now time.Time) (*model.Session, error)
	DeleteByToken(ctx context.Context, token string) (*model.Session, error)
}

type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) ISessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, session *model.Session) error {
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("failed to create session: %w", translate(err))
	}
	return nil
}

func (r *SessionRepository) FindActive(ctx context.Context, id int64, token string, now time.Time) (*model.Session, error) {
	var session model.Session
	err := r.db.WithContext(ctx).
		Where("id = ? AND token = ? AND expires_at > ?", id, token, now).
		First(&session).Error
	if err != nil {
		return nil, translate(err)
	}
	return &session, nil
}

// DeleteByToken removes the session and returns the deleted row.
func (r *SessionRepository) DeleteByToken(ctx context.Context, token string) (*model.Session, error) {
	var session model.Session
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("token = ?", token).First(&session).Error; err != nil {
			return err
		}
		return tx.Delete(&session).Error
	})
	if err != nil {
		return nil, translate(err)
	}
	return &session, nil
}

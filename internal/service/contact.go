package service

import (
	"context"
	"errors"
	"time"

	"github.com/Gopher0727/KaifLake/internal/model"
	"github.com/Gopher0727/KaifLake/internal/repository"
)

type AddContactRequest struct {
	ContactID string  `json:"contact_id" binding:"required"`
	Nickname  *string `json:"nickname" binding:"omitempty,max=100"`
}

type IContactService interface {
	ListContacts(ctx context.Context, userID int64) ([]model.ContactView, error)
	AddContact(ctx context.Context, userID int64, req *AddContactRequest) (*model.Contact, error)
}

type ContactService struct {
	contacts repository.IContactRepository
	users    repository.IUserRepository
	ids      IDGenerator
}

func NewContactService(contacts repository.IContactRepository, users repository.IUserRepository, ids IDGenerator) *ContactService {
	return &ContactService{contacts: contacts, users: users, ids: ids}
}

// ListContacts returns non-blocked contacts ordered by display name.
func (s *ContactService) ListContacts(ctx context.Context, userID int64) ([]model.ContactView, error) {
	contacts, err := s.contacts.ListVisible(ctx, userID)
	if err != nil {
		return nil, err
	}
	if contacts == nil {
		contacts = []model.ContactView{}
	}
	return contacts, nil
}

func (s *ContactService) AddContact(ctx context.Context, userID int64, req *AddContactRequest) (*model.Contact, error) {
	contactID, ok := ParseID(req.ContactID)
	if !ok {
		return nil, invalid("Invalid contact_id")
	}
	if contactID == userID {
		return nil, invalid("Cannot add yourself as contact")
	}

	if _, err := s.users.FindByID(ctx, contactID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	id, err := s.ids.NextID()
	if err != nil {
		return nil, err
	}
	contact := &model.Contact{
		ID:        id,
		UserID:    userID,
		ContactID: contactID,
		Nickname:  req.Nickname,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.contacts.Create(ctx, contact); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrContactExists
		}
		return nil, err
	}
	return contact, nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Gopher0727/KaifLake/internal/model"
	"github.com/Gopher0727/KaifLake/internal/repository"
)

const (
	searchMinQuery = 2
	searchLimit    = 20
)

// UpdateProfileRequest 只允许修改展示名, 简介和头像
type UpdateProfileRequest struct {
	DisplayName *string `json:"display_name" binding:"omitempty,max=100"`
	Bio         *string `json:"bio" binding:"omitempty,max=500"`
	AvatarURL   *string `json:"avatar_url" binding:"omitempty,max=2048"`
}

type IUserService interface {
	GetMe(ctx context.Context, userID int64) (*model.User, error)
	UpdateMe(ctx context.Context, userID int64, req *UpdateProfileRequest) (*model.User, error)
	Search(ctx context.Context, userID int64, query string) ([]model.UserProfile, error)
	GetUser(ctx context.Context, id int64) (*model.UserProfile, error)
}

type UserService struct {
	users repository.IUserRepository
}

func NewUserService(users repository.IUserRepository) *UserService {
	return &UserService{users: users}
}

func (s *UserService) GetMe(ctx context.Context, userID int64) (*model.User, error) {
	return s.findUser(ctx, userID)
}

func (s *UserService) UpdateMe(ctx context.Context, userID int64, req *UpdateProfileRequest) (*model.User, error) {
	fields := make(map[string]any, 3)
	if req.DisplayName != nil {
		name := strings.TrimSpace(*req.DisplayName)
		if name == "" {
			return nil, invalid("Display name cannot be empty")
		}
		fields["display_name"] = name
	}
	if req.Bio != nil {
		fields["bio"] = *req.Bio
	}
	if req.AvatarURL != nil {
		fields["avatar_url"] = *req.AvatarURL
	}
	if len(fields) == 0 {
		return nil, invalid("No fields to update")
	}

	if err := s.users.UpdateProfile(ctx, userID, fields); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return s.findUser(ctx, userID)
}

// Search matches username or display name and never returns the caller.
func (s *UserService) Search(ctx context.Context, userID int64, query string) ([]model.UserProfile, error) {
	query = strings.TrimSpace(query)
	if len([]rune(query)) < searchMinQuery {
		return nil, invalid("Query must be at least %d characters", searchMinQuery)
	}

	users, err := s.users.Search(ctx, query, userID, searchLimit)
	if err != nil {
		return nil, err
	}
	profiles := make([]model.UserProfile, 0, len(users))
	for _, u := range users {
		profiles = append(profiles, u.Profile())
	}
	return profiles, nil
}

func (s *UserService) GetUser(ctx context.Context, id int64) (*model.UserProfile, error) {
	user, err := s.findUser(ctx, id)
	if err != nil {
		return nil, err
	}
	profile := user.Profile()
	return &profile, nil
}

func (s *UserService) findUser(ctx context.Context, id int64) (*model.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

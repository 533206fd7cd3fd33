package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Gopher0727/KaifLake/internal/model"
	"github.com/Gopher0727/KaifLake/internal/pkg/redis"
	"github.com/Gopher0727/KaifLake/internal/repository"
	"github.com/Gopher0727/KaifLake/internal/utils"
	"github.com/Gopher0727/KaifLake/middleware/jwt"
	logger "github.com/Gopher0727/KaifLake/middleware/log"
)

// RegisterRequest represents a user registration request
type RegisterRequest struct {
	Username    string `json:"username" binding:"required,min=3,max=30"`
	Email       string `json:"email" binding:"required,email,max=255"`
	Password    string `json:"password" binding:"required,min=6,max=128"`
	DisplayName string `json:"display_name" binding:"required,min=1,max=100"`
}

// LoginRequest identifies the account by username or email. Username also
// matches an email address.
type LoginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email" binding:"omitempty,email"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse represents the response after register or login
type AuthResponse struct {
	User  *model.User `json:"user"`
	Token string      `json:"token"`
}

// ClientInfo describes where a session was opened from.
type ClientInfo struct {
	DeviceInfo string
	IPAddress  string
}

// IAuthService defines the interface for authentication operations
type IAuthService interface {
	Register(ctx context.Context, req *RegisterRequest, info ClientInfo) (*AuthResponse, error)
	Login(ctx context.Context, req *LoginRequest, info ClientInfo) (*AuthResponse, error)
	Logout(ctx context.Context, claims *jwt.Claims, token string) error
	// Authenticate verifies the token and that it has not been logged out.
	Authenticate(ctx context.Context, token string) (*jwt.Claims, error)
}

// AuthService implements the IAuthService interface
type AuthService struct {
	users        repository.IUserRepository
	sessions     repository.ISessionRepository
	tokenManager *jwt.TokenManager
	revoker      redis.TokenRevoker
	ids          IDGenerator
	logger       *logger.Logger
	now          func() time.Time
}

func NewAuthService(
	users repository.IUserRepository,
	sessions repository.ISessionRepository,
	tokenManager *jwt.TokenManager,
	revoker redis.TokenRevoker,
	ids IDGenerator,
	log *logger.Logger,
) *AuthService {
	return &AuthService{
		users:        users,
		sessions:     sessions,
		tokenManager: tokenManager,
		revoker:      revoker,
		ids:          ids,
		logger:       log.Named("auth"),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Register creates the account and opens a first session for it.
func (s *AuthService) Register(ctx context.Context, req *RegisterRequest, info ClientInfo) (*AuthResponse, error) {
	username := strings.TrimSpace(req.Username)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		return nil, invalid("Display name is required")
	}

	exists, err := s.users.ExistsByUsernameOrEmail(ctx, username, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}
	if exists {
		return nil, ErrUserExists
	}

	hashedPassword, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	id, err := s.ids.NextID()
	if err != nil {
		return nil, err
	}
	now := s.now()
	user := &model.User{
		ID:           id,
		Username:     username,
		Email:        email,
		PasswordHash: hashedPassword,
		DisplayName:  displayName,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		// 并发注册同名用户时由唯一索引兜底
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrUserExists
		}
		return nil, err
	}

	token, err := s.openSession(ctx, user, info)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "user registered", zap.Int64("user_id", user.ID))
	return &AuthResponse{User: user, Token: token}, nil
}

// Login verifies credentials, marks the user online and opens a session.
func (s *AuthService) Login(ctx context.Context, req *LoginRequest, info ClientInfo) (*AuthResponse, error) {
	login := strings.TrimSpace(req.Username)
	if login == "" {
		login = strings.ToLower(strings.TrimSpace(req.Email))
	}
	if login == "" {
		return nil, invalid("Username or email is required")
	}
	user, err := s.users.FindByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if !utils.CheckPassword(user.PasswordHash, req.Password) {
		return nil, ErrInvalidCredentials
	}

	now := s.now()
	if err := s.users.SetOnline(ctx, user.ID, true, now); err != nil {
		return nil, err
	}
	user.IsOnline = true
	user.LastSeen = &now

	token, err := s.openSession(ctx, user, info)
	if err != nil {
		return nil, err
	}
	return &AuthResponse{User: user, Token: token}, nil
}

// Logout deletes the session, revokes the token for the rest of its
// lifetime and marks the user offline.
func (s *AuthService) Logout(ctx context.Context, claims *jwt.Claims, token string) error {
	if _, err := s.sessions.DeleteByToken(ctx, token); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	var ttl time.Duration
	if claims.ExpiresAt != nil {
		ttl = claims.ExpiresAt.Sub(s.now())
	}
	if err := s.revoker.RevokeToken(ctx, token, ttl); err != nil {
		// session 行已删除, Authenticate 仍会拒绝该 token
		s.logger.WarnContext(ctx, "token revocation failed", zap.Error(err))
	}

	userID, err := strconv.ParseInt(claims.UserID, 10, 64)
	if err != nil {
		return ErrUnauthorized
	}
	return s.users.SetOnline(ctx, userID, false, s.now())
}

// Authenticate accepts a token only while its session row exists. The
// Redis revocation set short-circuits known logouts without a query.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*jwt.Claims, error) {
	claims, err := s.tokenManager.ParseToken(token)
	if err != nil {
		return nil, ErrUnauthorized
	}
	sessionID, ok := ParseID(claims.SessionID())
	if !ok {
		return nil, ErrUnauthorized
	}

	revoked, err := s.revoker.IsTokenRevoked(ctx, token)
	if err != nil {
		s.logger.WarnContext(ctx, "revocation check failed", zap.Error(err))
	} else if revoked {
		return nil, ErrUnauthorized
	}

	if _, err := s.sessions.FindActive(ctx, sessionID, token, s.now()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("failed to check session: %w", err)
	}
	return claims, nil
}

func (s *AuthService) openSession(ctx context.Context, user *model.User, info ClientInfo) (string, error) {
	sessionID, err := s.ids.NextID()
	if err != nil {
		return "", err
	}
	token, expiresAt, err := s.tokenManager.GenerateToken(formatID(user.ID), user.Username, formatID(sessionID))
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	session := &model.Session{
		ID:         sessionID,
		UserID:     user.ID,
		Token:      token,
		DeviceInfo: optionalString(info.DeviceInfo, 255),
		IPAddress:  optionalString(info.IPAddress, 64),
		ExpiresAt:  expiresAt,
		CreatedAt:  s.now(),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return "", err
	}
	return token, nil
}

// optionalString returns nil for blank input and truncates to limit characters.
func optionalString(s string, limit int) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if r := []rune(s); len(r) > limit {
		s = string(r[:limit])
	}
	return &s
}

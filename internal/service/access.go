package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Gopher0727/KaifLake/internal/model"
	"github.com/Gopher0727/KaifLake/internal/repository"
)

// AccessGuard decides whether a user may act inside a chat.
// Nothing is cached; every call reads the membership row.
type AccessGuard struct {
	chats repository.IChatRepository
}

func NewAccessGuard(chats repository.IChatRepository) *AccessGuard {
	return &AccessGuard{chats: chats}
}

// Authorize returns the caller's membership, or ErrNotFound when the chat
// does not exist or the caller is not in it.
func (g *AccessGuard) Authorize(ctx context.Context, userID, chatID int64) (*model.ChatMember, error) {
	member, err := g.chats.FindMember(ctx, chatID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to check membership: %w", err)
	}
	return member, nil
}

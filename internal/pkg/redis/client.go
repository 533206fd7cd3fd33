package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const revokedKeyPrefix = "revoked:" // Redis String, TTL 为 token 剩余有效期

// TokenRevoker records logged-out tokens until they would have expired anyway.
type TokenRevoker interface {
	RevokeToken(ctx context.Context, token string, ttl time.Duration) error
	IsTokenRevoked(ctx context.Context, token string) (bool, error)
}

type Client struct {
	client *redis.Client
}

func NewClient(rdb *redis.Client) *Client {
	return &Client{client: rdb}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// revokedKey hashes the token so the raw credential never lands in Redis.
func revokedKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return revokedKeyPrefix + hex.EncodeToString(sum[:])
}

// RevokeToken marks token revoked. A non-positive ttl means the token has
// already expired and nothing is stored.
func (c *Client) RevokeToken(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := c.client.Set(ctx, revokedKey(token), 1, ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

func (c *Client) IsTokenRevoked(ctx context.Context, token string) (bool, error) {
	err := c.client.Get(ctx, revokedKey(token)).Err()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, redis.Nil):
		return false, nil
	default:
		return false, fmt.Errorf("failed to check token: %w", err)
	}
}

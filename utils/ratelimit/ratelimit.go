package ratelimit

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Gopher0727/KaifLake/config"
)

// Endpoint classes with their own budgets.
const (
	EndpointRegister = "register"
	EndpointLogin    = "login"
	EndpointMessage  = "message"
	EndpointAPI      = "api"
)

// Result describes one rate limit decision.
type Result struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   time.Time
}

// Limiter decides whether a caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string, rule Rule) (Result, error)
}

// Rule is a request budget per window.
type Rule struct {
	Limit  int64
	Window time.Duration
}

// WindowLimiter counts requests per fixed window in Redis.
// Counters live under ratelimit:<key>:<window index> and expire with the window.
type WindowLimiter struct {
	rdb      *redis.Client
	logger   *zap.Logger
	failOpen bool
	now      func() time.Time
}

// NewWindowLimiter creates a limiter. With failOpen set, Redis errors let
// the request through instead of failing it.
func NewWindowLimiter(rdb *redis.Client, logger *zap.Logger, failOpen bool) *WindowLimiter {
	return &WindowLimiter{
		rdb:      rdb,
		logger:   logger,
		failOpen: failOpen,
		now:      time.Now,
	}
}

func (l *WindowLimiter) bucket(key string, rule Rule, now time.Time) (string, time.Time) {
	window := rule.Window
	if window <= 0 {
		window = time.Minute
	}
	index := now.UnixNano() / int64(window)
	resetAt := time.Unix(0, (index+1)*int64(window))
	return fmt.Sprintf("ratelimit:%s:%d", key, index), resetAt
}

func (l *WindowLimiter) Allow(ctx context.Context, key string, rule Rule) (Result, error) {
	bucketKey, resetAt := l.bucket(key, rule, l.now())

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, bucketKey)
	pipe.ExpireAt(ctx, bucketKey, resetAt.Add(time.Second))
	if _, err := pipe.Exec(ctx); err != nil {
		if l.failOpen {
			l.logger.Warn("rate limit check failed, allowing request",
				zap.String("key", key),
				zap.Error(err),
			)
			return Result{Allowed: true, Limit: rule.Limit, Remaining: rule.Limit, ResetAt: resetAt}, nil
		}
		return Result{}, fmt.Errorf("rate limit check failed: %w", err)
	}

	count := incr.Val()
	res := Result{
		Allowed:   count <= rule.Limit,
		Limit:     rule.Limit,
		Remaining: max(rule.Limit-count, 0),
		ResetAt:   resetAt,
	}
	if !res.Allowed {
		l.logger.Warn("rate limit exceeded",
			zap.String("key", key),
			zap.Int64("count", count),
			zap.Int64("limit", rule.Limit),
		)
	}
	return res, nil
}

// RuleFor returns the per-minute rule configured for an endpoint class.
func RuleFor(endpoint string, cfg *config.RateLimitConfig) Rule {
	var limit int64
	switch endpoint {
	case EndpointRegister:
		limit = cfg.RegisterPerMinute
	case EndpointLogin:
		limit = cfg.LoginPerMinute
	case EndpointMessage:
		limit = cfg.MessagePerMinute
	case EndpointAPI:
		limit = cfg.APIPerMinute
	}
	if limit <= 0 {
		limit = 100
	}
	return Rule{Limit: limit, Window: time.Minute}
}

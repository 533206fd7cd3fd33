package repository

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Gopher0727/KaifLake/internal/model"
)

const userCacheKeyPrefix = "user:info:" // Redis String, 值是 user JSON

// CachedUserRepository puts a Redis read-through cache in front of profile
// lookups. Cached users never carry the password hash, so credential checks
// must go through FindByLogin, which always reads the database.
type CachedUserRepository struct {
	IUserRepository
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedUserRepository(inner IUserRepository, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) IUserRepository {
	return &CachedUserRepository{IUserRepository: inner, rdb: rdb, ttl: ttl, logger: logger}
}

func userCacheKey(id int64) string {
	return userCacheKeyPrefix + strconv.FormatInt(id, 10)
}

func (r *CachedUserRepository) FindByID(ctx context.Context, id int64) (*model.User, error) {
	users, err := r.FindByIDs(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	user, ok := users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return user, nil
}

// FindByIDs 批量获取用户信息 (带缓存). Redis failures fall back to the database.
func (r *CachedUserRepository) FindByIDs(ctx context.Context, ids []int64) (map[int64]*model.User, error) {
	result := make(map[int64]*model.User, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = userCacheKey(id)
	}

	missing := make([]int64, 0, len(ids))
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		r.logger.Warn("user cache read failed", zap.Error(err))
		missing = append(missing, ids...)
	} else {
		for i, val := range vals {
			s, ok := val.(string)
			if !ok {
				missing = append(missing, ids[i])
				continue
			}
			var user model.User
			if json.Unmarshal([]byte(s), &user) != nil {
				missing = append(missing, ids[i])
				continue
			}
			result[ids[i]] = &user
		}
	}

	if len(missing) == 0 {
		return result, nil
	}

	loaded, err := r.IUserRepository.FindByIDs(ctx, missing)
	if err != nil {
		return nil, err
	}

	pipe := r.rdb.Pipeline()
	for id, user := range loaded {
		result[id] = user
		if data, err := json.Marshal(user); err == nil {
			pipe.Set(ctx, userCacheKey(id), data, r.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Warn("user cache backfill failed", zap.Error(err))
	}
	return result, nil
}

func (r *CachedUserRepository) UpdateProfile(ctx context.Context, id int64, fields map[string]any) error {
	if err := r.IUserRepository.UpdateProfile(ctx, id, fields); err != nil {
		return err
	}
	r.invalidate(ctx, id)
	return nil
}

func (r *CachedUserRepository) SetOnline(ctx context.Context, id int64, online bool, at time.Time) error {
	if err := r.IUserRepository.SetOnline(ctx, id, online, at); err != nil {
		return err
	}
	r.invalidate(ctx, id)
	return nil
}

func (r *CachedUserRepository) invalidate(ctx context.Context, id int64) {
	if err := r.rdb.Del(ctx, userCacheKey(id)).Err(); err != nil {
		r.logger.Warn("user cache invalidation failed", zap.Int64("user_id", id), zap.Error(err))
	}
}

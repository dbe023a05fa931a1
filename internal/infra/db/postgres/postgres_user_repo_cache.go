package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"telegram-image-editor/internal/domain/model"
	"telegram-image-editor/internal/domain/ports/repository"
	"telegram-image-editor/internal/infra/metrics"
	red "telegram-image-editor/internal/infra/redis"
)

var _ repository.UserRepository = (*userRepoCacheDecorator)(nil)

// userRepoCacheDecorator is a read-through Redis cache keyed by both user id
// and telegram id. Reads inside a transaction bypass the cache.
type userRepoCacheDecorator struct {
	inner repository.UserRepository
	cache red.RedisClient
	ttl   time.Duration
	log   *zerolog.Logger
}

func NewUserRepoCacheDecorator(inner repository.UserRepository, cache red.RedisClient, ttl time.Duration, logger *zerolog.Logger) repository.UserRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	l := logger.With().Str("component", "UserCache").Logger()
	return &userRepoCacheDecorator{inner: inner, cache: cache, ttl: ttl, log: &l}
}

func idKey(id string) string { return fmt.Sprintf("user:id:%s", id) }
func tgKey(tgID int64) string { return fmt.Sprintf("user:tgid:%d", tgID) }

func (d *userRepoCacheDecorator) invalidate(ctx context.Context, u *model.User) {
	if err := d.cache.Del(ctx, idKey(u.ID), tgKey(u.TelegramID)); err != nil {
		d.log.Warn().Err(err).Str("user_id", u.ID).Msg("cache invalidation failed")
	}
}

func (d *userRepoCacheDecorator) Create(ctx context.Context, tx repository.Tx, u *model.User) (bool, error) {
	ok, err := d.inner.Create(ctx, tx, u)
	if err == nil {
		d.invalidate(ctx, u)
	}
	return ok, err
}

func (d *userRepoCacheDecorator) Update(ctx context.Context, tx repository.Tx, u *model.User) (bool, error) {
	d.invalidate(ctx, u)
	ok, err := d.inner.Update(ctx, tx, u)
	if err == nil {
		d.invalidate(ctx, u)
	}
	return ok, err
}

func (d *userRepoCacheDecorator) FindByTelegramID(ctx context.Context, tx repository.Tx, tgID int64) (*model.User, error) {
	if tx != nil {
		return d.inner.FindByTelegramID(ctx, tx, tgID)
	}
	if u, ok := d.lookup(ctx, tgKey(tgID)); ok {
		return u, nil
	}
	u, err := d.inner.FindByTelegramID(ctx, tx, tgID)
	if err != nil {
		return nil, err
	}
	d.store(ctx, u)
	return u, nil
}

func (d *userRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	if tx != nil {
		return d.inner.FindByID(ctx, tx, id)
	}
	if u, ok := d.lookup(ctx, idKey(id)); ok {
		return u, nil
	}
	u, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	d.store(ctx, u)
	return u, nil
}

func (d *userRepoCacheDecorator) CountUsers(ctx context.Context, tx repository.Tx) (int, error) {
	return d.inner.CountUsers(ctx, tx)
}

func (d *userRepoCacheDecorator) lookup(ctx context.Context, key string) (*model.User, bool) {
	val, err := d.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			d.log.Warn().Err(err).Str("key", key).Msg("cache read failed")
		}
		metrics.IncCacheLookup("user", false)
		return nil, false
	}
	var u model.User
	if err := json.Unmarshal([]byte(val), &u); err != nil {
		metrics.IncCacheLookup("user", false)
		return nil, false
	}
	metrics.IncCacheLookup("user", true)
	return &u, true
}

// store warms both keys so the other lookup path hits too.
func (d *userRepoCacheDecorator) store(ctx context.Context, u *model.User) {
	b, err := json.Marshal(u)
	if err != nil {
		return
	}
	_ = d.cache.Set(ctx, tgKey(u.TelegramID), b, d.ttl)
	_ = d.cache.Set(ctx, idKey(u.ID), b, d.ttl)
}

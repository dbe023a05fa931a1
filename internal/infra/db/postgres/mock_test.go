//go:build !integration

package postgres

import (
	"context"
	"time"

	"telegram-image-editor/internal/domain/model"
	"telegram-image-editor/internal/domain/ports/repository"
	red "telegram-image-editor/internal/infra/redis"
)

// --- Mocks for Cache Decorator Tests ---

// mockInnerUserRepo mocks the database repository that the User decorator wraps.
type mockInnerUserRepo struct {
	CreateFunc           func(ctx context.Context, tx repository.Tx, u *model.User) (bool, error)
	UpdateFunc           func(ctx context.Context, tx repository.Tx, u *model.User) (bool, error)
	FindByTelegramIDFunc func(ctx context.Context, tx repository.Tx, tgID int64) (*model.User, error)
	FindByIDFunc         func(ctx context.Context, tx repository.Tx, id string) (*model.User, error)
	CountUsersFunc       func(ctx context.Context, tx repository.Tx) (int, error)
}

func (m *mockInnerUserRepo) Create(ctx context.Context, tx repository.Tx, u *model.User) (bool, error) {
	return m.CreateFunc(ctx, tx, u)
}
func (m *mockInnerUserRepo) Update(ctx context.Context, tx repository.Tx, u *model.User) (bool, error) {
	return m.UpdateFunc(ctx, tx, u)
}
func (m *mockInnerUserRepo) FindByTelegramID(ctx context.Context, tx repository.Tx, tgID int64) (*model.User, error) {
	return m.FindByTelegramIDFunc(ctx, tx, tgID)
}
func (m *mockInnerUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	return m.FindByIDFunc(ctx, tx, id)
}
func (m *mockInnerUserRepo) CountUsers(ctx context.Context, tx repository.Tx) (int, error) {
	return m.CountUsersFunc(ctx, tx)
}

// mockRedisClient mocks our Redis client wrapper.
type mockRedisClient struct {
	GetFunc      func(ctx context.Context, key string) (string, error)
	GetBytesFunc func(ctx context.Context, key string) ([]byte, error)
	SetFunc      func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	DelFunc      func(ctx context.Context, keys ...string) error
	PingFunc     func(ctx context.Context) error
	CloseFunc    func() error
}

var _ red.RedisClient = &mockRedisClient{}

func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	return m.GetFunc(ctx, key)
}
func (m *mockRedisClient) GetBytes(ctx context.Context, key string) ([]byte, error) {
	return m.GetBytesFunc(ctx, key)
}
func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return m.SetFunc(ctx, key, value, expiration)
}
func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	return m.DelFunc(ctx, keys...)
}
func (m *mockRedisClient) Ping(ctx context.Context) error { return m.PingFunc(ctx) }
func (m *mockRedisClient) Close() error                   { return m.CloseFunc() }

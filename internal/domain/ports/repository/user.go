package repository

import (
	"context"

	"telegram-image-editor/internal/domain/model"
)

type UserRepository interface {
	// FindByTelegramID returns domain.ErrNotFound for unknown users.
	FindByTelegramID(ctx context.Context, tx Tx, tgID int64) (*model.User, error)
	FindByID(ctx context.Context, tx Tx, id string) (*model.User, error)
	Create(ctx context.Context, tx Tx, u *model.User) (bool, error)
	Update(ctx context.Context, tx Tx, u *model.User) (bool, error)
	CountUsers(ctx context.Context, tx Tx) (int, error)
}

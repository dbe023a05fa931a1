package repository

import (
	"context"

	"telegram-image-editor/internal/domain/model"
)

type AnalyticsRepository interface {
	// GetOrCreate loads the global record, persisting a zero record first if absent.
	GetOrCreate(ctx context.Context, tx Tx) (*model.GlobalAnalytics, error)
	// Update upserts a. It reports false when a newer version was written
	// since a was loaded. On success a.Version is advanced.
	Update(ctx context.Context, tx Tx, a *model.GlobalAnalytics) (bool, error)
}

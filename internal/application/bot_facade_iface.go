package application

import (
	"context"
	"time"

	"telegram-image-editor/internal/domain/model"
	"telegram-image-editor/internal/domain/ports/adapter"
	"telegram-image-editor/internal/usecase"
)

// ---- small interfaces to decouple the facade from concrete usecase structs ----
// These describe the minimal surface the facade needs.
type UserUseCaseIface interface {
	RegisterOrFetch(ctx context.Context, p model.TelegramProfile) (*model.User, bool, error)
	SetPreferences(ctx context.Context, tgID int64, prefs model.UserPreferences) (*model.User, error)
}

type EditUseCaseIface interface {
	Submit(ctx context.Context, req usecase.EditRequest, image []byte) (usecase.EditResult, error)
	Retry(ctx context.Context, tgID int64, jobID string) (usecase.EditResult, error)
	Cancel(ctx context.Context, tgID int64, jobID string) (int, error)
	Recent(ctx context.Context, tgID int64, n int) ([]*model.EditJob, error)
	Unfinished(ctx context.Context, limit int) ([]*model.EditJob, error)
}

type StatsUseCaseIface interface {
	RecordNewUser(ctx context.Context, at time.Time) error
	UserSummary(ctx context.Context, tgID int64) (usecase.UserSummary, error)
	PerformanceSummary(ctx context.Context) (usecase.PerformanceSummary, error)
	TopEditTypes(ctx context.Context, limit int) ([]model.EditTypeCount, error)
	DailyStats(ctx context.Context, days int) ([]model.DailyStats, error)
}

type ImageValidator interface {
	Validate(data []byte) (adapter.ImageInfo, error)
}

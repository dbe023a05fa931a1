package repository

import (
	"context"
	"time"

	"telegram-image-editor/internal/domain/model"
)

type EditJobRepository interface {
	// FindByID returns domain.ErrNotFound when no job has the id.
	FindByID(ctx context.Context, tx Tx, id string) (*model.EditJob, error)
	// Create reports false when a job with the same id already exists.
	Create(ctx context.Context, tx Tx, job *model.EditJob) (bool, error)
	// Update reports false when no row matched.
	Update(ctx context.Context, tx Tx, job *model.EditJob) (bool, error)
	// UpdateUnfinished is Update guarded on the stored row still being pending
	// or processing. It reports false when the job was already finished.
	UpdateUnfinished(ctx context.Context, tx Tx, job *model.EditJob) (bool, error)
	ListByStatus(ctx context.Context, tx Tx, statuses []model.EditStatus, limit int) ([]*model.EditJob, error)
	// ListRecentByUser returns the user's newest jobs first.
	ListRecentByUser(ctx context.Context, tx Tx, tgID int64, limit int) ([]*model.EditJob, error)
	// ClaimStale locks jobs in the given statuses not touched since olderThan,
	// bumps their updated_at and returns them. Rows locked by another claimer are skipped.
	ClaimStale(ctx context.Context, statuses []model.EditStatus, olderThan time.Time, limit int) ([]*model.EditJob, error)
}

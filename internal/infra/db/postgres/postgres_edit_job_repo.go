package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-image-editor/internal/domain"
	"telegram-image-editor/internal/domain/model"
	"telegram-image-editor/internal/domain/ports/repository"
)

var _ repository.EditJobRepository = (*editJobRepo)(nil)

var jobColumns = []string{
	"id", "user_id", "telegram_user_id", "chat_id", "message_id",
	"prompt", "enhanced_prompt", "aspect_ratio", "output_format", "seed", "safety_tolerance",
	"original_image_size", "edit_type", "external_id", "polling_url", "result_url", "downloaded",
	"status", "created_at", "started_at", "completed_at", "processing_ms", "updated_at",
	"retry_count", "max_retries", "error_message", "stats_recorded",
}

var (
	jobSelectList   = strings.Join(jobColumns, ", ")
	jobReturnedList = "j." + strings.Join(jobColumns, ", j.")
)

type editJobRepo struct {
	pool *pgxpool.Pool
}

func NewEditJobRepo(pool *pgxpool.Pool) *editJobRepo {
	return &editJobRepo{pool: pool}
}

func jobArgs(j *model.EditJob) []interface{} {
	var processingMS *int64
	if j.ProcessingTime != nil {
		ms := j.ProcessingTime.Milliseconds()
		processingMS = &ms
	}
	return []interface{}{
		j.ID, j.UserID, j.TelegramUserID, j.ChatID, j.MessageID,
		j.Prompt, j.EnhancedPrompt, string(j.AspectRatio), string(j.OutputFormat), j.Seed, j.SafetyTolerance,
		j.OriginalImageSize, string(j.EditType), j.ExternalID, j.PollingURL, j.ResultURL, j.Downloaded,
		string(j.Status), j.CreatedAt, j.StartedAt, j.CompletedAt, processingMS, j.UpdatedAt,
		j.RetryCount, j.MaxRetries, j.ErrorMessage, j.StatsRecorded,
	}
}

func scanJob(row pgx.Row) (*model.EditJob, error) {
	var (
		j                           model.EditJob
		aspect, format, kind, state string
		processingMS                *int64
	)
	err := row.Scan(
		&j.ID, &j.UserID, &j.TelegramUserID, &j.ChatID, &j.MessageID,
		&j.Prompt, &j.EnhancedPrompt, &aspect, &format, &j.Seed, &j.SafetyTolerance,
		&j.OriginalImageSize, &kind, &j.ExternalID, &j.PollingURL, &j.ResultURL, &j.Downloaded,
		&state, &j.CreatedAt, &j.StartedAt, &j.CompletedAt, &processingMS, &j.UpdatedAt,
		&j.RetryCount, &j.MaxRetries, &j.ErrorMessage, &j.StatsRecorded,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	j.AspectRatio = model.AspectRatio(aspect)
	j.OutputFormat = model.OutputFormat(format)
	j.EditType = model.EditType(kind)
	j.Status = model.EditStatus(state)
	if processingMS != nil {
		d := time.Duration(*processingMS) * time.Millisecond
		j.ProcessingTime = &d
	}
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*model.EditJob, error) {
	defer rows.Close()
	var out []*model.EditJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func statusStrings(statuses []model.EditStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func (r *editJobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.EditJob, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+jobSelectList+` FROM edit_jobs WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

func (r *editJobRepo) Create(ctx context.Context, tx repository.Tx, job *model.EditJob) (bool, error) {
	placeholders := make([]string, len(jobColumns))
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	q := `INSERT INTO edit_jobs (` + jobSelectList + `) VALUES (` + strings.Join(placeholders, ", ") + `)
ON CONFLICT (id) DO NOTHING`
	tag, err := execSQL(ctx, r.pool, tx, q, jobArgs(job)...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

var jobUpdateSQL = func() string {
	sets := make([]string, 0, len(jobColumns)-1)
	for i, c := range jobColumns[1:] {
		sets = append(sets, fmt.Sprintf("%s = $%d", c, i+2))
	}
	return `UPDATE edit_jobs SET ` + strings.Join(sets, ", ") + ` WHERE id = $1`
}()

func (r *editJobRepo) Update(ctx context.Context, tx repository.Tx, job *model.EditJob) (bool, error) {
	tag, err := execSQL(ctx, r.pool, tx, jobUpdateSQL, jobArgs(job)...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *editJobRepo) UpdateUnfinished(ctx context.Context, tx repository.Tx, job *model.EditJob) (bool, error) {
	q := jobUpdateSQL + ` AND status IN ('` + string(model.EditStatusPending) + `', '` + string(model.EditStatusProcessing) + `')`
	tag, err := execSQL(ctx, r.pool, tx, q, jobArgs(job)...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *editJobRepo) ListByStatus(ctx context.Context, tx repository.Tx, statuses []model.EditStatus, limit int) ([]*model.EditJob, error) {
	rows, err := queryRows(ctx, r.pool, tx, `
SELECT `+jobSelectList+` FROM edit_jobs
 WHERE status = ANY($1)
 ORDER BY created_at
 LIMIT $2`, statusStrings(statuses), limit)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

func (r *editJobRepo) ListRecentByUser(ctx context.Context, tx repository.Tx, tgID int64, limit int) ([]*model.EditJob, error) {
	rows, err := queryRows(ctx, r.pool, tx, `
SELECT `+jobSelectList+` FROM edit_jobs
 WHERE telegram_user_id = $1
 ORDER BY created_at DESC
 LIMIT $2`, tgID, limit)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

// ClaimStale leases rows by bumping updated_at in the same statement that
// locks them, so a concurrent claimer skips them now and for the stale window.
func (r *editJobRepo) ClaimStale(ctx context.Context, statuses []model.EditStatus, olderThan time.Time, limit int) ([]*model.EditJob, error) {
	rows, err := queryRows(ctx, r.pool, nil, `
WITH stale AS (
  SELECT id FROM edit_jobs
   WHERE status = ANY($1) AND updated_at < $2
   ORDER BY updated_at
   LIMIT $3
   FOR UPDATE SKIP LOCKED
)
UPDATE edit_jobs j SET updated_at = now()
  FROM stale
 WHERE j.id = stale.id
RETURNING `+jobReturnedList, statusStrings(statuses), olderThan, limit)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

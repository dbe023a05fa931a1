package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-image-editor/internal/domain/model"
	"telegram-image-editor/internal/domain/ports/repository"
)

var _ repository.AnalyticsRepository = (*analyticsRepo)(nil)

// analyticsRepo stores the global record as one JSONB document guarded by a
// version column.
type analyticsRepo struct {
	pool *pgxpool.Pool
}

func NewAnalyticsRepo(pool *pgxpool.Pool) *analyticsRepo {
	return &analyticsRepo{pool: pool}
}

func (r *analyticsRepo) GetOrCreate(ctx context.Context, tx repository.Tx) (*model.GlobalAnalytics, error) {
	zero, err := json.Marshal(model.NewGlobalAnalytics(time.Now().UTC()))
	if err != nil {
		return nil, err
	}
	if _, err := execSQL(ctx, r.pool, tx,
		`INSERT INTO analytics (id, version, doc) VALUES ($1, 0, $2) ON CONFLICT (id) DO NOTHING`,
		model.GlobalAnalyticsID, zero); err != nil {
		return nil, err
	}

	row, err := pickRow(ctx, r.pool, tx, `SELECT version, doc FROM analytics WHERE id = $1`, model.GlobalAnalyticsID)
	if err != nil {
		return nil, err
	}
	var (
		version int64
		doc     []byte
	)
	if err := row.Scan(&version, &doc); err != nil {
		return nil, fmt.Errorf("read analytics: %w", err)
	}
	var a model.GlobalAnalytics
	if err := json.Unmarshal(doc, &a); err != nil {
		return nil, fmt.Errorf("decode analytics: %w", err)
	}
	a.ID = model.GlobalAnalyticsID
	a.Version = version
	return &a, nil
}

func (r *analyticsRepo) Update(ctx context.Context, tx repository.Tx, a *model.GlobalAnalytics) (bool, error) {
	doc, err := json.Marshal(a)
	if err != nil {
		return false, err
	}
	row, err := pickRow(ctx, r.pool, tx, `
UPDATE analytics SET doc = $2, version = version + 1, updated_at = now()
 WHERE id = $1 AND version = $3
RETURNING version`, model.GlobalAnalyticsID, doc, a.Version)
	if err != nil {
		return false, err
	}
	var version int64
	if err := row.Scan(&version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	a.Version = version
	return true, nil
}

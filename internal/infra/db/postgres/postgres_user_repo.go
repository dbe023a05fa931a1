package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-image-editor/internal/domain"
	"telegram-image-editor/internal/domain/model"
	"telegram-image-editor/internal/domain/ports/repository"
)

var _ repository.UserRepository = (*userRepo)(nil)

type userRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *userRepo {
	return &userRepo{pool: pool}
}

const userColumns = `id, telegram_id, username, first_name, last_name, language_code,
       preferences, stats, is_active, registered_at, last_active_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var (
		u            model.User
		prefs, stats []byte
	)
	err := row.Scan(&u.ID, &u.TelegramID, &u.Username, &u.FirstName, &u.LastName, &u.LanguageCode,
		&prefs, &stats, &u.IsActive, &u.RegisteredAt, &u.LastActiveAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	if err := json.Unmarshal(prefs, &u.Preferences); err != nil {
		return nil, fmt.Errorf("decode preferences: %w", err)
	}
	if err := json.Unmarshal(stats, &u.Stats); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}
	if u.Stats.FavoriteEditTypes == nil {
		u.Stats.FavoriteEditTypes = map[model.EditType]int{}
	}
	return &u, nil
}

func encodeUserDocs(u *model.User) (prefs, stats []byte, err error) {
	if prefs, err = json.Marshal(u.Preferences); err != nil {
		return nil, nil, err
	}
	if stats, err = json.Marshal(u.Stats); err != nil {
		return nil, nil, err
	}
	return prefs, stats, nil
}

func (r *userRepo) FindByTelegramID(ctx context.Context, tx repository.Tx, tgID int64) (*model.User, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+userColumns+` FROM users WHERE telegram_id = $1`, tgID)
	if err != nil {
		return nil, err
	}
	return scanUser(row)
}

func (r *userRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	return scanUser(row)
}

// Create reports false when the telegram id is already registered.
func (r *userRepo) Create(ctx context.Context, tx repository.Tx, u *model.User) (bool, error) {
	prefs, stats, err := encodeUserDocs(u)
	if err != nil {
		return false, err
	}
	const q = `
INSERT INTO users (id, telegram_id, username, first_name, last_name, language_code,
                   preferences, stats, is_active, registered_at, last_active_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (telegram_id) DO NOTHING`
	tag, err := execSQL(ctx, r.pool, tx, q, u.ID, u.TelegramID, u.Username, u.FirstName, u.LastName, u.LanguageCode,
		prefs, stats, u.IsActive, u.RegisteredAt, u.LastActiveAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *userRepo) Update(ctx context.Context, tx repository.Tx, u *model.User) (bool, error) {
	prefs, stats, err := encodeUserDocs(u)
	if err != nil {
		return false, err
	}
	const q = `
UPDATE users SET username=$2, first_name=$3, last_name=$4, language_code=$5,
       preferences=$6, stats=$7, is_active=$8, last_active_at=$9
 WHERE id=$1`
	tag, err := execSQL(ctx, r.pool, tx, q, u.ID, u.Username, u.FirstName, u.LastName, u.LanguageCode,
		prefs, stats, u.IsActive, u.LastActiveAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *userRepo) CountUsers(ctx context.Context, tx repository.Tx) (int, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT COUNT(*) FROM users`)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

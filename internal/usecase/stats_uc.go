package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"telegram-image-editor/internal/domain"
	"telegram-image-editor/internal/domain/model"
	"telegram-image-editor/internal/domain/ports/repository"
	"telegram-image-editor/internal/infra/logging"
	"telegram-image-editor/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ StatsUseCase = (*statsUC)(nil)

const (
	statsLockTTL          = 10 * time.Second
	analyticsWriteRetries = 3
	globalStatsKey        = "stats:global"
)

// StatsUseCase keeps per-user and global counters in line with job outcomes.
type StatsUseCase interface {
	// Record folds a terminal job into the user and global counters. Errors
	// are logged here; callers treat them as informational.
	Record(ctx context.Context, job *model.EditJob, isNewUser bool) error
	RecordNewUser(ctx context.Context, at time.Time) error

	TopEditTypes(ctx context.Context, limit int) ([]model.EditTypeCount, error)
	PerformanceSummary(ctx context.Context) (PerformanceSummary, error)
	DailyStats(ctx context.Context, days int) ([]model.DailyStats, error)
	UserSummary(ctx context.Context, tgID int64) (UserSummary, error)
}

type PerformanceSummary struct {
	TotalUsers           int       `json:"total_users"`
	TotalEdits           int       `json:"total_edits"`
	SuccessfulEdits      int       `json:"successful_edits"`
	FailedEdits          int       `json:"failed_edits"`
	SuccessRate          float64   `json:"success_rate"`
	AvgProcessingSeconds float64   `json:"avg_processing_seconds"`
	UpdatedAt            time.Time `json:"updated_at"`
}

type UserSummary struct {
	TotalEdits       int
	SuccessfulEdits  int
	FailedEdits      int
	SuccessRate      float64
	FavoriteEditType model.EditType // empty when the user has no edits
	LastEditAt       *time.Time
	MemberSince      time.Time
}

type statsUC struct {
	users     repository.UserRepository
	analytics repository.AnalyticsRepository
	locker    repository.Locker // optional, serializes across processes

	local keyedMutex
	now   func() time.Time
	log   *zerolog.Logger
}

func NewStatsUseCase(users repository.UserRepository, analytics repository.AnalyticsRepository, locker repository.Locker, logger *zerolog.Logger) *statsUC {
	l := logger.With().Str("component", "StatsUC").Logger()
	return &statsUC{
		users:     users,
		analytics: analytics,
		locker:    locker,
		now:       time.Now,
		log:       &l,
	}
}

func (s *statsUC) Record(ctx context.Context, job *model.EditJob, isNewUser bool) error {
	defer logging.TraceDuration(s.log, "StatsUC.Record")()
	log := logging.With(logging.WithJobID(ctx, job.ID), s.log)

	if !job.IsTerminal() {
		return domain.ErrInvalidArgument
	}
	if job.StatsRecorded {
		return domain.ErrAlreadyRecorded
	}
	outcome := model.OutcomeOf(job)
	// a retried job was already counted as a new user on its first attempt
	newUser := isNewUser && job.RetryCount == 0

	var errs []error
	if err := s.recordUser(ctx, job.TelegramUserID, outcome); err != nil {
		metrics.IncStatsFailure("user")
		log.Error().Err(err).Int64("tg_id", job.TelegramUserID).Msg("user stats update failed")
		errs = append(errs, err)
	}
	if err := s.updateGlobal(ctx, func(a *model.GlobalAnalytics) { a.Record(outcome, newUser) }); err != nil {
		metrics.IncStatsFailure("global")
		log.Error().Err(err).Msg("global stats update failed")
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *statsUC) RecordNewUser(ctx context.Context, at time.Time) error {
	defer logging.TraceDuration(s.log, "StatsUC.RecordNewUser")()
	err := s.updateGlobal(ctx, func(a *model.GlobalAnalytics) { a.RecordNewUser(at) })
	if err != nil {
		metrics.IncStatsFailure("global")
		s.log.Error().Err(err).Msg("new user stats update failed")
	}
	return err
}

func (s *statsUC) recordUser(ctx context.Context, tgID int64, o model.EditOutcome) error {
	return s.withLock(ctx, fmt.Sprintf("stats:user:%d", tgID), func() error {
		u, err := s.users.FindByTelegramID(ctx, repository.NoTX, tgID)
		if err != nil {
			return err
		}
		u.Stats.Apply(o)
		ok, err := s.users.Update(ctx, repository.NoTX, u)
		if err != nil {
			return &domain.PersistenceError{Op: "update_user", Err: err}
		}
		if !ok {
			return &domain.PersistenceError{Op: "update_user", Err: domain.ErrNotFound}
		}
		return nil
	})
}

// updateGlobal applies fn to the freshest analytics record, retrying when a
// concurrent writer advanced the version first.
func (s *statsUC) updateGlobal(ctx context.Context, fn func(a *model.GlobalAnalytics)) error {
	return s.withLock(ctx, globalStatsKey, func() error {
		for i := 0; i < analyticsWriteRetries; i++ {
			a, err := s.analytics.GetOrCreate(ctx, repository.NoTX)
			if err != nil {
				return &domain.PersistenceError{Op: "get_or_create_analytics", Err: err}
			}
			fn(a)
			ok, err := s.analytics.Update(ctx, repository.NoTX, a)
			if err != nil {
				return &domain.PersistenceError{Op: "update_analytics", Err: err}
			}
			if ok {
				return nil
			}
			s.log.Debug().Int("try", i+1).Msg("analytics version conflict, reloading")
		}
		return &domain.PersistenceError{Op: "update_analytics", Err: errors.New("version conflict")}
	})
}

// withLock holds the in-process lock for key and, when configured, the
// distributed one. A busy distributed lock is logged and the write proceeds.
func (s *statsUC) withLock(ctx context.Context, key string, fn func() error) error {
	unlock := s.local.Lock(key)
	defer unlock()

	if s.locker != nil {
		token, err := s.locker.TryLock(ctx, key, statsLockTTL)
		switch {
		case err == nil:
			defer func() {
				if err := s.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
					s.log.Warn().Err(err).Str("key", key).Msg("unlock failed")
				}
			}()
		case errors.Is(err, domain.ErrLockNotAcquired):
			s.log.Warn().Str("key", key).Msg("stats lock busy, writing without it")
		default:
			s.log.Warn().Err(err).Str("key", key).Msg("stats lock unavailable")
		}
	}
	return fn()
}

func (s *statsUC) TopEditTypes(ctx context.Context, limit int) ([]model.EditTypeCount, error) {
	defer logging.TraceDuration(s.log, "StatsUC.TopEditTypes")()
	if limit <= 0 {
		limit = 5
	}
	a, err := s.analytics.GetOrCreate(ctx, repository.NoTX)
	if err != nil {
		return nil, err
	}
	return a.TopEditTypes(limit), nil
}

func (s *statsUC) PerformanceSummary(ctx context.Context) (PerformanceSummary, error) {
	defer logging.TraceDuration(s.log, "StatsUC.PerformanceSummary")()
	a, err := s.analytics.GetOrCreate(ctx, repository.NoTX)
	if err != nil {
		return PerformanceSummary{}, err
	}
	return PerformanceSummary{
		TotalUsers:           a.TotalUsers,
		TotalEdits:           a.TotalEdits,
		SuccessfulEdits:      a.SuccessfulEdits,
		FailedEdits:          a.FailedEdits,
		SuccessRate:          a.SuccessRate(),
		AvgProcessingSeconds: a.AvgProcessingSeconds,
		UpdatedAt:            a.UpdatedAt,
	}, nil
}

func (s *statsUC) DailyStats(ctx context.Context, days int) ([]model.DailyStats, error) {
	defer logging.TraceDuration(s.log, "StatsUC.DailyStats")()
	if days <= 0 {
		days = 7
	}
	a, err := s.analytics.GetOrCreate(ctx, repository.NoTX)
	if err != nil {
		return nil, err
	}
	return a.RecentDays(days, s.now()), nil
}

func (s *statsUC) UserSummary(ctx context.Context, tgID int64) (UserSummary, error) {
	defer logging.TraceDuration(s.log, "StatsUC.UserSummary")()
	u, err := s.users.FindByTelegramID(ctx, repository.NoTX, tgID)
	if err != nil {
		return UserSummary{}, err
	}
	fav, _ := u.Stats.FavoriteEditType()
	return UserSummary{
		TotalEdits:       u.Stats.TotalEdits,
		SuccessfulEdits:  u.Stats.SuccessfulEdits,
		FailedEdits:      u.Stats.FailedEdits,
		SuccessRate:      u.Stats.SuccessRate(),
		FavoriteEditType: fav,
		LastEditAt:       u.Stats.LastEditAt,
		MemberSince:      u.RegisteredAt,
	}, nil
}

// keyedMutex hands out one mutex per key and forgets it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = map[string]*refMutex{}
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

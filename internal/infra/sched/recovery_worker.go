package sched

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"telegram-image-editor/internal/infra/worker"
	"telegram-image-editor/internal/usecase"
)

// claimTimeout bounds one claim query.
const claimTimeout = 30 * time.Second

// RecoveryWorker periodically claims stale jobs and hands each to the pool.
type RecoveryWorker struct {
	schedule string
	uc       usecase.RecoveryUseCase
	pool     *worker.Pool
	cron     *cron.Cron
	log      *zerolog.Logger
}

func NewRecoveryWorker(schedule string, uc usecase.RecoveryUseCase, pool *worker.Pool, logger *zerolog.Logger) *RecoveryWorker {
	recLog := logger.With().Str("component", "RecoveryWorker").Logger()
	return &RecoveryWorker{
		schedule: schedule,
		uc:       uc,
		pool:     pool,
		cron:     cron.New(),
		log:      &recLog,
	}
}

// Run sweeps once at startup, then on every schedule tick until ctx is done.
func (w *RecoveryWorker) Run(ctx context.Context) error {
	if _, err := w.cron.AddFunc(w.schedule, func() { w.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("invalid recovery schedule %q: %w", w.schedule, err)
	}
	w.log.Info().Str("schedule", w.schedule).Msg("Starting recovery worker")
	w.RunOnce(ctx)
	w.cron.Start()

	<-ctx.Done()
	w.log.Info().Msg("Stopping recovery worker")
	<-w.cron.Stop().Done()
	return ctx.Err()
}

// RunOnce claims one batch and returns how many jobs were queued.
func (w *RecoveryWorker) RunOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	claimCtx, cancel := context.WithTimeout(ctx, claimTimeout)
	jobs, err := w.uc.ClaimStale(claimCtx)
	cancel()
	if err != nil {
		w.log.Error().Err(err).Msg("claim stale jobs")
		return 0
	}

	queued := 0
	for _, job := range jobs {
		job := job
		err := w.pool.Submit(func(ctx context.Context) error {
			if _, err := w.uc.Recover(ctx, job); err != nil {
				return fmt.Errorf("recover job %s: %w", job.ID, err)
			}
			return nil
		})
		if err != nil {
			// the lease expires and a later sweep picks the job up again
			w.log.Warn().Err(err).Str("job_id", job.ID).Msg("recovery task not queued")
			continue
		}
		queued++
	}
	if queued > 0 {
		w.log.Info().Int("count", queued).Msg("stale jobs queued for recovery")
	}
	return queued
}

package usecase

import (
	"context"
	"errors"
	"time"

	"telegram-image-editor/internal/domain"
	"telegram-image-editor/internal/domain/model"
	"telegram-image-editor/internal/domain/ports/adapter"
	"telegram-image-editor/internal/domain/ports/repository"
	"telegram-image-editor/internal/infra/logging"
	"telegram-image-editor/internal/infra/metrics"

	"github.com/rs/zerolog"
)

const eventPublishTimeout = 5 * time.Second

// finalizer persists a terminal job, records its stats once and publishes
// the job event. Shared by live runs and recovery.
type finalizer struct {
	jobs   repository.EditJobRepository
	stats  StatsUseCase
	events adapter.JobEventPublisher // optional
	images repository.PendingImageRepository
	log    *zerolog.Logger
}

func newFinalizer(jobs repository.EditJobRepository, stats StatsUseCase, events adapter.JobEventPublisher, images repository.PendingImageRepository, logger *zerolog.Logger) *finalizer {
	return &finalizer{jobs: jobs, stats: stats, events: events, images: images, log: logger}
}

// finish runs after the engine returned. Writes use a context detached from
// cancellation so a cancelled run still lands in storage. The terminal write
// only lands on a row that is still pending or processing; when another
// writer finished the job first, finish reports false and neither records
// stats nor publishes.
func (f *finalizer) finish(ctx context.Context, res RunResult, isNewUser bool) (RunResult, bool) {
	job := res.Job
	if job == nil || !job.IsTerminal() {
		return res, false
	}
	ctx = context.WithoutCancel(ctx)
	log := logging.With(logging.WithJobID(ctx, job.ID), f.log)

	outcome := job
	// at most once per attempt, even after a partial failure
	job = job.MarkStatsRecorded()

	ok, err := f.jobs.UpdateUnfinished(ctx, repository.NoTX, job)
	switch {
	case err != nil:
		log.Error().Err(&domain.PersistenceError{Op: "update_job", Err: err}).Str("status", string(job.Status)).Msg("terminal job not saved")
	case !ok:
		log.Warn().Str("status", string(job.Status)).Msg("job already finished elsewhere")
		if stored, ferr := f.jobs.FindByID(ctx, repository.NoTX, job.ID); ferr == nil {
			res.Job = stored
		}
		return res, false
	}

	if !outcome.StatsRecorded {
		if err := f.stats.Record(ctx, outcome, isNewUser); err != nil && !errors.Is(err, domain.ErrAlreadyRecorded) {
			log.Warn().Err(err).Msg("stats not fully recorded")
		}
	}

	metrics.IncEditJob(string(job.Status))
	if job.Status == model.EditStatusCompleted && f.images != nil {
		if err := f.images.ClearJobImage(ctx, job.ID); err != nil {
			log.Debug().Err(err).Msg("job image not cleared")
		}
	}
	f.publish(ctx, log, job)

	res.Job = job
	return res, true
}

func (f *finalizer) publish(ctx context.Context, log *zerolog.Logger, job *model.EditJob) {
	if f.events == nil {
		return
	}
	ev := adapter.JobEvent{
		JobID:          job.ID,
		TelegramUserID: job.TelegramUserID,
		Status:         string(job.Status),
		EditType:       string(job.EditType),
		AspectRatio:    string(job.AspectRatio),
		OutputFormat:   string(job.OutputFormat),
		RetryCount:     job.RetryCount,
		ErrorMessage:   job.ErrorMessage,
		OccurredAt:     time.Now(),
	}
	if job.CompletedAt != nil {
		ev.OccurredAt = *job.CompletedAt
	}
	if secs, ok := job.ProcessingSeconds(); ok {
		ev.ProcessingSeconds = &secs
	}

	ctx, cancel := context.WithTimeout(ctx, eventPublishTimeout)
	defer cancel()
	if err := f.events.Publish(ctx, ev); err != nil {
		metrics.IncJobEvent("error")
		log.Warn().Err(err).Msg("job event not published")
		return
	}
	metrics.IncJobEvent("ok")
}

package usecase

import (
	"context"
	"errors"
	"time"

	"telegram-image-editor/internal/domain"
	"telegram-image-editor/internal/domain/model"
	"telegram-image-editor/internal/domain/ports/adapter"
	"telegram-image-editor/internal/domain/ports/repository"
	"telegram-image-editor/internal/infra/i18n"
	"telegram-image-editor/internal/infra/logging"
	"telegram-image-editor/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ RecoveryUseCase = (*recoveryUC)(nil)

const interruptedMessage = "interrupted before submission"

// RecoveryUseCase finishes jobs left behind by a stopped process.
type RecoveryUseCase interface {
	// ClaimStale leases PENDING and PROCESSING jobs untouched for the stale window.
	ClaimStale(ctx context.Context) ([]*model.EditJob, error)
	// Recover drives one claimed job to a terminal state and notifies its owner.
	Recover(ctx context.Context, job *model.EditJob) (*model.EditJob, error)
}

type RecoveryOptions struct {
	StaleAfter time.Duration
	BatchSize  int
}

type recoveryUC struct {
	jobs   repository.EditJobRepository
	engine *PollingEngine
	fin    *finalizer
	bot    adapter.TelegramBotAdapter
	t      *i18n.Translator
	opts   RecoveryOptions
	now    func() time.Time
	log    *zerolog.Logger
}

func NewRecoveryUseCase(
	jobs repository.EditJobRepository,
	engine *PollingEngine,
	stats StatsUseCase,
	events adapter.JobEventPublisher,
	images repository.PendingImageRepository,
	bot adapter.TelegramBotAdapter,
	translator *i18n.Translator,
	opts RecoveryOptions,
	logger *zerolog.Logger,
) *recoveryUC {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 10 * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	l := logger.With().Str("component", "RecoveryUC").Logger()
	return &recoveryUC{
		jobs:   jobs,
		engine: engine,
		fin:    newFinalizer(jobs, stats, events, images, &l),
		bot:    bot,
		t:      translator,
		opts:   opts,
		now:    time.Now,
		log:    &l,
	}
}

func (r *recoveryUC) ClaimStale(ctx context.Context) ([]*model.EditJob, error) {
	defer logging.TraceDuration(r.log, "RecoveryUC.ClaimStale")()
	statuses := []model.EditStatus{model.EditStatusPending, model.EditStatusProcessing}
	return r.jobs.ClaimStale(ctx, statuses, r.now().Add(-r.opts.StaleAfter), r.opts.BatchSize)
}

func (r *recoveryUC) Recover(ctx context.Context, job *model.EditJob) (*model.EditJob, error) {
	defer logging.TraceDuration(r.log, "RecoveryUC.Recover")()
	log := logging.With(logging.WithJobID(ctx, job.ID), r.log)

	var res RunResult
	switch {
	case job.Status == model.EditStatusProcessing && job.PollingURL != "":
		metrics.IncRecoveredJob("resumed")
		log.Info().Msg("resuming interrupted job")
		res = r.engine.Resume(ctx, job)
	case job.Status == model.EditStatusPending || job.Status == model.EditStatusProcessing:
		// the source image is gone with the process that received it
		metrics.IncRecoveredJob("failed")
		failed, err := job.Fail(interruptedMessage, r.now())
		if err != nil {
			return nil, err
		}
		res = RunResult{Job: failed, Err: errors.New(interruptedMessage)}
	default:
		return job, domain.ErrInvalidTransition
	}

	res, finished := r.fin.finish(ctx, res, false)
	if res.Job == nil || !res.Job.IsTerminal() {
		return res.Job, res.Err
	}
	if !finished {
		return res.Job, nil
	}
	r.notify(context.WithoutCancel(ctx), log, res)
	return res.Job, nil
}

func (r *recoveryUC) notify(ctx context.Context, log *zerolog.Logger, res RunResult) {
	job := res.Job
	if job.ChatID == 0 || r.bot == nil {
		return
	}
	var err error
	switch job.Status {
	case model.EditStatusCompleted:
		err = r.bot.SendPhoto(ctx, job.ChatID, adapter.Photo{
			FileName: "edited." + job.OutputFormat.Extension(),
			Data:     res.Image,
			Caption:  r.t.T("job_recovered", job.Prompt),
		})
	case model.EditStatusFailed:
		if job.ErrorMessage == interruptedMessage {
			err = r.bot.SendMessage(ctx, job.ChatID, r.t.T("job_interrupted"))
		} else {
			err = r.bot.SendMessage(ctx, job.ChatID, FailureText(r.t, res.Err, job))
		}
	default:
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("recovery notification failed")
	}
}

// FailureText renders the user-facing message of a failed job.
func FailureText(t *i18n.Translator, cause error, job *model.EditJob) string {
	var te *domain.PollingTimeoutError
	if errors.As(cause, &te) {
		return t.T("job_timeout")
	}
	msg := job.ErrorMessage
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	return t.T("job_failed", msg)
}

package usecase

import (
	"context"
	"encoding/base64"
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

const unknownProviderError = "unknown provider error"

type PollingOptions struct {
	Interval    time.Duration // default 2s
	MaxAttempts int           // default 150

	// Now and Sleep are overridable for tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// RunResult is the terminal snapshot of one engine run. Err is nil only for
// COMPLETED jobs; provider and timeout errors never escape as panics or
// returned errors of Run itself.
type RunResult struct {
	Job      *model.EditJob
	Image    []byte
	Attempts int
	Err      error
}

// PollingEngine drives a job from submission to a terminal state.
type PollingEngine struct {
	provider adapter.EditProvider
	jobs     repository.EditJobRepository // optional; PROCESSING snapshots are saved through it
	opts     PollingOptions
	log      *zerolog.Logger
}

func NewPollingEngine(provider adapter.EditProvider, jobs repository.EditJobRepository, opts PollingOptions, logger *zerolog.Logger) *PollingEngine {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 150
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	l := logger.With().Str("component", "PollingEngine").Logger()
	return &PollingEngine{provider: provider, jobs: jobs, opts: opts, log: &l}
}

// Run submits image for a PENDING job and polls until a terminal state.
func (e *PollingEngine) Run(ctx context.Context, job *model.EditJob, image []byte) RunResult {
	defer logging.TraceDuration(e.log, "PollingEngine.Run")()
	log := logging.With(logging.WithJobID(ctx, job.ID), e.log)

	sess, err := e.provider.Open(ctx)
	if err != nil {
		return e.finish(ctx, log, job, 0, err)
	}
	defer sess.Close()

	res, err := sess.Submit(ctx, adapter.SubmitRequest{
		Prompt:          job.SubmittedPrompt(),
		ImageBase64:     EncodeImage(image),
		AspectRatio:     job.AspectRatio,
		OutputFormat:    job.OutputFormat,
		Seed:            job.Seed,
		SafetyTolerance: job.SafetyTolerance,
	})
	if err != nil {
		log.Error().Err(err).Msg("submission failed")
		return e.finish(ctx, log, job, 0, err)
	}

	started, err := job.StartProcessing(res.ID, res.PollingURL, e.opts.Now())
	if err != nil {
		return e.finish(ctx, log, job, 0, err)
	}
	log.Info().Str("request_id", res.ID).Str("edit_type", string(started.EditType)).Msg("edit submitted")
	e.saveProcessing(ctx, log, started)

	return e.poll(ctx, log, sess, started)
}

// Resume continues polling a PROCESSING job that already has a polling handle.
func (e *PollingEngine) Resume(ctx context.Context, job *model.EditJob) RunResult {
	defer logging.TraceDuration(e.log, "PollingEngine.Resume")()
	log := logging.With(logging.WithJobID(ctx, job.ID), e.log)

	if job.Status != model.EditStatusProcessing || job.PollingURL == "" {
		return RunResult{Job: job, Err: domain.ErrInvalidTransition}
	}
	sess, err := e.provider.Open(ctx)
	if err != nil {
		return e.finish(ctx, log, job, 0, err)
	}
	defer sess.Close()
	return e.poll(ctx, log, sess, job)
}

func (e *PollingEngine) poll(ctx context.Context, log *zerolog.Logger, sess adapter.ProviderSession, job *model.EditJob) RunResult {
	for attempt := 1; attempt <= e.opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return e.finish(ctx, log, job, attempt-1, err)
		}

		pr, err := sess.Poll(ctx, job.PollingURL)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return e.finish(ctx, log, job, attempt, ctx.Err())
			}
			log.Warn().Err(err).Int("attempt", attempt).Msg("poll failed, retrying")

		case pr.Status == adapter.ProviderStatusReady:
			return e.complete(ctx, log, sess, job, attempt, pr.ResultURL)

		case pr.Status == adapter.ProviderStatusError || pr.Status == adapter.ProviderStatusFailed:
			msg := pr.Message
			if msg == "" {
				msg = unknownProviderError
			}
			log.Warn().Str("status", pr.Status.String()).Str("message", msg).Msg("provider reported failure")
			return e.finish(ctx, log, job, attempt, errors.New(msg))

		case pr.Status == adapter.ProviderStatusUnknown:
			log.Warn().Str("status", pr.Raw).Int("attempt", attempt).Msg("unexpected provider status")

		default:
			log.Debug().Str("status", pr.Status.String()).Int("attempt", attempt).Msg("still working")
		}

		if err := e.opts.Sleep(ctx, e.opts.Interval); err != nil {
			return e.finish(ctx, log, job, attempt, err)
		}
	}
	return e.finish(ctx, log, job, e.opts.MaxAttempts, &domain.PollingTimeoutError{Attempts: e.opts.MaxAttempts})
}

func (e *PollingEngine) complete(ctx context.Context, log *zerolog.Logger, sess adapter.ProviderSession, job *model.EditJob, attempts int, resultURL string) RunResult {
	if resultURL == "" {
		return e.finish(ctx, log, job, attempts, &domain.ProviderError{Op: "poll", Body: "ready without result url"})
	}
	// no cancellation point once the download starts; the session timeout bounds it
	data, err := sess.Fetch(context.WithoutCancel(ctx), resultURL)
	if err != nil {
		return e.finish(ctx, log, job, attempts, err)
	}
	done, err := job.Complete(resultURL, e.opts.Now())
	if err != nil {
		return RunResult{Job: job, Attempts: attempts, Err: err}
	}
	done = done.MarkDownloaded()

	metrics.ObservePollingAttempts("completed", attempts)
	if secs, ok := done.ProcessingSeconds(); ok {
		metrics.ObserveProcessingSeconds(secs)
	}
	log.Info().Int("attempts", attempts).Int("bytes", len(data)).Msg("edit completed")
	return RunResult{Job: done, Image: data, Attempts: attempts}
}

// finish moves job to FAILED, or CANCELLED for context errors, and returns
// the cause alongside it.
func (e *PollingEngine) finish(ctx context.Context, log *zerolog.Logger, job *model.EditJob, attempts int, cause error) RunResult {
	var (
		next *model.EditJob
		err  error
	)
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		next, err = job.Cancel(e.opts.Now())
		metrics.ObservePollingAttempts("cancelled", attempts)
		log.Info().Int("attempts", attempts).Msg("edit cancelled")
	} else {
		next, err = job.Fail(cause.Error(), e.opts.Now())
		outcome := "failed"
		var te *domain.PollingTimeoutError
		if errors.As(cause, &te) {
			outcome = "timeout"
		}
		metrics.ObservePollingAttempts(outcome, attempts)
	}
	if err != nil {
		return RunResult{Job: job, Attempts: attempts, Err: errors.Join(cause, err)}
	}
	return RunResult{Job: next, Attempts: attempts, Err: cause}
}

func (e *PollingEngine) saveProcessing(ctx context.Context, log *zerolog.Logger, job *model.EditJob) {
	if e.jobs == nil {
		return
	}
	if _, err := e.jobs.Update(ctx, repository.NoTX, job); err != nil {
		log.Error().Err(&domain.PersistenceError{Op: "update_job", Err: err}).Msg("failed to save processing snapshot")
	}
}

// EncodeImage is the standard base64 encoding sent as input_image.
func EncodeImage(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

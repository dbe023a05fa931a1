package usecase

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"telegram-image-editor/internal/domain"
	"telegram-image-editor/internal/domain/model"
	"telegram-image-editor/internal/domain/ports/adapter"
	"telegram-image-editor/internal/domain/ports/repository"
	"telegram-image-editor/internal/infra/logging"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Compile-time check
var _ EditUseCase = (*editUC)(nil)

const (
	defaultRecentJobs = 5
	maxRecentJobs     = 20
)

// EditRequest is an edit instruction as received from chat.
type EditRequest struct {
	TelegramUserID  int64              `json:"telegram_user_id" validate:"required,gt=0"`
	ChatID          int64              `json:"chat_id"`
	MessageID       int                `json:"message_id"`
	Prompt          string             `json:"prompt" validate:"required,min=3,max=500"`
	AspectRatio     model.AspectRatio  `json:"aspect_ratio" validate:"omitempty,oneof=1:1 4:3 3:4 16:9 9:16 21:9 9:21"`
	OutputFormat    model.OutputFormat `json:"output_format" validate:"omitempty,oneof=jpeg png webp"`
	Seed            *int64             `json:"seed"`
	SafetyTolerance *int               `json:"safety_tolerance" validate:"omitempty,min=0,max=6"`

	// NewUser marks a request from a user registered while handling it.
	NewUser bool `json:"-"`
}

// EditResult is the terminal state of one edit run. Err carries the failure
// cause for FAILED and CANCELLED jobs.
type EditResult struct {
	Job   *model.EditJob
	Image []byte
	Err   error
}

// EditUseCase runs edit jobs end to end.
type EditUseCase interface {
	// Submit fails with *domain.ValidationError before any job exists; every
	// other outcome is reported through EditResult.
	Submit(ctx context.Context, req EditRequest, image []byte) (EditResult, error)
	Retry(ctx context.Context, tgID int64, jobID string) (EditResult, error)
	// Cancel stops jobID, or every live run of the user when jobID is empty.
	Cancel(ctx context.Context, tgID int64, jobID string) (int, error)
	Recent(ctx context.Context, tgID int64, n int) ([]*model.EditJob, error)
	// Unfinished lists PENDING and PROCESSING jobs of every process, oldest first.
	Unfinished(ctx context.Context, limit int) ([]*model.EditJob, error)
	InFlight(tgID int64) int
}

type EditOptions struct {
	OptimizeAboveBytes int // 0 disables re-encoding
	MaxRetries         int
	LogPrompts         bool // log prompts in clear text
}

type editUC struct {
	jobs      repository.EditJobRepository
	users     repository.UserRepository
	images    repository.PendingImageRepository
	processor adapter.ImageProcessor
	enhancer  adapter.PromptEnhancer // optional
	engine    *PollingEngine
	fin       *finalizer
	opts      EditOptions

	validate *validator.Validate
	runs     *runRegistry
	now      func() time.Time
	log      *zerolog.Logger
}

func NewEditUseCase(
	jobs repository.EditJobRepository,
	users repository.UserRepository,
	images repository.PendingImageRepository,
	processor adapter.ImageProcessor,
	enhancer adapter.PromptEnhancer,
	engine *PollingEngine,
	stats StatsUseCase,
	events adapter.JobEventPublisher,
	opts EditOptions,
	logger *zerolog.Logger,
) *editUC {
	l := logger.With().Str("component", "EditUC").Logger()
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = model.DefaultMaxRetries
	}
	return &editUC{
		jobs:      jobs,
		users:     users,
		images:    images,
		processor: processor,
		enhancer:  enhancer,
		engine:    engine,
		fin:       newFinalizer(jobs, stats, events, images, &l),
		opts:      opts,
		validate:  newRequestValidator(),
		runs:      newRunRegistry(),
		now:       time.Now,
		log:       &l,
	}
}

func newRequestValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (u *editUC) Submit(ctx context.Context, req EditRequest, image []byte) (EditResult, error) {
	defer logging.TraceDuration(u.log, "EditUC.Submit")()
	ctx = logging.WithTgID(ctx, req.TelegramUserID)
	log := logging.With(ctx, u.log)

	req.Prompt = strings.TrimSpace(req.Prompt)
	if err := u.validateRequest(req); err != nil {
		return EditResult{}, err
	}
	usr, err := u.users.FindByTelegramID(ctx, repository.NoTX, req.TelegramUserID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			log.Warn().Err(err).Msg("user lookup failed, using default preferences")
		}
		usr = nil
	} else {
		applyPreferences(&req, usr.Preferences)
		ctx = logging.WithUserID(ctx, usr.ID)
		log = logging.With(ctx, u.log)
	}

	info, err := u.processor.Validate(image)
	if err != nil {
		return EditResult{}, err
	}
	if u.opts.OptimizeAboveBytes > 0 && info.SizeBytes > u.opts.OptimizeAboveBytes {
		optimized, err := u.processor.Optimize(image, adapter.ImageConstraints{MaxBytes: u.opts.OptimizeAboveBytes})
		if err != nil {
			log.Warn().Err(err).Int("bytes", info.SizeBytes).Msg("optimize failed, submitting original")
		} else {
			log.Debug().Int("from", info.SizeBytes).Int("to", len(optimized)).Msg("image optimized")
			image = optimized
		}
	}

	tolerance := model.DefaultSafetyTolerance
	if req.SafetyTolerance != nil {
		tolerance = *req.SafetyTolerance
	}
	job, err := model.NewEditJob("", model.EditParams{
		TelegramUserID:    req.TelegramUserID,
		ChatID:            req.ChatID,
		MessageID:         req.MessageID,
		Prompt:            req.Prompt,
		AspectRatio:       req.AspectRatio,
		OutputFormat:      req.OutputFormat,
		Seed:              req.Seed,
		SafetyTolerance:   tolerance,
		OriginalImageSize: int64(info.SizeBytes),
		MaxRetries:        u.opts.MaxRetries,
	}, u.now())
	if err != nil {
		return EditResult{}, err
	}
	if usr != nil {
		job.UserID = usr.ID
	}
	job = u.enhance(ctx, job)

	ok, err := u.jobs.Create(ctx, repository.NoTX, job)
	if err != nil {
		return EditResult{}, &domain.PersistenceError{Op: "create_job", Err: err}
	}
	if !ok {
		return EditResult{}, domain.ErrAlreadyExists
	}
	if err := u.images.PutJobImage(ctx, job.ID, image); err != nil {
		log.Warn().Err(err).Str("job_id", job.ID).Msg("job image not kept, retry will be unavailable")
	}
	log.Info().Str("job_id", job.ID).Str("edit_type", string(job.EditType)).
		Str("prompt", logging.Redact(job.Prompt, u.opts.LogPrompts)).Msg("edit job created")

	runCtx, release, ok := u.claim(ctx, job.ID, job.TelegramUserID)
	if !ok {
		return EditResult{}, domain.ErrJobInFlight
	}
	defer release()
	return u.run(ctx, runCtx, job, image, req.NewUser)
}

func (u *editUC) Retry(ctx context.Context, tgID int64, jobID string) (EditResult, error) {
	defer logging.TraceDuration(u.log, "EditUC.Retry")()
	ctx = logging.WithJobID(logging.WithTgID(ctx, tgID), jobID)

	// the slot is held before the snapshot is read so a second retry of the
	// same job never writes over the winner's record
	runCtx, release, ok := u.claim(ctx, jobID, tgID)
	if !ok {
		return EditResult{}, domain.ErrJobInFlight
	}
	defer release()

	job, err := u.owned(ctx, tgID, jobID)
	if err != nil {
		return EditResult{}, err
	}
	retried, err := job.Retry(u.now())
	if err != nil {
		return EditResult{}, err
	}
	image, err := u.images.JobImage(ctx, jobID)
	if err != nil {
		return EditResult{}, err
	}
	if _, err := u.jobs.Update(ctx, repository.NoTX, retried); err != nil {
		return EditResult{}, &domain.PersistenceError{Op: "update_job", Err: err}
	}
	logging.With(ctx, u.log).Info().Int("retry", retried.RetryCount).Msg("retrying edit job")
	return u.run(ctx, runCtx, retried, image, false)
}

// claim registers a live run for jobID. release must be called once the run
// is over.
func (u *editUC) claim(ctx context.Context, jobID string, tgID int64) (context.Context, func(), bool) {
	runCtx, cancel := context.WithCancel(ctx)
	if !u.runs.add(jobID, tgID, cancel) {
		cancel()
		return nil, nil, false
	}
	return runCtx, func() {
		u.runs.remove(jobID)
		cancel()
	}, true
}

func (u *editUC) run(ctx, runCtx context.Context, job *model.EditJob, image []byte, isNewUser bool) (EditResult, error) {
	res := u.engine.Run(runCtx, job, image)
	res, _ = u.fin.finish(ctx, res, isNewUser)
	return EditResult{Job: res.Job, Image: res.Image, Err: res.Err}, nil
}

func (u *editUC) Cancel(ctx context.Context, tgID int64, jobID string) (int, error) {
	defer logging.TraceDuration(u.log, "EditUC.Cancel")()

	if jobID == "" {
		return u.runs.cancelUser(tgID), nil
	}
	if u.runs.cancel(jobID, tgID) {
		return 1, nil
	}

	job, err := u.owned(ctx, tgID, jobID)
	if err != nil {
		return 0, err
	}
	cancelled, err := job.Cancel(u.now())
	if err != nil {
		return 0, err
	}
	// the run may be owned by another process; its terminal write wins if it lands first
	if _, ok := u.fin.finish(ctx, RunResult{Job: cancelled, Err: context.Canceled}, false); !ok {
		return 0, domain.ErrInvalidTransition
	}
	return 1, nil
}

func (u *editUC) Recent(ctx context.Context, tgID int64, n int) ([]*model.EditJob, error) {
	defer logging.TraceDuration(u.log, "EditUC.Recent")()
	if n <= 0 {
		n = defaultRecentJobs
	}
	if n > maxRecentJobs {
		n = maxRecentJobs
	}
	return u.jobs.ListRecentByUser(ctx, repository.NoTX, tgID, n)
}

func (u *editUC) Unfinished(ctx context.Context, limit int) ([]*model.EditJob, error) {
	jobs, err := u.jobs.ListByStatus(ctx, repository.NoTX,
		[]model.EditStatus{model.EditStatusPending, model.EditStatusProcessing}, limit)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list_jobs", Err: err}
	}
	return jobs, nil
}

func (u *editUC) InFlight(tgID int64) int { return u.runs.countUser(tgID) }

func (u *editUC) owned(ctx context.Context, tgID int64, jobID string) (*model.EditJob, error) {
	job, err := u.jobs.FindByID(ctx, repository.NoTX, jobID)
	if err != nil {
		return nil, err
	}
	if job.TelegramUserID != tgID {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

func (u *editUC) validateRequest(req EditRequest) error {
	err := u.validate.Struct(req)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		fe := ve[0]
		return &domain.ValidationError{Field: fe.Field(), Reason: describeRule(fe)}
	}
	return &domain.ValidationError{Reason: err.Error()}
}

func describeRule(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	}
	return fmt.Sprintf("failed %s check", fe.Tag())
}

// applyPreferences fills format and aspect ratio from the user's settings.
func applyPreferences(req *EditRequest, p model.UserPreferences) {
	if req.AspectRatio == "" {
		req.AspectRatio = p.AspectRatio
	}
	if req.OutputFormat == "" {
		req.OutputFormat = p.OutputFormat
	}
}

func (u *editUC) enhance(ctx context.Context, job *model.EditJob) *model.EditJob {
	if u.enhancer == nil {
		return job
	}
	out, err := u.enhancer.Enhance(ctx, job.Prompt)
	if err != nil {
		logging.With(ctx, u.log).Warn().Err(err).Msg("prompt enhancement failed, using original prompt")
		return job
	}
	if n := len([]rune(strings.TrimSpace(out))); n < model.MinPromptLength || n > model.MaxPromptLength*2 {
		return job
	}
	return job.WithEnhancedPrompt(out)
}

// runRegistry tracks the live runs owned by this process.
type runRegistry struct {
	mu   sync.Mutex
	runs map[string]liveRun
}

type liveRun struct {
	tgID   int64
	cancel context.CancelFunc
}

func newRunRegistry() *runRegistry {
	return &runRegistry{runs: map[string]liveRun{}}
}

func (r *runRegistry) add(jobID string, tgID int64, cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[jobID]; ok {
		return false
	}
	r.runs[jobID] = liveRun{tgID: tgID, cancel: cancel}
	return true
}

func (r *runRegistry) remove(jobID string) {
	r.mu.Lock()
	delete(r.runs, jobID)
	r.mu.Unlock()
}

func (r *runRegistry) cancel(jobID string, tgID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[jobID]
	if !ok || run.tgID != tgID {
		return false
	}
	run.cancel()
	return true
}

func (r *runRegistry) cancelUser(tgID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, run := range r.runs {
		if run.tgID == tgID {
			run.cancel()
			n++
		}
	}
	return n
}

func (r *runRegistry) countUser(tgID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, run := range r.runs {
		if run.tgID == tgID {
			n++
		}
	}
	return n
}

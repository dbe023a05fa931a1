package model

import (
	"strings"
	"time"
	"unicode/utf8"

	"telegram-image-editor/internal/domain"

	"github.com/oklog/ulid/v2"
)

type EditStatus string

const (
	EditStatusPending    EditStatus = "pending"
	EditStatusProcessing EditStatus = "processing"
	EditStatusCompleted  EditStatus = "completed"
	EditStatusFailed     EditStatus = "failed"
	EditStatusCancelled  EditStatus = "cancelled"
)

func (s EditStatus) IsTerminal() bool {
	switch s {
	case EditStatusCompleted, EditStatusFailed, EditStatusCancelled:
		return true
	}
	return false
}

func (s EditStatus) Valid() bool {
	switch s {
	case EditStatusPending, EditStatusProcessing, EditStatusCompleted, EditStatusFailed, EditStatusCancelled:
		return true
	}
	return false
}

const (
	MinPromptLength        = 3
	MaxPromptLength        = 500
	DefaultMaxRetries      = 3
	DefaultSafetyTolerance = 2
	MaxSafetyTolerance     = 6
)

// EditParams are the caller-supplied inputs of a new edit job.
type EditParams struct {
	UserID            string
	TelegramUserID    int64
	ChatID            int64
	MessageID         int
	Prompt            string
	AspectRatio       AspectRatio
	OutputFormat      OutputFormat
	Seed              *int64
	SafetyTolerance   int
	OriginalImageSize int64
	MaxRetries        int
}

// EditJob is one user-initiated edit request. Transition methods never
// mutate the receiver; they return an updated copy.
type EditJob struct {
	ID             string
	UserID         string
	TelegramUserID int64
	ChatID         int64
	MessageID      int

	Prompt            string
	EnhancedPrompt    string
	AspectRatio       AspectRatio
	OutputFormat      OutputFormat
	Seed              *int64
	SafetyTolerance   int
	OriginalImageSize int64
	EditType          EditType

	ExternalID string
	PollingURL string
	ResultURL  string
	Downloaded bool

	Status         EditStatus
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	ProcessingTime *time.Duration
	UpdatedAt      time.Time

	RetryCount    int
	MaxRetries    int
	ErrorMessage  string
	StatsRecorded bool
}

// NewEditJob validates params and builds a PENDING job. An empty id gets a ULID.
func NewEditJob(id string, p EditParams, now time.Time) (*EditJob, error) {
	if p.TelegramUserID <= 0 {
		return nil, &domain.ValidationError{Field: "telegram_user_id", Reason: "must be positive"}
	}
	prompt := strings.TrimSpace(p.Prompt)
	if n := utf8.RuneCountInString(prompt); n < MinPromptLength || n > MaxPromptLength {
		return nil, &domain.ValidationError{Field: "prompt", Reason: "must be between 3 and 500 characters"}
	}
	if p.AspectRatio == "" {
		p.AspectRatio = DefaultAspectRatio
	}
	if !p.AspectRatio.Valid() {
		return nil, &domain.ValidationError{Field: "aspect_ratio", Reason: "unsupported value " + string(p.AspectRatio)}
	}
	if p.OutputFormat == "" {
		p.OutputFormat = DefaultOutputFormat
	}
	if !p.OutputFormat.Valid() {
		return nil, &domain.ValidationError{Field: "output_format", Reason: "unsupported value " + string(p.OutputFormat)}
	}
	if p.SafetyTolerance < 0 || p.SafetyTolerance > MaxSafetyTolerance {
		return nil, &domain.ValidationError{Field: "safety_tolerance", Reason: "must be between 0 and 6"}
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = DefaultMaxRetries
	}
	if id == "" {
		id = ulid.Make().String()
	}
	return &EditJob{
		ID:                id,
		UserID:            p.UserID,
		TelegramUserID:    p.TelegramUserID,
		ChatID:            p.ChatID,
		MessageID:         p.MessageID,
		Prompt:            prompt,
		AspectRatio:       p.AspectRatio,
		OutputFormat:      p.OutputFormat,
		Seed:              p.Seed,
		SafetyTolerance:   p.SafetyTolerance,
		OriginalImageSize: p.OriginalImageSize,
		EditType:          ClassifyEditType(prompt),
		Status:            EditStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
		MaxRetries:        p.MaxRetries,
	}, nil
}

// SubmittedPrompt is the text sent to the provider.
func (j EditJob) SubmittedPrompt() string {
	if j.EnhancedPrompt != "" {
		return j.EnhancedPrompt
	}
	return j.Prompt
}

func (j EditJob) IsTerminal() bool { return j.Status.IsTerminal() }

// StartProcessing records the provider correlation ids. Legal only from PENDING.
func (j EditJob) StartProcessing(externalID, pollingURL string, at time.Time) (*EditJob, error) {
	if j.Status != EditStatusPending {
		return nil, domain.ErrInvalidTransition
	}
	if externalID == "" || pollingURL == "" {
		return nil, domain.ErrInvalidArgument
	}
	j.Status = EditStatusProcessing
	j.ExternalID = externalID
	j.PollingURL = pollingURL
	j.StartedAt = &at
	j.UpdatedAt = at
	return &j, nil
}

// Complete marks the job done with the provider's result locator.
func (j EditJob) Complete(resultURL string, at time.Time) (*EditJob, error) {
	if j.Status != EditStatusProcessing {
		return nil, domain.ErrInvalidTransition
	}
	if resultURL == "" {
		return nil, domain.ErrInvalidArgument
	}
	j.Status = EditStatusCompleted
	j.ResultURL = resultURL
	j.finish(at)
	return &j, nil
}

// Fail is legal from PROCESSING and, for submission failures, from PENDING.
func (j EditJob) Fail(message string, at time.Time) (*EditJob, error) {
	if j.Status != EditStatusProcessing && j.Status != EditStatusPending {
		return nil, domain.ErrInvalidTransition
	}
	j.Status = EditStatusFailed
	j.ErrorMessage = message
	j.finish(at)
	return &j, nil
}

func (j EditJob) Cancel(at time.Time) (*EditJob, error) {
	if j.Status != EditStatusProcessing && j.Status != EditStatusPending {
		return nil, domain.ErrInvalidTransition
	}
	j.Status = EditStatusCancelled
	j.finish(at)
	return &j, nil
}

func (j EditJob) CanRetry() bool {
	return j.Status == EditStatusFailed && j.RetryCount < j.MaxRetries
}

// Retry puts a failed job back to PENDING for a fresh submission cycle.
// Provider ids, timing and the result are cleared.
func (j EditJob) Retry(at time.Time) (*EditJob, error) {
	if !j.CanRetry() {
		return nil, domain.ErrRetryNotAllowed
	}
	j.Status = EditStatusPending
	j.RetryCount++
	j.ErrorMessage = ""
	j.ExternalID = ""
	j.PollingURL = ""
	j.ResultURL = ""
	j.Downloaded = false
	j.StartedAt = nil
	j.CompletedAt = nil
	j.ProcessingTime = nil
	j.StatsRecorded = false
	j.UpdatedAt = at
	return &j, nil
}

func (j EditJob) MarkDownloaded() *EditJob {
	j.Downloaded = true
	return &j
}

func (j EditJob) MarkStatsRecorded() *EditJob {
	j.StatsRecorded = true
	return &j
}

func (j EditJob) WithEnhancedPrompt(p string) *EditJob {
	j.EnhancedPrompt = strings.TrimSpace(p)
	return &j
}

// ProcessingSeconds returns the processing time sample, if any.
func (j EditJob) ProcessingSeconds() (float64, bool) {
	if j.ProcessingTime == nil {
		return 0, false
	}
	return j.ProcessingTime.Seconds(), true
}

func (j *EditJob) finish(at time.Time) {
	if j.StartedAt != nil {
		if at.Before(*j.StartedAt) {
			at = *j.StartedAt
		}
		d := at.Sub(*j.StartedAt)
		j.ProcessingTime = &d
	}
	j.CompletedAt = &at
	j.UpdatedAt = at
}

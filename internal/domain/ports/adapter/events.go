package adapter

import (
	"context"
	"time"
)

// JobEvent is published once a job reaches a terminal state.
type JobEvent struct {
	JobID             string    `json:"job_id"`
	TelegramUserID    int64     `json:"telegram_user_id"`
	Status            string    `json:"status"`
	EditType          string    `json:"edit_type"`
	AspectRatio       string    `json:"aspect_ratio"`
	OutputFormat      string    `json:"output_format"`
	RetryCount        int       `json:"retry_count"`
	ProcessingSeconds *float64  `json:"processing_seconds,omitempty"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
}

type JobEventPublisher interface {
	Publish(ctx context.Context, ev JobEvent) error
	Close() error
}

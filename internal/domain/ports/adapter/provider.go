package adapter

import (
	"context"
	"strings"

	"telegram-image-editor/internal/domain/model"
)

// ProviderStatus is the closed set of provider job states.
type ProviderStatus int

const (
	ProviderStatusUnknown ProviderStatus = iota
	ProviderStatusPending
	ProviderStatusProcessing
	ProviderStatusReady
	ProviderStatusError
	ProviderStatusFailed
)

func (s ProviderStatus) String() string {
	switch s {
	case ProviderStatusPending:
		return "Pending"
	case ProviderStatusProcessing:
		return "Processing"
	case ProviderStatusReady:
		return "Ready"
	case ProviderStatusError:
		return "Error"
	case ProviderStatusFailed:
		return "Failed"
	}
	return "Unknown"
}

// ParseProviderStatus maps a raw provider string; anything unrecognised is Unknown.
func ParseProviderStatus(raw string) ProviderStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending":
		return ProviderStatusPending
	case "processing":
		return ProviderStatusProcessing
	case "ready":
		return ProviderStatusReady
	case "error":
		return ProviderStatusError
	case "failed":
		return ProviderStatusFailed
	}
	return ProviderStatusUnknown
}

type SubmitRequest struct {
	Prompt          string
	ImageBase64     string
	AspectRatio     model.AspectRatio
	OutputFormat    model.OutputFormat
	Seed            *int64
	SafetyTolerance int
}

type SubmitResult struct {
	ID         string
	PollingURL string
}

// PollResult carries the parsed status plus the raw string for Unknown values.
type PollResult struct {
	Status    ProviderStatus
	Raw       string
	ResultURL string
	Message   string
}

// EditProvider opens sessions against the asynchronous edit API.
type EditProvider interface {
	Open(ctx context.Context) (ProviderSession, error)
	HealthCheck(ctx context.Context) error
}

// ProviderSession owns a connection context for a single job run.
// Close is idempotent; calls after Close fail with domain.ErrSessionClosed.
type ProviderSession interface {
	Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error)
	Poll(ctx context.Context, pollingURL string) (PollResult, error)
	Fetch(ctx context.Context, resultURL string) ([]byte, error)
	Close() error
}

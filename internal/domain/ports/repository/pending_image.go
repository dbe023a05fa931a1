package repository

import (
	"context"
	"time"
)

// PendingImage is an uploaded photo waiting for its edit instruction.
type PendingImage struct {
	Data       []byte    `json:"data"`
	FileName   string    `json:"file_name"`
	MIME       string    `json:"mime"`
	MessageID  int       `json:"message_id"`
	ReceivedAt time.Time `json:"received_at"`
}

// PendingImageRepository keeps short-lived image bytes between chat messages.
// Get returns domain.ErrNoPendingImage when nothing is stored.
type PendingImageRepository interface {
	Put(ctx context.Context, tgID int64, img *PendingImage) error
	Get(ctx context.Context, tgID int64) (*PendingImage, error)
	Clear(ctx context.Context, tgID int64) error

	// Job images are kept after a failed run so the job can be retried.
	PutJobImage(ctx context.Context, jobID string, data []byte) error
	JobImage(ctx context.Context, jobID string) ([]byte, error)
	ClearJobImage(ctx context.Context, jobID string) error
}

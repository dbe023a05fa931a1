package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"telegram-image-editor/internal/domain"
	"telegram-image-editor/internal/domain/ports/repository"

	"github.com/go-redis/redis/v8"
)

var _ repository.PendingImageRepository = (*PendingImageRepo)(nil)

const pendingImageTTL = 15 * time.Minute

// Sealer encrypts values before they reach Redis.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// PendingImageRepo keeps uploads in Redis until the user sends the prompt,
// and the submitted bytes of each job until it completes.
type PendingImageRepo struct {
	client RedisClient
	ttl    time.Duration
	jobTTL time.Duration
	sealer Sealer
}

// NewPendingImageRepo gives users 15 minutes to send the instruction;
// job images live for jobTTL so a failed edit can be retried.
func NewPendingImageRepo(client RedisClient, jobTTL time.Duration) *PendingImageRepo {
	if jobTTL <= 0 {
		jobTTL = time.Hour
	}
	return &PendingImageRepo{client: client, ttl: pendingImageTTL, jobTTL: jobTTL}
}

// WithSealer stores every value encrypted.
func (r *PendingImageRepo) WithSealer(s Sealer) *PendingImageRepo {
	r.sealer = s
	return r
}

func (r *PendingImageRepo) set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if r.sealer != nil {
		sealed, err := r.sealer.Seal(data)
		if err != nil {
			return err
		}
		data = sealed
	}
	return r.client.Set(ctx, key, data, ttl)
}

func (r *PendingImageRepo) get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.GetBytes(ctx, key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNoPendingImage
		}
		return nil, err
	}
	if r.sealer != nil {
		return r.sealer.Open(data)
	}
	return data, nil
}

func pendingKey(tgID int64) string { return fmt.Sprintf("pending_image:%d", tgID) }
func jobImageKey(jobID string) string { return "job_image:" + jobID }

func (r *PendingImageRepo) Put(ctx context.Context, tgID int64, img *repository.PendingImage) error {
	data, err := json.Marshal(img)
	if err != nil {
		return err
	}
	return r.set(ctx, pendingKey(tgID), data, r.ttl)
}

func (r *PendingImageRepo) Get(ctx context.Context, tgID int64) (*repository.PendingImage, error) {
	data, err := r.get(ctx, pendingKey(tgID))
	if err != nil {
		return nil, err
	}
	var img repository.PendingImage
	if err := json.Unmarshal(data, &img); err != nil {
		return nil, err
	}
	return &img, nil
}

func (r *PendingImageRepo) Clear(ctx context.Context, tgID int64) error {
	return r.client.Del(ctx, pendingKey(tgID))
}

func (r *PendingImageRepo) PutJobImage(ctx context.Context, jobID string, data []byte) error {
	return r.set(ctx, jobImageKey(jobID), data, r.jobTTL)
}

func (r *PendingImageRepo) JobImage(ctx context.Context, jobID string) ([]byte, error) {
	return r.get(ctx, jobImageKey(jobID))
}

func (r *PendingImageRepo) ClearJobImage(ctx context.Context, jobID string) error {
	return r.client.Del(ctx, jobImageKey(jobID))
}

//go:build !integration

package usecase_test

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"telegram-image-editor/internal/domain"
	"telegram-image-editor/internal/domain/model"
	"telegram-image-editor/internal/domain/ports/adapter"
	"telegram-image-editor/internal/domain/ports/repository"
	"telegram-image-editor/internal/usecase"
)

type editFixture struct {
	jobs      *MockEditJobRepo
	users     *MockUserRepo
	analytics *MockAnalyticsRepo
	images    *MockPendingImageRepo
	processor *MockImageProcessor
	provider  *MockProvider
	events    *MockEvents
	enhancer  adapter.PromptEnhancer
	opts      usecase.EditOptions
}

func newEditFixture() *editFixture {
	return &editFixture{
		jobs:      NewMockEditJobRepo(),
		users:     NewMockUserRepo(),
		analytics: NewMockAnalyticsRepo(),
		images:    NewMockPendingImageRepo(),
		processor: &MockImageProcessor{},
		provider:  &MockProvider{},
		events:    &MockEvents{},
	}
}

func (f *editFixture) build() usecase.EditUseCase {
	log := newTestLogger()
	engine := usecase.NewPollingEngine(f.provider, f.jobs, usecase.PollingOptions{
		Interval:    time.Second,
		MaxAttempts: 5,
		Sleep:       (&noSleep{}).Sleep,
	}, log)
	stats := usecase.NewStatsUseCase(f.users, f.analytics, nil, log)
	return usecase.NewEditUseCase(f.jobs, f.users, f.images, f.processor, f.enhancer, engine, stats, f.events, f.opts, log)
}

func editRequest(tgID int64, prompt string) usecase.EditRequest {
	return usecase.EditRequest{TelegramUserID: tgID, ChatID: tgID, Prompt: prompt}
}

func TestEditUseCase_Submit(t *testing.T) {
	ctx := context.Background()
	image := []byte("0123456789")

	t.Run("rejects invalid requests before creating a job", func(t *testing.T) {
		tests := []struct {
			name  string
			req   usecase.EditRequest
			field string
		}{
			{"short prompt", editRequest(1, "  hi  "), "prompt"},
			{"missing user", editRequest(0, "add a hat"), "telegram_user_id"},
			{"bad aspect", usecase.EditRequest{TelegramUserID: 1, Prompt: "add a hat", AspectRatio: "5:4"}, "aspect_ratio"},
			{"bad format", usecase.EditRequest{TelegramUserID: 1, Prompt: "add a hat", OutputFormat: "gif"}, "output_format"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				// Arrange
				f := newEditFixture()
				uc := f.build()

				// Act
				_, err := uc.Submit(ctx, tt.req, image)

				// Assert
				var ve *domain.ValidationError
				if !errors.As(err, &ve) || ve.Field != tt.field {
					t.Fatalf("expected ValidationError on %s, got %v", tt.field, err)
				}
				if len(f.provider.Submitted) != 0 {
					t.Error("provider must not be called")
				}
			})
		}
	})

	t.Run("rejects images the processor refuses", func(t *testing.T) {
		// Arrange
		f := newEditFixture()
		f.processor.ValidateFunc = func(data []byte) (adapter.ImageInfo, error) {
			return adapter.ImageInfo{}, &domain.ValidationError{Field: "image", Reason: "unsupported format"}
		}
		uc := f.build()

		// Act
		_, err := uc.Submit(ctx, editRequest(1, "add a hat"), image)

		// Assert
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("expected validation failure, got %v", err)
		}
		if recent, _ := f.jobs.ListRecentByUser(ctx, nil, 1, 10); len(recent) != 0 {
			t.Errorf("expected no job, got %d", len(recent))
		}
	})

	t.Run("completes an edit and records everything once", func(t *testing.T) {
		// Arrange
		f := newEditFixture()
		usr := seedUser(f.users, 7)
		uc := f.build()
		req := editRequest(7, "Change the car color to red")
		req.NewUser = true

		// Act
		res, err := uc.Submit(ctx, req, image)

		// Assert
		if err != nil || res.Err != nil {
			t.Fatalf("unexpected errors: %v, %v", err, res.Err)
		}
		if res.Job.Status != model.EditStatusCompleted || string(res.Image) != "edited-bytes" {
			t.Fatalf("unexpected result: %s %q", res.Job.Status, res.Image)
		}
		stored := f.jobs.Get(res.Job.ID)
		if stored.Status != model.EditStatusCompleted || !stored.StatsRecorded || !stored.Downloaded {
			t.Errorf("unexpected stored job: %+v", stored)
		}
		if stored.UserID != usr.ID {
			t.Errorf("expected user id %s, got %s", usr.ID, stored.UserID)
		}
		u, _ := f.users.FindByTelegramID(ctx, nil, 7)
		if u.Stats.TotalEdits != 1 || u.Stats.SuccessfulEdits != 1 {
			t.Errorf("unexpected user stats: %+v", u.Stats)
		}
		a, _ := f.analytics.GetOrCreate(ctx, nil)
		if a.TotalEdits != 1 || a.TotalUsers != 1 || a.EditTypes[model.EditTypeColor] != 1 {
			t.Errorf("unexpected global stats: %+v", a)
		}
		if len(f.events.Events) != 1 || f.events.Events[0].Status != string(model.EditStatusCompleted) {
			t.Errorf("unexpected events: %+v", f.events.Events)
		}
		if _, err := f.images.JobImage(ctx, res.Job.ID); !errors.Is(err, domain.ErrNoPendingImage) {
			t.Errorf("expected job image cleared, got %v", err)
		}
		if uc.InFlight(7) != 0 {
			t.Error("run not removed from registry")
		}
	})

	t.Run("uses stored preferences when the request has none", func(t *testing.T) {
		// Arrange
		f := newEditFixture()
		seedUser(f.users, 8)
		prefs := model.UserPreferences{AspectRatio: model.AspectWide16x9, OutputFormat: model.FormatPNG}
		uc := f.build()
		if _, err := usecase.NewUserUseCase(f.users, NewMockTxManager(), newTestLogger()).SetPreferences(ctx, 8, prefs); err != nil {
			t.Fatalf("SetPreferences: %v", err)
		}

		// Act
		res, err := uc.Submit(ctx, editRequest(8, "cartoon style"), image)

		// Assert
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got := f.provider.Submitted[0]
		if got.AspectRatio != model.AspectWide16x9 || got.OutputFormat != model.FormatPNG {
			t.Errorf("preferences not applied: %+v", got)
		}
		if res.Job.OutputFormat != model.FormatPNG {
			t.Errorf("job format %s", res.Job.OutputFormat)
		}
	})

	t.Run("submits the enhanced prompt and falls back on error", func(t *testing.T) {
		tests := []struct {
			name    string
			enhance func(ctx context.Context, prompt string) (string, error)
			want    string
		}{
			{"enhanced", func(ctx context.Context, p string) (string, error) { return "A red vintage car, photorealistic", nil }, "A red vintage car, photorealistic"},
			{"failure", func(ctx context.Context, p string) (string, error) { return "", errors.New("quota") }, "make it red"},
			{"empty", func(ctx context.Context, p string) (string, error) { return " ", nil }, "make it red"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				// Arrange
				f := newEditFixture()
				f.enhancer = &MockEnhancer{EnhanceFunc: tt.enhance}
				uc := f.build()

				// Act
				res, err := uc.Submit(ctx, editRequest(9, "make it red"), image)

				// Assert
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if got := f.provider.Submitted[0].Prompt; got != tt.want {
					t.Errorf("expected prompt %q, got %q", tt.want, got)
				}
				if res.Job.Prompt != "make it red" || res.Job.EditType != model.EditTypeColor {
					t.Errorf("original prompt must drive classification: %+v", res.Job)
				}
			})
		}
	})

	t.Run("optimizes large images before submission", func(t *testing.T) {
		// Arrange
		f := newEditFixture()
		f.opts = usecase.EditOptions{OptimizeAboveBytes: 4}
		uc := f.build()

		// Act
		_, err := uc.Submit(ctx, editRequest(10, "add a hat"), image)

		// Assert
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if f.processor.Optimized != 1 {
			t.Errorf("expected one optimize call, got %d", f.processor.Optimized)
		}
		sent, _ := base64.StdEncoding.DecodeString(f.provider.Submitted[0].ImageBase64)
		if string(sent) != "0123" {
			t.Errorf("expected optimized bytes, got %q", sent)
		}
	})

	t.Run("provider failure is reported in the result", func(t *testing.T) {
		// Arrange
		f := newEditFixture()
		f.provider.PollFunc = func(ctx context.Context, attempt int) (adapter.PollResult, error) {
			return adapter.PollResult{Status: adapter.ProviderStatusError, Raw: "Error", Message: "bad prompt"}, nil
		}
		uc := f.build()

		// Act
		res, err := uc.Submit(ctx, editRequest(11, "add a hat"), image)

		// Assert
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Job.Status != model.EditStatusFailed || res.Job.ErrorMessage != "bad prompt" || res.Err == nil {
			t.Errorf("unexpected result: %+v (%v)", res.Job, res.Err)
		}
		if _, err := f.images.JobImage(ctx, res.Job.ID); err != nil {
			t.Errorf("job image must be kept for retry: %v", err)
		}
	})

	t.Run("create failure is a persistence error", func(t *testing.T) {
		f := newEditFixture()
		f.jobs.CreateFunc = func(ctx context.Context, _ repository.Tx, job *model.EditJob) (bool, error) {
			return false, errors.New("db down")
		}
		uc := f.build()

		_, err := uc.Submit(ctx, editRequest(12, "add a hat"), image)

		var pe *domain.PersistenceError
		if !errors.As(err, &pe) {
			t.Fatalf("expected PersistenceError, got %v", err)
		}
	})
}

func TestEditUseCase_Retry(t *testing.T) {
	ctx := context.Background()
	image := []byte("source-image")

	failOnce := func(f *editFixture) {
		f.provider.PollFunc = func(ctx context.Context, attempt int) (adapter.PollResult, error) {
			if attempt == 1 {
				return adapter.PollResult{Status: adapter.ProviderStatusFailed, Raw: "Failed", Message: "moderated"}, nil
			}
			return adapter.PollResult{Status: adapter.ProviderStatusReady, Raw: "Ready", ResultURL: "https://x/2.jpg"}, nil
		}
	}

	t.Run("retries a failed job with the kept image", func(t *testing.T) {
		// Arrange
		f := newEditFixture()
		failOnce(f)
		seedUser(f.users, 20)
		uc := f.build()
		first, _ := uc.Submit(ctx, editRequest(20, "add a hat"), image)

		// Act
		res, err := uc.Retry(ctx, 20, first.Job.ID)

		// Assert
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Job.Status != model.EditStatusCompleted || res.Job.RetryCount != 1 {
			t.Errorf("unexpected retried job: %+v", res.Job)
		}
		if len(f.provider.Submitted) != 2 || f.provider.Submitted[1].ImageBase64 != f.provider.Submitted[0].ImageBase64 {
			t.Error("retry must resubmit the same image")
		}
		u, _ := f.users.FindByTelegramID(ctx, nil, 20)
		if u.Stats.TotalEdits != 2 || u.Stats.FailedEdits != 1 || u.Stats.SuccessfulEdits != 1 {
			t.Errorf("each attempt is recorded once: %+v", u.Stats)
		}
	})

	t.Run("refuses completed jobs and foreign jobs", func(t *testing.T) {
		// Arrange
		f := newEditFixture()
		uc := f.build()
		done, _ := uc.Submit(ctx, editRequest(21, "add a hat"), image)

		// Act & Assert
		if _, err := uc.Retry(ctx, 21, done.Job.ID); !errors.Is(err, domain.ErrRetryNotAllowed) {
			t.Errorf("expected ErrRetryNotAllowed, got %v", err)
		}
		if _, err := uc.Retry(ctx, 99, done.Job.ID); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("expired image prevents retry", func(t *testing.T) {
		// Arrange
		f := newEditFixture()
		failOnce(f)
		uc := f.build()
		first, _ := uc.Submit(ctx, editRequest(22, "add a hat"), image)
		_ = f.images.ClearJobImage(ctx, first.Job.ID)

		// Act
		_, err := uc.Retry(ctx, 22, first.Job.ID)

		// Assert
		if !errors.Is(err, domain.ErrNoPendingImage) {
			t.Errorf("expected ErrNoPendingImage, got %v", err)
		}
		if f.jobs.Get(first.Job.ID).Status != model.EditStatusFailed {
			t.Error("job must stay FAILED")
		}
	})
	t.Run("concurrent retries run the job once", func(t *testing.T) {
		// Arrange
		f := newEditFixture()
		failOnce(f)
		seedUser(f.users, 23)
		uc := f.build()
		first, _ := uc.Submit(ctx, editRequest(23, "add a hat"), image)

		entered := make(chan struct{})
		proceed := make(chan struct{})
		var mu sync.Mutex
		pendingWrites := 0
		f.jobs.UpdateFunc = func(_ context.Context, _ repository.Tx, job *model.EditJob) (bool, error) {
			if job.Status == model.EditStatusPending {
				mu.Lock()
				pendingWrites++
				n := pendingWrites
				mu.Unlock()
				if n == 1 {
					close(entered)
					<-proceed
				}
			}
			return f.jobs.save(job, nil), nil
		}
		winner := make(chan error, 1)
		go func() {
			_, err := uc.Retry(ctx, 23, first.Job.ID)
			winner <- err
		}()
		<-entered

		// Act
		_, err := uc.Retry(ctx, 23, first.Job.ID)
		close(proceed)

		// Assert
		if !errors.Is(err, domain.ErrJobInFlight) {
			t.Errorf("expected ErrJobInFlight, got %v", err)
		}
		select {
		case werr := <-winner:
			if werr != nil {
				t.Fatalf("unexpected error: %v", werr)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("first retry did not finish")
		}
		stored := f.jobs.Get(first.Job.ID)
		if stored.Status != model.EditStatusCompleted || stored.ExternalID == "" || stored.RetryCount != 1 {
			t.Errorf("unexpected stored job: %+v", stored)
		}
		mu.Lock()
		defer mu.Unlock()
		if pendingWrites != 1 {
			t.Errorf("expected a single pending snapshot, got %d", pendingWrites)
		}
	})
}

func TestEditUseCase_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("cancels a live run", func(t *testing.T) {
		// Arrange
		f := newEditFixture()
		started := make(chan struct{})
		var once sync.Once
		f.provider.PollFunc = func(ctx context.Context, attempt int) (adapter.PollResult, error) {
			once.Do(func() { close(started) })
			<-ctx.Done()
			return adapter.PollResult{}, ctx.Err()
		}
		uc := f.build()
		done := make(chan usecase.EditResult, 1)
		go func() {
			res, _ := uc.Submit(ctx, editRequest(30, "add a hat"), []byte("img"))
			done <- res
		}()
		<-started

		// Act
		if got := uc.InFlight(30); got != 1 {
			t.Fatalf("expected one run in flight, got %d", got)
		}
		n, err := uc.Cancel(ctx, 30, "")

		// Assert
		if err != nil || n != 1 {
			t.Fatalf("expected one cancelled run, got %d (%v)", n, err)
		}
		select {
		case res := <-done:
			if res.Job.Status != model.EditStatusCancelled {
				t.Errorf("expected CANCELLED, got %s", res.Job.Status)
			}
			if f.jobs.Get(res.Job.ID).Status != model.EditStatusCancelled {
				t.Error("cancelled job not persisted")
			}
		case <-time.After(2 * time.Second):
			t.Fatal("run did not stop after cancel")
		}
	})

	t.Run("cancels a stored pending job", func(t *testing.T) {
		// Arrange
		f := newEditFixture()
		seedUser(f.users, 31)
		uc := f.build()
		job, _ := model.NewEditJob("", model.EditParams{TelegramUserID: 31, Prompt: "add a hat"}, time.Now())
		_, _ = f.jobs.Create(ctx, nil, job)

		// Act
		n, err := uc.Cancel(ctx, 31, job.ID)

		// Assert
		if err != nil || n != 1 {
			t.Fatalf("expected one cancelled job, got %d (%v)", n, err)
		}
		stored := f.jobs.Get(job.ID)
		if stored.Status != model.EditStatusCancelled || !stored.StatsRecorded {
			t.Errorf("unexpected stored job: %+v", stored)
		}
		u, _ := f.users.FindByTelegramID(ctx, nil, 31)
		if u.Stats.FailedEdits != 1 {
			t.Errorf("cancelled counts as failed: %+v", u.Stats)
		}
	})

	t.Run("stored job finished by its owner first is left alone", func(t *testing.T) {
		// Arrange
		f := newEditFixture()
		seedUser(f.users, 33)
		uc := f.build()
		job, _ := model.NewEditJob("", model.EditParams{TelegramUserID: 33, Prompt: "add a hat"}, time.Now())
		processing, _ := job.StartProcessing("req-1", "https://poll", time.Now())
		_, _ = f.jobs.Create(ctx, nil, processing)
		done, _ := processing.Complete("https://x/1.jpg", time.Now())
		f.jobs.UpdateUnfinishedFunc = func(_ context.Context, _ repository.Tx, j *model.EditJob) (bool, error) {
			f.jobs.save(done.MarkStatsRecorded(), nil)
			return f.jobs.save(j, unfinished), nil
		}

		// Act
		n, err := uc.Cancel(ctx, 33, job.ID)

		// Assert
		if !errors.Is(err, domain.ErrInvalidTransition) || n != 0 {
			t.Fatalf("expected ErrInvalidTransition, got %d (%v)", n, err)
		}
		if got := f.jobs.Get(job.ID).Status; got != model.EditStatusCompleted {
			t.Errorf("expected COMPLETED to survive, got %s", got)
		}
		u, _ := f.users.FindByTelegramID(ctx, nil, 33)
		if u.Stats.TotalEdits != 0 {
			t.Errorf("cancel must not count a job it did not finish: %+v", u.Stats)
		}
	})

	t.Run("run cancelled elsewhere is not counted again", func(t *testing.T) {
		// Arrange
		f := newEditFixture()
		seedUser(f.users, 34)
		f.provider.PollFunc = func(ctx context.Context, attempt int) (adapter.PollResult, error) {
			live, _ := f.jobs.ListByStatus(ctx, nil, []model.EditStatus{model.EditStatusProcessing}, 1)
			cancelled, _ := live[0].Cancel(time.Now())
			f.jobs.save(cancelled.MarkStatsRecorded(), nil)
			return adapter.PollResult{Status: adapter.ProviderStatusReady, Raw: "Ready", ResultURL: "https://x/1.jpg"}, nil
		}
		uc := f.build()

		// Act
		res, err := uc.Submit(ctx, editRequest(34, "add a hat"), []byte("img"))

		// Assert
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Job.Status != model.EditStatusCancelled {
			t.Errorf("expected the stored CANCELLED job, got %s", res.Job.Status)
		}
		u, _ := f.users.FindByTelegramID(ctx, nil, 34)
		if u.Stats.TotalEdits != 0 {
			t.Errorf("finished job counted twice: %+v", u.Stats)
		}
	})

	t.Run("nothing to cancel", func(t *testing.T) {
		uc := newEditFixture().build()
		if n, err := uc.Cancel(ctx, 32, ""); err != nil || n != 0 {
			t.Errorf("expected 0, got %d (%v)", n, err)
		}
		if _, err := uc.Cancel(ctx, 32, "missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestEditUseCase_Recent(t *testing.T) {
	ctx := context.Background()
	f := newEditFixture()
	uc := f.build()
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 25; i++ {
		job, _ := model.NewEditJob("", model.EditParams{TelegramUserID: 40, Prompt: "add a hat"}, base.Add(time.Duration(i)*time.Minute))
		_, _ = f.jobs.Create(ctx, nil, job)
	}

	tests := []struct {
		name string
		n    int
		want int
	}{
		{"default", 0, 5},
		{"explicit", 3, 3},
		{"capped", 100, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs, err := uc.Recent(ctx, 40, tt.n)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(jobs) != tt.want {
				t.Errorf("expected %d jobs, got %d", tt.want, len(jobs))
			}
			if len(jobs) > 1 && jobs[0].CreatedAt.Before(jobs[1].CreatedAt) {
				t.Error("expected newest first")
			}
		})
	}
}

func TestEditUseCase_Unfinished(t *testing.T) {
	ctx := context.Background()
	f := newEditFixture()
	uc := f.build()
	base := time.Now().Add(-time.Hour)

	pending, _ := model.NewEditJob("", model.EditParams{TelegramUserID: 50, Prompt: "add a hat"}, base)
	processing, _ := model.NewEditJob("", model.EditParams{TelegramUserID: 51, Prompt: "add a hat"}, base.Add(time.Minute))
	processing, _ = processing.StartProcessing("req-1", "https://poll", base.Add(time.Minute))
	done, _ := model.NewEditJob("", model.EditParams{TelegramUserID: 52, Prompt: "add a hat"}, base)
	done, _ = done.StartProcessing("req-2", "https://poll", base)
	done, _ = done.Complete("https://x/1.jpg", base.Add(time.Second))
	for _, j := range []*model.EditJob{pending, processing, done} {
		_, _ = f.jobs.Create(ctx, nil, j)
	}

	jobs, err := uc.Unfinished(ctx, 10)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != pending.ID || jobs[1].ID != processing.ID {
		t.Errorf("expected pending then processing, got %d jobs", len(jobs))
	}
}

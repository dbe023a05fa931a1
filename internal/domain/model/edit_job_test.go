//go:build !integration

package model

import (
	"errors"
	"strings"
	"testing"
	"time"

	"telegram-image-editor/internal/domain"
)

func newTestJob(t *testing.T, prompt string) *EditJob {
	t.Helper()
	job, err := NewEditJob("", EditParams{
		UserID:          "user-1",
		TelegramUserID:  42,
		Prompt:          prompt,
		SafetyTolerance: DefaultSafetyTolerance,
	}, time.Now())
	if err != nil {
		t.Fatalf("NewEditJob failed: %v", err)
	}
	return job
}

func TestNewEditJob(t *testing.T) {
	t.Run("should build a pending job with defaults", func(t *testing.T) {
		job := newTestJob(t, "  Change the car color to red ")

		if job.ID == "" {
			t.Error("expected generated id")
		}
		if job.Status != EditStatusPending {
			t.Errorf("expected pending, got %s", job.Status)
		}
		if job.Prompt != "Change the car color to red" {
			t.Errorf("expected trimmed prompt, got %q", job.Prompt)
		}
		if job.AspectRatio != AspectSquare || job.OutputFormat != FormatJPEG {
			t.Errorf("unexpected defaults: %s %s", job.AspectRatio, job.OutputFormat)
		}
		if job.MaxRetries != DefaultMaxRetries {
			t.Errorf("expected max retries %d, got %d", DefaultMaxRetries, job.MaxRetries)
		}
		if job.EditType != EditTypeColor {
			t.Errorf("expected color_change, got %s", job.EditType)
		}
		if job.StartedAt != nil || job.CompletedAt != nil {
			t.Error("expected no timestamps beyond created_at")
		}
	})

	cases := []struct {
		name   string
		params EditParams
		field  string
	}{
		{"short prompt", EditParams{TelegramUserID: 1, Prompt: "hi"}, "prompt"},
		{"long prompt", EditParams{TelegramUserID: 1, Prompt: strings.Repeat("a", 501)}, "prompt"},
		{"bad aspect", EditParams{TelegramUserID: 1, Prompt: "make it pop", AspectRatio: "5:4"}, "aspect_ratio"},
		{"bad format", EditParams{TelegramUserID: 1, Prompt: "make it pop", OutputFormat: "gif"}, "output_format"},
		{"bad tolerance", EditParams{TelegramUserID: 1, Prompt: "make it pop", SafetyTolerance: 7}, "safety_tolerance"},
		{"no user", EditParams{Prompt: "make it pop"}, "telegram_user_id"},
	}
	for _, tc := range cases {
		t.Run("should reject "+tc.name, func(t *testing.T) {
			job, err := NewEditJob("", tc.params, time.Now())
			if job != nil {
				t.Fatal("expected nil job")
			}
			var verr *domain.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tc.field {
				t.Errorf("expected field %s, got %s", tc.field, verr.Field)
			}
			if !errors.Is(err, domain.ErrInvalidArgument) {
				t.Error("expected ValidationError to match ErrInvalidArgument")
			}
		})
	}
}

func TestEditJob_Transitions(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("happy path keeps the original snapshot untouched", func(t *testing.T) {
		job := newTestJob(t, "add a hat")

		started, err := job.StartProcessing("ext-1", "https://p/1", t0)
		if err != nil {
			t.Fatalf("StartProcessing: %v", err)
		}
		if job.Status != EditStatusPending {
			t.Error("expected original snapshot to stay pending")
		}
		if started.Status != EditStatusProcessing || started.StartedAt == nil || started.ExternalID != "ext-1" {
			t.Fatalf("unexpected processing snapshot: %+v", started)
		}

		done, err := started.Complete("https://x/img.jpg", t0.Add(3*time.Second))
		if err != nil {
			t.Fatalf("Complete: %v", err)
		}
		if done.Status != EditStatusCompleted || done.ResultURL != "https://x/img.jpg" {
			t.Fatalf("unexpected completed snapshot: %+v", done)
		}
		secs, ok := done.ProcessingSeconds()
		if !ok || secs != 3 {
			t.Errorf("expected 3s processing time, got %v (%v)", secs, ok)
		}
		if done.CompletedAt.Before(*done.StartedAt) {
			t.Error("completed_at must not precede started_at")
		}
	})

	t.Run("start processing requires pending and provider ids", func(t *testing.T) {
		job := newTestJob(t, "add a hat")
		if _, err := job.StartProcessing("", "https://p/1", t0); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
		started, _ := job.StartProcessing("ext-1", "https://p/1", t0)
		if _, err := started.StartProcessing("ext-2", "https://p/2", t0); !errors.Is(err, domain.ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition on double start, got %v", err)
		}
	})

	t.Run("complete is illegal from pending", func(t *testing.T) {
		job := newTestJob(t, "add a hat")
		if _, err := job.Complete("https://x", t0); !errors.Is(err, domain.ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("fail from pending has no processing time", func(t *testing.T) {
		job := newTestJob(t, "add a hat")
		failed, err := job.Fail("submit refused", t0)
		if err != nil {
			t.Fatalf("Fail: %v", err)
		}
		if failed.ProcessingTime != nil {
			t.Error("expected nil processing time without started_at")
		}
		if failed.CompletedAt == nil || failed.ErrorMessage != "submit refused" {
			t.Errorf("unexpected failed snapshot: %+v", failed)
		}
	})

	t.Run("terminal states reject further transitions", func(t *testing.T) {
		job := newTestJob(t, "add a hat")
		cancelled, err := job.Cancel(t0)
		if err != nil {
			t.Fatalf("Cancel: %v", err)
		}
		if _, err := cancelled.Cancel(t0); !errors.Is(err, domain.ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}
		if _, err := cancelled.Fail("x", t0); !errors.Is(err, domain.ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("completion before start clamps to started_at", func(t *testing.T) {
		started, _ := newTestJob(t, "add a hat").StartProcessing("e", "p", t0)
		done, _ := started.Complete("https://x", t0.Add(-time.Second))
		if !done.CompletedAt.Equal(t0) || *done.ProcessingTime != 0 {
			t.Errorf("expected clamped completion, got %v / %v", done.CompletedAt, done.ProcessingTime)
		}
	})
}

func TestEditJob_Retry(t *testing.T) {
	t0 := time.Now()
	started, _ := newTestJob(t, "remove the tree").StartProcessing("ext-1", "https://p/1", t0)
	failed, _ := started.Fail("boom", t0.Add(time.Second))
	failed = failed.MarkStatsRecorded()

	if !failed.CanRetry() || !failed.CanRetry() {
		t.Fatal("expected CanRetry to be stable and true")
	}

	retried, err := failed.Retry(t0.Add(2 * time.Second))
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retried.Status != EditStatusPending || retried.RetryCount != 1 {
		t.Errorf("unexpected retry snapshot: %s / %d", retried.Status, retried.RetryCount)
	}
	if retried.ExternalID != "" || retried.PollingURL != "" || retried.StartedAt != nil || retried.CompletedAt != nil {
		t.Error("expected provider ids and timing cleared on retry")
	}
	if retried.ErrorMessage != "" || retried.StatsRecorded {
		t.Error("expected error message and stats flag cleared on retry")
	}

	t.Run("retry is rejected for non-failed jobs", func(t *testing.T) {
		if _, err := retried.Retry(t0); !errors.Is(err, domain.ErrRetryNotAllowed) {
			t.Errorf("expected ErrRetryNotAllowed, got %v", err)
		}
	})

	t.Run("retry budget is bounded", func(t *testing.T) {
		j := *failed
		j.RetryCount = j.MaxRetries
		if j.CanRetry() {
			t.Error("expected CanRetry false once budget is spent")
		}
	})
}

func TestClassifyEditType(t *testing.T) {
	cases := []struct {
		prompt string
		want   EditType
	}{
		{"replace the red car", EditTypeText},
		{"Change the FONT of the sign", EditTypeText},
		{"Change the car color to red", EditTypeColor},
		{"make the shirt blue", EditTypeColor},
		{"remove the person on the left", EditTypeObject},
		{"put a sunset sky behind", EditTypeBackground},
		{"make it look like a cartoon", EditTypeStyle},
		{"make it brighter", EditTypeGeneral},
	}
	for _, tc := range cases {
		t.Run(tc.prompt, func(t *testing.T) {
			if got := ClassifyEditType(tc.prompt); got != tc.want {
				t.Errorf("ClassifyEditType(%q) = %s, want %s", tc.prompt, got, tc.want)
			}
		})
	}
}

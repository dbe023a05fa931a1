package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"telegram-image-editor/internal/domain/model"
	"telegram-image-editor/internal/usecase"
)

const requestTimeout = 15 * time.Second

// StatsReader is the read side of the statistics usecase.
type StatsReader interface {
	PerformanceSummary(ctx context.Context) (usecase.PerformanceSummary, error)
	TopEditTypes(ctx context.Context, limit int) ([]model.EditTypeCount, error)
	DailyStats(ctx context.Context, days int) ([]model.DailyStats, error)
}

// HealthCheck reports one dependency; nil means healthy.
type HealthCheck func(ctx context.Context) error

// Info is the public description served on /info.
type Info struct {
	Name            string   `json:"name"`
	Version         string   `json:"version"`
	MaxImageMB      int      `json:"max_image_mb"`
	MinPromptLength int      `json:"min_prompt_length"`
	MaxPromptLength int      `json:"max_prompt_length"`
	AspectRatios    []string `json:"aspect_ratios"`
	OutputFormats   []string `json:"output_formats"`
}

type Server struct {
	stats    StatsReader
	checks   map[string]HealthCheck
	auth     *AuthManager
	apiKey   string
	info     Info
	validate *validator.Validate
	log      *zerolog.Logger
}

func NewServer(stats StatsReader, checks map[string]HealthCheck, auth *AuthManager, apiKey string, info Info, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "WebServer").Logger()
	return &Server{
		stats:    stats,
		checks:   checks,
		auth:     auth,
		apiKey:   apiKey,
		info:     info,
		validate: validator.New(),
		log:      &l,
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID, RequestLog(s.log), Recover(s.log), middleware.Timeout(requestTimeout))

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/info", s.handleInfo)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Group(func(r chi.Router) {
			r.Use(requireAdmin(s.auth))
			r.Get("/stats", s.handleAdminStats)
		})
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Int("port", port).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	}
}

package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"telegram-image-editor/internal/domain/model"
	"telegram-image-editor/internal/infra/logging"
)

const (
	healthTimeout   = 3 * time.Second
	defaultTopTypes = 5
	defaultDays     = 7
	maxDays         = 90
)

type loginRequest struct {
	APIKey string `json:"api_key" validate:"required,min=8"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"name": s.info.Name, "version": s.info.Version})
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.info)
}

// handleHealth runs every check in parallel; any failure turns the answer into 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	results := make(map[string]string, len(s.checks))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, check := range s.checks {
		wg.Add(1)
		go func(name string, check HealthCheck) {
			defer wg.Done()
			status := "ok"
			if err := check(ctx); err != nil {
				status = err.Error()
				logging.With(ctx, s.log).Warn().Err(err).Str("check", name).Msg("health check failed")
			}
			mu.Lock()
			results[name] = status
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()

	code, overall := http.StatusOK, "ok"
	for _, v := range results {
		if v != "ok" {
			code, overall = http.StatusServiceUnavailable, "degraded"
			break
		}
	}
	writeJSON(w, code, map[string]any{"status": overall, "checks": results})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.apiKey == "" {
		s.log.Error().Msg("admin API key is not configured")
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "api_key is required")
		return
	}
	if subtle.ConstantTimeCompare([]byte(req.APIKey), []byte(s.apiKey)) != 1 {
		logging.With(r.Context(), s.log).Warn().Msg("admin login rejected")
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	token, exp, err := s.auth.Mint(w)
	if err != nil {
		logging.With(r.Context(), s.log).Error().Err(err).Msg("mint admin token")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "expires_at": exp.UTC()})
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	days := queryInt(r, "days", defaultDays, 1, maxDays)
	top := queryInt(r, "top", defaultTopTypes, 1, len(model.AllEditTypes))

	summary, err := s.stats.PerformanceSummary(ctx)
	if err != nil {
		logging.With(ctx, s.log).Error().Err(err).Msg("performance summary")
		writeError(w, http.StatusInternalServerError, "failed to load statistics")
		return
	}
	topTypes, err := s.stats.TopEditTypes(ctx, top)
	if err != nil {
		logging.With(ctx, s.log).Error().Err(err).Msg("top edit types")
		writeError(w, http.StatusInternalServerError, "failed to load statistics")
		return
	}
	daily, err := s.stats.DailyStats(ctx, days)
	if err != nil {
		logging.With(ctx, s.log).Error().Err(err).Msg("daily stats")
		writeError(w, http.StatusInternalServerError, "failed to load statistics")
		return
	}
	sort.SliceStable(daily, func(i, j int) bool { return daily[i].Date > daily[j].Date })

	writeJSON(w, http.StatusOK, map[string]any{
		"summary":        summary,
		"top_edit_types": topTypes,
		"daily":          daily,
	})
}

// queryInt reads a bounded integer query parameter.
func queryInt(r *http.Request, key string, def, lo, hi int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

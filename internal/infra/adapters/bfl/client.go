// File: internal/infra/adapters/bfl/client.go
package bfl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"telegram-image-editor/internal/domain"
	"telegram-image-editor/internal/domain/ports/adapter"
	"telegram-image-editor/internal/infra/metrics"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	maxErrorBody   = 4 << 10
	maxResultBytes = 64 << 20
)

var _ adapter.EditProvider = (*Client)(nil)

type Options struct {
	APIKey            string
	BaseURL           string
	EditPath          string // default /edit
	AuthHeader        string // default x-api-key
	Timeout           time.Duration
	RequestsPerSecond float64 // 0 disables pacing
}

// Client talks to the asynchronous image-edit API. It is safe for concurrent
// use; each job run opens its own Session.
type Client struct {
	apiKey     string
	baseURL    string
	editPath   string
	authHeader string
	timeout    time.Duration
	limiter    *rate.Limiter
	log        *zerolog.Logger
}

func NewClient(opts Options, logger *zerolog.Logger) (*Client, error) {
	if opts.APIKey == "" {
		return nil, errors.New("provider api key is empty")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid provider base url %q", opts.BaseURL)
	}
	if opts.EditPath == "" {
		opts.EditPath = "/edit"
	}
	if !strings.HasPrefix(opts.EditPath, "/") {
		opts.EditPath = "/" + opts.EditPath
	}
	if opts.AuthHeader == "" {
		opts.AuthHeader = "x-api-key"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 300 * time.Second
	}
	c := &Client{
		apiKey:     opts.APIKey,
		baseURL:    base.String(),
		editPath:   opts.EditPath,
		authHeader: opts.AuthHeader,
		timeout:    opts.Timeout,
	}
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	l := logger.With().Str("component", "ProviderClient").Logger()
	c.log = &l
	return c, nil
}

// Open returns a session with its own transport. Callers must Close it.
func (c *Client) Open(ctx context.Context) (adapter.ProviderSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	return &Session{
		c:         c,
		transport: tr,
		http:      &http.Client{Timeout: c.timeout, Transport: tr},
	}, nil
}

// HealthCheck calls GET {base}/health.
func (c *Client) HealthCheck(ctx context.Context) error {
	s, err := c.Open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	sess := s.(*Session)

	start := time.Now()
	_, err = sess.do(ctx, http.MethodGet, c.baseURL+"/health", nil, true)
	metrics.ObserveProviderRequest("health", start, err)
	if err != nil {
		return wrapOp("health", err)
	}
	return nil
}

// Session owns the connection context of one job run.
type Session struct {
	c         *Client
	transport *http.Transport
	http      *http.Client
	closed    atomic.Bool
}

var _ adapter.ProviderSession = (*Session)(nil)

type submitPayload struct {
	Prompt          string `json:"prompt"`
	InputImage      string `json:"input_image"`
	AspectRatio     string `json:"aspect_ratio"`
	OutputFormat    string `json:"output_format"`
	SafetyTolerance int    `json:"safety_tolerance"`
	Seed            *int64 `json:"seed,omitempty"`
}

func (s *Session) Submit(ctx context.Context, req adapter.SubmitRequest) (out adapter.SubmitResult, err error) {
	start := time.Now()
	defer func() { metrics.ObserveProviderRequest("submit", start, err) }()

	b, err := json.Marshal(submitPayload{
		Prompt:          req.Prompt,
		InputImage:      req.ImageBase64,
		AspectRatio:     string(req.AspectRatio),
		OutputFormat:    string(req.OutputFormat),
		SafetyTolerance: req.SafetyTolerance,
		Seed:            req.Seed,
	})
	if err != nil {
		return out, err
	}
	body, err := s.do(ctx, http.MethodPost, s.c.baseURL+s.c.editPath, b, true)
	if err != nil {
		return out, wrapOp("submit", err)
	}

	var resp struct {
		ID         string `json:"id"`
		PollingURL string `json:"polling_url"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return out, &domain.ProviderError{Op: "submit", StatusCode: http.StatusOK, Body: "malformed response", Err: err}
	}
	if resp.ID == "" || resp.PollingURL == "" {
		return out, &domain.ProviderError{Op: "submit", StatusCode: http.StatusOK, Body: "response missing id or polling_url"}
	}
	pollURL, err := s.c.resolve(resp.PollingURL)
	if err != nil {
		return out, &domain.ProviderError{Op: "submit", StatusCode: http.StatusOK, Body: "invalid polling_url", Err: err}
	}
	s.c.log.Debug().Str("request_id", resp.ID).Msg("edit submitted")
	return adapter.SubmitResult{ID: resp.ID, PollingURL: pollURL}, nil
}

func (s *Session) Poll(ctx context.Context, pollingURL string) (out adapter.PollResult, err error) {
	start := time.Now()
	defer func() { metrics.ObserveProviderRequest("poll", start, err) }()

	body, err := s.do(ctx, http.MethodGet, pollingURL, nil, true)
	if err != nil {
		return out, wrapOp("poll", err)
	}
	var resp struct {
		Status string `json:"status"`
		Result *struct {
			Sample string `json:"sample"`
		} `json:"result"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return out, &domain.ProviderError{Op: "poll", StatusCode: http.StatusOK, Body: "malformed response", Err: err}
	}
	out = adapter.PollResult{
		Status:  adapter.ParseProviderStatus(resp.Status),
		Raw:     resp.Status,
		Message: resp.Message,
	}
	if out.Message == "" {
		out.Message = detailsText(resp.Details)
	}
	if resp.Result != nil {
		out.ResultURL = resp.Result.Sample
	}
	return out, nil
}

func (s *Session) Fetch(ctx context.Context, resultURL string) (data []byte, err error) {
	start := time.Now()
	defer func() { metrics.ObserveProviderRequest("fetch", start, err) }()

	data, err = s.do(ctx, http.MethodGet, resultURL, nil, false)
	if err != nil {
		return nil, wrapOp("fetch", err)
	}
	if len(data) == 0 {
		return nil, &domain.ProviderError{Op: "fetch", StatusCode: http.StatusOK, Body: "empty result body"}
	}
	return data, nil
}

func (s *Session) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.transport.CloseIdleConnections()
	}
	return nil
}

// do performs one request and returns the body of a 2xx response. Non-2xx
// responses become *domain.ProviderError carrying the body text.
func (s *Session) do(ctx context.Context, method, rawURL string, payload []byte, auth bool) ([]byte, error) {
	if s.closed.Load() {
		return nil, domain.ErrSessionClosed
	}
	if s.c.limiter != nil {
		if err := s.c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.Header.Set("Accept", "application/json")
		req.Header.Set(s.c.authHeader, s.c.apiKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &domain.ProviderError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(text))}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResultBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxResultBytes {
		return nil, &domain.ProviderError{StatusCode: resp.StatusCode, Body: "response too large"}
	}
	return data, nil
}

func (c *Client) resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	if u.IsAbs() {
		return u.String(), nil
	}
	base, err := url.Parse(c.baseURL + "/")
	if err != nil {
		return "", err
	}
	return base.ResolveReference(u).String(), nil
}

// wrapOp tags err with the operation; transport errors become ProviderErrors too.
// Context cancellation and closed sessions pass through unchanged.
func wrapOp(op string, err error) error {
	if errors.Is(err, context.Canceled) || (errors.Is(err, context.DeadlineExceeded) && !isClientTimeout(err)) || errors.Is(err, domain.ErrSessionClosed) {
		return err
	}
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		if pe.Op == "" {
			pe.Op = op
		}
		return pe
	}
	return &domain.ProviderError{Op: op, Err: err}
}

// isClientTimeout reports an http.Client timeout, which is a provider fault
// rather than caller cancellation.
func isClientTimeout(err error) bool {
	var ue *url.Error
	return errors.As(err, &ue) && ue.Timeout()
}

func detailsText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}

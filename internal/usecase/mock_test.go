//go:build !integration

package usecase_test

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"sync"
	"testing/fstest"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"telegram-image-editor/internal/domain"
	"telegram-image-editor/internal/domain/model"
	"telegram-image-editor/internal/domain/ports/adapter"
	"telegram-image-editor/internal/domain/ports/repository"
	"telegram-image-editor/internal/infra/i18n"
)

// -----------------------------
// Utilities
// -----------------------------

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

func newTestTranslator() *i18n.Translator {
	testFS := fstest.MapFS{
		"locales/en.yaml": {
			Data: []byte("job_failed: 'failed: %s'\njob_timeout: 'timeout'\njob_interrupted: 'interrupted'\njob_recovered: 'recovered: %s'"),
		},
	}
	t, err := i18n.NewTranslator(testFS, "en")
	if err != nil {
		panic(err)
	}
	return t
}

func seedUser(repo *MockUserRepo, tgID int64) *model.User {
	u, err := model.NewUser("", model.TelegramProfile{TelegramID: tgID, Username: "tester"}, time.Now())
	if err != nil {
		panic(err)
	}
	_, _ = repo.Create(context.Background(), nil, u)
	return u
}

// noSleep records requested sleeps without waiting.
type noSleep struct {
	mu    sync.Mutex
	total time.Duration
	calls int
}

func (s *noSleep) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.total += d
	s.calls++
	s.mu.Unlock()
	return nil
}

// =============================
// Repositories
// =============================

// ---- Mock EditJobRepository ----

type MockEditJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*model.EditJob

	Updates int

	CreateFunc func(ctx context.Context, tx repository.Tx, job *model.EditJob) (bool, error)
	UpdateFunc func(ctx context.Context, tx repository.Tx, job *model.EditJob) (bool, error)

	// UpdateUnfinishedFunc overrides the guarded terminal write only.
	UpdateUnfinishedFunc func(ctx context.Context, tx repository.Tx, job *model.EditJob) (bool, error)
	ClaimStaleFunc       func(ctx context.Context, statuses []model.EditStatus, olderThan time.Time, limit int) ([]*model.EditJob, error)
}

var _ repository.EditJobRepository = (*MockEditJobRepo)(nil)

func NewMockEditJobRepo() *MockEditJobRepo {
	return &MockEditJobRepo{jobs: map[string]*model.EditJob{}}
}

func (r *MockEditJobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.EditJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (r *MockEditJobRepo) Create(ctx context.Context, tx repository.Tx, job *model.EditJob) (bool, error) {
	if r.CreateFunc != nil {
		return r.CreateFunc(ctx, tx, job)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; ok {
		return false, nil
	}
	cp := *job
	r.jobs[job.ID] = &cp
	return true, nil
}

func (r *MockEditJobRepo) Update(ctx context.Context, tx repository.Tx, job *model.EditJob) (bool, error) {
	if r.UpdateFunc != nil {
		return r.UpdateFunc(ctx, tx, job)
	}
	return r.save(job, nil), nil
}

func (r *MockEditJobRepo) UpdateUnfinished(ctx context.Context, tx repository.Tx, job *model.EditJob) (bool, error) {
	if r.UpdateUnfinishedFunc != nil {
		return r.UpdateUnfinishedFunc(ctx, tx, job)
	}
	return r.save(job, unfinished), nil
}

func unfinished(stored *model.EditJob) bool { return !stored.IsTerminal() }

// save stores a copy of job when the row exists and guard, if set, accepts it.
func (r *MockEditJobRepo) save(job *model.EditJob, guard func(stored *model.EditJob) bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Updates++
	stored, ok := r.jobs[job.ID]
	if !ok || (guard != nil && !guard(stored)) {
		return false
	}
	cp := *job
	r.jobs[job.ID] = &cp
	return true
}

func (r *MockEditJobRepo) ListByStatus(ctx context.Context, tx repository.Tx, statuses []model.EditStatus, limit int) ([]*model.EditJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.EditJob
	for _, j := range r.jobs {
		for _, s := range statuses {
			if j.Status == s {
				cp := *j
				out = append(out, &cp)
			}
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MockEditJobRepo) ListRecentByUser(ctx context.Context, tx repository.Tx, tgID int64, limit int) ([]*model.EditJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.EditJob
	for _, j := range r.jobs {
		if j.TelegramUserID == tgID {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MockEditJobRepo) ClaimStale(ctx context.Context, statuses []model.EditStatus, olderThan time.Time, limit int) ([]*model.EditJob, error) {
	if r.ClaimStaleFunc != nil {
		return r.ClaimStaleFunc(ctx, statuses, olderThan, limit)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.EditJob
	for _, j := range r.jobs {
		if !j.UpdatedAt.Before(olderThan) {
			continue
		}
		for _, s := range statuses {
			if j.Status == s {
				j.UpdatedAt = time.Now()
				cp := *j
				out = append(out, &cp)
			}
		}
	}
	return out, nil
}

func (r *MockEditJobRepo) Get(id string) *model.EditJob {
	j, _ := r.FindByID(context.Background(), nil, id)
	return j
}

// ---- Mock UserRepository ----

type MockUserRepo struct {
	mu   sync.Mutex
	byID map[string]*model.User
	byTG map[int64]*model.User

	FindByTelegramIDFunc func(ctx context.Context, tx repository.Tx, tgID int64) (*model.User, error)
	UpdateFunc           func(ctx context.Context, tx repository.Tx, u *model.User) (bool, error)
}

var _ repository.UserRepository = (*MockUserRepo)(nil)

func NewMockUserRepo() *MockUserRepo {
	return &MockUserRepo{byID: map[string]*model.User{}, byTG: map[int64]*model.User{}}
}

func cloneUser(u *model.User) *model.User {
	cp := *u
	cp.Stats.FavoriteEditTypes = map[model.EditType]int{}
	for k, v := range u.Stats.FavoriteEditTypes {
		cp.Stats.FavoriteEditTypes[k] = v
	}
	return &cp
}

func (r *MockUserRepo) FindByTelegramID(ctx context.Context, tx repository.Tx, tgID int64) (*model.User, error) {
	if r.FindByTelegramIDFunc != nil {
		return r.FindByTelegramIDFunc(ctx, tx, tgID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byTG[tgID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneUser(u), nil
}

func (r *MockUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneUser(u), nil
}

func (r *MockUserRepo) Create(ctx context.Context, tx repository.Tx, u *model.User) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byTG[u.TelegramID]; ok {
		return false, nil
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	cp := cloneUser(u)
	r.byID[cp.ID] = cp
	r.byTG[cp.TelegramID] = cp
	return true, nil
}

func (r *MockUserRepo) Update(ctx context.Context, tx repository.Tx, u *model.User) (bool, error) {
	if r.UpdateFunc != nil {
		return r.UpdateFunc(ctx, tx, u)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[u.ID]; !ok {
		return false, nil
	}
	cp := cloneUser(u)
	r.byID[cp.ID] = cp
	r.byTG[cp.TelegramID] = cp
	return true, nil
}

func (r *MockUserRepo) CountUsers(ctx context.Context, tx repository.Tx) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID), nil
}

// ---- Mock AnalyticsRepository ----

// MockAnalyticsRepo keeps one versioned record and rejects stale writes.
type MockAnalyticsRepo struct {
	mu  sync.Mutex
	doc []byte
	ver int64

	GetOrCreateFunc func(ctx context.Context, tx repository.Tx) (*model.GlobalAnalytics, error)
	UpdateFunc      func(ctx context.Context, tx repository.Tx, a *model.GlobalAnalytics) (bool, error)
}

var _ repository.AnalyticsRepository = (*MockAnalyticsRepo)(nil)

func NewMockAnalyticsRepo() *MockAnalyticsRepo { return &MockAnalyticsRepo{} }

func (r *MockAnalyticsRepo) GetOrCreate(ctx context.Context, tx repository.Tx) (*model.GlobalAnalytics, error) {
	if r.GetOrCreateFunc != nil {
		return r.GetOrCreateFunc(ctx, tx)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.doc == nil {
		b, _ := json.Marshal(model.NewGlobalAnalytics(time.Now()))
		r.doc = b
	}
	var a model.GlobalAnalytics
	if err := json.Unmarshal(r.doc, &a); err != nil {
		return nil, err
	}
	a.Version = r.ver
	return &a, nil
}

func (r *MockAnalyticsRepo) Update(ctx context.Context, tx repository.Tx, a *model.GlobalAnalytics) (bool, error) {
	if r.UpdateFunc != nil {
		return r.UpdateFunc(ctx, tx, a)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.Version != r.ver {
		return false, nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return false, err
	}
	r.doc = b
	r.ver++
	a.Version = r.ver
	return true, nil
}

// ---- Mock PendingImageRepository ----

type MockPendingImageRepo struct {
	mu      sync.Mutex
	pending map[int64]*repository.PendingImage
	jobs    map[string][]byte
}

var _ repository.PendingImageRepository = (*MockPendingImageRepo)(nil)

func NewMockPendingImageRepo() *MockPendingImageRepo {
	return &MockPendingImageRepo{pending: map[int64]*repository.PendingImage{}, jobs: map[string][]byte{}}
}

func (r *MockPendingImageRepo) Put(ctx context.Context, tgID int64, img *repository.PendingImage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[tgID] = img
	return nil
}

func (r *MockPendingImageRepo) Get(ctx context.Context, tgID int64) (*repository.PendingImage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	img, ok := r.pending[tgID]
	if !ok {
		return nil, domain.ErrNoPendingImage
	}
	return img, nil
}

func (r *MockPendingImageRepo) Clear(ctx context.Context, tgID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, tgID)
	return nil
}

func (r *MockPendingImageRepo) PutJobImage(ctx context.Context, jobID string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[jobID] = data
	return nil
}

func (r *MockPendingImageRepo) JobImage(ctx context.Context, jobID string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrNoPendingImage
	}
	return data, nil
}

func (r *MockPendingImageRepo) ClearJobImage(ctx context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, jobID)
	return nil
}

// ---- Mock Locker ----

type MockLocker struct {
	mu    sync.Mutex
	held  map[string]string
	Locks int
}

var _ repository.Locker = (*MockLocker)(nil)

func NewMockLocker() *MockLocker { return &MockLocker{held: map[string]string{}} }

func (l *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return "", domain.ErrLockNotAcquired
	}
	token := uuid.NewString()
	l.held[key] = token
	l.Locks++
	return token, nil
}

func (l *MockLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

// ---- Mock TxManager ----

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

func NewMockTxManager() *MockTxManager { return &MockTxManager{} }

// WithTx runs fn immediately with NoTX unless WithTxFunc is set.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}

// =============================
// Adapters
// =============================

// ---- Mock EditProvider ----

// MockProvider scripts provider responses. PollFunc receives the 1-based
// attempt number.
type MockProvider struct {
	mu sync.Mutex

	SubmitFunc func(ctx context.Context, req adapter.SubmitRequest) (adapter.SubmitResult, error)
	PollFunc   func(ctx context.Context, attempt int) (adapter.PollResult, error)
	FetchFunc  func(ctx context.Context, url string) ([]byte, error)

	Submitted []adapter.SubmitRequest
	Polls     int
	Fetches   int
	Opened    int
	Closed    int
}

var _ adapter.EditProvider = (*MockProvider)(nil)

func (p *MockProvider) Open(ctx context.Context) (adapter.ProviderSession, error) {
	p.mu.Lock()
	p.Opened++
	p.mu.Unlock()
	return &mockSession{p: p}, nil
}

func (p *MockProvider) HealthCheck(ctx context.Context) error { return nil }

func (p *MockProvider) counts() (polls, fetches int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Polls, p.Fetches
}

type mockSession struct {
	p      *MockProvider
	closed bool
}

func (s *mockSession) Submit(ctx context.Context, req adapter.SubmitRequest) (adapter.SubmitResult, error) {
	s.p.mu.Lock()
	s.p.Submitted = append(s.p.Submitted, req)
	s.p.mu.Unlock()
	if s.p.SubmitFunc != nil {
		return s.p.SubmitFunc(ctx, req)
	}
	return adapter.SubmitResult{ID: "req-" + uuid.NewString(), PollingURL: "https://poll.example/get"}, nil
}

func (s *mockSession) Poll(ctx context.Context, pollingURL string) (adapter.PollResult, error) {
	s.p.mu.Lock()
	s.p.Polls++
	n := s.p.Polls
	s.p.mu.Unlock()
	if s.p.PollFunc != nil {
		return s.p.PollFunc(ctx, n)
	}
	return adapter.PollResult{Status: adapter.ProviderStatusReady, Raw: "Ready", ResultURL: "https://x/img.jpg"}, nil
}

func (s *mockSession) Fetch(ctx context.Context, url string) ([]byte, error) {
	s.p.mu.Lock()
	s.p.Fetches++
	s.p.mu.Unlock()
	if s.p.FetchFunc != nil {
		return s.p.FetchFunc(ctx, url)
	}
	return []byte("edited-bytes"), nil
}

func (s *mockSession) Close() error {
	if !s.closed {
		s.closed = true
		s.p.mu.Lock()
		s.p.Closed++
		s.p.mu.Unlock()
	}
	return nil
}

// ---- Mock ImageProcessor ----

type MockImageProcessor struct {
	ValidateFunc func(data []byte) (adapter.ImageInfo, error)
	OptimizeFunc func(data []byte, c adapter.ImageConstraints) ([]byte, error)
	Optimized    int
}

var _ adapter.ImageProcessor = (*MockImageProcessor)(nil)

func (m *MockImageProcessor) Validate(data []byte) (adapter.ImageInfo, error) {
	if m.ValidateFunc != nil {
		return m.ValidateFunc(data)
	}
	return adapter.ImageInfo{Format: "jpeg", MIME: "image/jpeg", Width: 10, Height: 10, SizeBytes: len(data)}, nil
}

func (m *MockImageProcessor) Optimize(data []byte, c adapter.ImageConstraints) ([]byte, error) {
	m.Optimized++
	if m.OptimizeFunc != nil {
		return m.OptimizeFunc(data, c)
	}
	return data[:c.MaxBytes], nil
}

// ---- Mock PromptEnhancer ----

type MockEnhancer struct {
	EnhanceFunc func(ctx context.Context, prompt string) (string, error)
}

var _ adapter.PromptEnhancer = (*MockEnhancer)(nil)

func (m *MockEnhancer) Enhance(ctx context.Context, prompt string) (string, error) {
	return m.EnhanceFunc(ctx, prompt)
}

// ---- Mock JobEventPublisher ----

type MockEvents struct {
	mu     sync.Mutex
	Events []adapter.JobEvent
}

var _ adapter.JobEventPublisher = (*MockEvents)(nil)

func (m *MockEvents) Publish(ctx context.Context, ev adapter.JobEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, ev)
	return nil
}

func (m *MockEvents) Close() error { return nil }

// ---- Mock TelegramBotAdapter ----

type MockTelegramBot struct {
	mu       sync.Mutex
	Messages []string
	Photos   []adapter.Photo
}

var _ adapter.TelegramBotAdapter = (*MockTelegramBot)(nil)

func (m *MockTelegramBot) SendMessage(ctx context.Context, chatID int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = append(m.Messages, text)
	return nil
}

func (m *MockTelegramBot) SendButtons(ctx context.Context, chatID int64, text string, rows [][]adapter.InlineButton) error {
	return m.SendMessage(ctx, chatID, text)
}

func (m *MockTelegramBot) SendPhoto(ctx context.Context, chatID int64, photo adapter.Photo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Photos = append(m.Photos, photo)
	return nil
}

func (m *MockTelegramBot) SendProgress(ctx context.Context, chatID int64, text string) (int, error) {
	return 0, m.SendMessage(ctx, chatID, text)
}

func (m *MockTelegramBot) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	return nil
}

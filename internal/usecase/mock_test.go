//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"video-generation-service/internal/domain"
	"video-generation-service/internal/domain/model"
	"video-generation-service/internal/domain/ports/adapter"
	"video-generation-service/internal/domain/ports/repository"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

// =============================
// In-memory store
// =============================

// memDB keeps the three tables behind one mutex so every conditional update
// is atomic, like the single-row UPDATE ... WHERE status = ? of the real stores.
type memDB struct {
	mu       sync.Mutex
	jobs     map[string]*model.Job
	projects map[string]*model.Project
	regens   []*model.RegenerationRecord
	nextID   int64
	progress map[string][]int // applied progress values per job
}

func newMemDB() *memDB {
	return &memDB{
		jobs:     map[string]*model.Job{},
		projects: map[string]*model.Project{},
		progress: map[string][]int{},
	}
}

func cloneJob(j *model.Job) *model.Job {
	c := *j
	return &c
}

func cloneProject(p *model.Project) *model.Project {
	c := *p
	c.OutputFormats = append([]string(nil), p.OutputFormats...)
	return &c
}

// tick keeps timestamps strictly increasing inside one test.
func (db *memDB) tick() time.Time {
	time.Sleep(time.Microsecond)
	return time.Now().UTC()
}

func (db *memDB) job(id string) *model.Job {
	db.mu.Lock()
	defer db.mu.Unlock()
	j, ok := db.jobs[id]
	if !ok {
		return nil
	}
	return cloneJob(j)
}

func (db *memDB) project(id string) *model.Project {
	db.mu.Lock()
	defer db.mu.Unlock()
	p, ok := db.projects[id]
	if !ok {
		return nil
	}
	return cloneProject(p)
}

func (db *memDB) records() []*model.RegenerationRecord {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]*model.RegenerationRecord(nil), db.regens...)
}

func (db *memDB) appliedProgress(id string) []int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]int(nil), db.progress[id]...)
}

// snapshot and restore back the fake transaction manager.
func (db *memDB) snapshot() (map[string]*model.Job, map[string]*model.Project) {
	jobs := make(map[string]*model.Job, len(db.jobs))
	for k, v := range db.jobs {
		jobs[k] = cloneJob(v)
	}
	projects := make(map[string]*model.Project, len(db.projects))
	for k, v := range db.projects {
		projects[k] = cloneProject(v)
	}
	return jobs, projects
}

// =============================
// Repositories
// =============================

// ---- Mock JobRepository ----

type MockJobRepo struct {
	db *memDB

	CreateFunc func(ctx context.Context, job *model.Job) error
	// BeforeClaim runs before the conditional update, outside the lock.
	BeforeClaim func(id string)
	// TerminalErr, when set, runs before Complete and Fail; a non-nil result
	// is returned without touching the row.
	TerminalErr func(id string) error
}

var _ repository.JobRepository = (*MockJobRepo)(nil)

func NewMockJobRepo(db *memDB) *MockJobRepo { return &MockJobRepo{db: db} }

func (m *MockJobRepo) Create(ctx context.Context, tx repository.Tx, job *model.Job) error {
	if m.CreateFunc != nil {
		if err := m.CreateFunc(ctx, job); err != nil {
			return err
		}
	}
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if _, ok := m.db.jobs[job.ID]; ok {
		return errors.New("duplicate job id")
	}
	m.db.jobs[job.ID] = cloneJob(job)
	return nil
}

func (m *MockJobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	if j := m.db.job(id); j != nil {
		return j, nil
	}
	return nil, domain.ErrNotFound
}

func (m *MockJobRepo) ListByProject(ctx context.Context, tx repository.Tx, projectID string) ([]*model.Job, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []*model.Job
	for _, j := range m.db.jobs {
		if j.ProjectID == projectID {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (m *MockJobRepo) ListPending(ctx context.Context, limit int) ([]*model.Job, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []*model.Job
	for _, j := range m.db.jobs {
		if j.Status == model.JobStatusPending {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.Before(out[b].CreatedAt)
		}
		return out[a].ID < out[b].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockJobRepo) Claim(ctx context.Context, id string) (bool, error) {
	if m.BeforeClaim != nil {
		m.BeforeClaim(id)
	}
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	j, ok := m.db.jobs[id]
	if !ok || j.Status != model.JobStatusPending {
		return false, nil
	}
	now := m.db.tick()
	j.Status = model.JobStatusProcessing
	j.ClaimedAt = &now
	j.UpdatedAt = now
	return true, nil
}

func (m *MockJobRepo) Release(ctx context.Context, id string) (bool, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	j, ok := m.db.jobs[id]
	if !ok || j.Status != model.JobStatusProcessing {
		return false, nil
	}
	j.Status = model.JobStatusPending
	j.ClaimedAt = nil
	j.Progress = 0
	j.UpdatedAt = m.db.tick()
	return true, nil
}

func (m *MockJobRepo) UpdateProgress(ctx context.Context, id string, progress int) (bool, error) {
	progress = model.ClampProgress(progress)
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	j, ok := m.db.jobs[id]
	if !ok || j.Status != model.JobStatusProcessing || progress <= j.Progress {
		return false, nil
	}
	j.Progress = progress
	j.UpdatedAt = m.db.tick()
	m.db.progress[id] = append(m.db.progress[id], progress)
	return true, nil
}

func (m *MockJobRepo) terminal(id string, apply func(j *model.Job)) error {
	if m.TerminalErr != nil {
		if err := m.TerminalErr(id); err != nil {
			return err
		}
	}
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	j, ok := m.db.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if j.Status != model.JobStatusProcessing {
		return domain.ErrJobNotProcessing
	}
	now := m.db.tick()
	apply(j)
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

func (m *MockJobRepo) Complete(ctx context.Context, id, outputURL string) error {
	return m.terminal(id, func(j *model.Job) {
		j.Status = model.JobStatusCompleted
		j.OutputURL = outputURL
		j.Progress = 100
	})
}

func (m *MockJobRepo) Fail(ctx context.Context, id, errorMessage string) error {
	return m.terminal(id, func(j *model.Job) {
		j.Status = model.JobStatusFailed
		j.ErrorMessage = errorMessage
	})
}

func (m *MockJobRepo) FailStale(ctx context.Context, claimedBefore time.Time, errorMessage string) ([]string, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var ids []string
	for _, j := range m.db.jobs {
		if j.Status != model.JobStatusProcessing || j.ClaimedAt == nil || !j.ClaimedAt.Before(claimedBefore) {
			continue
		}
		now := m.db.tick()
		j.Status = model.JobStatusFailed
		j.ErrorMessage = errorMessage
		j.CompletedAt = &now
		j.UpdatedAt = now
		ids = append(ids, j.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

// ---- Mock ProjectRepository ----

type MockProjectRepo struct {
	db *memDB

	// AfterFind runs once FindByID has read the row, outside the lock.
	AfterFind func(id string)
}

var _ repository.ProjectRepository = (*MockProjectRepo)(nil)

func NewMockProjectRepo(db *memDB) *MockProjectRepo { return &MockProjectRepo{db: db} }

func (m *MockProjectRepo) Save(ctx context.Context, tx repository.Tx, p *model.Project) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	p.UpdatedAt = m.db.tick()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = p.UpdatedAt
	}
	m.db.projects[p.ID] = cloneProject(p)
	return nil
}

func (m *MockProjectRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Project, error) {
	if p := m.db.project(id); p != nil {
		if m.AfterFind != nil {
			m.AfterFind(id)
		}
		return p, nil
	}
	return nil, domain.ErrNotFound
}

func (m *MockProjectRepo) ListForReconcile(ctx context.Context, limit int) ([]*model.Project, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []*model.Project
	for _, p := range m.db.projects {
		inFlight, touched := false, false
		for _, j := range m.db.jobs {
			if j.ProjectID != p.ID {
				continue
			}
			if !j.Status.IsTerminal() {
				inFlight = true
			}
			if j.UpdatedAt.After(p.UpdatedAt) {
				touched = true
			}
		}
		processing := p.Status == model.ProjectStatusProcessing
		if touched || inFlight != processing {
			out = append(out, cloneProject(p))
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].UpdatedAt.Equal(out[b].UpdatedAt) {
			return out[a].UpdatedAt.Before(out[b].UpdatedAt)
		}
		return out[a].ID < out[b].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockProjectRepo) SetStatus(ctx context.Context, id string, status model.ProjectStatus) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	p, ok := m.db.projects[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Status = status
	p.UpdatedAt = m.db.tick()
	return nil
}

func (m *MockProjectRepo) UpdateData(ctx context.Context, id string, data model.Payload) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	p, ok := m.db.projects[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Data = data
	return nil
}

func (m *MockProjectRepo) RequestRender(ctx context.Context, id string, at time.Time) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	p, ok := m.db.projects[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.RenderRequestedAt = &at
	return nil
}

func (m *MockProjectRepo) ListRenderRequested(ctx context.Context, limit int) ([]*model.Project, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []*model.Project
	for _, p := range m.db.projects {
		if p.RenderRequestedAt != nil {
			out = append(out, cloneProject(p))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].RenderRequestedAt.Before(*out[b].RenderRequestedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockProjectRepo) ClaimRenderRequest(ctx context.Context, tx repository.Tx, id string, requestedAt time.Time) (bool, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	p, ok := m.db.projects[id]
	if !ok || p.RenderRequestedAt == nil || !p.RenderRequestedAt.Equal(requestedAt) {
		return false, nil
	}
	p.RenderRequestedAt = nil
	return true, nil
}

// ---- Mock RegenerationRepository ----

type MockRegenerationRepo struct {
	db *memDB
}

var _ repository.RegenerationRepository = (*MockRegenerationRepo)(nil)

func NewMockRegenerationRepo(db *memDB) *MockRegenerationRepo { return &MockRegenerationRepo{db: db} }

func (m *MockRegenerationRepo) Append(ctx context.Context, r *model.RegenerationRecord) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	m.db.nextID++
	r.ID = m.db.nextID
	c := *r
	m.db.regens = append(m.db.regens, &c)
	return nil
}

func (m *MockRegenerationRepo) ListByJob(ctx context.Context, jobID string) ([]*model.RegenerationRecord, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []*model.RegenerationRecord
	for _, r := range m.db.regens {
		if r.JobID == jobID {
			c := *r
			out = append(out, &c)
		}
	}
	return out, nil
}

// ---- Mock TransactionManager ----

// MockTxManager serializes transactions and restores the tables when fn fails.
type MockTxManager struct {
	db *memDB
	mu sync.Mutex
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

func NewMockTxManager(db *memDB) *MockTxManager { return &MockTxManager{db: db} }

func (m *MockTxManager) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.db.mu.Lock()
	jobs, projects := m.db.snapshot()
	m.db.mu.Unlock()

	if err := fn(ctx, nil); err != nil {
		m.db.mu.Lock()
		m.db.jobs, m.db.projects = jobs, projects
		m.db.mu.Unlock()
		return err
	}
	return nil
}

// =============================
// Adapters
// =============================

// ---- Stub ProviderGateway ----

type StubGateway struct {
	mu          sync.Mutex
	Calls       []adapter.GenerateRequest
	Unavailable map[string]bool

	GenerateFunc func(ctx context.Context, req adapter.GenerateRequest) (*adapter.GenerateResult, error)
}

var _ adapter.ProviderGateway = (*StubGateway)(nil)

func (g *StubGateway) Resolve(provider string) string {
	if provider == "" {
		return "synthetic"
	}
	return provider
}

func (g *StubGateway) Available(provider string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.Unavailable[provider]
}

func (g *StubGateway) Generate(ctx context.Context, req adapter.GenerateRequest) (*adapter.GenerateResult, error) {
	g.mu.Lock()
	g.Calls = append(g.Calls, req)
	fn := g.GenerateFunc
	g.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return &adapter.GenerateResult{URL: "https://cdn.example/" + req.JobID + ".mp4"}, nil
}

func (g *StubGateway) CallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Calls)
}

// ---- Stub PromptRefiner ----

type StubRefiner struct {
	Err error
}

var _ adapter.PromptRefiner = (*StubRefiner)(nil)

func (r *StubRefiner) Refine(ctx context.Context, prompt, reason string) (string, error) {
	if r.Err != nil {
		return "", r.Err
	}
	if reason == "" {
		return prompt, nil
	}
	return prompt + " | " + reason, nil
}

// ---- Inline TaskRunner ----

// InlineRunner runs submitted tasks synchronously on the caller's goroutine.
type InlineRunner struct {
	mu       sync.Mutex
	FreeN    int
	NoFree   bool
	Full     bool
	Ctx      context.Context // passed to tasks; defaults to context.Background()
	TaskErrs []error
}

func (r *InlineRunner) Submit(task func(ctx context.Context) error) error {
	if r.Full {
		return domain.ErrQueueFull
	}
	ctx := r.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	err := task(ctx)
	r.mu.Lock()
	r.TaskErrs = append(r.TaskErrs, err)
	r.mu.Unlock()
	return nil
}

func (r *InlineRunner) Free() int {
	if r.NoFree {
		return 0
	}
	if r.FreeN == 0 {
		return 100
	}
	return r.FreeN
}

// =============================
// Fixtures
// =============================

func seedJob(db *memDB, projectID, provider string, input model.Payload) *model.Job {
	j := model.NewJob("user-1", projectID, provider, input)
	db.mu.Lock()
	defer db.mu.Unlock()
	j.CreatedAt = db.tick()
	j.UpdatedAt = j.CreatedAt
	db.jobs[j.ID] = cloneJob(j)
	return j
}

func seedTerminalJob(db *memDB, status model.JobStatus, input model.Payload) *model.Job {
	j := seedJob(db, "", "veo", input)
	db.mu.Lock()
	defer db.mu.Unlock()
	stored := db.jobs[j.ID]
	now := db.tick()
	stored.Status = status
	stored.CompletedAt = &now
	stored.UpdatedAt = now
	if status == model.JobStatusCompleted {
		stored.OutputURL = "https://cdn.example/" + j.ID + ".mp4"
		stored.Progress = 100
	} else {
		stored.ErrorMessage = "boom"
	}
	return cloneJob(stored)
}

func seedProject(db *memDB, formats ...string) *model.Project {
	p := model.NewProject("user-1", "Launch video", scenesPayload("intro", "product", "outro"), formats)
	db.mu.Lock()
	defer db.mu.Unlock()
	p.UpdatedAt = db.tick()
	db.projects[p.ID] = cloneProject(p)
	return p
}

func scenesPayload(prompts ...string) model.Payload {
	scenes := make([]map[string]string, 0, len(prompts))
	for _, p := range prompts {
		scenes = append(scenes, map[string]string{"prompt": p})
	}
	return model.MustPayload(map[string]any{"aspect_ratio": "16:9", "scenes": scenes})
}

//go:build !integration

package apiv1_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"video-generation-service/internal/domain"
	"video-generation-service/internal/domain/ports/adapter"
	apiv1 "video-generation-service/internal/infra/api/apiv1"
	"video-generation-service/internal/infra/db/sqlite"
	"video-generation-service/internal/usecase"
)

//
// ---------------- test doubles ----------------
//

type stubGateway struct{}

func (stubGateway) Resolve(p string) string {
	if p == "" {
		return "synthetic"
	}
	return p
}
func (stubGateway) Available(string) bool { return true }
func (stubGateway) Generate(ctx context.Context, req adapter.GenerateRequest) (*adapter.GenerateResult, error) {
	return &adapter.GenerateResult{URL: "https://cdn.example/" + req.JobID + ".mp4"}, nil
}

// slowGateway answers after delay unless the call context ends first.
type slowGateway struct {
	stubGateway
	delay time.Duration
}

func (g slowGateway) Generate(ctx context.Context, req adapter.GenerateRequest) (*adapter.GenerateResult, error) {
	select {
	case <-time.After(g.delay):
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderTimeout, ctx.Err())
	}
	return g.stubGateway.Generate(ctx, req)
}

type inlineRunner struct{}

func (inlineRunner) Submit(task func(ctx context.Context) error) error {
	return task(context.Background())
}
func (inlineRunner) Free() int { return 4 }

type stubSweeper struct{ ids []string }

func (s stubSweeper) Sweep(context.Context) ([]string, error) { return s.ids, nil }

type refinerFunc func(ctx context.Context, prompt, reason string) (string, error)

func (f refinerFunc) Refine(ctx context.Context, prompt, reason string) (string, error) {
	return f(ctx, prompt, reason)
}

//
// -------------------- test helpers --------------------
//

type env struct {
	router   *chi.Mux
	dispatch usecase.DispatchUseCase
	projects usecase.ProjectUseCase
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return newEnvWith(t, stubGateway{})
}

func newEnvWith(t *testing.T, gateway adapter.ProviderGateway) *env {
	t.Helper()
	logger := zerolog.Nop()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	jobs := sqlite.NewJobRepo(store)
	projects := sqlite.NewProjectRepo(store)
	regens := sqlite.NewRegenerationRepo(store)
	refiner := refinerFunc(func(_ context.Context, p, _ string) (string, error) { return p, nil })

	jobUC := usecase.NewJobUseCase(jobs, projects, &logger)
	projectUC := usecase.NewProjectUseCase(projects, jobs, sqlite.NewTxManager(store), 10, &logger)
	regenUC := usecase.NewRegenerationUseCase(jobs, regens, gateway, refiner, inlineRunner{}, time.Second, &logger)
	dispatchUC := usecase.NewDispatchUseCase(jobs, gateway, inlineRunner{}, usecase.DispatchConfig{BatchSize: 10, ProviderTimeout: time.Second}, &logger)

	r := chi.NewRouter()
	apiv1.RegisterAPIV1(r, apiv1.NewServer(jobUC, projectUC, regenUC, stubSweeper{}, &logger))
	return &env{router: r, dispatch: dispatchUC, projects: projectUC}
}

func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return e.doCtx(t, context.Background(), method, path, body)
}

func (e *env) doCtx(t *testing.T, ctx context.Context, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (e *env) createProject(t *testing.T) apiv1.Project {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/projects", map[string]any{
		"user_id": "user-1",
		"title":   "Teaser",
		"data": map[string]any{
			"scenes": []map[string]string{{"prompt": "sunrise"}, {"prompt": "city"}},
		},
		"output_formats": []string{"mp4"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[apiv1.Project](t, rec)
}

//
// -------------------- tests --------------------
//

func TestProjects_CreateRenderAndGet(t *testing.T) {
	e := newEnv(t)
	project := e.createProject(t)
	assert.Equal(t, "draft", project.Status)

	rec := e.do(t, http.MethodPost, "/api/v1/projects/"+project.ID+"/render", map[string]string{"provider": "veo"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	_, err := e.projects.Tick(context.Background())
	require.NoError(t, err)

	rec = e.do(t, http.MethodGet, "/api/v1/projects/"+project.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[apiv1.Project](t, rec)
	assert.Equal(t, "processing", got.Status)
	assert.False(t, got.RenderRequested)
	require.Len(t, got.Jobs, 1)
	assert.Equal(t, "pending", got.Jobs[0].Status)
	assert.Equal(t, "veo", got.Jobs[0].Provider)
}

func TestProjects_Errors(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/api/v1/projects/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/projects/missing/render", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/projects", map[string]any{"user_id": "u1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/projects", map[string]any{"user_id": "u1", "title": "x", "colour": "red"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobs_CreateGetAndRegenerate(t *testing.T) {
	e := newEnv(t)
	project := e.createProject(t)

	rec := e.do(t, http.MethodPost, "/api/v1/jobs", map[string]any{
		"user_id":    "user-1",
		"project_id": project.ID,
		"input":      map[string]any{"scenes": []map[string]string{{"prompt": "a"}, {"prompt": "b"}}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	job := decodeBody[apiv1.Job](t, rec)
	assert.Equal(t, "pending", job.Status)

	// not terminal yet
	rec = e.do(t, http.MethodPost, "/api/v1/jobs/"+job.ID+"/scenes/1/regenerate", map[string]any{"reason": "too dark", "wait": true})
	assert.Equal(t, http.StatusConflict, rec.Code)

	_, err := e.dispatch.Tick(context.Background())
	require.NoError(t, err)

	rec = e.do(t, http.MethodGet, "/api/v1/jobs/"+job.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	job = decodeBody[apiv1.Job](t, rec)
	assert.Equal(t, "completed", job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.NotEmpty(t, job.OutputURL)

	rec = e.do(t, http.MethodPost, "/api/v1/jobs/"+job.ID+"/scenes/1/regenerate", map[string]any{"reason": "too dark", "wait": true})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	regen := decodeBody[apiv1.Regeneration](t, rec)
	assert.Equal(t, 1, regen.SceneIndex)
	assert.Equal(t, "succeeded", string(regen.Result.Status))

	rec = e.do(t, http.MethodPost, "/api/v1/jobs/"+job.ID+"/scenes/0/regenerate", map[string]any{"reason": "shaky"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = e.do(t, http.MethodGet, "/api/v1/jobs/"+job.ID+"/regenerations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeBody[struct {
		Items         []apiv1.Regeneration          `json:"items"`
		LatestByScene map[string]apiv1.Regeneration `json:"latest_by_scene"`
	}](t, rec)
	assert.Len(t, history.Items, 2)
	assert.Contains(t, history.LatestByScene, "0")
	assert.Contains(t, history.LatestByScene, "1")

	// the job row is untouched by regenerations
	rec = e.do(t, http.MethodGet, "/api/v1/jobs/"+job.ID, nil)
	assert.Equal(t, job.OutputURL, decodeBody[apiv1.Job](t, rec).OutputURL)
}

func (e *env) completedJob(t *testing.T) apiv1.Job {
	t.Helper()
	project := e.createProject(t)
	rec := e.do(t, http.MethodPost, "/api/v1/jobs", map[string]any{
		"user_id":    "user-1",
		"project_id": project.ID,
		"input":      map[string]any{"scenes": []map[string]string{{"prompt": "a"}, {"prompt": "b"}}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	job := decodeBody[apiv1.Job](t, rec)
	_, err := e.dispatch.Tick(context.Background())
	require.NoError(t, err)
	return job
}

func TestJobs_WaitedRegenerationOutlivesTheRequest(t *testing.T) {
	e := newEnvWith(t, slowGateway{delay: 300 * time.Millisecond})
	job := e.completedJob(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	rec := e.doCtx(t, ctx, http.MethodPost, "/api/v1/jobs/"+job.ID+"/scenes/0/regenerate", map[string]any{"reason": "too dark", "wait": true})

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "running", decodeBody[map[string]any](t, rec)["status"])

	type history struct {
		Items []apiv1.Regeneration `json:"items"`
	}
	var items []apiv1.Regeneration
	require.Eventually(t, func() bool {
		rec := e.do(t, http.MethodGet, "/api/v1/jobs/"+job.ID+"/regenerations", nil)
		items = decodeBody[history](t, rec).Items
		return len(items) == 1
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, "succeeded", string(items[0].Result.Status))
	assert.Empty(t, items[0].Result.Error)
}

func TestJobs_Errors(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/api/v1/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/jobs/missing/regenerations", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/jobs/missing/scenes/abc/regenerate", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/jobs/missing/scenes/0/regenerate", map[string]any{"wait": true})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAdmin_Sweep(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/v1/admin/watchdog/sweep", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"expired":[]}`, rec.Body.String())
}

func TestAdmin_SweepDisabled(t *testing.T) {
	logger := zerolog.Nop()
	r := chi.NewRouter()
	apiv1.RegisterAPIV1(r, apiv1.NewServer(nil, nil, nil, nil, &logger))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/admin/watchdog/sweep", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

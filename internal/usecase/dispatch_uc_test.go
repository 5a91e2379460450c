package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"video-generation-service/internal/domain"
	"video-generation-service/internal/domain/model"
	"video-generation-service/internal/domain/ports/adapter"
	"video-generation-service/internal/usecase"
)

func TestDispatchUseCase_Tick(t *testing.T) {
	ctx := context.Background()
	testLogger := newTestLogger()
	cfg := usecase.DispatchConfig{BatchSize: 10, ProviderTimeout: time.Second}

	t.Run("should complete a claimed job with progress 100 and an output url", func(t *testing.T) {
		// --- Arrange ---
		db := newMemDB()
		jobs := NewMockJobRepo(db)
		gw := &StubGateway{GenerateFunc: func(ctx context.Context, req adapter.GenerateRequest) (*adapter.GenerateResult, error) {
			req.Progress(30)
			req.Progress(20) // stale, dropped
			req.Progress(60)
			return &adapter.GenerateResult{URL: "https://cdn.example/out.mp4"}, nil
		}}
		job := seedJob(db, "", "veo", scenesPayload("intro", "outro"))
		uc := usecase.NewDispatchUseCase(jobs, gw, &InlineRunner{}, cfg, testLogger)

		// --- Act ---
		stats, err := uc.Tick(ctx)

		// --- Assert ---
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Claimed)
		got := db.job(job.ID)
		assert.Equal(t, model.JobStatusCompleted, got.Status)
		assert.Equal(t, 100, got.Progress)
		assert.Equal(t, "https://cdn.example/out.mp4", got.OutputURL)
		assert.NotNil(t, got.CompletedAt)
		assert.NoError(t, got.CheckInvariants())
		assert.Equal(t, []int{30, 60}, db.appliedProgress(job.ID))

		require.Len(t, gw.Calls, 1)
		assert.Equal(t, "veo", gw.Calls[0].Provider)
		assert.Equal(t, -1, gw.Calls[0].SceneIndex)
		assert.Equal(t, "intro\noutro", gw.Calls[0].Prompt)
	})

	t.Run("should fail the job with the provider error message", func(t *testing.T) {
		// --- Arrange ---
		db := newMemDB()
		gw := &StubGateway{GenerateFunc: func(ctx context.Context, req adapter.GenerateRequest) (*adapter.GenerateResult, error) {
			return nil, adapter.NewProviderError(req.Provider, errors.New("content policy violation"))
		}}
		job := seedJob(db, "", "veo", scenesPayload("intro"))
		uc := usecase.NewDispatchUseCase(NewMockJobRepo(db), gw, &InlineRunner{}, cfg, testLogger)

		// --- Act ---
		_, err := uc.Tick(ctx)

		// --- Assert ---
		require.NoError(t, err)
		got := db.job(job.ID)
		assert.Equal(t, model.JobStatusFailed, got.Status)
		assert.Contains(t, got.ErrorMessage, "content policy violation")
		assert.Empty(t, got.OutputURL)
		assert.NoError(t, got.CheckInvariants())
	})

	t.Run("should fail with a timeout message when the provider exceeds its deadline", func(t *testing.T) {
		// --- Arrange ---
		db := newMemDB()
		gw := &StubGateway{GenerateFunc: func(ctx context.Context, req adapter.GenerateRequest) (*adapter.GenerateResult, error) {
			<-ctx.Done()
			return nil, adapter.NewProviderError(req.Provider, fmt.Errorf("%w: %v", domain.ErrProviderTimeout, ctx.Err()))
		}}
		job := seedJob(db, "", "veo", scenesPayload("intro"))
		short := usecase.DispatchConfig{BatchSize: 10, ProviderTimeout: 20 * time.Millisecond}
		uc := usecase.NewDispatchUseCase(NewMockJobRepo(db), gw, &InlineRunner{}, short, testLogger)

		// --- Act ---
		_, err := uc.Tick(ctx)

		// --- Assert ---
		require.NoError(t, err)
		got := db.job(job.ID)
		assert.Equal(t, model.JobStatusFailed, got.Status)
		assert.Equal(t, "provider timeout after 20ms", got.ErrorMessage)
	})

	t.Run("should leave jobs pending while their provider is unavailable", func(t *testing.T) {
		// --- Arrange ---
		db := newMemDB()
		gw := &StubGateway{Unavailable: map[string]bool{"veo": true}}
		job := seedJob(db, "", "veo", scenesPayload("intro"))
		uc := usecase.NewDispatchUseCase(NewMockJobRepo(db), gw, &InlineRunner{}, cfg, testLogger)

		// --- Act ---
		stats, err := uc.Tick(ctx)

		// --- Assert ---
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Skipped)
		assert.Equal(t, 0, stats.Claimed)
		assert.Equal(t, model.JobStatusPending, db.job(job.ID).Status)
		assert.Zero(t, gw.CallCount())
	})

	t.Run("should release the claim when the runner has no free worker", func(t *testing.T) {
		// --- Arrange ---
		db := newMemDB()
		gw := &StubGateway{}
		first := seedJob(db, "", "veo", scenesPayload("a"))
		second := seedJob(db, "", "veo", scenesPayload("b"))
		uc := usecase.NewDispatchUseCase(NewMockJobRepo(db), gw, &InlineRunner{FreeN: 2, Full: true}, cfg, testLogger)

		// --- Act ---
		stats, err := uc.Tick(ctx)

		// --- Assert ---
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Released)
		assert.Equal(t, 0, stats.Claimed)
		for _, id := range []string{first.ID, second.ID} {
			got := db.job(id)
			assert.Equal(t, model.JobStatusPending, got.Status)
			assert.Nil(t, got.ClaimedAt)
			assert.Zero(t, got.Progress)
		}
		assert.Zero(t, gw.CallCount())
	})

	t.Run("should not poll when every worker is busy", func(t *testing.T) {
		// --- Arrange ---
		db := newMemDB()
		seedJob(db, "", "veo", scenesPayload("a"))
		uc := usecase.NewDispatchUseCase(NewMockJobRepo(db), &StubGateway{}, &InlineRunner{NoFree: true}, cfg, testLogger)

		// --- Act ---
		stats, err := uc.Tick(ctx)

		// --- Assert ---
		require.NoError(t, err)
		assert.Zero(t, stats.Listed)
	})

	t.Run("should claim at most the number of free workers", func(t *testing.T) {
		// --- Arrange ---
		db := newMemDB()
		for i := 0; i < 5; i++ {
			seedJob(db, "", "veo", scenesPayload("a"))
		}
		gw := &StubGateway{}
		uc := usecase.NewDispatchUseCase(NewMockJobRepo(db), gw, &InlineRunner{FreeN: 2}, cfg, testLogger)

		// --- Act ---
		stats, err := uc.Tick(ctx)

		// --- Assert ---
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Listed)
		assert.Equal(t, 2, gw.CallCount())
	})

	t.Run("should run a job once when two pollers claim it concurrently", func(t *testing.T) {
		// --- Arrange ---
		db := newMemDB()
		jobs := NewMockJobRepo(db)
		var ready sync.WaitGroup
		ready.Add(2)
		jobs.BeforeClaim = func(string) {
			// both pollers listed the job before either claims it
			ready.Done()
			ready.Wait()
		}
		gw := &StubGateway{}
		job := seedJob(db, "", "veo", scenesPayload("a"))
		a := usecase.NewDispatchUseCase(jobs, gw, &InlineRunner{}, cfg, testLogger)
		b := usecase.NewDispatchUseCase(jobs, gw, &InlineRunner{}, cfg, testLogger)

		// --- Act ---
		var wg sync.WaitGroup
		results := make([]usecase.DispatchStats, 2)
		for i, uc := range []usecase.DispatchUseCase{a, b} {
			wg.Add(1)
			go func(i int, uc usecase.DispatchUseCase) {
				defer wg.Done()
				results[i], _ = uc.Tick(ctx)
			}(i, uc)
		}
		wg.Wait()

		// --- Assert ---
		assert.Equal(t, 1, results[0].Claimed+results[1].Claimed)
		assert.Equal(t, 1, results[0].Conflicts+results[1].Conflicts)
		assert.Equal(t, 1, gw.CallCount())
		assert.Equal(t, model.JobStatusCompleted, db.job(job.ID).Status)
	})

	t.Run("should fail in-flight work as interrupted on shutdown", func(t *testing.T) {
		// --- Arrange ---
		db := newMemDB()
		gw := &StubGateway{}
		job := seedJob(db, "", "veo", scenesPayload("a"))
		stopped, cancel := context.WithCancel(ctx)
		cancel()
		uc := usecase.NewDispatchUseCase(NewMockJobRepo(db), gw, &InlineRunner{Ctx: stopped}, cfg, testLogger)

		// --- Act ---
		_, err := uc.Tick(ctx)

		// --- Assert ---
		require.NoError(t, err)
		got := db.job(job.ID)
		assert.Equal(t, model.JobStatusFailed, got.Status)
		assert.Contains(t, got.ErrorMessage, "interrupted")
		assert.Zero(t, gw.CallCount())
	})

	t.Run("should discard a late result when the watchdog already failed the job", func(t *testing.T) {
		// --- Arrange ---
		db := newMemDB()
		jobs := NewMockJobRepo(db)
		gw := &StubGateway{GenerateFunc: func(ctx context.Context, req adapter.GenerateRequest) (*adapter.GenerateResult, error) {
			// the watchdog expires the claim while the provider runs
			_, _ = jobs.FailStale(ctx, time.Now().Add(time.Hour), "claim expired")
			return &adapter.GenerateResult{URL: "https://cdn.example/late.mp4"}, nil
		}}
		job := seedJob(db, "", "veo", scenesPayload("a"))
		runner := &InlineRunner{}
		uc := usecase.NewDispatchUseCase(jobs, gw, runner, cfg, testLogger)

		// --- Act ---
		_, err := uc.Tick(ctx)

		// --- Assert ---
		require.NoError(t, err)
		got := db.job(job.ID)
		assert.Equal(t, model.JobStatusFailed, got.Status)
		assert.Equal(t, "claim expired", got.ErrorMessage)
		assert.Empty(t, got.OutputURL)
		require.Len(t, runner.TaskErrs, 1)
		assert.NoError(t, runner.TaskErrs[0])
	})

	t.Run("should retry the terminal write through a short store outage", func(t *testing.T) {
		// --- Arrange ---
		db := newMemDB()
		jobs := NewMockJobRepo(db)
		attempts := 0
		jobs.TerminalErr = func(string) error {
			attempts++
			if attempts < 3 {
				return domain.ErrStoreUnavailable
			}
			return nil
		}
		job := seedJob(db, "", "veo", scenesPayload("a"))
		runner := &InlineRunner{}
		uc := usecase.NewDispatchUseCase(jobs, &StubGateway{}, runner, cfg, testLogger)

		// --- Act ---
		_, err := uc.Tick(ctx)

		// --- Assert ---
		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
		assert.Equal(t, model.JobStatusCompleted, db.job(job.ID).Status)
		require.Len(t, runner.TaskErrs, 1)
		assert.NoError(t, runner.TaskErrs[0])
	})

	t.Run("should not retry a terminal write the watchdog already won", func(t *testing.T) {
		// --- Arrange ---
		db := newMemDB()
		jobs := NewMockJobRepo(db)
		attempts := 0
		jobs.TerminalErr = func(string) error {
			attempts++
			return domain.ErrJobNotProcessing
		}
		seedJob(db, "", "veo", scenesPayload("a"))
		runner := &InlineRunner{}
		uc := usecase.NewDispatchUseCase(jobs, &StubGateway{}, runner, cfg, testLogger)

		// --- Act ---
		_, err := uc.Tick(ctx)

		// --- Assert ---
		require.NoError(t, err)
		assert.Equal(t, 1, attempts)
		require.Len(t, runner.TaskErrs, 1)
		assert.NoError(t, runner.TaskErrs[0])
	})
}

package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"video-generation-service/internal/domain"
	"video-generation-service/internal/domain/model"
	"video-generation-service/internal/usecase"
)

func TestProjectUseCase(t *testing.T) {
	ctx := context.Background()
	testLogger := newTestLogger()

	newUC := func(db *memDB, jobs *MockJobRepo) usecase.ProjectUseCase {
		return usecase.NewProjectUseCase(NewMockProjectRepo(db), jobs, NewMockTxManager(db), 10, testLogger)
	}

	t.Run("should enqueue one job per output format and consume the render request", func(t *testing.T) {
		// --- Arrange ---
		db := newMemDB()
		jobs := NewMockJobRepo(db)
		uc := newUC(db, jobs)
		project := seedProject(db, "mp4", "webm", "mp4")
		require.NoError(t, uc.RequestRender(ctx, project.ID, "veo"))

		// --- Act ---
		stats, err := uc.Tick(ctx)

		// --- Assert ---
		require.NoError(t, err)
		assert.Equal(t, 1, stats.RendersClaimed)
		assert.Equal(t, 2, stats.JobsEnqueued)

		created, _ := jobs.ListByProject(ctx, nil, project.ID)
		require.Len(t, created, 2)
		formats := []string{}
		for _, j := range created {
			assert.Equal(t, model.JobStatusPending, j.Status)
			assert.Equal(t, "veo", j.Provider)
			formats = append(formats, j.Input.Field("output_format"))
		}
		assert.ElementsMatch(t, []string{"mp4", "webm"}, formats)

		got := db.project(project.ID)
		assert.Nil(t, got.RenderRequestedAt)
		assert.Equal(t, model.ProjectStatusProcessing, got.Status)

		// a second tick does not enqueue again
		stats, err = uc.Tick(ctx)
		require.NoError(t, err)
		assert.Zero(t, stats.JobsEnqueued)
	})

	t.Run("should enqueue a render request exactly once across concurrent instances", func(t *testing.T) {
		// --- Arrange ---
		db := newMemDB()
		jobs := NewMockJobRepo(db)
		a, b := newUC(db, jobs), newUC(db, jobs)
		project := seedProject(db)
		require.NoError(t, a.RequestRender(ctx, project.ID, ""))

		// --- Act ---
		var wg sync.WaitGroup
		for _, uc := range []usecase.ProjectUseCase{a, b} {
			wg.Add(1)
			go func(uc usecase.ProjectUseCase) {
				defer wg.Done()
				_, _ = uc.Tick(ctx)
			}(uc)
		}
		wg.Wait()

		// --- Assert ---
		created, _ := jobs.ListByProject(ctx, nil, project.ID)
		require.Len(t, created, 1)
		assert.Equal(t, model.DefaultOutputFormat, created[0].Input.Field("output_format"))
	})

	t.Run("should roll back the claim when a job insert fails", func(t *testing.T) {
		// --- Arrange ---
		db := newMemDB()
		jobs := NewMockJobRepo(db)
		inserts := 0
		jobs.CreateFunc = func(ctx context.Context, job *model.Job) error {
			inserts++
			if inserts == 2 {
				return domain.ErrStoreUnavailable
			}
			return nil
		}
		uc := newUC(db, jobs)
		project := seedProject(db, "mp4", "webm")
		require.NoError(t, uc.RequestRender(ctx, project.ID, ""))

		// --- Act ---
		_, err := uc.Tick(ctx)

		// --- Assert ---
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrStoreUnavailable))
		created, _ := jobs.ListByProject(ctx, nil, project.ID)
		assert.Empty(t, created)
		assert.NotNil(t, db.project(project.ID).RenderRequestedAt)
	})

	t.Run("should derive ready once every job completed", func(t *testing.T) {
		// --- Arrange ---
		db := newMemDB()
		jobs := NewMockJobRepo(db)
		uc := newUC(db, jobs)
		project := seedProject(db)
		job := seedJob(db, project.ID, "veo", project.Data)

		_, err := uc.Tick(ctx)
		require.NoError(t, err)
		require.Equal(t, model.ProjectStatusProcessing, db.project(project.ID).Status)

		ok, err := jobs.Claim(ctx, job.ID)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, jobs.Complete(ctx, job.ID, "https://cdn.example/a.mp4"))

		// --- Act ---
		stats, err := uc.Tick(ctx)

		// --- Assert ---
		require.NoError(t, err)
		assert.Equal(t, 1, stats.StatusChanges)
		assert.Equal(t, model.ProjectStatusReady, db.project(project.ID).Status)
	})

	t.Run("should derive failed when a job failed and none is in flight", func(t *testing.T) {
		// --- Arrange ---
		db := newMemDB()
		jobs := NewMockJobRepo(db)
		uc := newUC(db, jobs)
		project := seedProject(db)
		done := seedJob(db, project.ID, "veo", project.Data)
		broken := seedJob(db, project.ID, "veo", project.Data)
		for _, id := range []string{done.ID, broken.ID} {
			_, err := jobs.Claim(ctx, id)
			require.NoError(t, err)
		}
		require.NoError(t, jobs.Complete(ctx, done.ID, "https://cdn.example/a.mp4"))
		require.NoError(t, jobs.Fail(ctx, broken.ID, "boom"))

		// --- Act ---
		_, err := uc.Tick(ctx)

		// --- Assert ---
		require.NoError(t, err)
		assert.Equal(t, model.ProjectStatusFailed, db.project(project.ID).Status)
	})

	t.Run("should reset a processing project without jobs to draft", func(t *testing.T) {
		// --- Arrange ---
		db := newMemDB()
		projects := NewMockProjectRepo(db)
		uc := newUC(db, NewMockJobRepo(db))
		project := seedProject(db)
		require.NoError(t, projects.SetStatus(ctx, project.ID, model.ProjectStatusProcessing))

		// --- Act ---
		_, err := uc.Tick(ctx)

		// --- Assert ---
		require.NoError(t, err)
		assert.Equal(t, model.ProjectStatusDraft, db.project(project.ID).Status)
	})

	t.Run("should stop listing a settled project after reconciling it", func(t *testing.T) {
		// --- Arrange ---
		db := newMemDB()
		jobs := NewMockJobRepo(db)
		projects := NewMockProjectRepo(db)
		uc := usecase.NewProjectUseCase(projects, jobs, NewMockTxManager(db), 10, testLogger)
		project := seedProject(db)
		require.NoError(t, projects.SetStatus(ctx, project.ID, model.ProjectStatusFailed))
		// the job changes after the project was last written
		job := seedJob(db, project.ID, "veo", project.Data)
		_, _ = jobs.Claim(ctx, job.ID)
		require.NoError(t, jobs.Fail(ctx, job.ID, "boom"))
		listed, err := projects.ListForReconcile(ctx, 10)
		require.NoError(t, err)
		require.Len(t, listed, 1)

		// --- Act ---
		_, err = uc.Tick(ctx)

		// --- Assert ---
		require.NoError(t, err)
		assert.Equal(t, model.ProjectStatusFailed, db.project(project.ID).Status)
		pending, err := projects.ListForReconcile(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("should leave an in-flight project untouched while its jobs do not move", func(t *testing.T) {
		// --- Arrange ---
		db := newMemDB()
		jobs := NewMockJobRepo(db)
		projects := NewMockProjectRepo(db)
		uc := usecase.NewProjectUseCase(projects, jobs, NewMockTxManager(db), 10, testLogger)
		project := seedProject(db)
		job := seedJob(db, project.ID, "veo", project.Data)
		_, err := jobs.Claim(ctx, job.ID)
		require.NoError(t, err)
		_, err = uc.Tick(ctx)
		require.NoError(t, err)
		settled := db.project(project.ID)
		require.Equal(t, model.ProjectStatusProcessing, settled.Status)

		// --- Act ---
		first, err := uc.Tick(ctx)
		require.NoError(t, err)
		second, err := uc.Tick(ctx)
		require.NoError(t, err)

		// --- Assert ---
		assert.Zero(t, first.Reconciled)
		assert.Zero(t, second.Reconciled)
		got := db.project(project.ID)
		assert.Equal(t, model.ProjectStatusProcessing, got.Status)
		assert.True(t, settled.UpdatedAt.Equal(got.UpdatedAt), "updated_at moved without a job change")

		// progress on the job lists the project again
		_, err = jobs.UpdateProgress(ctx, job.ID, 40)
		require.NoError(t, err)
		listed, err := projects.ListForReconcile(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, listed, 1)
	})

	t.Run("should set the render provider without overwriting a concurrent status change", func(t *testing.T) {
		// --- Arrange ---
		db := newMemDB()
		projects := NewMockProjectRepo(db)
		uc := usecase.NewProjectUseCase(projects, NewMockJobRepo(db), NewMockTxManager(db), 10, testLogger)
		project := seedProject(db)
		projects.AfterFind = func(id string) {
			projects.AfterFind = nil
			require.NoError(t, projects.SetStatus(ctx, id, model.ProjectStatusProcessing))
		}

		// --- Act ---
		err := uc.RequestRender(ctx, project.ID, "veo")

		// --- Assert ---
		require.NoError(t, err)
		got := db.project(project.ID)
		assert.Equal(t, "veo", got.Data.Field("provider"))
		assert.Equal(t, model.ProjectStatusProcessing, got.Status)
		assert.NotNil(t, got.RenderRequestedAt)
	})

	t.Run("should reject a render request for an unknown project", func(t *testing.T) {
		db := newMemDB()
		uc := newUC(db, NewMockJobRepo(db))

		err := uc.RequestRender(ctx, "missing", "")

		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("should validate new projects", func(t *testing.T) {
		db := newMemDB()
		uc := newUC(db, NewMockJobRepo(db))

		_, err := uc.Create(ctx, usecase.CreateProjectInput{UserID: "u1"})
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)

		_, err = uc.Create(ctx, usecase.CreateProjectInput{UserID: "u1", Title: "t", Data: model.MustPayload(map[string]any{"scenes": "nope"})})
		assert.ErrorIs(t, err, domain.ErrInvalidPayload)

		p, err := uc.Create(ctx, usecase.CreateProjectInput{UserID: "u1", Title: " Trailer ", Data: scenesPayload("a")})
		require.NoError(t, err)
		assert.Equal(t, "Trailer", p.Title)
		assert.Equal(t, model.ProjectStatusDraft, p.Status)

		view, err := uc.Get(ctx, p.ID)
		require.NoError(t, err)
		assert.Empty(t, view.Jobs)
	})
}

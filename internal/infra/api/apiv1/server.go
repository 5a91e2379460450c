// Package apiv1 serves the versioned JSON API over jobs, projects and scene
// regenerations.
package apiv1

//go:generate go run github.com/oapi-codegen/oapi-codegen/v2/cmd/oapi-codegen -config oapi-codegen.yaml ../../../../api/openapi.yaml

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"video-generation-service/internal/domain"
	"video-generation-service/internal/domain/model"
	"video-generation-service/internal/infra/logging"
	"video-generation-service/internal/usecase"
)

// Sweeper triggers a watchdog pass on demand.
type Sweeper interface {
	Sweep(ctx context.Context) ([]string, error)
}

var _ ServerInterface = (*Server)(nil)

type Server struct {
	jobs     usecase.JobUseCase
	projects usecase.ProjectUseCase
	regens   usecase.RegenerationUseCase
	sweeper  Sweeper
	log      *zerolog.Logger
}

// NewServer wires the handlers. sweeper may be nil, which turns the admin
// sweep route into a 404.
func NewServer(jobs usecase.JobUseCase, projects usecase.ProjectUseCase, regens usecase.RegenerationUseCase, sweeper Sweeper, logger *zerolog.Logger) *Server {
	return &Server{jobs: jobs, projects: projects, regens: regens, sweeper: sweeper, log: logger}
}

// RegisterAPIV1 mounts every route under /api/v1.
func RegisterAPIV1(r chi.Router, s *Server) {
	HandlerWithOptions(s, ChiServerOptions{
		BaseURL:          "/api/v1",
		BaseRouter:       r,
		ErrorHandlerFunc: s.paramError,
	})
}

func (s *Server) paramError(w http.ResponseWriter, _ *http.Request, err error) {
	writeError(w, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err))
}

func decode(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}

func payloadOf(raw json.RawMessage) (model.Payload, error) {
	if len(raw) == 0 {
		return model.Payload{}, nil
	}
	return model.NewPayload(raw)
}

func (s *Server) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	input, err := payloadOf(req.Input)
	if err != nil {
		writeError(w, err)
		return
	}
	job, err := s.jobs.Create(r.Context(), usecase.CreateJobInput{
		UserID:    req.UserID,
		ProjectID: req.ProjectID,
		Provider:  req.Provider,
		Input:     input,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toJob(job))
}

func (s *Server) GetJob(w http.ResponseWriter, r *http.Request, id string) {
	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJob(job))
}

func (s *Server) ListRegenerations(w http.ResponseWriter, r *http.Request, id string) {
	records, err := s.regens.History(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	items := make([]Regeneration, 0, len(records))
	for _, rec := range records {
		items = append(items, toRegeneration(rec))
	}
	latest := make(map[string]Regeneration)
	for idx, rec := range model.LatestSuccessfulByScene(records) {
		latest[strconv.Itoa(idx)] = toRegeneration(rec)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "latest_by_scene": latest})
}

type regenOutcome struct {
	rec *model.RegenerationRecord
	err error
}

func (s *Server) RegenerateScene(w http.ResponseWriter, r *http.Request, id string, index int) {
	var req regenerateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	in := usecase.RegenerateSceneInput{
		JobID:      id,
		SceneIndex: index,
		Reason:     req.Reason,
		Provider:   req.Provider,
	}
	ctx := logging.WithJobID(r.Context(), in.JobID)

	if !req.Wait {
		if err := s.regens.SubmitRegeneration(ctx, in); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted", "job_id": in.JobID, "scene_index": index})
		return
	}

	done := make(chan regenOutcome, 1)
	go func() {
		rec, err := s.regens.RegenerateScene(ctx, in)
		done <- regenOutcome{rec: rec, err: err}
	}()
	var out regenOutcome
	select {
	case out = <-done:
	case <-r.Context().Done():
		// The attempt keeps running and lands in the history.
		s.log.Warn().Str("job_id", in.JobID).Int("scene_index", index).Msg("regeneration outlived the request")
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "running", "job_id": in.JobID, "scene_index": index})
		return
	}
	if out.err != nil {
		if out.rec != nil {
			// the failed attempt is part of the history
			writeJSON(w, statusFor(out.err), map[string]any{"error": out.err.Error(), "regeneration": toRegeneration(out.rec)})
			return
		}
		writeError(w, out.err)
		return
	}
	writeJSON(w, http.StatusCreated, toRegeneration(out.rec))
}

func (s *Server) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	data, err := payloadOf(req.Data)
	if err != nil {
		writeError(w, err)
		return
	}
	project, err := s.projects.Create(r.Context(), usecase.CreateProjectInput{
		UserID:        req.UserID,
		Title:         req.Title,
		Description:   req.Description,
		Data:          data,
		OutputFormats: req.OutputFormats,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProject(project, nil))
}

func (s *Server) GetProject(w http.ResponseWriter, r *http.Request, id string) {
	view, err := s.projects.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProject(view.Project, view.Jobs))
}

func (s *Server) RenderProject(w http.ResponseWriter, r *http.Request, id string) {
	var req renderRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.projects.RequestRender(r.Context(), id, req.Provider); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "render_requested", "project_id": id})
}

func (s *Server) SweepWatchdog(w http.ResponseWriter, r *http.Request) {
	if s.sweeper == nil {
		writeError(w, fmt.Errorf("%w: watchdog sweep is disabled", domain.ErrNotFound))
		return
	}
	ids, err := s.sweeper.Sweep(r.Context())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.log.Error().Err(err).Msg("on-demand sweep failed")
		writeError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"expired": ids})
}

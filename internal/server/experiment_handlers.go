package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/solitonlabs/pulsekit/internal/domain"
	"github.com/solitonlabs/pulsekit/internal/pipeline"
	"github.com/solitonlabs/pulsekit/internal/resultstore"
)

// ExperimentHandlers serves experiment submission and result retrieval.
type ExperimentHandlers struct {
	runner *pipeline.Runner
	store  *resultstore.Repository
	log    zerolog.Logger
}

// NewExperimentHandlers creates the experiment handler set
func NewExperimentHandlers(runner *pipeline.Runner, store *resultstore.Repository, log zerolog.Logger) *ExperimentHandlers {
	return &ExperimentHandlers{
		runner: runner,
		store:  store,
		log:    log.With().Str("handler", "experiments").Logger(),
	}
}

// HandleSubmitExperiment submits a new experiment run
// POST /api/experiments
func (h *ExperimentHandlers) HandleSubmitExperiment(w http.ResponseWriter, r *http.Request) {
	var spec domain.ExperimentSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if !spec.Type.Valid() {
		http.Error(w, "unknown experiment type: "+string(spec.Type), http.StatusBadRequest)
		return
	}
	if len(spec.Sweep) == 0 {
		http.Error(w, "sweep must not be empty", http.StatusBadRequest)
		return
	}

	handle, err := h.runner.Submit(r.Context(), spec)
	if err != nil {
		h.log.Error().Err(err).Str("type", string(spec.Type)).Msg("Experiment submission failed")
		h.writeError(w, err)
		return
	}

	// Collect results in the background. The cron result sync also picks
	// the job up if the process restarts before this finishes.
	go func() {
		if _, err := h.runner.Await(context.Background(), handle); err != nil {
			h.log.Warn().Str("handle", string(handle)).Err(err).Msg("Background result collection failed")
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"handle": string(handle),
		"status": string(domain.JobStatusQueued),
	})
}

// HandleListJobs lists recently submitted jobs
// GET /api/jobs
func (h *ExperimentHandlers) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.store.ListRecent(50)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// HandleGetJob returns the persisted state of one job
// GET /api/jobs/{handle}
func (h *ExperimentHandlers) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	handle := domain.JobHandle(chi.URLParam(r, "handle"))

	job, err := h.store.GetJob(handle)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

// HandleGetVerdict recomputes the analysis chain from the stored bundle
// GET /api/jobs/{handle}/verdict
func (h *ExperimentHandlers) HandleGetVerdict(w http.ResponseWriter, r *http.Request) {
	handle := domain.JobHandle(chi.URLParam(r, "handle"))

	report, err := h.runner.Reanalyze(handle)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

// writeError maps domain errors to HTTP status codes
func (h *ExperimentHandlers) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidWaveformParameters),
		errors.Is(err, domain.ErrInvalidCalibrationKey),
		errors.Is(err, domain.ErrInsufficientData):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrIncompleteResultSet),
		errors.Is(err, domain.ErrFitDidNotConverge):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrBackendError),
		errors.Is(err, domain.ErrJobTimeout):
		status = http.StatusBadGateway
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

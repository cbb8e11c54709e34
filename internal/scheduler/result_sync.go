package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/solitonlabs/pulsekit/internal/domain"
	"github.com/solitonlabs/pulsekit/internal/resultstore"
)

// ResultSyncJob sweeps all non-terminal jobs, refreshes their backend
// status, and pulls result bundles for the ones that finished. It makes
// the pipeline resilient to process restarts: any job submitted before a
// crash is picked up again from the database.
type ResultSyncJob struct {
	store   *resultstore.Repository
	backend domain.BackendClient
	timeout time.Duration
	log     zerolog.Logger
}

// NewResultSyncJob creates the sync job with a per-sweep deadline.
func NewResultSyncJob(store *resultstore.Repository, backend domain.BackendClient, timeout time.Duration, log zerolog.Logger) *ResultSyncJob {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &ResultSyncJob{
		store:   store,
		backend: backend,
		timeout: timeout,
		log:     log.With().Str("job", "result_sync").Logger(),
	}
}

// Name implements the scheduler Job interface.
func (j *ResultSyncJob) Name() string {
	return "result_sync"
}

// Run refreshes every pending job once.
func (j *ResultSyncJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	pending, err := j.store.ListPending()
	if err != nil {
		return fmt.Errorf("listing pending jobs: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	j.log.Debug().Int("pending", len(pending)).Msg("Syncing job statuses")

	var synced, failed int
	for _, job := range pending {
		if err := j.syncOne(ctx, job); err != nil {
			failed++
			j.log.Warn().
				Str("handle", string(job.Handle)).
				Err(err).
				Msg("Job sync failed")
			continue
		}
		synced++
	}

	if failed > 0 {
		return fmt.Errorf("synced %d jobs, %d failed", synced, failed)
	}
	return nil
}

func (j *ResultSyncJob) syncOne(ctx context.Context, job domain.Job) error {
	status, err := j.backend.Status(ctx, job.Handle)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			// The backend no longer knows the handle, mark it failed so
			// the sweep stops retrying it.
			return j.store.UpdateStatus(job.Handle, domain.JobStatusError)
		}
		return err
	}

	if status != job.Status {
		if err := j.store.UpdateStatus(job.Handle, status); err != nil {
			return err
		}
	}

	if status != domain.JobStatusDone {
		return nil
	}

	// Skip retrieval when a bundle is already stored.
	if _, err := j.store.GetBundle(job.Handle); err == nil {
		return nil
	}

	batch, err := j.backend.Result(ctx, job.Handle)
	if err != nil {
		return fmt.Errorf("retrieving results: %w", err)
	}
	if err := j.store.SaveBundle(batch); err != nil {
		return fmt.Errorf("persisting results: %w", err)
	}

	j.log.Info().
		Str("handle", string(job.Handle)).
		Int("records", len(batch.Records)).
		Msg("Result bundle synced")

	return nil
}

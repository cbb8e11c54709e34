// Package pipeline orchestrates the full experiment lifecycle: circuit
// construction, backend submission with transient-failure retry, result
// polling, persistence, and the analysis chain down to a stability verdict.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/solitonlabs/pulsekit/internal/domain"
	"github.com/solitonlabs/pulsekit/internal/modules/experiment"
	"github.com/solitonlabs/pulsekit/internal/modules/fitting"
	"github.com/solitonlabs/pulsekit/internal/modules/normalize"
	"github.com/solitonlabs/pulsekit/internal/modules/stability"
	"github.com/solitonlabs/pulsekit/internal/resultstore"
)

// Config tunes submission retry and result polling.
type Config struct {
	Shots          int
	PollInterval   time.Duration
	ResultTimeout  time.Duration
	RetryAttempts  uint
	RetryBaseDelay time.Duration
}

// DefaultConfig returns production polling defaults.
func DefaultConfig() Config {
	return Config{
		Shots:          4096,
		PollInterval:   5 * time.Second,
		ResultTimeout:  30 * time.Minute,
		RetryAttempts:  4,
		RetryBaseDelay: 500 * time.Millisecond,
	}
}

// Report is the complete outcome of one analyzed run.
type Report struct {
	Handle  domain.JobHandle         `json:"handle"`
	Spec    domain.ExperimentSpec    `json:"spec"`
	Points  []domain.NormalizedPoint `json:"points"`
	Fit     *domain.FitResult        `json:"fit"`
	Verdict domain.StabilityVerdict  `json:"verdict"`
}

// Runner drives experiments through the backend and the analysis chain.
type Runner struct {
	backend domain.BackendClient
	builder *experiment.Builder
	engine  *stability.Engine
	store   *resultstore.Repository
	fitOpts fitting.Options
	cfg     Config
	log     zerolog.Logger
}

// NewRunner wires the pipeline stages together.
func NewRunner(
	backend domain.BackendClient,
	builder *experiment.Builder,
	engine *stability.Engine,
	store *resultstore.Repository,
	fitOpts fitting.Options,
	cfg Config,
	log zerolog.Logger,
) *Runner {
	if cfg.Shots <= 0 {
		cfg.Shots = DefaultConfig().Shots
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.ResultTimeout <= 0 {
		cfg.ResultTimeout = DefaultConfig().ResultTimeout
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = DefaultConfig().RetryAttempts
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = DefaultConfig().RetryBaseDelay
	}
	return &Runner{
		backend: backend,
		builder: builder,
		engine:  engine,
		store:   store,
		fitOpts: fitOpts,
		cfg:     cfg,
		log:     log.With().Str("component", "pipeline").Logger(),
	}
}

// Submit builds the circuit batch for a spec and submits it, retrying
// transient backend failures with exponential backoff. The resulting job
// is persisted in the queued state.
func (r *Runner) Submit(ctx context.Context, spec domain.ExperimentSpec) (domain.JobHandle, error) {
	shots := spec.Shots
	if shots <= 0 {
		shots = r.cfg.Shots
		spec.Shots = shots
	}

	circuits, calib, err := r.builder.Build(spec)
	if err != nil {
		return "", fmt.Errorf("building experiment: %w", err)
	}

	var handle domain.JobHandle
	err = retry.Do(
		func() error {
			var submitErr error
			handle, submitErr = r.backend.Submit(ctx, circuits, calib, shots)
			return submitErr
		},
		retry.Context(ctx),
		retry.Attempts(r.cfg.RetryAttempts),
		retry.Delay(r.cfg.RetryBaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(domain.Transient),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			r.log.Warn().Uint("attempt", n+1).Err(err).Msg("Retrying job submission")
		}),
	)
	if err != nil {
		return "", fmt.Errorf("submitting job: %w", err)
	}

	specYAML, err := yaml.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("encoding spec: %w", err)
	}

	job := domain.Job{
		Handle:      handle,
		Type:        spec.Type,
		Status:      domain.JobStatusQueued,
		SpecYAML:    string(specYAML),
		SubmittedAt: time.Now().UTC(),
	}
	if err := r.store.SaveJob(job); err != nil {
		return "", fmt.Errorf("recording job: %w", err)
	}

	r.log.Info().
		Str("handle", string(handle)).
		Str("type", string(spec.Type)).
		Int("circuits", len(circuits.Circuits)).
		Int("overrides", calib.Len()).
		Msg("Experiment submitted")

	return handle, nil
}

// Await polls the backend until the job completes, then retrieves and
// persists the raw result bundle. Exceeding the configured timeout yields
// ErrJobTimeout with the handle preserved for later retrieval.
func (r *Runner) Await(ctx context.Context, handle domain.JobHandle) (*domain.RawResultBatch, error) {
	deadline := time.Now().Add(r.cfg.ResultTimeout)
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		status, err := r.backend.Status(ctx, handle)
		if err != nil {
			if !domain.Transient(err) {
				return nil, fmt.Errorf("polling job %s: %w", handle, err)
			}
			r.log.Warn().Str("handle", string(handle)).Err(err).Msg("Status poll failed, will retry")
		} else {
			if err := r.store.UpdateStatus(handle, status); err != nil {
				r.log.Warn().Str("handle", string(handle)).Err(err).Msg("Failed to persist job status")
			}
			switch status {
			case domain.JobStatusDone:
				return r.collect(ctx, handle)
			case domain.JobStatusError:
				return nil, fmt.Errorf("%w: job %s failed on the backend", domain.ErrBackendError, handle)
			}
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: job %s exceeded %s", domain.ErrJobTimeout, handle, r.cfg.ResultTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// collect retrieves and stores the result bundle for a finished job.
func (r *Runner) collect(ctx context.Context, handle domain.JobHandle) (*domain.RawResultBatch, error) {
	var batch *domain.RawResultBatch
	err := retry.Do(
		func() error {
			var resErr error
			batch, resErr = r.backend.Result(ctx, handle)
			return resErr
		},
		retry.Context(ctx),
		retry.Attempts(r.cfg.RetryAttempts),
		retry.Delay(r.cfg.RetryBaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(domain.Transient),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("retrieving results for %s: %w", handle, err)
	}

	if err := r.store.SaveBundle(batch); err != nil {
		return nil, fmt.Errorf("persisting results for %s: %w", handle, err)
	}
	if err := r.store.UpdateStatus(handle, domain.JobStatusDone); err != nil {
		r.log.Warn().Str("handle", string(handle)).Err(err).Msg("Failed to mark job done")
	}

	r.log.Info().
		Str("handle", string(handle)).
		Int("records", len(batch.Records)).
		Msg("Result bundle stored")

	return batch, nil
}

// Analyze runs the normalization, fitting, and stability stages over a raw
// result bundle. It is a pure function of its inputs so stored bundles can
// be re-analyzed under different thresholds at any time.
func Analyze(batch *domain.RawResultBatch, spec domain.ExperimentSpec, fitOpts fitting.Options, engine *stability.Engine) (*Report, error) {
	points, err := normalize.Normalize(batch, spec)
	if err != nil {
		return nil, fmt.Errorf("normalizing results: %w", err)
	}

	if spec.Type == domain.ExperimentStarkRescue && fitOpts.DriveAmplitude == nil {
		amp := spec.FixedParam("drive_amplitude", 0)
		fitOpts.DriveAmplitude = &amp
	}

	fit, err := fitting.Fit(points, spec.Type, fitOpts)
	if err != nil {
		return nil, fmt.Errorf("fitting model: %w", err)
	}

	verdict, err := engine.Evaluate(fit, spec.Type)
	if err != nil {
		return nil, fmt.Errorf("evaluating stability: %w", err)
	}

	return &Report{
		Handle:  batch.Handle,
		Spec:    spec,
		Points:  points,
		Fit:     fit,
		Verdict: verdict,
	}, nil
}

// Run executes the complete pipeline for one spec and returns the report.
func (r *Runner) Run(ctx context.Context, spec domain.ExperimentSpec) (*Report, error) {
	handle, err := r.Submit(ctx, spec)
	if err != nil {
		return nil, err
	}
	batch, err := r.Await(ctx, handle)
	if err != nil {
		return nil, err
	}
	report, err := Analyze(batch, spec, r.fitOpts, r.engine)
	if err != nil {
		return nil, err
	}
	r.log.Info().
		Str("handle", string(handle)).
		Str("verdict", report.Verdict.String()).
		Msg("Run complete")
	return report, nil
}

// Reanalyze loads a stored bundle and its spec and reruns the analysis
// chain, so verdicts can be recomputed without resubmitting hardware jobs.
func (r *Runner) Reanalyze(handle domain.JobHandle) (*Report, error) {
	job, err := r.store.GetJob(handle)
	if err != nil {
		return nil, err
	}
	var spec domain.ExperimentSpec
	if err := yaml.Unmarshal([]byte(job.SpecYAML), &spec); err != nil {
		return nil, fmt.Errorf("decoding stored spec for %s: %w", handle, err)
	}
	batch, err := r.store.GetBundle(handle)
	if err != nil {
		return nil, err
	}
	return Analyze(batch, spec, r.fitOpts, r.engine)
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solitonlabs/pulsekit/internal/clients/localsim"
	"github.com/solitonlabs/pulsekit/internal/database"
	"github.com/solitonlabs/pulsekit/internal/domain"
	"github.com/solitonlabs/pulsekit/internal/modules/experiment"
	"github.com/solitonlabs/pulsekit/internal/modules/fitting"
	"github.com/solitonlabs/pulsekit/internal/modules/stability"
	"github.com/solitonlabs/pulsekit/internal/resultstore"
)

func testStore(t *testing.T, name string) *resultstore.Repository {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
		Profile: database.ProfileCache,
		Name:    "results",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo, err := resultstore.NewRepository(db.Conn())
	require.NoError(t, err)
	return repo
}

func testRunner(t *testing.T, backend domain.BackendClient, name string) *Runner {
	t.Helper()
	log := zerolog.Nop()
	return NewRunner(
		backend,
		experiment.NewBuilder(log),
		stability.NewEngine(stability.DefaultThresholds()),
		testStore(t, name),
		fitting.DefaultOptions(),
		Config{PollInterval: 5 * time.Millisecond, ResultTimeout: time.Second},
		log,
	)
}

func baselineSpec() domain.ExperimentSpec {
	sweep := make([]float64, 0, 12)
	for d := 0; d <= 176; d += 16 {
		sweep = append(sweep, float64(d))
	}
	return domain.ExperimentSpec{
		Type:  domain.ExperimentBaseline,
		Sweep: sweep,
		Shots: 8192,
	}
}

func TestRunBaselineEndToEnd(t *testing.T) {
	sim := localsim.New(zerolog.Nop())
	runner := testRunner(t, sim, "run_baseline")

	report, err := runner.Run(context.Background(), baselineSpec())
	require.NoError(t, err)

	assert.Len(t, report.Points, 12)
	require.NotNil(t, report.Fit)
	t2, ok := report.Fit.Param("t2_star")
	require.True(t, ok)
	assert.InDelta(t, 25, t2, 5, "recovered decay constant")
	assert.Equal(t, domain.MetricDecayRate, report.Verdict.Kind)
	assert.True(t, report.Verdict.Pass)
}

func TestRunStarkRescueImprovesVerdictMetric(t *testing.T) {
	sim := localsim.New(zerolog.Nop())
	sim.SetDecayConstants(12, 80)
	runner := testRunner(t, sim, "run_stark")

	base, err := runner.Run(context.Background(), baselineSpec())
	require.NoError(t, err)

	spec := baselineSpec()
	spec.Type = domain.ExperimentStarkRescue
	spec.FixedParams = map[string]float64{"drive_amplitude": 0.2}
	rescued, err := runner.Run(context.Background(), spec)
	require.NoError(t, err)

	assert.Less(t, rescued.Verdict.Metric, base.Verdict.Metric)
	assert.InDelta(t, 0.2, rescued.Fit.Diagnostics["drive_amplitude"], 1e-12)
}

func TestSubmitPersistsJob(t *testing.T) {
	sim := localsim.New(zerolog.Nop())
	runner := testRunner(t, sim, "submit_persists")

	handle, err := runner.Submit(context.Background(), baselineSpec())
	require.NoError(t, err)

	job, err := runner.store.GetJob(handle)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, job.Status)
	assert.Equal(t, domain.ExperimentBaseline, job.Type)
	assert.Contains(t, job.SpecYAML, "type: baseline")
}

func TestAwaitStoresBundleAndMarksDone(t *testing.T) {
	sim := localsim.New(zerolog.Nop())
	runner := testRunner(t, sim, "await_stores")

	handle, err := runner.Submit(context.Background(), baselineSpec())
	require.NoError(t, err)

	batch, err := runner.Await(context.Background(), handle)
	require.NoError(t, err)
	assert.Len(t, batch.Records, 12)

	stored, err := runner.store.GetBundle(handle)
	require.NoError(t, err)
	assert.Equal(t, batch.Records, stored.Records)

	job, err := runner.store.GetJob(handle)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusDone, job.Status)
	assert.NotNil(t, job.CompletedAt)
}

func TestAwaitTimesOut(t *testing.T) {
	sim := localsim.New(zerolog.Nop())
	sim.SetLatency(time.Hour)
	runner := testRunner(t, sim, "await_timeout")
	runner.cfg.ResultTimeout = 20 * time.Millisecond

	handle, err := runner.Submit(context.Background(), baselineSpec())
	require.NoError(t, err)

	_, err = runner.Await(context.Background(), handle)
	assert.ErrorIs(t, err, domain.ErrJobTimeout)
}

func TestReanalyzeFromStoredBundle(t *testing.T) {
	sim := localsim.New(zerolog.Nop())
	runner := testRunner(t, sim, "reanalyze")

	first, err := runner.Run(context.Background(), baselineSpec())
	require.NoError(t, err)

	again, err := runner.Reanalyze(first.Handle)
	require.NoError(t, err)
	assert.Equal(t, first.Fit.Params, again.Fit.Params)
	assert.Equal(t, first.Verdict, again.Verdict)
}

func TestReanalyzeUnknownHandle(t *testing.T) {
	runner := testRunner(t, localsim.New(zerolog.Nop()), "reanalyze_missing")
	_, err := runner.Reanalyze("no-such-handle")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

// flakyBackend fails submission a fixed number of times before delegating.
type flakyBackend struct {
	domain.BackendClient
	mu       sync.Mutex
	failures int
	calls    int
	fatal    bool
}

func (f *flakyBackend) Submit(ctx context.Context, circ *domain.CircuitDescription, calib domain.CalibrationMap, shots int) (domain.JobHandle, error) {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		if f.fatal {
			return "", fmt.Errorf("%w: malformed batch", domain.ErrInvalidWaveformParameters)
		}
		return "", fmt.Errorf("%w: transport reset", domain.ErrBackendError)
	}
	return f.BackendClient.Submit(ctx, circ, calib, shots)
}

func TestSubmitRetriesTransientFailures(t *testing.T) {
	backend := &flakyBackend{BackendClient: localsim.New(zerolog.Nop()), failures: 2}
	runner := testRunner(t, backend, "submit_retry")
	runner.cfg.RetryBaseDelay = time.Millisecond

	handle, err := runner.Submit(context.Background(), baselineSpec())
	require.NoError(t, err)
	assert.NotEmpty(t, handle)
	assert.Equal(t, 3, backend.calls)
}

func TestSubmitDoesNotRetryPermanentFailures(t *testing.T) {
	backend := &flakyBackend{BackendClient: localsim.New(zerolog.Nop()), failures: 10, fatal: true}
	runner := testRunner(t, backend, "submit_no_retry")
	runner.cfg.RetryBaseDelay = time.Millisecond

	_, err := runner.Submit(context.Background(), baselineSpec())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidWaveformParameters))
	assert.Equal(t, 1, backend.calls)
}

func TestAnalyzeRejectsShortTraces(t *testing.T) {
	batch := &domain.RawResultBatch{
		Handle: "short",
		Records: []domain.RawResult{
			{Counts: map[string]int{"1": 500, "0": 500}},
			{Counts: map[string]int{"1": 400, "0": 600}},
		},
	}
	spec := domain.ExperimentSpec{Type: domain.ExperimentBaseline, Sweep: []float64{0, 16}, Shots: 1000}

	_, err := Analyze(batch, spec, fitting.DefaultOptions(), stability.NewEngine(stability.DefaultThresholds()))
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
}

package stability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solitonlabs/pulsekit/internal/domain"
)

func decayFit(t2 float64) *domain.FitResult {
	return &domain.FitResult{
		Model:      "exponential_decay",
		Params:     []float64{0.9, t2, 0.05},
		ParamNames: []string{"amplitude", "t2_star", "offset"},
	}
}

func plateauFit(rms float64) *domain.FitResult {
	return &domain.FitResult{
		Model:       "plateau_falloff",
		Params:      []float64{0.5},
		ParamNames:  []string{"plateau_mean"},
		Diagnostics: map[string]float64{"plateau_rms": rms, "plateau_len": 20},
	}
}

func TestEvaluate_BaselineDecayRate(t *testing.T) {
	engine := NewEngine(DefaultThresholds())

	// T2* = 25 -> rate 0.04, below the 0.05 ceiling
	verdict, err := engine.Evaluate(decayFit(25), domain.ExperimentBaseline)
	require.NoError(t, err)

	assert.Equal(t, domain.MetricDecayRate, verdict.Kind)
	assert.InDelta(t, 0.04, verdict.Metric, 1e-12)
	assert.True(t, verdict.Pass)

	// T2* = 10 -> rate 0.1, the defective-qubit regime
	verdict, err = engine.Evaluate(decayFit(10), domain.ExperimentBaseline)
	require.NoError(t, err)
	assert.False(t, verdict.Pass)
}

func TestEvaluate_SolitonSSE(t *testing.T) {
	engine := NewEngine(DefaultThresholds())

	verdict, err := engine.Evaluate(plateauFit(0.0005), domain.ExperimentSolitonChain)
	require.NoError(t, err)
	assert.Equal(t, domain.MetricSSE, verdict.Kind)
	assert.Equal(t, 0.0008, verdict.Threshold)
	assert.True(t, verdict.Pass, "plateau flat within tolerance must pass")

	verdict, err = engine.Evaluate(plateauFit(0.002), domain.ExperimentSolitonChain)
	require.NoError(t, err)
	assert.False(t, verdict.Pass)
}

func TestEvaluate_Idempotent(t *testing.T) {
	engine := NewEngine(DefaultThresholds())
	fit := decayFit(25)

	first, err := engine.Evaluate(fit, domain.ExperimentStarkRescue)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := engine.Evaluate(fit, domain.ExperimentStarkRescue)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestEvaluate_ConfigurableThresholds(t *testing.T) {
	strict := NewEngine(Thresholds{DecayRate: 0.01, SSE: 0.0001})

	verdict, err := strict.Evaluate(decayFit(25), domain.ExperimentBaseline)
	require.NoError(t, err)
	assert.False(t, verdict.Pass, "rate 0.04 exceeds a 0.01 policy")

	verdict, err = strict.Evaluate(plateauFit(0.0005), domain.ExperimentSolitonChain)
	require.NoError(t, err)
	assert.False(t, verdict.Pass)
}

func TestEvaluate_Errors(t *testing.T) {
	engine := NewEngine(DefaultThresholds())

	_, err := engine.Evaluate(nil, domain.ExperimentBaseline)
	assert.Error(t, err)

	// Decay verdict needs a t2_star parameter
	_, err = engine.Evaluate(plateauFit(0.0005), domain.ExperimentBaseline)
	assert.Error(t, err)

	// Chain verdict needs plateau diagnostics
	_, err = engine.Evaluate(decayFit(25), domain.ExperimentSolitonChain)
	assert.Error(t, err)

	_, err = engine.Evaluate(decayFit(25), domain.ExperimentType("bogus"))
	assert.Error(t, err)
}

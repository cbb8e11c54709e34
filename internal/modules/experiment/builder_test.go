package experiment

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solitonlabs/pulsekit/internal/domain"
)

func testBuilder() *Builder {
	return NewBuilder(zerolog.New(nil).Level(zerolog.Disabled))
}

func TestBuild_Baseline(t *testing.T) {
	spec := domain.ExperimentSpec{
		Type:        domain.ExperimentBaseline,
		Sweep:       []float64{0, 8000, 16000},
		FixedParams: map[string]float64{"target_qubit": 26},
		Shots:       4096,
	}

	desc, calib, err := testBuilder().Build(spec)
	require.NoError(t, err)

	assert.Equal(t, 27, desc.NumQubits)
	require.Len(t, desc.Circuits, 3)
	assert.Equal(t, 0, calib.Len(), "baseline must not carry overrides")

	// Zero delay omits the delay instruction
	first := desc.Circuits[0]
	assert.Equal(t, []string{"sx", "sx", "measure"}, opNames(first.Ops))

	second := desc.Circuits[1]
	assert.Equal(t, []string{"sx", "delay", "sx", "measure"}, opNames(second.Ops))
	assert.Equal(t, []float64{8000}, second.Ops[1].Params)
}

func TestBuild_Deterministic(t *testing.T) {
	spec := domain.ExperimentSpec{
		Type:        domain.ExperimentStarkRescue,
		Sweep:       []float64{1600, 3200, 6400},
		FixedParams: map[string]float64{"target_qubit": 26, "drive_amplitude": 0.25},
		Shots:       4096,
	}

	b := testBuilder()
	desc1, calib1, err := b.Build(spec)
	require.NoError(t, err)
	desc2, calib2, err := b.Build(spec)
	require.NoError(t, err)

	assert.Equal(t, desc1, desc2)
	require.Equal(t, calib1.Len(), calib2.Len())

	keys1, keys2 := calib1.Keys(), calib2.Keys()
	assert.Equal(t, keys1, keys2)
	for i, k := range keys1 {
		w1, ok := calib1.Resolve(k)
		require.True(t, ok)
		w2, ok := calib2.Resolve(keys2[i])
		require.True(t, ok)
		assert.Equal(t, w1, w2, "calibration bindings must be bit-identical across builds")
	}
}

func TestBuild_StarkRescue(t *testing.T) {
	spec := domain.ExperimentSpec{
		Type:        domain.ExperimentStarkRescue,
		Sweep:       []float64{1600},
		FixedParams: map[string]float64{"target_qubit": 5, "drive_amplitude": 0.25},
		Shots:       4096,
	}

	desc, calib, err := testBuilder().Build(spec)
	require.NoError(t, err)
	require.Len(t, desc.Circuits, 1)

	// The delay instruction is standard; the override carries the drive.
	assert.Equal(t, []string{"sx", "delay", "sx", "measure"}, opNames(desc.Circuits[0].Ops))
	require.Equal(t, 1, calib.Len())

	key := domain.CalibrationKey{Instruction: "delay", Qubits: []int{5}, Params: []float64{1600}}
	wf, ok := calib.Resolve(key)
	require.True(t, ok)
	assert.Equal(t, domain.WaveformSmoothedSquare, wf.Kind)
	assert.Equal(t, 1600, wf.Duration)
	assert.InDelta(t, 0.25, wf.AmplitudeAbs(), 1e-12)
}

func TestBuild_StarkRescue_EchoVariant(t *testing.T) {
	spec := domain.ExperimentSpec{
		Type:  domain.ExperimentStarkRescue,
		Sweep: []float64{6400},
		FixedParams: map[string]float64{
			"target_qubit":    5,
			"drive_amplitude": 0.25,
			"echo":            1,
		},
		Shots: 4096,
	}

	desc, calib, err := testBuilder().Build(spec)
	require.NoError(t, err)
	require.Len(t, desc.Circuits, 1)

	assert.Equal(t, []string{"sx", "delay", "x", "delay", "sx", "measure"}, opNames(desc.Circuits[0].Ops))

	// The drive is bound to the half-delay duration played on each side of the echo.
	key := domain.CalibrationKey{Instruction: "delay", Qubits: []int{5}, Params: []float64{3200}}
	_, ok := calib.Resolve(key)
	assert.True(t, ok)
	assert.Equal(t, 1, calib.Len())
}

func TestBuild_StarkRescue_RejectsOverdriveBeforeSubmission(t *testing.T) {
	spec := domain.ExperimentSpec{
		Type:        domain.ExperimentStarkRescue,
		Sweep:       []float64{1600},
		FixedParams: map[string]float64{"drive_amplitude": 1.3},
		Shots:       4096,
	}

	_, _, err := testBuilder().Build(spec)
	assert.ErrorIs(t, err, domain.ErrInvalidWaveformParameters)
}

func TestBuild_StarkRescue_ZeroAmplitudeHasNoOverrides(t *testing.T) {
	spec := domain.ExperimentSpec{
		Type:        domain.ExperimentStarkRescue,
		Sweep:       []float64{1600, 3200},
		FixedParams: map[string]float64{"drive_amplitude": 0},
		Shots:       4096,
	}

	_, calib, err := testBuilder().Build(spec)
	require.NoError(t, err)
	assert.Equal(t, 0, calib.Len())
}

func TestBuild_SolitonChain(t *testing.T) {
	spec := domain.ExperimentSpec{
		Type:  domain.ExperimentSolitonChain,
		Sweep: []float64{0.0, 1.5},
		Shots: 4096,
	}

	desc, calib, err := testBuilder().Build(spec)
	require.NoError(t, err)

	assert.Equal(t, 5, desc.NumQubits)
	require.Len(t, desc.Circuits, 2)

	// 5 ry + 4*(rzz+rx) + 5 measure
	assert.Len(t, desc.Circuits[0].Ops, 18)

	// Every rotation for the second sweep point is overridden; lambda=0 and
	// lambda=1.5 share the ry preparation keys.
	_, ok := calib.Resolve(domain.CalibrationKey{Instruction: "rzz", Qubits: []int{0, 1}, Params: []float64{1.5}})
	assert.True(t, ok)
	_, ok = calib.Resolve(domain.CalibrationKey{Instruction: "ry", Qubits: []int{2}, Params: []float64{1.5707963267948966}})
	assert.True(t, ok, "the kink rotation (pi/2 on the middle qubit) must be bound")
}

func TestBuild_SolitonChain_CustomLength(t *testing.T) {
	spec := domain.ExperimentSpec{
		Type:        domain.ExperimentSolitonChain,
		Sweep:       []float64{0.5},
		FixedParams: map[string]float64{"chain_length": 3},
		Shots:       1024,
	}

	desc, _, err := testBuilder().Build(spec)
	require.NoError(t, err)
	assert.Equal(t, 3, desc.NumQubits)
	// 3 ry + 2*(rzz+rx) + 3 measure
	assert.Len(t, desc.Circuits[0].Ops, 10)
}

func TestBuild_InvalidSpec(t *testing.T) {
	_, _, err := testBuilder().Build(domain.ExperimentSpec{Type: "unknown", Sweep: []float64{1}})
	assert.Error(t, err)

	_, _, err = testBuilder().Build(domain.ExperimentSpec{Type: domain.ExperimentBaseline})
	assert.Error(t, err, "empty sweep must be rejected")
}

func opNames(ops []domain.CircuitOp) []string {
	names := make([]string, len(ops))
	for i, op := range ops {
		names[i] = op.Name
	}
	return names
}

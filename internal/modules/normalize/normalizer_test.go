package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solitonlabs/pulsekit/internal/domain"
)

func countsRecord(counts map[string]int) domain.RawResult {
	return domain.RawResult{Counts: counts}
}

func TestNormalize_CountsToPopulation(t *testing.T) {
	spec := domain.ExperimentSpec{
		Type:  domain.ExperimentBaseline,
		Sweep: []float64{0, 10, 20},
		Shots: 1000,
	}
	batch := &domain.RawResultBatch{
		Handle: "job-1",
		Records: []domain.RawResult{
			countsRecord(map[string]int{"1": 900, "0": 100}),
			countsRecord(map[string]int{"1": 700, "0": 300}),
			countsRecord(map[string]int{"1": 500, "0": 500}),
		},
	}

	points, err := Normalize(batch, spec)
	require.NoError(t, err)
	require.Len(t, points, 3)

	assert.Equal(t, 0.0, points[0].X)
	assert.InDelta(t, 0.9, points[0].Y, 1e-12)
	assert.InDelta(t, 0.7, points[1].Y, 1e-12)
	assert.InDelta(t, 0.5, points[2].Y, 1e-12)

	for _, p := range points {
		assert.Equal(t, domain.ExperimentBaseline, p.Type)
		assert.Greater(t, p.SigmaY, 0.0)
	}
	// sigma at p=0.5 over 1000 shots
	assert.InDelta(t, 0.0158, points[2].SigmaY, 1e-3)
}

func TestNormalize_SweepOrderPreserved(t *testing.T) {
	// Sweep values deliberately out of numeric order: output follows the axis.
	spec := domain.ExperimentSpec{
		Type:  domain.ExperimentBaseline,
		Sweep: []float64{50, 0, 25},
	}
	batch := &domain.RawResultBatch{
		Records: []domain.RawResult{
			countsRecord(map[string]int{"1": 1}),
			countsRecord(map[string]int{"0": 1}),
			countsRecord(map[string]int{"1": 1, "0": 1}),
		},
	}

	points, err := Normalize(batch, spec)
	require.NoError(t, err)
	assert.Equal(t, []float64{50, 0, 25}, []float64{points[0].X, points[1].X, points[2].X})
}

func TestNormalize_IncompleteResultSet(t *testing.T) {
	spec := domain.ExperimentSpec{Type: domain.ExperimentBaseline, Sweep: []float64{0, 10, 20}}

	batch := &domain.RawResultBatch{
		Records: []domain.RawResult{countsRecord(map[string]int{"1": 10})},
	}
	_, err := Normalize(batch, spec)
	assert.ErrorIs(t, err, domain.ErrIncompleteResultSet)

	_, err = Normalize(nil, spec)
	assert.ErrorIs(t, err, domain.ErrIncompleteResultSet)
}

func TestNormalize_ExpectationRecords(t *testing.T) {
	y := 0.42
	spec := domain.ExperimentSpec{Type: domain.ExperimentStarkRescue, Sweep: []float64{5}}
	batch := &domain.RawResultBatch{
		Records: []domain.RawResult{{Expectation: &y, Sigma: 0.01}},
	}

	points, err := Normalize(batch, spec)
	require.NoError(t, err)
	assert.Equal(t, 0.42, points[0].Y)
	assert.Equal(t, 0.01, points[0].SigmaY)
}

func TestNormalize_SolitonIntegrity(t *testing.T) {
	spec := domain.ExperimentSpec{Type: domain.ExperimentSolitonChain, Sweep: []float64{0.5}}

	// Intact domain wall: leading 1, trailing 0 counts as valid.
	batch := &domain.RawResultBatch{
		Records: []domain.RawResult{countsRecord(map[string]int{
			"10000": 600, // intact
			"11100": 200, // intact (interior noise allowed)
			"00001": 150, // wall destroyed
			"10001": 50,  // near end flipped
		})},
	}

	points, err := Normalize(batch, spec)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, points[0].Y, 1e-12)
}

func TestNormalize_EmptyRecord(t *testing.T) {
	spec := domain.ExperimentSpec{Type: domain.ExperimentBaseline, Sweep: []float64{0}}
	batch := &domain.RawResultBatch{Records: []domain.RawResult{{}}}

	_, err := Normalize(batch, spec)
	assert.ErrorIs(t, err, domain.ErrIncompleteResultSet)
}

func TestNormalize_PaddedBitstrings(t *testing.T) {
	// Multi-bit registers: the measured qubit is the trailing bit.
	spec := domain.ExperimentSpec{Type: domain.ExperimentBaseline, Sweep: []float64{0}}
	batch := &domain.RawResultBatch{
		Records: []domain.RawResult{countsRecord(map[string]int{"001": 30, "000": 70})},
	}

	points, err := Normalize(batch, spec)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, points[0].Y, 1e-12)
}

// Package normalize maps heterogeneous raw measurement records into the
// uniform (x, y, sigma_y) representation consumed by the model fitter.
//
// Backends return either a counts histogram or a scalar expectation value
// with its reported uncertainty; this package hides that difference behind
// one contract and computes the per-family observable plus its shot-noise
// uncertainty.
package normalize

import (
	"fmt"
	"strings"

	"github.com/solitonlabs/pulsekit/internal/domain"
)

// Normalize converts one raw result batch into exactly one NormalizedPoint
// per sweep-axis value, in sweep order. A record count that does not match
// the sweep length wraps domain.ErrIncompleteResultSet.
func Normalize(batch *domain.RawResultBatch, spec domain.ExperimentSpec) ([]domain.NormalizedPoint, error) {
	if !spec.Type.Valid() {
		return nil, fmt.Errorf("unknown experiment type %q", spec.Type)
	}
	if batch == nil || len(batch.Records) != len(spec.Sweep) {
		got := 0
		if batch != nil {
			got = len(batch.Records)
		}
		return nil, fmt.Errorf("%w: got %d records for sweep of length %d",
			domain.ErrIncompleteResultSet, got, len(spec.Sweep))
	}

	points := make([]domain.NormalizedPoint, len(spec.Sweep))
	for i, record := range batch.Records {
		y, sigma, err := observable(record, spec.Type)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		points[i] = domain.NormalizedPoint{
			X:      spec.Sweep[i],
			Y:      y,
			SigmaY: sigma,
			Type:   spec.Type,
		}
	}
	return points, nil
}

// observable computes the per-family observable and its uncertainty from
// one raw record.
func observable(record domain.RawResult, expType domain.ExperimentType) (float64, float64, error) {
	if record.Expectation != nil {
		return *record.Expectation, record.Sigma, nil
	}
	if len(record.Counts) == 0 {
		return 0, 0, fmt.Errorf("%w: record has neither counts nor expectation value",
			domain.ErrIncompleteResultSet)
	}

	shots := record.Shots()
	if shots == 0 {
		return 0, 0, fmt.Errorf("%w: counts histogram sums to zero shots",
			domain.ErrIncompleteResultSet)
	}

	var hits int
	switch expType {
	case domain.ExperimentBaseline, domain.ExperimentStarkRescue:
		// Population in |1> of the single measured qubit. The measured bit
		// is the last character of the bitstring (bit order puts the first
		// classical bit rightmost).
		for bitstr, count := range record.Counts {
			if strings.HasSuffix(bitstr, "1") {
				hits += count
			}
		}
	case domain.ExperimentSolitonChain:
		// Domain-wall integrity: fraction of shots with the far end of the
		// chain flipped (leading '1') and the near end intact (trailing '0').
		for bitstr, count := range record.Counts {
			if strings.HasPrefix(bitstr, "1") && strings.HasSuffix(bitstr, "0") {
				hits += count
			}
		}
	}

	p := float64(hits) / float64(shots)
	return p, domain.ShotNoiseSigma(p, shots), nil
}

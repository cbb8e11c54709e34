// Package fitting fits physical decay/stability models to normalized
// experiment data.
//
// Each experiment family has one model: the free-decay exponential for
// baseline and stark-rescue runs, and the two-segment plateau/falloff
// model for soliton chains. Dispatch is over the closed experiment-type
// set; an unknown type is an error, never a silent fallback.
package fitting

import (
	"fmt"
	"math"

	"github.com/solitonlabs/pulsekit/internal/domain"
)

// Options configures a fit.
type Options struct {
	// MaxIterations bounds the optimizer's major iterations.
	MaxIterations int

	// PlateauWindow is the sliding-window length, in points, used to detect
	// the plateau segment of a soliton-chain trace.
	PlateauWindow int

	// PlateauTolerance is the windowed-variance ceiling below which a
	// window still counts as plateau. The boundary rule is deliberately
	// tolerance-driven rather than a fixed cutoff.
	PlateauTolerance float64

	// DriveAmplitude, when set, is recorded in the fit diagnostics so
	// stark-rescue results can be assembled into a T2*(amplitude) curve
	// across runs.
	DriveAmplitude *float64
}

// DefaultOptions returns the fitting defaults.
func DefaultOptions() Options {
	return Options{
		MaxIterations:    2000,
		PlateauWindow:    4,
		PlateauTolerance: 1e-4,
	}
}

// Fit selects and fits the physical model for the experiment type.
// Fewer than 3 distinct x values wraps domain.ErrInsufficientData for
// every type.
func Fit(points []domain.NormalizedPoint, expType domain.ExperimentType, opts Options) (*domain.FitResult, error) {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultOptions().MaxIterations
	}
	if opts.PlateauWindow <= 1 {
		opts.PlateauWindow = DefaultOptions().PlateauWindow
	}
	if opts.PlateauTolerance <= 0 {
		opts.PlateauTolerance = DefaultOptions().PlateauTolerance
	}

	if n := distinctX(points); n < 3 {
		return nil, fmt.Errorf("%w: %d distinct x values, need at least 3", domain.ErrInsufficientData, n)
	}

	switch expType {
	case domain.ExperimentBaseline, domain.ExperimentStarkRescue:
		fit, err := fitExponential(points, opts)
		if err != nil {
			return nil, err
		}
		fit.Type = expType
		if expType == domain.ExperimentStarkRescue && opts.DriveAmplitude != nil {
			fit.Diagnostics["drive_amplitude"] = *opts.DriveAmplitude
		}
		return fit, nil

	case domain.ExperimentSolitonChain:
		fit, err := fitPlateau(points, opts)
		if err != nil {
			return nil, err
		}
		fit.Type = expType
		return fit, nil

	default:
		return nil, fmt.Errorf("unknown experiment type %q", expType)
	}
}

func distinctX(points []domain.NormalizedPoint) int {
	seen := make(map[float64]struct{}, len(points))
	for _, p := range points {
		seen[p.X] = struct{}{}
	}
	return len(seen)
}

// weight converts a point's uncertainty into a least-squares weight.
// Points without a reported sigma get unit weight.
func weight(sigma float64) float64 {
	if sigma <= 0 || math.IsNaN(sigma) {
		return 1
	}
	return 1 / (sigma * sigma)
}

// Package stability derives the final scalar stability metric and
// pass/fail classification from a fit result.
//
// The engine performs no fitting: it is a pure function over FitResult, so
// pass/fail policy (thresholds) can change without touching the physical
// models. Evaluating the same fit twice always yields the same verdict.
package stability

import (
	"fmt"

	"github.com/solitonlabs/pulsekit/internal/domain"
)

// Thresholds holds the pass/fail policy. Both values are configuration,
// justified by calibration data, never compile-time constants.
type Thresholds struct {
	// DecayRate is the maximum acceptable 1/T2* for baseline and
	// stark-rescue runs (in inverse sweep-axis units).
	DecayRate float64

	// SSE is the maximum acceptable Solitonic Stability Error for
	// soliton-chain runs.
	SSE float64
}

// DefaultThresholds returns the reference policy: T2* of at least 20 axis
// units for decay runs, and the calibration-derived 0.0008 SSE ceiling for
// chain runs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DecayRate: 0.05,
		SSE:       0.0008,
	}
}

// Engine evaluates fit results against a threshold policy.
type Engine struct {
	thresholds Thresholds
}

// NewEngine creates a stability engine with the given policy.
func NewEngine(thresholds Thresholds) *Engine {
	return &Engine{thresholds: thresholds}
}

// Evaluate computes the stability verdict for one fit result.
func (e *Engine) Evaluate(fit *domain.FitResult, expType domain.ExperimentType) (domain.StabilityVerdict, error) {
	if fit == nil {
		return domain.StabilityVerdict{}, fmt.Errorf("nil fit result")
	}

	switch expType {
	case domain.ExperimentBaseline, domain.ExperimentStarkRescue:
		t2, ok := fit.Param("t2_star")
		if !ok || t2 <= 0 {
			return domain.StabilityVerdict{}, fmt.Errorf("fit %q carries no positive t2_star parameter", fit.Model)
		}
		rate := 1 / t2
		return domain.StabilityVerdict{
			Type:      expType,
			Kind:      domain.MetricDecayRate,
			Metric:    rate,
			Threshold: e.thresholds.DecayRate,
			Pass:      rate <= e.thresholds.DecayRate,
		}, nil

	case domain.ExperimentSolitonChain:
		rms, ok := fit.Diagnostics["plateau_rms"]
		if !ok {
			return domain.StabilityVerdict{}, fmt.Errorf("fit %q carries no plateau diagnostics", fit.Model)
		}
		return domain.StabilityVerdict{
			Type:      expType,
			Kind:      domain.MetricSSE,
			Metric:    rms,
			Threshold: e.thresholds.SSE,
			Pass:      rms <= e.thresholds.SSE,
		}, nil

	default:
		return domain.StabilityVerdict{}, fmt.Errorf("unknown experiment type %q", expType)
	}
}

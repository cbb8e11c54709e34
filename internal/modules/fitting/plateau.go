package fitting

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/solitonlabs/pulsekit/internal/domain"
)

// fitPlateau fits the two-segment soliton-chain model: a near-constant
// plateau followed by exponential falloff.
//
// The plateau is the longest prefix of contiguous points whose
// sliding-window variance stays below opts.PlateauTolerance. The falloff
// segment is fitted with the exponential family when it still carries
// enough distinct points; otherwise the plateau alone is reported.
func fitPlateau(points []domain.NormalizedPoint, opts Options) (*domain.FitResult, error) {
	ys := make([]float64, len(points))
	for i, p := range points {
		ys[i] = p.Y
	}

	plateauEnd := detectPlateau(ys, opts.PlateauWindow, opts.PlateauTolerance)
	if plateauEnd < opts.PlateauWindow {
		return nil, fmt.Errorf("%w: no plateau segment within tolerance %.3g",
			domain.ErrFitDidNotConverge, opts.PlateauTolerance)
	}

	plateau := ys[:plateauEnd]
	mean := stat.Mean(plateau, nil)

	// Solitonic Stability Error: RMS deviation of the plateau from its mean.
	var sumsq float64
	for _, y := range plateau {
		d := y - mean
		sumsq += d * d
	}
	rms := math.Sqrt(sumsq / float64(len(plateau)))

	fit := &domain.FitResult{
		Model:      "plateau_falloff",
		Params:     []float64{mean},
		ParamNames: []string{"plateau_mean"},
		StdErrs:    []float64{rms / math.Sqrt(float64(len(plateau)))},
		RSS:        sumsq,
		DOF:        len(points) - 1,
		Diagnostics: map[string]float64{
			"plateau_len":  float64(plateauEnd),
			"plateau_mean": mean,
			"plateau_rms":  rms,
		},
	}

	// Falloff segment: exponential decay past the plateau boundary. The x
	// axis is shifted so the falloff starts at zero, keeping the fitted
	// amplitude on the scale of the observable.
	falloff := make([]domain.NormalizedPoint, len(points)-plateauEnd)
	copy(falloff, points[plateauEnd:])
	if len(falloff) > 0 {
		x0 := falloff[0].X
		for i := range falloff {
			falloff[i].X -= x0
		}
	}
	if distinctX(falloff) >= 3 {
		tail, err := fitExponential(falloff, opts)
		if err == nil {
			fit.Params = append(fit.Params, tail.Params...)
			fit.ParamNames = append(fit.ParamNames, "falloff_amplitude", "falloff_tau", "falloff_offset")
			fit.StdErrs = append(fit.StdErrs, tail.StdErrs...)
			fit.RSS += tail.RSS
			fit.DOF = len(points) - len(fit.Params)
		} else if !errors.Is(err, domain.ErrFitDidNotConverge) {
			return nil, err
		}
		// A non-converging falloff leaves the plateau-only fit standing;
		// the verdict depends on the plateau, not the tail.
	}

	// Model-comparison diagnostic: how the plain exponential fares on the
	// whole trace. A plateau that beats it is the solitonic signature.
	if whole, err := fitExponential(points, opts); err == nil {
		fit.Diagnostics["exponential_rss"] = whole.RSS
	}

	return fit, nil
}

// detectPlateau returns the exclusive end index of the plateau prefix:
// the furthest point covered by contiguous sliding windows whose variance
// stays at or below tolerance. Returns 0 when the very first window
// already exceeds it.
func detectPlateau(ys []float64, window int, tolerance float64) int {
	if len(ys) < window {
		return 0
	}
	end := 0
	for i := 0; i+window <= len(ys); i++ {
		if stat.Variance(ys[i:i+window], nil) > tolerance {
			break
		}
		end = i + window
	}
	return end
}

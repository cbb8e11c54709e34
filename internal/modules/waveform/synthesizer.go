// Package waveform synthesizes parametrized continuous control envelopes.
//
// Synthesis is a pure function: identical inputs always produce bit-identical
// Waveform values. Result interpretation depends on exact reproduction of the
// driven Hamiltonian, so nothing here may read clocks, randomness or state.
package waveform

import (
	"fmt"
	"math/cmplx"

	"github.com/solitonlabs/pulsekit/internal/domain"
)

// ShapeParams holds the kind-specific shape parameters.
// Unused fields are ignored for kinds that do not take them.
type ShapeParams struct {
	Sigma    float64 // Gaussian width, in dt samples
	Risefall int     // edge length of a smoothed square, in dt samples
}

// sampleAlignment is the hardware granularity for pulse durations.
// Backends reject envelopes whose length is not a multiple of this.
const sampleAlignment = 16

// AlignDuration rounds a duration in dt samples down to the hardware
// sample-alignment boundary.
func AlignDuration(duration int) int {
	return duration - (duration % sampleAlignment)
}

// Synthesize constructs a waveform of the given kind.
//
// Validation errors wrap domain.ErrInvalidWaveformParameters:
//   - duration must be positive
//   - |amplitude| must not exceed 1
//   - gaussian: sigma must be positive
//   - smoothed-square: risefall must be non-negative and 2*risefall <= duration
func Synthesize(kind domain.WaveformKind, duration int, amplitude complex128, shape ShapeParams) (domain.Waveform, error) {
	if duration <= 0 {
		return domain.Waveform{}, fmt.Errorf("%w: duration %d must be positive", domain.ErrInvalidWaveformParameters, duration)
	}
	if abs := cmplx.Abs(amplitude); abs > 1 {
		return domain.Waveform{}, fmt.Errorf("%w: |amplitude| %.4f exceeds 1", domain.ErrInvalidWaveformParameters, abs)
	}

	wf := domain.Waveform{
		Kind:      kind,
		Duration:  duration,
		Amplitude: amplitude,
	}

	switch kind {
	case domain.WaveformConstant:
		// No shape parameters.

	case domain.WaveformGaussian:
		if shape.Sigma <= 0 {
			return domain.Waveform{}, fmt.Errorf("%w: gaussian sigma %.4f must be positive", domain.ErrInvalidWaveformParameters, shape.Sigma)
		}
		wf.Sigma = shape.Sigma

	case domain.WaveformSmoothedSquare:
		if shape.Sigma <= 0 {
			return domain.Waveform{}, fmt.Errorf("%w: smoothed-square sigma %.4f must be positive", domain.ErrInvalidWaveformParameters, shape.Sigma)
		}
		if shape.Risefall < 0 {
			return domain.Waveform{}, fmt.Errorf("%w: risefall %d must be non-negative", domain.ErrInvalidWaveformParameters, shape.Risefall)
		}
		if 2*shape.Risefall > duration {
			return domain.Waveform{}, fmt.Errorf("%w: 2*risefall %d exceeds duration %d", domain.ErrInvalidWaveformParameters, 2*shape.Risefall, duration)
		}
		wf.Sigma = shape.Sigma
		wf.Risefall = shape.Risefall

	default:
		return domain.Waveform{}, fmt.Errorf("%w: unknown kind %q", domain.ErrInvalidWaveformParameters, kind)
	}

	return wf, nil
}

// StarkDrive synthesizes the off-resonant smoothed-square tone played
// concurrently with an idle period. Edge geometry follows the hardware
// calibration: sigma of 16 samples and a 32-sample rise/fall per edge,
// with the flat top absorbing the remaining duration. Durations shorter
// than the two edges collapse to an edge-only envelope.
func StarkDrive(duration int, amplitude complex128) (domain.Waveform, error) {
	const (
		edgeSigma    = 16.0
		edgeRisefall = 32
	)
	risefall := edgeRisefall
	if 2*risefall > duration {
		risefall = duration / 2
	}
	return Synthesize(domain.WaveformSmoothedSquare, duration, amplitude, ShapeParams{
		Sigma:    edgeSigma,
		Risefall: risefall,
	})
}

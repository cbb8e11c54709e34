package domain

import "errors"

// Error taxonomy for the experiment pipeline. Components wrap these with
// fmt.Errorf("...: %w", ...) so callers classify failures with errors.Is.
var (
	// ErrInvalidWaveformParameters - synthesis inputs violate kind-specific constraints
	ErrInvalidWaveformParameters = errors.New("invalid waveform parameters")

	// ErrInvalidCalibrationKey - structurally invalid key (empty qubit tuple or instruction)
	ErrInvalidCalibrationKey = errors.New("invalid calibration key")

	// ErrIncompleteResultSet - raw result count does not match the sweep length
	ErrIncompleteResultSet = errors.New("incomplete result set")

	// ErrInsufficientData - fewer than 3 distinct x values supplied to the fitter
	ErrInsufficientData = errors.New("insufficient data")

	// ErrFitDidNotConverge - optimizer exceeded its iteration budget or left parameter bounds
	ErrFitDidNotConverge = errors.New("fit did not converge")

	// ErrJobTimeout - result retrieval exceeded the caller-supplied timeout
	ErrJobTimeout = errors.New("job timeout")

	// ErrBackendError - opaque failure surfaced unchanged from the execution backend
	ErrBackendError = errors.New("backend error")

	// ErrJobNotFound - no job row or result bundle recorded for the handle
	ErrJobNotFound = errors.New("job not found")
)

// Transient reports whether err is eligible for caller-directed retry with
// backoff. Only transient external-system failures qualify; every other
// error kind indicates a logic or data defect and is fatal to the run.
func Transient(err error) bool {
	return errors.Is(err, ErrBackendError) || errors.Is(err, ErrJobTimeout)
}

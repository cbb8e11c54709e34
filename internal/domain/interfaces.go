package domain

import "context"

// CalibrationMap is the read side of a calibration override map, as seen
// by the execution boundary. The concrete implementation lives in the
// calibration module; the backend only needs deterministic enumeration.
type CalibrationMap interface {
	// Resolve returns the waveform bound to key, if any.
	Resolve(key CalibrationKey) (Waveform, bool)
	// Keys returns every bound key in a stable, sorted order.
	Keys() []CalibrationKey
	// Len returns the number of bindings.
	Len() int
}

// BackendClient is the execution-adapter boundary: job submission and
// result retrieval against the hardware/cloud backend. Implementations
// must surface opaque backend failures as ErrBackendError.
type BackendClient interface {
	// Submit sends a circuit batch plus its calibration override map and
	// returns a stable job handle.
	Submit(ctx context.Context, circuit *CircuitDescription, calib CalibrationMap, shots int) (JobHandle, error)

	// Status reports the backend-side lifecycle state of a job.
	Status(ctx context.Context, handle JobHandle) (JobStatus, error)

	// Result fetches the raw measurement records for a finished job.
	Result(ctx context.Context, handle JobHandle) (*RawResultBatch, error)
}

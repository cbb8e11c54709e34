// Package domain provides core domain models and types.
package domain

import (
	"fmt"
	"math"
	"math/cmplx"
	"strconv"
	"strings"
	"time"
)

// WaveformKind identifies the envelope family of a synthesized waveform
type WaveformKind string

const (
	// WaveformConstant is a flat envelope at a fixed complex amplitude
	WaveformConstant WaveformKind = "constant"
	// WaveformGaussian is a Gaussian envelope parametrized by sigma
	WaveformGaussian WaveformKind = "gaussian"
	// WaveformSmoothedSquare is a flat-top envelope with Gaussian rise and fall edges
	WaveformSmoothedSquare WaveformKind = "smoothed_square"
)

// Waveform is an immutable continuous control envelope.
// Duration and Risefall are in hardware time units (dt samples).
type Waveform struct {
	Kind      WaveformKind `json:"kind"`
	Duration  int          `json:"duration"`
	Amplitude complex128   `json:"-"`
	Sigma     float64      `json:"sigma,omitempty"`
	Risefall  int          `json:"risefall,omitempty"`
}

// Width returns the flat-top length of a smoothed-square envelope.
// Zero for other kinds.
func (w Waveform) Width() int {
	if w.Kind != WaveformSmoothedSquare {
		return 0
	}
	width := w.Duration - 2*w.Risefall
	if width < 0 {
		width = 0
	}
	return width
}

// AmplitudeAbs returns |amplitude|.
func (w Waveform) AmplitudeAbs() float64 {
	return cmplx.Abs(w.Amplitude)
}

// ExperimentType identifies one of the supported experiment families
type ExperimentType string

const (
	// ExperimentBaseline is a free-decay Ramsey reference on a single qubit
	ExperimentBaseline ExperimentType = "baseline"
	// ExperimentStarkRescue drives the idle qubit off-resonance during the delay
	ExperimentStarkRescue ExperimentType = "stark-rescue"
	// ExperimentSolitonChain prepares a domain wall on an N-qubit chain under correlated noise
	ExperimentSolitonChain ExperimentType = "soliton-chain"
)

// ExperimentTypes lists every supported experiment family.
// Components that dispatch on type iterate this in tests to stay exhaustive.
var ExperimentTypes = []ExperimentType{
	ExperimentBaseline,
	ExperimentStarkRescue,
	ExperimentSolitonChain,
}

// Valid reports whether t is a known experiment type.
func (t ExperimentType) Valid() bool {
	switch t {
	case ExperimentBaseline, ExperimentStarkRescue, ExperimentSolitonChain:
		return true
	}
	return false
}

// ExperimentSpec describes one experiment run: the family, the sweep axis
// and any fixed parameters (drive amplitude, chain length, echo flag, ...).
type ExperimentSpec struct {
	Type        ExperimentType     `json:"type" yaml:"type"`
	Sweep       []float64          `json:"sweep" yaml:"sweep"`
	FixedParams map[string]float64 `json:"fixed_params,omitempty" yaml:"fixed_params,omitempty"`
	Shots       int                `json:"shots" yaml:"shots"`
}

// FixedParam returns the named fixed parameter, or fallback when absent.
func (s ExperimentSpec) FixedParam(name string, fallback float64) float64 {
	if v, ok := s.FixedParams[name]; ok {
		return v
	}
	return fallback
}

// CalibrationKey identifies one (instruction, qubits, params) binding
// in a calibration override map.
type CalibrationKey struct {
	Instruction string
	Qubits      []int
	Params      []float64
}

// String renders the key in canonical form, usable as a map key and
// stable across runs (required for deterministic builds).
func (k CalibrationKey) String() string {
	var sb strings.Builder
	sb.WriteString(k.Instruction)
	sb.WriteByte('|')
	for i, q := range k.Qubits {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(q))
	}
	sb.WriteByte('|')
	for i, p := range k.Params {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(p, 'g', -1, 64))
	}
	return sb.String()
}

// CircuitOp is a single named instruction in a circuit description.
type CircuitOp struct {
	Name   string    `json:"name"`
	Qubits []int     `json:"qubits"`
	Params []float64 `json:"params,omitempty"`
}

// Circuit is an ordered instruction list for one sweep point.
type Circuit struct {
	SweepValue float64     `json:"sweep_value"`
	Ops        []CircuitOp `json:"ops"`
}

// CircuitDescription is the standards-compliant circuit batch handed to the
// execution backend: only named instructions, one circuit per sweep point.
// Pulse-level content travels separately in the calibration override map.
type CircuitDescription struct {
	NumQubits int       `json:"num_qubits"`
	Circuits  []Circuit `json:"circuits"`
}

// JobHandle is an opaque backend job identifier. Handles are stable:
// a handle recorded from one run retrieves the same results later.
type JobHandle string

// JobStatus reflects the backend-side lifecycle of a submitted job
type JobStatus string

const (
	JobStatusQueued  JobStatus = "queued"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusError   JobStatus = "error"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusError
}

// RawResult is one sweep point's backend measurement record. Exactly one of
// Counts or Expectation is populated, per the minimal retrieval contract.
type RawResult struct {
	Counts      map[string]int `json:"counts,omitempty" msgpack:"counts,omitempty"`
	Expectation *float64       `json:"expectation,omitempty" msgpack:"expectation,omitempty"`
	Sigma       float64        `json:"sigma,omitempty" msgpack:"sigma,omitempty"`
}

// Shots returns the total shot count of a counts record.
func (r RawResult) Shots() int {
	total := 0
	for _, c := range r.Counts {
		total += c
	}
	return total
}

// RawResultBatch is the full retrieval payload for one job handle.
type RawResultBatch struct {
	Handle  JobHandle   `json:"handle" msgpack:"handle"`
	Records []RawResult `json:"records" msgpack:"records"`
}

// NormalizedPoint is the uniform intermediate representation consumed by
// the model fitter: one observable value with uncertainty per sweep value.
type NormalizedPoint struct {
	X      float64        `json:"x"`
	Y      float64        `json:"y"`
	SigmaY float64        `json:"sigma_y"`
	Type   ExperimentType `json:"type"`
}

// FitResult holds the outcome of fitting a physical model to a
// normalized point sequence.
type FitResult struct {
	Model       string             `json:"model"`
	Type        ExperimentType     `json:"type"`
	Params      []float64          `json:"params"`
	ParamNames  []string           `json:"param_names"`
	StdErrs     []float64          `json:"std_errs"`
	RSS         float64            `json:"rss"`
	DOF         int                `json:"dof"`
	Diagnostics map[string]float64 `json:"diagnostics,omitempty"`
}

// Param returns the fitted parameter with the given name.
func (f *FitResult) Param(name string) (float64, bool) {
	for i, n := range f.ParamNames {
		if n == name {
			return f.Params[i], true
		}
	}
	return 0, false
}

// MetricKind identifies the scalar stability metric family
type MetricKind string

const (
	// MetricDecayRate is 1/T2*, lower is more stable
	MetricDecayRate MetricKind = "decay-rate"
	// MetricSSE is the Solitonic Stability Error, the RMS deviation of the plateau from its mean
	MetricSSE MetricKind = "sse"
)

// StabilityVerdict is the final pass/fail classification for one run.
type StabilityVerdict struct {
	Type      ExperimentType `json:"type"`
	Kind      MetricKind     `json:"kind"`
	Metric    float64        `json:"metric"`
	Threshold float64        `json:"threshold"`
	Pass      bool           `json:"pass"`
}

// String renders the verdict for CLI and log output.
func (v StabilityVerdict) String() string {
	status := "FAIL"
	if v.Pass {
		status = "PASS"
	}
	return fmt.Sprintf("%s [%s] metric=%.6g threshold=%.6g -> %s",
		v.Type, v.Kind, v.Metric, v.Threshold, status)
}

// Job is the persisted record of one submitted experiment run.
type Job struct {
	Handle      JobHandle      `json:"handle"`
	Type        ExperimentType `json:"type"`
	Status      JobStatus      `json:"status"`
	SpecYAML    string         `json:"spec_yaml,omitempty"`
	SubmittedAt time.Time      `json:"submitted_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// ShotNoiseSigma returns the binomial shot-noise uncertainty of an
// estimated probability p over n shots. For p at the {0,1} boundary the
// 1/n rule-of-thumb floor is used so fit weights stay finite.
func ShotNoiseSigma(p float64, n int) float64 {
	if n <= 0 {
		return 0
	}
	variance := p * (1 - p) / float64(n)
	if variance <= 0 {
		return 1 / float64(n)
	}
	return math.Sqrt(variance)
}

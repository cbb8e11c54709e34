// Package localsim provides a deterministic in-process execution backend.
//
// It stands in for the hardware backend during development and tests:
// submitted circuits produce synthetic measurement records from closed-form
// models (free exponential decay, drive-rescued decay, and the sigmoidal
// domain-wall integrity curve), with counts rounded deterministically so
// repeated runs are bit-identical.
package localsim

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/solitonlabs/pulsekit/internal/domain"
)

const defaultShots = 4096

// Simulator is an in-process BackendClient.
type Simulator struct {
	log zerolog.Logger

	// decay model, in sweep-axis units
	t2       float64
	rescueT2 float64

	// sigmoid domain-wall integrity model
	plateauLevel float64
	critical     float64
	steepness    float64

	latency time.Duration

	mu   sync.Mutex
	jobs map[domain.JobHandle]*simJob
}

type simJob struct {
	batch   *domain.RawResultBatch
	readyAt time.Time
}

// New creates a simulator with reference physics: a free-decay constant of
// 25 sweep units, rescue extending it to 100, and a solitonic integrity
// plateau at 0.5 collapsing past a critical noise strength of 1.5.
func New(log zerolog.Logger) *Simulator {
	return &Simulator{
		log:          log.With().Str("client", "localsim").Logger(),
		t2:           25,
		rescueT2:     100,
		plateauLevel: 0.5,
		critical:     1.5,
		steepness:    5,
		jobs:         make(map[domain.JobHandle]*simJob),
	}
}

// SetDecayConstants overrides the free and rescued decay constants.
func (s *Simulator) SetDecayConstants(t2, rescueT2 float64) {
	s.t2 = t2
	s.rescueT2 = rescueT2
}

// SetLatency makes jobs stay in the running state for d after submission.
func (s *Simulator) SetLatency(d time.Duration) {
	s.latency = d
}

// Submit simulates the circuit batch and records the synthetic results.
func (s *Simulator) Submit(ctx context.Context, circuit *domain.CircuitDescription, calib domain.CalibrationMap, shots int) (domain.JobHandle, error) {
	if circuit == nil || len(circuit.Circuits) == 0 {
		return "", fmt.Errorf("%w: empty circuit batch", domain.ErrBackendError)
	}
	if shots <= 0 {
		shots = defaultShots
	}

	handle := domain.JobHandle(uuid.NewString())
	batch := &domain.RawResultBatch{Handle: handle}

	for _, circ := range circuit.Circuits {
		batch.Records = append(batch.Records, s.simulate(circ, calib, shots))
	}

	s.mu.Lock()
	s.jobs[handle] = &simJob{batch: batch, readyAt: time.Now().Add(s.latency)}
	s.mu.Unlock()

	s.log.Debug().
		Str("handle", string(handle)).
		Int("circuits", len(circuit.Circuits)).
		Msg("Simulated job recorded")

	return handle, nil
}

// Status reports done once the simulated queue latency has elapsed.
func (s *Simulator) Status(ctx context.Context, handle domain.JobHandle) (domain.JobStatus, error) {
	s.mu.Lock()
	job, ok := s.jobs[handle]
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrJobNotFound, handle)
	}
	if time.Now().Before(job.readyAt) {
		return domain.JobStatusRunning, nil
	}
	return domain.JobStatusDone, nil
}

// Result returns the synthetic records for a finished job.
func (s *Simulator) Result(ctx context.Context, handle domain.JobHandle) (*domain.RawResultBatch, error) {
	s.mu.Lock()
	job, ok := s.jobs[handle]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, handle)
	}
	if time.Now().Before(job.readyAt) {
		return nil, fmt.Errorf("%w: job %s still pending", domain.ErrBackendError, handle)
	}
	return job.batch, nil
}

// simulate produces one circuit's counts histogram.
func (s *Simulator) simulate(circ domain.Circuit, calib domain.CalibrationMap, shots int) domain.RawResult {
	if isChainCircuit(circ) {
		// Sigmoidal domain-wall integrity vs noise strength.
		lambda := circ.SweepValue
		integrity := s.plateauLevel / (1 + math.Exp(s.steepness*(lambda-s.critical)))
		intact := int(math.Round(integrity * float64(shots)))
		width := chainWidth(circ)
		return domain.RawResult{Counts: map[string]int{
			"1" + strings.Repeat("0", width-1): intact,
			strings.Repeat("0", width-1) + "1": shots - intact,
		}}
	}

	// Ramsey decay: a bound calibration means the delay carries a drive.
	t2 := s.t2
	if calib != nil && calib.Len() > 0 {
		t2 = s.rescueT2
	}
	p1 := 0.9*math.Exp(-circ.SweepValue/t2) + 0.05
	ones := int(math.Round(p1 * float64(shots)))
	return domain.RawResult{Counts: map[string]int{
		"1": ones,
		"0": shots - ones,
	}}
}

func isChainCircuit(circ domain.Circuit) bool {
	for _, op := range circ.Ops {
		if op.Name == "rzz" {
			return true
		}
	}
	return false
}

func chainWidth(circ domain.Circuit) int {
	width := 0
	for _, op := range circ.Ops {
		if op.Name == "measure" {
			width++
		}
	}
	if width < 2 {
		width = 2
	}
	return width
}

var _ domain.BackendClient = (*Simulator)(nil)

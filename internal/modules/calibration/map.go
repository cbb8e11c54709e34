// Package calibration implements the instruction-level calibration override map.
//
// The map binds synthesized waveforms to (instruction, qubits, params) keys,
// replacing the default pulse implementations the compiler would otherwise
// use. The circuit handed to the backend stays composed of named instructions
// already legal at the instruction-set boundary; each named instruction
// carries an arbitrary engineered waveform for the qubits it targets. This is
// how the pipeline obtains pulse-level control through a restricted
// high-level execution interface.
package calibration

import (
	"fmt"
	"sort"

	"github.com/solitonlabs/pulsekit/internal/domain"
)

type entry struct {
	key      domain.CalibrationKey
	waveform domain.Waveform
}

// OverrideMap maps calibration keys to waveforms. One map is exclusively
// owned by one experiment build; it is never shared across runs, so no
// locking is needed.
type OverrideMap struct {
	entries map[string]entry
}

// NewOverrideMap creates an empty override map.
func NewOverrideMap() *OverrideMap {
	return &OverrideMap{entries: make(map[string]entry)}
}

// Bind inserts or replaces the waveform for key (last write wins).
// A structurally invalid key wraps domain.ErrInvalidCalibrationKey.
func (m *OverrideMap) Bind(key domain.CalibrationKey, wf domain.Waveform) error {
	if key.Instruction == "" {
		return fmt.Errorf("%w: empty instruction name", domain.ErrInvalidCalibrationKey)
	}
	if len(key.Qubits) == 0 {
		return fmt.Errorf("%w: empty qubit tuple for instruction %q", domain.ErrInvalidCalibrationKey, key.Instruction)
	}
	m.entries[key.String()] = entry{key: key, waveform: wf}
	return nil
}

// Resolve returns the waveform bound to key, if any.
func (m *OverrideMap) Resolve(key domain.CalibrationKey) (domain.Waveform, bool) {
	e, ok := m.entries[key.String()]
	return e.waveform, ok
}

// Len returns the number of bindings.
func (m *OverrideMap) Len() int {
	return len(m.entries)
}

// Keys returns every bound key sorted by canonical form. Deterministic
// ordering is required so identical specs serialize to identical
// calibration payloads.
func (m *OverrideMap) Keys() []domain.CalibrationKey {
	canonical := make([]string, 0, len(m.entries))
	for k := range m.entries {
		canonical = append(canonical, k)
	}
	sort.Strings(canonical)

	keys := make([]domain.CalibrationKey, len(canonical))
	for i, c := range canonical {
		keys[i] = m.entries[c].key
	}
	return keys
}

var _ domain.CalibrationMap = (*OverrideMap)(nil)

package qbackend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solitonlabs/pulsekit/internal/domain"
	"github.com/solitonlabs/pulsekit/internal/modules/calibration"
	"github.com/solitonlabs/pulsekit/internal/modules/waveform"
)

func testCircuit() *domain.CircuitDescription {
	return &domain.CircuitDescription{
		NumQubits: 1,
		Circuits: []domain.Circuit{{
			SweepValue: 16,
			Ops: []domain.CircuitOp{
				{Name: "sx", Qubits: []int{0}},
				{Name: "delay", Qubits: []int{0}, Params: []float64{16}},
				{Name: "measure", Qubits: []int{0}},
			},
		}},
	}
}

func TestSubmitSerializesCalibrations(t *testing.T) {
	var captured submitRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/jobs", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(submitResponse{Handle: "job-1"})
	}))
	defer srv.Close()

	wf, err := waveform.StarkDrive(640, 0.25)
	require.NoError(t, err)
	calib := calibration.NewOverrideMap()
	key := domain.CalibrationKey{Instruction: "delay", Qubits: []int{26}, Params: []float64{640}}
	require.NoError(t, calib.Bind(key, wf))

	client := NewClient(srv.URL, zerolog.Nop())
	handle, err := client.Submit(context.Background(), testCircuit(), calib, 2048)
	require.NoError(t, err)
	assert.Equal(t, domain.JobHandle("job-1"), handle)

	require.Len(t, captured.Calibrations, 1)
	entry := captured.Calibrations[0]
	assert.Equal(t, "delay", entry.Instruction)
	assert.Equal(t, []int{26}, entry.Qubits)
	assert.Equal(t, 640, entry.Duration)
	assert.Equal(t, 0.25, entry.AmpRe)
	assert.Equal(t, 0.0, entry.AmpIm)
	assert.Equal(t, 2048, captured.Shots)
}

func TestSubmitWrapsTransportFailures(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", zerolog.Nop())

	_, err := client.Submit(context.Background(), testCircuit(), calibration.NewOverrideMap(), 1024)
	assert.ErrorIs(t, err, domain.ErrBackendError)
	assert.True(t, domain.Transient(err))
}

func TestStatusMapsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, zerolog.Nop())
	_, err := client.Status(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestStatusDecodesLifecycle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/jobs/job-2/status", r.URL.Path)
		json.NewEncoder(w).Encode(statusResponse{Status: "running"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, zerolog.Nop())
	status, err := client.Status(context.Background(), "job-2")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRunning, status)
}

func TestResultPendingIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, zerolog.Nop())
	_, err := client.Result(context.Background(), "job-3")
	assert.ErrorIs(t, err, domain.ErrBackendError)
	assert.True(t, domain.Transient(err))
}

func TestResultDecodesBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(domain.RawResultBatch{
			Records: []domain.RawResult{{Counts: map[string]int{"1": 700, "0": 300}}},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, zerolog.Nop())
	batch, err := client.Result(context.Background(), "job-4")
	require.NoError(t, err)
	assert.Equal(t, domain.JobHandle("job-4"), batch.Handle)
	require.Len(t, batch.Records, 1)
	assert.Equal(t, 1000, batch.Records[0].Shots())
}

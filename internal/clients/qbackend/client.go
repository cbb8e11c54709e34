// Package qbackend provides the HTTP execution-adapter client: job
// submission and result retrieval against the hardware/cloud backend.
//
// The backend is an external collaborator; every opaque failure is
// surfaced unchanged, wrapped in domain.ErrBackendError so callers can
// apply their transient-retry policy.
package qbackend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/solitonlabs/pulsekit/internal/domain"
)

// Client talks to the execution backend over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new backend client.
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log.With().Str("client", "qbackend").Logger(),
	}
}

// calibrationEntry is the wire form of one override binding. The complex
// amplitude travels as separate real/imaginary parts.
type calibrationEntry struct {
	Instruction string    `json:"instruction"`
	Qubits      []int     `json:"qubits"`
	Params      []float64 `json:"params"`
	Kind        string    `json:"kind"`
	Duration    int       `json:"duration"`
	AmpRe       float64   `json:"amp_re"`
	AmpIm       float64   `json:"amp_im"`
	Sigma       float64   `json:"sigma,omitempty"`
	Risefall    int       `json:"risefall,omitempty"`
}

type submitRequest struct {
	Circuit      *domain.CircuitDescription `json:"circuit"`
	Calibrations []calibrationEntry         `json:"calibrations"`
	Shots        int                        `json:"shots"`
}

type submitResponse struct {
	Handle string `json:"handle"`
}

type statusResponse struct {
	Status string `json:"status"`
}

// Submit sends a circuit batch with its calibration overrides and returns
// the backend's job handle.
func (c *Client) Submit(ctx context.Context, circuit *domain.CircuitDescription, calib domain.CalibrationMap, shots int) (domain.JobHandle, error) {
	req := submitRequest{Circuit: circuit, Shots: shots}

	// Keys() is sorted, so identical builds serialize identically.
	for _, key := range calib.Keys() {
		wf, ok := calib.Resolve(key)
		if !ok {
			continue
		}
		req.Calibrations = append(req.Calibrations, calibrationEntry{
			Instruction: key.Instruction,
			Qubits:      key.Qubits,
			Params:      key.Params,
			Kind:        string(wf.Kind),
			Duration:    wf.Duration,
			AmpRe:       real(wf.Amplitude),
			AmpIm:       imag(wf.Amplitude),
			Sigma:       wf.Sigma,
			Risefall:    wf.Risefall,
		})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode submit request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/jobs", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build submit request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: submit failed: %v", domain.ErrBackendError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("%w: submit returned status %d", domain.ErrBackendError, resp.StatusCode)
	}

	var parsed submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%w: invalid submit response: %v", domain.ErrBackendError, err)
	}
	if parsed.Handle == "" {
		return "", fmt.Errorf("%w: submit response carried no job handle", domain.ErrBackendError)
	}

	c.log.Info().
		Str("handle", parsed.Handle).
		Int("circuits", len(circuit.Circuits)).
		Int("calibrations", calib.Len()).
		Msg("Job submitted")

	return domain.JobHandle(parsed.Handle), nil
}

// Status reports the backend-side lifecycle state of a job.
func (c *Client) Status(ctx context.Context, handle domain.JobHandle) (domain.JobStatus, error) {
	url := fmt.Sprintf("%s/v1/jobs/%s/status", c.baseURL, handle)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build status request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: status fetch failed: %v", domain.ErrBackendError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("%w: %s", domain.ErrJobNotFound, handle)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status returned %d", domain.ErrBackendError, resp.StatusCode)
	}

	var parsed statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%w: invalid status response: %v", domain.ErrBackendError, err)
	}
	return domain.JobStatus(parsed.Status), nil
}

// Result fetches the raw measurement records for a finished job.
func (c *Client) Result(ctx context.Context, handle domain.JobHandle) (*domain.RawResultBatch, error) {
	url := fmt.Sprintf("%s/v1/jobs/%s/result", c.baseURL, handle)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build result request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: result fetch failed: %v", domain.ErrBackendError, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// fall through to decode
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, handle)
	case http.StatusAccepted:
		return nil, fmt.Errorf("%w: job %s still pending", domain.ErrBackendError, handle)
	default:
		return nil, fmt.Errorf("%w: result returned %d", domain.ErrBackendError, resp.StatusCode)
	}

	var batch domain.RawResultBatch
	if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
		return nil, fmt.Errorf("%w: invalid result payload: %v", domain.ErrBackendError, err)
	}
	if batch.Handle == "" {
		batch.Handle = handle
	}

	c.log.Debug().
		Str("handle", string(handle)).
		Int("records", len(batch.Records)).
		Msg("Result batch retrieved")

	return &batch, nil
}

var _ domain.BackendClient = (*Client)(nil)

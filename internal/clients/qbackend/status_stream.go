package qbackend

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/solitonlabs/pulsekit/internal/domain"
)

const (
	dialTimeout        = 30 * time.Second
	baseReconnectDelay = 5 * time.Second
	maxReconnectDelay  = 5 * time.Minute
)

// StatusEvent is one job lifecycle update pushed by the backend.
type StatusEvent struct {
	Handle domain.JobHandle `json:"handle"`
	Status domain.JobStatus `json:"status"`
}

// StatusHandler receives job status events.
type StatusHandler func(StatusEvent)

// StatusStream subscribes to backend job-status updates over a websocket,
// so completion is observed without waiting for the next poll cycle. The
// stream reconnects with capped exponential backoff; the poller remains
// the source of truth when the stream is down.
type StatusStream struct {
	url     string
	handler StatusHandler
	log     zerolog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	cancel   context.CancelFunc
	stopChan chan struct{}
	stopped  bool
}

// NewStatusStream creates a status stream client.
func NewStatusStream(url string, handler StatusHandler, log zerolog.Logger) *StatusStream {
	return &StatusStream{
		url:      url,
		handler:  handler,
		log:      log.With().Str("component", "status_stream").Logger(),
		stopChan: make(chan struct{}),
	}
}

// Start connects and begins the read loop in the background. A failed
// initial connection is not fatal; the reconnect loop keeps trying.
func (s *StatusStream) Start() {
	go s.run()
}

// Stop closes the connection and halts reconnection.
func (s *StatusStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.stopChan)
	if s.cancel != nil {
		s.cancel()
	}
	if s.conn != nil {
		_ = s.conn.Close(websocket.StatusNormalClosure, "shutting down")
	}
}

func (s *StatusStream) run() {
	delay := baseReconnectDelay
	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		if err := s.connectAndRead(); err != nil {
			s.log.Warn().Err(err).Dur("retry_in", delay).Msg("Status stream disconnected")
		}

		select {
		case <-s.stopChan:
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (s *StatusStream) connectAndRead() error {
	ctx, cancel := context.WithCancel(context.Background())

	dialCtx, dialCancel := context.WithTimeout(ctx, dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, s.url, nil)
	dialCancel()
	if err != nil {
		cancel()
		return err
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		cancel()
		return conn.Close(websocket.StatusNormalClosure, "stopped")
	}
	s.conn = conn
	s.cancel = cancel
	s.mu.Unlock()

	s.log.Info().Str("url", s.url).Msg("Status stream connected")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var event StatusEvent
		if err := json.Unmarshal(data, &event); err != nil {
			s.log.Debug().Err(err).Msg("Ignoring malformed status event")
			continue
		}
		if event.Handle == "" {
			continue
		}
		s.handler(event)
	}
}

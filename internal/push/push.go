// Package push implements the long-lived channels the server pushes
// over: the collection invalidation stream (SSE) and the per-run log
// stream (websocket). Both reconnect with exponential backoff and
// report every dropped connection on the subscription's error channel.
package push

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hochfrequenz/orch-console/internal/clock"
)

// ErrUnsupported is returned by a dialer that cannot open push
// channels at all. Callers fall back to polling.
var ErrUnsupported = errors.New("push: channel not supported")

// Backoff constants for reconnection
const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2
)

// calculateBackoff returns the delay for a given attempt number using exponential backoff
func calculateBackoff(attempt int) time.Duration {
	delay := initialBackoff
	for i := 0; i < attempt; i++ {
		delay *= backoffFactor
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// Event is one message received on a push channel. Type is the SSE
// event name; websocket frames use "message".
type Event struct {
	Type string
	Data []byte
}

// Subscription is an open push channel. Events and Errors are closed
// after Close returns.
type Subscription interface {
	Events() <-chan Event
	Errors() <-chan error
	Close() error
}

// connectFunc holds one connection open, handing each received event
// to emit until the connection ends. emit returns false once the
// subscription is closing.
type connectFunc func(ctx context.Context, emit func(Event) bool) error

// stream runs connect in a loop until closed
type stream struct {
	events chan Event
	errors chan error
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func startStream(parent context.Context, clk clock.Clock, logger *slog.Logger, connect connectFunc) *stream {
	ctx, cancel := context.WithCancel(parent)
	s := &stream{
		events: make(chan Event, 16),
		errors: make(chan error, 4),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run(ctx, clk, logger, connect)
	return s
}

func (s *stream) run(ctx context.Context, clk clock.Clock, logger *slog.Logger, connect connectFunc) {
	defer close(s.done)
	defer close(s.errors)
	defer close(s.events)

	attempt := 0
	for {
		received := false
		emit := func(e Event) bool {
			received = true
			select {
			case s.events <- e:
				return true
			case <-ctx.Done():
				return false
			}
		}

		err := connect(ctx, emit)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errors.New("push: stream closed by server")
		}
		if received {
			attempt = 0
		}

		select {
		case s.errors <- err:
		default:
			// Consumer is behind on errors; it will see a later one.
		}

		delay := calculateBackoff(attempt)
		attempt++
		logger.Debug("push channel disconnected", "error", err, "retry_in", delay)

		select {
		case <-ctx.Done():
			return
		case <-clk.After(delay):
		}
	}
}

func (s *stream) Events() <-chan Event { return s.events }

func (s *stream) Errors() <-chan error { return s.errors }

// Close stops the stream and waits for its goroutine to exit
func (s *stream) Close() error {
	s.once.Do(s.cancel)
	<-s.done
	return nil
}

package push

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hochfrequenz/orch-console/internal/clock"
)

// writeWait is time allowed to write a control message
const writeWait = 10 * time.Second

// LogStreamConfig configures a LogDialer
type LogStreamConfig struct {
	// BaseURL is the server root (http/https); it is rewritten to ws/wss.
	BaseURL string
	// Header is sent with the websocket handshake.
	Header http.Header
	// Dialer is used for connecting. If nil, websocket.DefaultDialer is used.
	Dialer *websocket.Dialer
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
	// Clock drives the reconnect backoff. If nil, clock.Real() is used.
	Clock clock.Clock
}

// LogDialer opens per-run log streams over websockets
type LogDialer struct {
	baseURL string
	header  http.Header
	dialer  *websocket.Dialer
	logger  *slog.Logger
	clock   clock.Clock
}

// NewLogDialer creates a LogDialer
func NewLogDialer(cfg LogStreamConfig) (*LogDialer, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("push: invalid BaseURL %q", cfg.BaseURL)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("push: unsupported scheme %q", u.Scheme)
	}

	d := &LogDialer{
		baseURL: strings.TrimRight(u.String(), "/"),
		header:  cfg.Header.Clone(),
		dialer:  cfg.Dialer,
		logger:  cfg.Logger,
		clock:   cfg.Clock,
	}
	if d.dialer == nil {
		d.dialer = websocket.DefaultDialer
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.clock == nil {
		d.clock = clock.Real()
	}
	return d, nil
}

// RunLogPath returns the log stream endpoint of one run
func RunLogPath(taskID, runID string) string {
	return "/api/tasks/" + url.PathEscape(taskID) + "/runs/" + url.PathEscape(runID) + "/logs/ws"
}

// OpenRunLog subscribes to the log stream of one run. Each websocket
// text frame becomes one Event with Type "message".
func (d *LogDialer) OpenRunLog(ctx context.Context, taskID, runID string) (Subscription, error) {
	target := d.baseURL + RunLogPath(taskID, runID)
	logger := d.logger.With("task_id", taskID, "run_id", runID)
	return startStream(ctx, d.clock, logger, func(ctx context.Context, emit func(Event) bool) error {
		return d.connect(ctx, target, emit)
	}), nil
}

func (d *LogDialer) connect(ctx context.Context, target string, emit func(Event) bool) error {
	conn, resp, err := d.dialer.DialContext(ctx, target, d.header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("push: dial log stream: %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("push: dial log stream: %w", err)
	}
	defer conn.Close()

	// Unblock ReadMessage when the subscription closes.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(writeWait)
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			conn.Close()
		case <-stop:
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("push: reading log stream: %w", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if !emit(Event{Type: "message", Data: data}) {
			return nil
		}
	}
}

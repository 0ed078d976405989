package push

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hochfrequenz/orch-console/internal/clock"
)

// SSEConfig configures an EventSource
type SSEConfig struct {
	// BaseURL is the server root; endpoints passed to Subscribe are
	// appended to it.
	BaseURL string
	// Header is added to every request (auth).
	Header http.Header
	// HTTPClient must not have a short Timeout: streams are long-lived.
	// If nil, a client without timeout is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
	// Clock drives the reconnect backoff. If nil, clock.Real() is used.
	Clock clock.Clock
}

// EventSource opens Server-Sent Event subscriptions
type EventSource struct {
	baseURL    string
	header     http.Header
	httpClient *http.Client
	logger     *slog.Logger
	clock      clock.Clock
}

// NewEventSource creates an EventSource
func NewEventSource(cfg SSEConfig) (*EventSource, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("push: BaseURL is required")
	}
	es := &EventSource{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		header:     cfg.Header.Clone(),
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
		clock:      cfg.Clock,
	}
	if es.httpClient == nil {
		es.httpClient = &http.Client{}
	}
	if es.logger == nil {
		es.logger = slog.Default()
	}
	if es.clock == nil {
		es.clock = clock.Real()
	}
	return es, nil
}

// Subscribe opens a subscription to endpoint (e.g. "/api/events"). The
// connection is established in the background; failures arrive on
// Errors and are retried until Close.
func (es *EventSource) Subscribe(ctx context.Context, endpoint string) (Subscription, error) {
	url := es.baseURL + endpoint
	logger := es.logger.With("endpoint", endpoint)
	return startStream(ctx, es.clock, logger, func(ctx context.Context, emit func(Event) bool) error {
		return es.connect(ctx, url, emit)
	}), nil
}

func (es *EventSource) connect(ctx context.Context, url string, emit func(Event) bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	for k, v := range es.header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := es.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("push: connecting to events: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("push: events endpoint returned %d", resp.StatusCode)
	}

	scanner := NewSSEScanner(resp.Body)
	for scanner.Next() {
		event := scanner.Event()
		if !emit(Event{Type: event.Type, Data: []byte(event.Data)}) {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("push: reading events: %w", err)
	}
	return nil
}

// SSEEvent is a single event parsed from an SSE stream
type SSEEvent struct {
	// Type is the "event:" field; "message" when absent.
	Type string
	// Data is the payload; multiple "data:" lines are joined with newlines.
	Data string
}

// SSEScanner reads Server-Sent Events from an io.Reader. Events are
// delimited by blank lines; comment lines and unknown fields are
// ignored.
type SSEScanner struct {
	reader  *bufio.Reader
	current SSEEvent
	err     error
}

// NewSSEScanner creates a scanner that reads SSE events from r
func NewSSEScanner(r io.Reader) *SSEScanner {
	return &SSEScanner{reader: bufio.NewReaderSize(r, 64*1024)}
}

// Next advances to the next event. It returns false at the end of the
// stream or on error; Err distinguishes the two.
func (s *SSEScanner) Next() bool {
	if s.err != nil {
		return false
	}
	s.current = SSEEvent{}

	var dataLines []string
	var eventType string
	hasData := false

	dispatch := func() {
		if eventType == "" {
			eventType = "message"
		}
		s.current = SSEEvent{Type: eventType, Data: strings.Join(dataLines, "\n")}
	}

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && line == "" {
			s.err = err
			if err == io.EOF && hasData {
				dispatch()
				return true
			}
			return false
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if hasData {
				dispatch()
				return true
			}
			eventType = ""
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, hasColon := strings.Cut(line, ":")
		if hasColon {
			value = strings.TrimPrefix(value, " ")
		} else {
			field, value = line, ""
		}

		switch field {
		case "data":
			dataLines = append(dataLines, value)
			hasData = true
		case "event":
			eventType = value
		}
	}
}

// Event returns the event parsed by the last successful Next
func (s *SSEScanner) Event() SSEEvent {
	return s.current
}

// Err returns the first non-EOF error encountered
func (s *SSEScanner) Err() error {
	if s.err == io.EOF {
		return nil
	}
	return s.err
}

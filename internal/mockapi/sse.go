package mockapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// Invalidation event types the events endpoint emits after init
const (
	EventInit            = "init"
	EventTasksChanged    = "tasks_changed"
	EventEnvsChanged     = "envs_changed"
	EventAccountsChanged = "accounts_changed"
)

// SSEEvent represents a server-sent event
type SSEEvent struct {
	Type string
	Data interface{}
}

// SSEHub fans events out to connected SSE clients
type SSEHub struct {
	mu      sync.Mutex
	clients map[chan SSEEvent]struct{}
}

// NewSSEHub creates a new SSE hub
func NewSSEHub() *SSEHub {
	return &SSEHub{clients: make(map[chan SSEEvent]struct{})}
}

func (h *SSEHub) register() chan SSEEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	client := make(chan SSEEvent, 16)
	h.clients[client] = struct{}{}
	return client
}

func (h *SSEHub) unregister(client chan SSEEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client)
	}
}

// Broadcast sends an event to all clients. Clients whose buffer is
// full are disconnected.
func (h *SSEHub) Broadcast(event SSEEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client <- event:
		default:
			delete(h.clients, client)
			close(client)
		}
	}
}

// ClientCount returns the number of connected clients
func (h *SSEHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// CloseAll disconnects every client
func (h *SSEHub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client)
	}
}

// Broadcast sends an event to every events subscriber
func (s *Server) Broadcast(eventType string, data interface{}) {
	s.hub.Broadcast(SSEEvent{Type: eventType, Data: data})
}

// BroadcastRaw sends an event whose data line is body verbatim
func (s *Server) BroadcastRaw(eventType, body string) {
	s.hub.Broadcast(SSEEvent{Type: eventType, Data: json.RawMessage(body)})
}

// EventClients returns the number of connected events subscribers
func (s *Server) EventClients() int {
	return s.hub.ClientCount()
}

// DropEventClients disconnects every events subscriber
func (s *Server) DropEventClients() {
	s.hub.CloseAll()
}

func (s *Server) sseHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		down := s.eventsDown
		s.mu.RUnlock()
		if down {
			writeError(w, http.StatusServiceUnavailable, "events unavailable")
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming not supported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		client := s.hub.register()
		defer s.hub.unregister(client)

		writeEvent(w, SSEEvent{Type: EventInit, Data: s.Snapshot()})
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case event, ok := <-client:
				if !ok {
					return
				}
				writeEvent(w, event)
				flusher.Flush()
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, event SSEEvent) {
	var data []byte
	if raw, ok := event.Data.(json.RawMessage); ok {
		data = raw
	} else {
		data, _ = json.Marshal(event.Data)
	}
	fmt.Fprintf(w, "event: %s\n", event.Type)
	fmt.Fprintf(w, "data: %s\n\n", data)
}

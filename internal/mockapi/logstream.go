package mockapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/hochfrequenz/orch-console/internal/domain"
)

// LogMessage is the frame the per-run log stream sends
type LogMessage struct {
	RunID string          `json:"runId"`
	Entry domain.LogEntry `json:"entry"`
}

type runKey struct {
	taskID string
	runID  string
}

type logClient struct {
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *logClient) close() {
	c.once.Do(func() { close(c.done) })
}

type logHub struct {
	mu      sync.Mutex
	clients map[runKey]map[*logClient]struct{}
}

func newLogHub() *logHub {
	return &logHub{clients: make(map[runKey]map[*logClient]struct{})}
}

func (h *logHub) add(key runKey, c *logClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[key] == nil {
		h.clients[key] = make(map[*logClient]struct{})
	}
	h.clients[key][c] = struct{}{}
}

func (h *logHub) remove(key runKey, c *logClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients[key], c)
	if len(h.clients[key]) == 0 {
		delete(h.clients, key)
	}
}

func (h *logHub) publish(key runKey, frame []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients[key] {
		select {
		case c.send <- frame:
		case <-c.done:
		}
	}
	return len(h.clients[key])
}

func (h *logHub) count(key runKey) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[key])
}

func (h *logHub) closeKey(key runKey) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients[key] {
		c.close()
	}
}

func (h *logHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.clients {
		for c := range set {
			c.close()
		}
	}
}

// PublishLog sends an entry to every subscriber of the run and returns
// how many received it. The entry is also appended to the stored
// detail so later fetches include it.
func (s *Server) PublishLog(taskID, runID string, entry domain.LogEntry) int {
	s.mu.Lock()
	if detail, ok := s.details[taskID]; ok {
		if i := detail.RunIndex(runID); i >= 0 {
			updated := *detail
			updated.Runs = append([]domain.Run{}, detail.Runs...)
			updated.Runs[i].Entries = append(append([]domain.LogEntry{}, detail.Runs[i].Entries...), entry)
			s.details[taskID] = &updated
		}
	}
	s.mu.Unlock()

	frame, _ := json.Marshal(LogMessage{RunID: runID, Entry: entry})
	return s.logs.publish(runKey{taskID, runID}, frame)
}

// PublishRawLog sends frame verbatim to every subscriber of the run
func (s *Server) PublishRawLog(taskID, runID string, frame []byte) int {
	return s.logs.publish(runKey{taskID, runID}, frame)
}

// LogSubscribers returns the number of open streams for a run
func (s *Server) LogSubscribers(taskID, runID string) int {
	return s.logs.count(runKey{taskID, runID})
}

// CloseLogStream disconnects every subscriber of a run
func (s *Server) CloseLogStream(taskID, runID string) {
	s.logs.closeKey(runKey{taskID, runID})
}

func (s *Server) logStreamHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := runKey{taskID: r.PathValue("id"), runID: r.PathValue("runID")}

		s.mu.RLock()
		detail, ok := s.details[key.taskID]
		s.mu.RUnlock()
		if !ok || detail.RunIndex(key.runID) < 0 {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Debug("log stream upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		client := &logClient{send: make(chan []byte, 64), done: make(chan struct{})}
		s.logs.add(key, client)
		defer s.logs.remove(key, client)
		defer client.close()

		// Reader: detect the peer going away.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					client.close()
					return
				}
			}
		}()

		for {
			select {
			case <-client.done:
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			case frame := <-client.send:
				if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					return
				}
			}
		}
	}
}

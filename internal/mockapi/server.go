// Package mockapi is an in-memory orchestration server speaking the
// same REST, SSE and websocket endpoints the console consumes. Tests
// use it to drive the sync engine end to end; the serve-mock command
// runs it for local development.
package mockapi

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/hochfrequenz/orch-console/internal/domain"
)

// Server holds the server-side state and serves it over HTTP
type Server struct {
	mu       sync.RWMutex
	envs     []domain.Environment
	tasks    []domain.Task
	accounts domain.AccountState
	details  map[string]*domain.TaskDetail
	diffs    map[string]*domain.TaskDiff
	requests map[string]int

	eventsDown bool

	mux      *http.ServeMux
	hub      *SSEHub
	logs     *logHub
	upgrader websocket.Upgrader
}

// New creates a Server with empty collections
func New() *Server {
	s := &Server{
		envs:     []domain.Environment{},
		tasks:    []domain.Task{},
		details:  make(map[string]*domain.TaskDetail),
		diffs:    make(map[string]*domain.TaskDiff),
		requests: make(map[string]int),
		mux:      http.NewServeMux(),
		hub:      NewSSEHub(),
		logs:     newLogHub(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /api/environments", s.counted("environments", s.listEnvironmentsHandler()))
	s.mux.HandleFunc("GET /api/tasks", s.counted("tasks", s.listTasksHandler()))
	s.mux.HandleFunc("GET /api/accounts", s.counted("accounts", s.accountsHandler()))
	s.mux.HandleFunc("GET /api/tasks/{id}", s.counted("task", s.getTaskHandler()))
	s.mux.HandleFunc("GET /api/tasks/{id}/diff", s.counted("diff", s.getDiffHandler()))
	s.mux.HandleFunc("GET /api/events", s.counted("events", s.sseHandler()))
	s.mux.HandleFunc("GET /api/tasks/{id}/runs/{runID}/logs/ws", s.counted("logs", s.logStreamHandler()))
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Close disconnects every streaming client
func (s *Server) Close() {
	s.hub.CloseAll()
	s.logs.closeAll()
}

func (s *Server) counted(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests[name]++
		s.mu.Unlock()
		next(w, r)
	}
}

// RequestCount returns how often an endpoint was hit. Names are
// environments, tasks, accounts, task, diff, events and logs.
func (s *Server) RequestCount(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.requests[name]
}

// SetEnvironments replaces the environment list
func (s *Server) SetEnvironments(envs ...domain.Environment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envs = append([]domain.Environment{}, envs...)
}

// SetAccounts replaces the account state
func (s *Server) SetAccounts(accounts domain.AccountState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = accounts
}

// PutTask stores the full detail of a task; its summary (without run
// entries) appears in the task list.
func (s *Server) PutTask(detail domain.TaskDetail) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := detail
	s.details[detail.ID] = &stored

	summary := detail
	summary.Runs = nil
	for i := range s.tasks {
		if s.tasks[i].ID == detail.ID {
			s.tasks[i] = summary
			return
		}
	}
	s.tasks = append(s.tasks, summary)
}

// DeleteTask removes a task and its diff
func (s *Server) DeleteTask(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.details, id)
	delete(s.diffs, id)
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			s.tasks = append(s.tasks[:i:i], s.tasks[i+1:]...)
			return
		}
	}
}

// SetDiff stores the diff of a task. A nil diff makes the endpoint 404.
func (s *Server) SetDiff(taskID string, diff *domain.TaskDiff) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if diff == nil {
		delete(s.diffs, taskID)
		return
	}
	s.diffs[taskID] = diff
}

// SetEventsDown makes the events endpoint answer 503 while down is true
func (s *Server) SetEventsDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventsDown = down
}

// Snapshot returns the current collections as the init event carries them
func (s *Server) Snapshot() domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.Snapshot{
		Environments: append([]domain.Environment{}, s.envs...),
		Tasks:        append([]domain.Task{}, s.tasks...),
		Accounts:     s.accounts,
	}
}

func (s *Server) listEnvironmentsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		writeJSON(w, s.envs)
	}
}

func (s *Server) listTasksHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		writeJSON(w, s.tasks)
	}
}

func (s *Server) accountsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		writeJSON(w, s.accounts)
	}
}

func (s *Server) getTaskHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		detail, ok := s.details[r.PathValue("id")]
		s.mu.RUnlock()

		if !ok {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeJSON(w, detail)
	}
}

func (s *Server) getDiffHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		diff, ok := s.diffs[r.PathValue("id")]
		s.mu.RUnlock()

		if !ok {
			writeError(w, http.StatusNotFound, "diff not available")
			return
		}
		writeJSON(w, diff)
	}
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

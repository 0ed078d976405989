package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/hochfrequenz/orch-console/internal/console"
	"github.com/hochfrequenz/orch-console/internal/domain"
)

// Tab identifies a content tab
type Tab int

const (
	TabTasks Tab = iota
	TabLogs
	TabDiff
	TabAccounts
)

var tabNames = []string{"Tasks", "Logs", "Diff", "Accounts"}

// Console is what the TUI needs from the sync engine.
// *console.Engine implements it.
type Console interface {
	Store() *console.Store
	Select(id string)
	Reveal(path string)
	RefreshNow()
}

// Model is the TUI application model
type Model struct {
	console Console
	changes <-chan struct{}

	// Data, copied from the store on every change
	snapshot   domain.Snapshot
	selectedID string
	detail     *domain.TaskDetail
	diff       *domain.TaskDiff
	lastErr    error

	// UI state
	width       int
	height      int
	activeTab   Tab
	selectedRow int
	fileIndex   int
	pane        viewport.Model
	follow      bool

	// Refresh
	now         func() time.Time
	lastRefresh time.Time
}

// ModelConfig holds what the TUI model is built from
type ModelConfig struct {
	Console Console
	// Changes signals store updates; see console.Store.Watch.
	Changes <-chan struct{}
	// Now defaults to time.Now.
	Now func() time.Time
}

// NewModel creates a new TUI model
func NewModel(cfg ModelConfig) Model {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	m := Model{
		console:   cfg.Console,
		changes:   cfg.Changes,
		activeTab: TabTasks,
		pane:      viewport.New(80, 20),
		follow:    true,
		now:       now,
	}
	m.pull()
	return m
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		waitForChange(m.changes),
	)
}

// TickMsg triggers a redraw of relative times
type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// StoreChangedMsg is sent whenever the engine's store changed
type StoreChangedMsg struct{}

func waitForChange(changes <-chan struct{}) tea.Cmd {
	if changes == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-changes; !ok {
			return nil
		}
		return StoreChangedMsg{}
	}
}

// pull copies the current state out of the store
func (m *Model) pull() {
	store := m.console.Store()
	m.snapshot = store.Snapshot()
	m.selectedID, _ = store.Selected()
	m.detail = store.Detail()
	m.diff = store.Diff()
	m.lastErr = store.LastError()
	m.lastRefresh = m.now()

	if m.selectedRow >= len(m.snapshot.Tasks) {
		m.selectedRow = max(0, len(m.snapshot.Tasks)-1)
	}
	if m.diff == nil || m.fileIndex >= len(m.diff.Files) {
		m.fileIndex = 0
	}
	m.refreshPane()
}

// currentFile returns the diff file under the cursor, or nil
func (m Model) currentFile() *domain.DiffFile {
	if m.diff == nil || len(m.diff.Files) == 0 {
		return nil
	}
	return &m.diff.Files[m.fileIndex]
}

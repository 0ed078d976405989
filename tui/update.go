package tui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.pane.Width = max(20, msg.Width-4)
		m.pane.Height = max(5, msg.Height-8)
		m.refreshPane()

	case TickMsg:
		return m, tickCmd()

	case StoreChangedMsg:
		m.pull()
		return m, waitForChange(m.changes)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "r":
		m.console.RefreshNow()
	case "tab":
		m.switchTab((m.activeTab + 1) % Tab(len(tabNames)))
	case "shift+tab":
		m.switchTab((m.activeTab + Tab(len(tabNames)) - 1) % Tab(len(tabNames)))
	case "1", "2", "3", "4":
		m.switchTab(Tab(msg.String()[0] - '1'))
	case "j", "down":
		m.moveDown()
	case "k", "up":
		m.moveUp()
	case "pgdown", "pgup", "home", "end":
		m.scrollPane(msg.String())
	case "enter":
		if m.activeTab == TabTasks && len(m.snapshot.Tasks) > 0 {
			m.console.Select(m.snapshot.Tasks[m.selectedRow].ID)
			m.follow = true
			m.switchTab(TabLogs)
		}
	case "esc":
		m.console.Select("")
	case "n":
		if m.activeTab == TabDiff && m.diff != nil && m.fileIndex < len(m.diff.Files)-1 {
			m.fileIndex++
			m.refreshPane()
			m.pane.GotoTop()
		}
	case "p":
		if m.activeTab == TabDiff && m.fileIndex > 0 {
			m.fileIndex--
			m.refreshPane()
			m.pane.GotoTop()
		}
	case "v":
		if file := m.currentFile(); m.activeTab == TabDiff && file != nil && file.TooLarge {
			m.console.Reveal(file.Path)
		}
	}
	return m, nil
}

func (m *Model) switchTab(tab Tab) {
	if tab == m.activeTab {
		return
	}
	m.activeTab = tab
	m.refreshPane()
	if tab == TabLogs && m.follow {
		m.pane.GotoBottom()
	} else {
		m.pane.GotoTop()
	}
}

func (m *Model) moveDown() {
	switch m.activeTab {
	case TabTasks:
		if m.selectedRow < len(m.snapshot.Tasks)-1 {
			m.selectedRow++
		}
	case TabLogs, TabDiff:
		m.pane.LineDown(1)
		m.follow = m.pane.AtBottom()
	}
}

func (m *Model) moveUp() {
	switch m.activeTab {
	case TabTasks:
		if m.selectedRow > 0 {
			m.selectedRow--
		}
	case TabLogs, TabDiff:
		m.pane.LineUp(1)
		m.follow = m.pane.AtBottom()
	}
}

func (m *Model) scrollPane(key string) {
	switch key {
	case "pgdown":
		m.pane.ViewDown()
	case "pgup":
		m.pane.ViewUp()
	case "home":
		m.pane.GotoTop()
	case "end":
		m.pane.GotoBottom()
	}
	m.follow = m.pane.AtBottom()
}

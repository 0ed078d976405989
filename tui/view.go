package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/hochfrequenz/orch-console/internal/diffview"
	"github.com/hochfrequenz/orch-console/internal/domain"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	runningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	failedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255"))

	tabActiveStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Underline(true)

	tabInactiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("244"))

	selectedRowStyle = lipgloss.NewStyle().
				Background(lipgloss.Color("237")).
				Bold(true)

	hunkStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))

	addStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	delStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	dimmedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

// View renders the TUI
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.renderTabs())
	b.WriteString("\n")

	var body string
	switch m.activeTab {
	case TabTasks:
		body = m.renderTasks()
	case TabLogs, TabDiff:
		body = m.pane.View()
	case TabAccounts:
		body = m.renderAccounts()
	}
	b.WriteString(sectionStyle.Width(max(20, m.width-2)).Render(body))
	b.WriteString("\n")
	b.WriteString(m.renderStatusBar())

	return b.String()
}

func (m Model) renderHeader() string {
	active := 0
	for _, t := range m.snapshot.Tasks {
		if t.Status.IsActive() {
			active++
		}
	}
	title := titleStyle.Render("ORCH CONSOLE")
	counts := fmt.Sprintf("%d envs  %d tasks  %s",
		len(m.snapshot.Environments),
		len(m.snapshot.Tasks),
		runningStyle.Render(fmt.Sprintf("%d active", active)))
	return headerStyle.Width(m.width).Render(title + "  " + counts)
}

func (m Model) renderTabs() string {
	tabs := make([]string, len(tabNames))
	for i, name := range tabNames {
		label := fmt.Sprintf("[%d] %s", i+1, name)
		if Tab(i) == m.activeTab {
			tabs[i] = tabActiveStyle.Render(label)
		} else {
			tabs[i] = tabInactiveStyle.Render(label)
		}
	}
	return " " + strings.Join(tabs, "  ")
}

func (m Model) renderTasks() string {
	if len(m.snapshot.Tasks) == 0 {
		return dimmedStyle.Render("No tasks")
	}

	envNames := make(map[string]string, len(m.snapshot.Environments))
	for _, e := range m.snapshot.Environments {
		envNames[e.ID] = e.Name
	}

	var lines []string
	for i, t := range m.snapshot.Tasks {
		marker := "  "
		if t.ID == m.selectedID {
			marker = "> "
		}
		title := t.Title
		if title == "" {
			title = t.ID
		}
		updated := ""
		if !t.UpdatedAt.IsZero() {
			updated = humanize.RelTime(t.UpdatedAt, m.now(), "ago", "from now")
		}
		line := fmt.Sprintf("%s%-10s %-12s %-40s %s",
			marker,
			statusStyle(t.Status).Render(string(t.Status)),
			truncate(envNames[t.EnvID], 12),
			truncate(title, 40),
			dimmedStyle.Render(updated))
		if i == m.selectedRow {
			line = selectedRowStyle.Render(line)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderAccounts() string {
	state := m.snapshot.Accounts
	if len(state.Accounts) == 0 {
		return dimmedStyle.Render("No accounts")
	}

	var lines []string
	for _, a := range state.Accounts {
		marker := "  "
		if a.ID == state.ActiveID {
			marker = "* "
		}
		label := a.Label
		if label == "" {
			label = a.ID
		}
		expiry := ""
		if a.ExpiresAt != nil {
			expiry = "expires " + humanize.RelTime(*a.ExpiresAt, m.now(), "ago", "from now")
		}
		status := string(a.Status)
		switch a.Status {
		case domain.AccountActive:
			status = runningStyle.Render(status)
		case domain.AccountRotating:
			status = warningStyle.Render(status)
		case domain.AccountExpired:
			status = failedStyle.Render(status)
		}
		lines = append(lines, fmt.Sprintf("%s%-24s %-10s %s", marker, truncate(label, 24), status, dimmedStyle.Render(expiry)))
	}
	if state.RotatedAt != nil {
		lines = append(lines, "", dimmedStyle.Render("last rotation "+humanize.RelTime(*state.RotatedAt, m.now(), "ago", "from now")))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderStatusBar() string {
	left := "j/k move  enter select  tab switch  r refresh  q quit"
	if m.activeTab == TabDiff {
		left = "n/p file  v reveal  j/k scroll  q quit"
	}
	right := "synced " + m.lastRefresh.Format("15:04:05")
	if m.lastErr != nil {
		right = failedStyle.Render(truncate(m.lastErr.Error(), 60))
	}
	gap := max(1, m.width-lipgloss.Width(left)-lipgloss.Width(right))
	return statusBarStyle.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}

// refreshPane re-renders the scrollable content of the log and diff tabs
func (m *Model) refreshPane() {
	switch m.activeTab {
	case TabLogs:
		m.pane.SetContent(m.renderLogs())
		if m.follow {
			m.pane.GotoBottom()
		}
	case TabDiff:
		m.pane.SetContent(m.renderDiff())
	}
}

func (m Model) renderLogs() string {
	if m.detail == nil {
		return dimmedStyle.Render("Select a task to follow its output")
	}
	run := m.detail.LatestRun()
	if run == nil {
		return dimmedStyle.Render("No runs yet")
	}

	var b strings.Builder
	started := ""
	if !run.StartedAt.IsZero() {
		started = fmt.Sprintf(" started %s, %s", humanize.RelTime(run.StartedAt, m.now(), "ago", "from now"),
			run.Duration(m.now()).Round(time.Second))
	}
	b.WriteString(headerStyle.Render(fmt.Sprintf("%s run %s (%s)%s", m.detail.ID, run.ID, run.Status, started)))
	b.WriteString("\n")
	for _, e := range run.Entries {
		b.WriteString(dimmedStyle.Render(fmt.Sprintf("%-8s ", e.Type)))
		b.WriteString(stripansi.Strip(e.Text()))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderDiff() string {
	if m.detail == nil {
		return dimmedStyle.Render("Select a task to see its changes")
	}
	if m.diff == nil {
		return dimmedStyle.Render("No diff for this task")
	}
	if !m.diff.Available {
		return warningStyle.Render("Diff unavailable: " + m.diff.Reason)
	}
	if len(m.diff.Files) == 0 {
		return dimmedStyle.Render("No changes")
	}

	var b strings.Builder
	for i, f := range m.diff.Files {
		stats := diffview.CountStats(f.Text)
		line := fmt.Sprintf("%s %s", f.Path,
			addStyle.Render(fmt.Sprintf("+%d", stats.Additions))+" "+delStyle.Render(fmt.Sprintf("-%d", stats.Deletions)))
		if i == m.fileIndex {
			line = selectedRowStyle.Render("> " + line)
		} else {
			line = "  " + line
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")

	file := m.currentFile()
	view, ok := m.console.Store().DiffView(file.Path)
	if !ok {
		return b.String()
	}
	if view.Withheld {
		b.WriteString(warningStyle.Render(fmt.Sprintf("%s has %s lines; press v to show it",
			view.File.Path, humanize.Comma(int64(view.File.LineCount)))))
		return b.String()
	}
	for _, row := range view.Result.Rows {
		b.WriteString(renderRow(row))
		b.WriteString("\n")
	}
	return b.String()
}

func renderRow(row diffview.Row) string {
	// a bare carriage return would move the terminal cursor
	row.Text = strings.TrimSuffix(row.Text, "\r")
	switch row.Kind {
	case diffview.RowHunk:
		return hunkStyle.Render(row.Text)
	case diffview.RowMeta:
		return dimmedStyle.Render(row.Text)
	}

	old, cur := "", ""
	if row.HasOld() {
		old = fmt.Sprint(row.OldLine)
	}
	if row.HasNew() {
		cur = fmt.Sprint(row.NewLine)
	}
	gutter := dimmedStyle.Render(fmt.Sprintf("%5s %5s ", old, cur))

	switch row.Kind {
	case diffview.RowAdd:
		return gutter + addStyle.Render("+"+row.Text)
	case diffview.RowDel:
		return gutter + delStyle.Render("-"+row.Text)
	}
	return gutter + " " + row.Text
}

func statusStyle(s domain.TaskStatus) lipgloss.Style {
	switch s {
	case domain.StatusRunning:
		return runningStyle
	case domain.StatusStopping:
		return warningStyle
	case domain.StatusFailed:
		return failedStyle
	}
	return dimmedStyle
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/acarl005/stripansi"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/orch-console/internal/apiclient"
	"github.com/hochfrequenz/orch-console/internal/config"
	"github.com/hochfrequenz/orch-console/internal/console"
	"github.com/hochfrequenz/orch-console/internal/diffview"
	"github.com/hochfrequenz/orch-console/internal/domain"
	"github.com/hochfrequenz/orch-console/internal/mockapi"
	"github.com/hochfrequenz/orch-console/internal/notify"
	"github.com/hochfrequenz/orch-console/internal/runlog"
	"github.com/hochfrequenz/orch-console/tui"
)

var (
	logsFollow  bool
	diffFile    string
	diffReveal  bool
	mockAddr    string
	mockDemo    bool
	statusCache bool
)

func init() {
	// tui command
	tuiCmd := &cobra.Command{
		Use:   "tui",
		Short: "Launch the live console",
		RunE:  runTUI,
	}
	rootCmd.AddCommand(tuiCmd)

	// status command
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show environments and tasks",
		RunE:  runStatus,
	}
	statusCmd.Flags().BoolVar(&statusCache, "cached", false, "show the cached snapshot without contacting the server")
	rootCmd.AddCommand(statusCmd)

	// logs command
	logsCmd := &cobra.Command{
		Use:   "logs TASK",
		Short: "Print the output of a task's latest run",
		Args:  cobra.ExactArgs(1),
		RunE:  runLogs,
	}
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "keep streaming while the task is active")
	rootCmd.AddCommand(logsCmd)

	// diff command
	diffCmd := &cobra.Command{
		Use:   "diff TASK",
		Short: "Print the changes a task made",
		Args:  cobra.ExactArgs(1),
		RunE:  runDiff,
	}
	diffCmd.Flags().StringVar(&diffFile, "file", "", "only show this path")
	diffCmd.Flags().BoolVar(&diffReveal, "all", false, "also print files too large to show by default")
	rootCmd.AddCommand(diffCmd)

	// serve-mock command
	serveMockCmd := &cobra.Command{
		Use:   "serve-mock",
		Short: "Run an in-memory orchestration server for local development",
		RunE:  runServeMock,
	}
	serveMockCmd.Flags().StringVar(&mockAddr, "addr", "127.0.0.1:8080", "address to listen on")
	serveMockCmd.Flags().BoolVar(&mockDemo, "demo", true, "seed demo data and keep a task producing output")
	rootCmd.AddCommand(serveMockCmd)
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logFile, err := openLogFile(cfg.UI.LogFile)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()
	logger := newLogger(logFile)

	engine, release, err := newEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer release()

	changes, unwatch := engine.Store().Watch()
	defer unwatch()

	if err := engine.Start(cmd.Context()); err != nil {
		return err
	}
	defer engine.Stop()

	if cfg.Notify.Enabled() {
		notifier := notify.NewMultiNotifier(
			notify.NewDesktopNotifier(cfg.Notify.Desktop),
			notify.NewSlackNotifier(cfg.Notify.SlackWebhook),
		)
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		go notify.NewWatcher(engine.Store(), notifier, logger).Run(ctx)
	}

	model := tui.NewModel(tui.ModelConfig{
		Console: engine,
		Changes: changes,
	})

	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	logger := newLogger(cmd.ErrOrStderr())

	cache, err := openCache(cfg)
	if err != nil {
		logger.Warn("snapshot cache unavailable", "error", err)
	}
	if cache != nil {
		defer cache.Close()
	}

	var snap domain.Snapshot
	if statusCache {
		if cache == nil {
			return errors.New("the snapshot cache is disabled")
		}
		cached, ok, err := cache.LoadSnapshot(cmd.Context())
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("no cached snapshot yet")
		}
		if savedAt, ok, _ := cache.SavedAt(cmd.Context()); ok {
			fmt.Fprintf(out, "Cached %s\n\n", humanize.Time(savedAt))
		}
		snap = cached
	} else {
		client, err := newClient(cfg, logger)
		if err != nil {
			return err
		}
		snap, err = client.FetchSnapshot(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to fetch snapshot: %w", err)
		}
		if cache != nil {
			if err := cache.SaveSnapshot(cmd.Context(), snap); err != nil {
				logger.Warn("failed to cache snapshot", "error", err)
			}
		}
	}

	printStatus(out, snap, time.Now())
	return nil
}

func printStatus(out io.Writer, snap domain.Snapshot, now time.Time) {
	counts := make(map[domain.TaskStatus]int)
	for _, t := range snap.Tasks {
		counts[t.Status]++
	}
	fmt.Fprintf(out, "Tasks: %d total | %d running | %d completed | %d failed\n",
		len(snap.Tasks), counts[domain.StatusRunning], counts[domain.StatusCompleted], counts[domain.StatusFailed])
	if active := snap.Accounts.ActiveID; active != "" {
		fmt.Fprintf(out, "Active account: %s\n", active)
	}
	fmt.Fprintln(out)

	envNames := make(map[string]string, len(snap.Environments))
	for _, e := range snap.Environments {
		envNames[e.ID] = e.Name
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tENV\tSTATUS\tRUNS\tUPDATED\tTITLE")
	for _, t := range snap.Tasks {
		env := envNames[t.EnvID]
		if env == "" {
			env = "-"
		}
		updated := "-"
		if !t.UpdatedAt.IsZero() {
			updated = humanize.RelTime(t.UpdatedAt, now, "ago", "from now")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", t.ID, env, t.Status, len(t.Runs), updated, t.Title)
	}
	w.Flush()
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	logger := newLogger(cmd.ErrOrStderr())
	taskID := args[0]

	if !logsFollow {
		client, err := newClient(cfg, logger)
		if err != nil {
			return err
		}
		detail, err := client.GetTask(cmd.Context(), taskID)
		if err != nil {
			if apiclient.IsNotFound(err) {
				return fmt.Errorf("task %s not found", taskID)
			}
			return err
		}
		run := detail.LatestRun()
		if run == nil {
			fmt.Fprintf(out, "Task %s has not run yet\n", taskID)
			return nil
		}
		for _, e := range run.Entries {
			printEntry(out, e)
		}
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return followLogs(ctx, out, cfg, logger, taskID)
}

// followLogs prints the latest run's entries as they arrive and returns
// once the task stops being active or ctx is done
func followLogs(ctx context.Context, out io.Writer, cfg *config.Config, logger *slog.Logger, taskID string) error {
	engine, release, err := newEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer release()

	store := engine.Store()
	changes, unwatch := store.Watch()
	defer unwatch()

	if err := engine.Start(ctx); err != nil {
		return err
	}
	defer engine.Stop()
	engine.Select(taskID)

	var (
		runID   string
		printed []domain.LogEntry
		loaded  bool
	)
	for {
		if detail := store.Detail(); detail != nil && detail.ID == taskID {
			loaded = true
			if run := detail.LatestRun(); run != nil {
				if run.ID != runID {
					runID, printed = run.ID, nil
				}
				for _, e := range run.Entries {
					if runlog.Contains(printed, e.ID) {
						continue
					}
					printEntry(out, e)
					printed = append(printed, e)
				}
			}
			if !detail.Status.IsActive() {
				return nil
			}
		} else if id, _ := store.Selected(); id != taskID {
			return fmt.Errorf("task %s not found", taskID)
		}
		if err := store.LastError(); err != nil && !loaded {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-changes:
		}
	}
}

func printEntry(out io.Writer, e domain.LogEntry) {
	ts := ""
	if !e.Timestamp.IsZero() {
		ts = e.Timestamp.Local().Format("15:04:05") + " "
	}
	fmt.Fprintf(out, "%s[%s] %s\n", ts, e.Type, stripansi.Strip(e.Text()))
}

func runDiff(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	client, err := newClient(cfg, newLogger(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	taskID := args[0]

	diff, err := client.GetTaskDiff(cmd.Context(), taskID)
	if err != nil {
		if apiclient.IsNotFound(err) {
			fmt.Fprintf(out, "Task %s has no diff\n", taskID)
			return nil
		}
		return err
	}
	if !diff.Available {
		fmt.Fprintf(out, "Diff unavailable: %s\n", diff.Reason)
		return nil
	}

	var gate diffview.RevealGate
	shown := 0
	for _, f := range diff.Files {
		if diffFile != "" && f.Path != diffFile {
			continue
		}
		shown++
		if diffReveal {
			gate.Reveal(f.Path)
		}
		result, visible := gate.Visible(f)
		if !visible {
			stats := diffview.CountStats(f.Text)
			fmt.Fprintf(out, "=== %s +%d -%d (%s lines, use --all to show)\n",
				f.Path, stats.Additions, stats.Deletions, humanize.Comma(int64(f.LineCount)))
			continue
		}
		fmt.Fprintf(out, "=== %s +%d -%d\n", f.Path, result.Stats.Additions, result.Stats.Deletions)
		for _, row := range result.Rows {
			fmt.Fprintln(out, formatRow(row))
		}
	}
	if shown == 0 && diffFile != "" {
		return fmt.Errorf("task %s did not change %s", taskID, diffFile)
	}
	return nil
}

func formatRow(row diffview.Row) string {
	old, cur := "", ""
	if row.HasOld() {
		old = fmt.Sprint(row.OldLine)
	}
	if row.HasNew() {
		cur = fmt.Sprint(row.NewLine)
	}
	switch row.Kind {
	case diffview.RowHunk, diffview.RowMeta:
		return row.Text
	case diffview.RowAdd:
		return fmt.Sprintf("%5s %5s +%s", old, cur, row.Text)
	case diffview.RowDel:
		return fmt.Sprintf("%5s %5s -%s", old, cur, row.Text)
	}
	return fmt.Sprintf("%5s %5s  %s", old, cur, row.Text)
}

func runServeMock(cmd *cobra.Command, args []string) error {
	logger := newLogger(cmd.ErrOrStderr())
	api := mockapi.New()
	defer api.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if mockDemo {
		seedDemo(api, time.Now())
		go produceDemoOutput(ctx, api, time.Second)
	}

	server := &http.Server{Addr: mockAddr, Handler: api}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("mock server listening", "addr", "http://"+mockAddr, "events", console.DefaultEventsEndpoint)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

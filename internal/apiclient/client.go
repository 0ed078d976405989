// Package apiclient is the REST boundary to the orchestration server:
// bulk collection fetches plus task detail and diff lookups.
package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/orch-console/internal/domain"
)

// maxErrorBody bounds how much of an error response is read
const maxErrorBody = 4096

// Config holds configuration for creating a Client
type Config struct {
	// BaseURL is the server root, e.g. "http://localhost:8080".
	BaseURL string
	// Token is sent as a bearer token when set.
	Token string
	// HTTPClient is used for all requests. If nil, http.DefaultClient is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client talks to the orchestration server's REST API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a Client
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("apiclient: BaseURL is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("apiclient: invalid BaseURL %q: %w", cfg.BaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("apiclient: BaseURL %q must be http or https", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// BaseURL returns the server root without trailing slash
func (c *Client) BaseURL() string { return c.baseURL }

// Header returns the headers every request carries, for transports
// that open their own connections.
func (c *Client) Header() http.Header {
	h := http.Header{}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}

// ListEnvironments returns every environment
func (c *Client) ListEnvironments(ctx context.Context) ([]domain.Environment, error) {
	var envs []domain.Environment
	if err := c.getJSON(ctx, "/api/environments", &envs); err != nil {
		return nil, fmt.Errorf("apiclient: list environments: %w", err)
	}
	return envs, nil
}

// ListTasks returns every task summary
func (c *Client) ListTasks(ctx context.Context) ([]domain.Task, error) {
	var tasks []domain.Task
	if err := c.getJSON(ctx, "/api/tasks", &tasks); err != nil {
		return nil, fmt.Errorf("apiclient: list tasks: %w", err)
	}
	return tasks, nil
}

// GetAccounts returns the credential rotation state
func (c *Client) GetAccounts(ctx context.Context) (domain.AccountState, error) {
	var accounts domain.AccountState
	if err := c.getJSON(ctx, "/api/accounts", &accounts); err != nil {
		return domain.AccountState{}, fmt.Errorf("apiclient: get accounts: %w", err)
	}
	return accounts, nil
}

// FetchSnapshot fetches environments, tasks and accounts concurrently.
// It fails if any of the three fails so a partial snapshot is never
// returned.
func (c *Client) FetchSnapshot(ctx context.Context) (domain.Snapshot, error) {
	var snap domain.Snapshot
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		envs, err := c.ListEnvironments(ctx)
		snap.Environments = envs
		return err
	})
	g.Go(func() error {
		tasks, err := c.ListTasks(ctx)
		snap.Tasks = tasks
		return err
	})
	g.Go(func() error {
		accounts, err := c.GetAccounts(ctx)
		snap.Accounts = accounts
		return err
	})

	if err := g.Wait(); err != nil {
		return domain.Snapshot{}, err
	}
	if snap.Environments == nil {
		snap.Environments = []domain.Environment{}
	}
	if snap.Tasks == nil {
		snap.Tasks = []domain.Task{}
	}
	return snap, nil
}

// GetTask returns the full detail of one task. A deleted task yields
// an error for which IsNotFound is true.
func (c *Client) GetTask(ctx context.Context, id string) (*domain.TaskDetail, error) {
	var detail domain.TaskDetail
	if err := c.getJSON(ctx, "/api/tasks/"+url.PathEscape(id), &detail); err != nil {
		return nil, fmt.Errorf("apiclient: get task %s: %w", id, err)
	}
	return &detail, nil
}

// GetTaskDiff returns the diff a task produced. The server answers 404
// until the diff can be computed.
func (c *Client) GetTaskDiff(ctx context.Context, id string) (*domain.TaskDiff, error) {
	var diff domain.TaskDiff
	if err := c.getJSON(ctx, "/api/tasks/"+url.PathEscape(id)+"/diff", &diff); err != nil {
		return nil, fmt.Errorf("apiclient: get diff for %s: %w", id, err)
	}
	return &diff, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header = c.Header()
	req.Header.Set("Accept", "application/json")
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := readAPIError(resp, path)
		c.logger.Debug("api request failed",
			"path", path,
			"status", resp.StatusCode,
			"request_id", requestID,
		)
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func readAPIError(resp *http.Response, path string) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{StatusCode: resp.StatusCode, Path: path}

	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		apiErr.Message = payload.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

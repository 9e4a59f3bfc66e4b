package vercel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jo-hoe/fixsmith/internal/config"
	"github.com/jo-hoe/fixsmith/internal/deploy"
	"github.com/jo-hoe/fixsmith/internal/jobs"
)

var _ deploy.Waiter = (*Client)(nil)

const (
	endpointDeployments = "v6/deployments"
	errorSnippetLimit   = 400
)

// Deployment states as reported by the Vercel API.
const (
	StateReady    = "READY"
	StateError    = "ERROR"
	StateBuilding = "BUILDING"
	StateQueued   = "QUEUED"
	StateCanceled = "CANCELED"
)

// Client polls the Vercel deployments API for a deployment tied to a branch.
type Client struct {
	log          *slog.Logger
	httpClient   *http.Client
	baseURL      string
	token        string
	projectID    string
	pollInterval time.Duration
}

// New creates a Vercel deployment waiter.
func New(log *slog.Logger, cfg config.DeployConfig) *Client {
	return &Client{
		log:          log,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		baseURL:      strings.TrimRight(cfg.APIBaseURL, "/"),
		token:        cfg.Token,
		projectID:    cfg.ProjectID,
		pollInterval: cfg.PollInterval,
	}
}

// WithHTTPClient allows tests to inject a custom HTTP client.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.httpClient = h
	return c
}

// WaitForReady polls until the newest deployment for branch reaches READY, a
// terminal failure state, or the timeout budget runs out. It never returns an
// error; every outcome is a DeploymentResult.
func (c *Client) WaitForReady(ctx context.Context, branch string, timeout time.Duration) jobs.DeploymentResult {
	deadline := time.Now().Add(timeout)
	var lastState string
	for {
		if time.Now().After(deadline) {
			return jobs.DeploymentResult{
				Success: false,
				State:   normalizeState(lastState),
				Error:   fmt.Sprintf("deployment for branch %s not ready within %s", branch, timeout),
			}
		}

		dep, err := c.latestForBranch(ctx, branch)
		if err != nil {
			if ctx.Err() != nil {
				return jobs.DeploymentResult{Success: false, Error: ctx.Err().Error()}
			}
			// Transient API failures only end the wait via the deadline.
			c.log.Warn("deployment poll failed", "branch", branch, "err", err)
		} else if dep != nil {
			lastState = dep.State
			switch dep.State {
			case StateReady:
				return jobs.DeploymentResult{
					Success: true,
					URL:     "https://" + dep.URL,
					State:   normalizeState(dep.State),
				}
			case StateError:
				return jobs.DeploymentResult{
					Success: false,
					State:   normalizeState(dep.State),
					Error:   fmt.Sprintf("deployment for branch %s failed", branch),
				}
			case StateCanceled:
				return jobs.DeploymentResult{
					Success: false,
					State:   normalizeState(dep.State),
					Error:   fmt.Sprintf("deployment for branch %s was canceled", branch),
				}
			}
		}

		select {
		case <-ctx.Done():
			return jobs.DeploymentResult{Success: false, State: normalizeState(lastState), Error: ctx.Err().Error()}
		case <-time.After(c.pollInterval):
		}
	}
}

// latestForBranch returns the newest deployment whose commit ref matches
// branch, or nil when none exists yet.
func (c *Client) latestForBranch(ctx context.Context, branch string) (*deployment, error) {
	u, err := url.Parse(c.baseURL + "/" + endpointDeployments)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("projectId", c.projectID)
	q.Set("target", "preview")
	q.Set("limit", "20")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http do: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vercel status %d: %s", resp.StatusCode, truncate(string(respBytes), errorSnippetLimit))
	}

	var out listResponse
	if err := json.Unmarshal(respBytes, &out); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	for i := range out.Deployments {
		if out.Deployments[i].Meta.CommitRef == branch {
			return &out.Deployments[i], nil
		}
	}
	return nil, nil
}

// normalizeState maps Vercel's uppercase states onto the lowercase tags the
// job model uses.
func normalizeState(state string) string {
	switch state {
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	case StateBuilding:
		return "building"
	case StateQueued:
		return "queued"
	case StateCanceled:
		return "canceled"
	default:
		return strings.ToLower(state)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

type listResponse struct {
	Deployments []deployment `json:"deployments"`
}

type deployment struct {
	UID   string `json:"uid"`
	URL   string `json:"url"`
	State string `json:"state"`
	Meta  struct {
		CommitRef string `json:"githubCommitRef"`
	} `json:"meta"`
}

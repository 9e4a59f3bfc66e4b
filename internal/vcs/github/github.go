package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	appcfg "github.com/jo-hoe/fixsmith/internal/config"
	"github.com/jo-hoe/fixsmith/internal/vcs"
)

var _ vcs.HostOps = (*Client)(nil)

// Client implements the code-host half of the version-control port using the
// GitHub REST API.
type Client struct {
	cfg  appcfg.GitHubConfig
	http *http.Client
}

// New creates a GitHub client with the provided config.
func New(cfg appcfg.GitHubConfig) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("github token must not be empty")
	}
	if strings.TrimSpace(cfg.Owner) == "" || strings.TrimSpace(cfg.Name) == "" {
		return nil, fmt.Errorf("repo owner/name must not be empty")
	}
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		cfg.APIBaseURL = "https://api.github.com"
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// WithHTTPClient allows tests to inject a custom HTTP client (e.g., pointing to httptest.Server).
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

// OpenPullRequest opens a PR from pr.Branch into pr.Base.
// https://docs.github.com/en/rest/pulls/pulls?apiVersion=2022-11-28#create-a-pull-request
func (c *Client) OpenPullRequest(ctx context.Context, pr vcs.PullRequest) (vcs.PRResult, error) {
	payload := createPRPayload{
		Title: pr.Title,
		Body:  pr.Body,
		Head:  pr.Branch,
		Base:  pr.Base,
	}
	url := fmt.Sprintf("%s/repos/%s/%s/pulls", strings.TrimRight(c.cfg.APIBaseURL, "/"), c.cfg.Owner, c.cfg.Name)

	var out createPRResponse
	if err := c.do(ctx, http.MethodPost, url, payload, http.StatusCreated, &out); err != nil {
		return vcs.PRResult{}, fmt.Errorf("open pull request: %w", err)
	}
	return vcs.PRResult{URL: out.HTMLURL, Number: out.Number}, nil
}

// AddLabels applies labels to an open pull request. PRs are issues for the
// labels endpoint.
func (c *Client) AddLabels(ctx context.Context, number int, labels []string) error {
	if len(labels) == 0 {
		return nil
	}
	payload := addLabelsPayload{Labels: labels}
	url := fmt.Sprintf("%s/repos/%s/%s/issues/%d/labels", strings.TrimRight(c.cfg.APIBaseURL, "/"), c.cfg.Owner, c.cfg.Name, number)
	if err := c.do(ctx, http.MethodPost, url, payload, http.StatusOK, nil); err != nil {
		return fmt.Errorf("add labels: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, url string, payload any, wantStatus int, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("github request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != wantStatus {
		var apiErr apiError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Message != "" {
			return fmt.Errorf("github api: status %d: %s", resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("github api: status %d", resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

type createPRPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Head  string `json:"head"`
	Base  string `json:"base"`
}

type createPRResponse struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
}

type addLabelsPayload struct {
	Labels []string `json:"labels"`
}

type apiError struct {
	Message string `json:"message"`
}

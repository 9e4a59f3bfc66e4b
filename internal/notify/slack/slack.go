package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jo-hoe/fixsmith/internal/common"
	"github.com/jo-hoe/fixsmith/internal/config"
	"github.com/jo-hoe/fixsmith/internal/notify"
)

var _ notify.Notifier = (*Client)(nil)

const (
	headerContentType   = "Content-Type"
	headerAuthorization = "Authorization"
	authSchemeBearer    = "Bearer"

	endpointPostMessage = "chat.postMessage"
	endpointUpdate      = "chat.update"
	endpointReact       = "reactions.add"

	defaultTimeout    = 30 * time.Second
	errorSnippetLimit = 400

	// Slack returns this error code when the bot already reacted with the
	// same emoji; a re-run should not treat that as a failure.
	errAlreadyReacted = "already_reacted"
)

// Client implements notify.Notifier against the Slack Web API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// New creates a Slack notifier from config.
func New(cfg config.SlackConfig) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    strings.TrimRight(cfg.APIBaseURL, "/"),
		token:      cfg.BotToken,
	}
}

// WithHTTPClient allows tests to inject a custom HTTP client (e.g., pointing to httptest.Server).
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.httpClient = h
	return c
}

func (c *Client) Post(ctx context.Context, channel, thread, text string) (notify.MessageRef, error) {
	payload := map[string]any{
		"channel": channel,
		"text":    text,
	}
	if thread != "" {
		payload["thread_ts"] = thread
	}
	var out apiResponse
	if err := c.call(ctx, endpointPostMessage, payload, &out); err != nil {
		return notify.MessageRef{}, fmt.Errorf("post message: %w", err)
	}
	return notify.MessageRef{Channel: out.Channel, Timestamp: out.TS}, nil
}

func (c *Client) Update(ctx context.Context, ref notify.MessageRef, text string) error {
	payload := map[string]any{
		"channel": ref.Channel,
		"ts":      ref.Timestamp,
		"text":    text,
	}
	if err := c.call(ctx, endpointUpdate, payload, nil); err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return nil
}

func (c *Client) React(ctx context.Context, channel, timestamp, emoji string) error {
	payload := map[string]any{
		"channel":   channel,
		"timestamp": timestamp,
		"name":      emoji,
	}
	err := c.call(ctx, endpointReact, payload, nil)
	if err != nil && strings.Contains(err.Error(), errAlreadyReacted) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("add reaction: %w", err)
	}
	return nil
}

// apiResponse is the subset of the Slack envelope the client needs. Slack
// signals failure via ok:false with an error code, not via HTTP status.
type apiResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Channel string `json:"channel,omitempty"`
	TS      string `json:"ts,omitempty"`
}

func (c *Client) call(ctx context.Context, endpoint string, payload any, out *apiResponse) error {
	u, err := url.JoinPath(c.baseURL, endpoint)
	if err != nil {
		return fmt.Errorf("join url: %w", err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set(headerContentType, common.ContentTypeJSON)
	req.Header.Set(headerAuthorization, authSchemeBearer+" "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("http do: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("slack status %d: %s", resp.StatusCode, truncate(string(respBytes), errorSnippetLimit))
	}

	var envelope apiResponse
	if err := json.Unmarshal(respBytes, &envelope); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	if !envelope.OK {
		return fmt.Errorf("slack api error: %s", envelope.Error)
	}
	if out != nil {
		*out = envelope
	}
	return nil
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

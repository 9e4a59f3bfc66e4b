package aiproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jo-hoe/fixsmith/internal/codegen"
	"github.com/jo-hoe/fixsmith/internal/common"
	"github.com/jo-hoe/fixsmith/internal/config"
	"github.com/jo-hoe/fixsmith/internal/jobs"
)

var _ codegen.Client = (*Client)(nil)

const (
	headerContentType   = "Content-Type"
	headerAuthorization = "Authorization"
	authSchemeBearer    = "Bearer"

	endpointChatCompletions = "v1/chat/completions"

	defaultTimeout    = 120 * time.Second
	errorSnippetLimit = 400
	maxTreeEntries    = 400

	defaultSystemPrompt = "You are an expert software engineer. Given a bug report or feature request and a listing of the repository's files, propose a complete code change. Respond with a single JSON object: {\"success\": bool, \"analysis\": string, \"solution\": string, \"files\": [{\"path\": string, \"content\": string}], \"error\": string}. Every files entry must contain the full new file content. If no code change is needed or the request cannot be acted on, set success accordingly and explain in analysis or error. Output only the JSON object."
)

// Role represents the sender role for a chat message.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// Client implements codegen.Client by calling an OpenAI-compatible AI Proxy.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	model       string
	system      string
	temperature *float32
	maxTokens   *int
}

// New creates a new AI Proxy code-generation client.
func New(cfg config.AIProxySettings) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: defaultTimeout},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		system:      cfg.SystemPrompt,
		temperature: optionalFloat32(cfg.Temperature),
		maxTokens:   optionalInt(cfg.MaxTokens),
	}
}

// WithHTTPClient allows tests to inject a custom HTTP client.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.httpClient = h
	return c
}

// Analyze sends a chat completion request asking the model for a structured fix
// proposal. Model-level refusals come back as FixResult{Success: false}; only
// transport and protocol failures surface as errors.
func (c *Client) Analyze(ctx context.Context, req codegen.Request) (jobs.FixResult, error) {
	tree, err := repoTree(req.RepoDir)
	if err != nil {
		return jobs.FixResult{}, fmt.Errorf("snapshot repo: %w", err)
	}

	reqBody := c.buildRequestBody(req.Description, tree)
	u, err := url.JoinPath(c.baseURL, endpointChatCompletions)
	if err != nil {
		return jobs.FixResult{}, fmt.Errorf("join url: %w", err)
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return jobs.FixResult{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(bodyBytes))
	if err != nil {
		return jobs.FixResult{}, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set(headerContentType, common.ContentTypeJSON)
	if strings.TrimSpace(c.apiKey) != "" {
		httpReq.Header.Set(headerAuthorization, authSchemeBearer+" "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return jobs.FixResult{}, ctx.Err()
		}
		return jobs.FixResult{}, fmt.Errorf("http do: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return jobs.FixResult{}, fmt.Errorf("aiproxy status %d: %s", resp.StatusCode, truncate(string(respBytes), errorSnippetLimit))
	}

	var comp chatCompletionResponse
	if err := json.Unmarshal(respBytes, &comp); err != nil {
		return jobs.FixResult{}, fmt.Errorf("parse response: %w", err)
	}
	if len(comp.Choices) == 0 || comp.Choices[0].Message.Content == "" {
		return jobs.FixResult{}, fmt.Errorf("empty completion")
	}
	return parseFixResult(comp.Choices[0].Message.Content)
}

// parseFixResult decodes the model's JSON proposal and derives the changed-path
// list from the file records so the two always agree.
func parseFixResult(content string) (jobs.FixResult, error) {
	content = strings.TrimSpace(content)
	// Some models wrap JSON in a markdown fence despite instructions.
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var proposal struct {
		Success  bool              `json:"success"`
		Analysis string            `json:"analysis"`
		Solution string            `json:"solution"`
		Files    []jobs.FileChange `json:"files"`
		Error    string            `json:"error"`
	}
	if err := json.Unmarshal([]byte(content), &proposal); err != nil {
		return jobs.FixResult{}, fmt.Errorf("parse proposal: %w", err)
	}

	res := jobs.FixResult{
		Success:  proposal.Success,
		Analysis: proposal.Analysis,
		Solution: proposal.Solution,
		Error:    proposal.Error,
	}
	seen := make(map[string]bool, len(proposal.Files))
	for _, f := range proposal.Files {
		p := filepath.ToSlash(strings.TrimSpace(f.Path))
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		res.FilesChanged = append(res.FilesChanged, p)
		res.Files = append(res.Files, jobs.FileChange{Path: p, Content: f.Content})
	}
	if err := res.Validate(); err != nil {
		return jobs.FixResult{}, fmt.Errorf("invalid proposal: %w", err)
	}
	return res, nil
}

func (c *Client) buildRequestBody(description, tree string) chatCompletionRequest {
	sys := strings.TrimSpace(c.system)
	if sys == "" {
		sys = defaultSystemPrompt
	}
	user := fmt.Sprintf("Request:\n%s\n\nRepository files:\n%s", description, tree)

	req := chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: RoleSystem, Content: sys},
			{Role: RoleUser, Content: user},
		},
		ResponseFmt: &responseFormat{Type: "json_object"},
		Stream:      false,
	}
	if c.temperature != nil {
		req.Temperature = c.temperature
	}
	if c.maxTokens != nil {
		req.MaxTokens = c.maxTokens
	}
	return req
}

// repoTree builds a bounded newline-separated listing of repository file paths
// to give the model context without shipping file contents.
func repoTree(root string) (string, error) {
	if root == "" {
		return "", nil
	}
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		paths = append(paths, filepath.ToSlash(rel))
		if len(paths) >= maxTreeEntries {
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return strings.Join(paths, "\n"), nil
}

func optionalFloat32(v float32) *float32 {
	if v == 0 {
		return nil
	}
	return &v
}

func optionalInt(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
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

// OpenAI-compatible Chat Completions request/response types

type chatCompletionRequest struct {
	Model       string          `json:"model"`
	Messages    []chatMessage   `json:"messages"`
	Temperature *float32        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	ResponseFmt *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Choices []chatCompletionChoice `json:"choices"`
}

type chatCompletionChoice struct {
	Index        int         `json:"index"`
	Message      responseMsg `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type responseMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

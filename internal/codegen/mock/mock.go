package mock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jo-hoe/fixsmith/internal/codegen"
	"github.com/jo-hoe/fixsmith/internal/config"
	"github.com/jo-hoe/fixsmith/internal/jobs"
)

var _ codegen.Client = (*Client)(nil)

// Client is a canned code generator for local development. Behavior is driven
// by keywords in the request so all pipeline outcomes can be exercised without
// a model: "nonsense" yields a generation failure, "noop" yields a successful
// analysis with no file changes, anything else yields a one-file change.
type Client struct {
	delay time.Duration
}

func New(cfg config.MockSettings) *Client {
	return &Client{delay: cfg.Delay}
}

func (c *Client) Analyze(ctx context.Context, req codegen.Request) (jobs.FixResult, error) {
	if err := ctx.Err(); err != nil {
		return jobs.FixResult{}, err
	}
	if c.delay > 0 {
		select {
		case <-ctx.Done():
			return jobs.FixResult{}, ctx.Err()
		case <-time.After(c.delay):
		}
	}

	lower := strings.ToLower(req.Description)
	switch {
	case strings.Contains(lower, "nonsense"):
		return jobs.FixResult{
			Success: false,
			Error:   "cannot determine intent",
		}, nil
	case strings.Contains(lower, "noop"):
		return jobs.FixResult{
			Success:  true,
			Analysis: "The described behavior is already correct; no change is required.",
			Solution: "",
		}, nil
	default:
		content := fmt.Sprintf("# Mock change\n\nGenerated for request: %s\n", req.Description)
		return jobs.FixResult{
			Success:      true,
			Analysis:     "Mock analysis of the request.",
			Solution:     "Added MOCK_CHANGE.md describing the request.",
			FilesChanged: []string{"MOCK_CHANGE.md"},
			Files:        []jobs.FileChange{{Path: "MOCK_CHANGE.md", Content: content}},
		}, nil
	}
}

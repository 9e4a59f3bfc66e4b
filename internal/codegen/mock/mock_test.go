package mock

import (
	"context"
	"testing"

	"github.com/jo-hoe/fixsmith/internal/codegen"
	"github.com/jo-hoe/fixsmith/internal/config"
)

func TestAnalyze_KeywordOutcomes(t *testing.T) {
	c := New(config.MockSettings{Delay: 0})
	ctx := context.Background()

	t.Run("nonsense yields refusal", func(t *testing.T) {
		res, err := c.Analyze(ctx, codegen.Request{Description: "nonsense input"})
		if err != nil {
			t.Fatalf("analyze: %v", err)
		}
		if res.Success || res.Error == "" {
			t.Fatalf("result = %+v", res)
		}
	})

	t.Run("noop yields analysis without files", func(t *testing.T) {
		res, err := c.Analyze(ctx, codegen.Request{Description: "noop please"})
		if err != nil {
			t.Fatalf("analyze: %v", err)
		}
		if !res.Success || len(res.FilesChanged) != 0 || res.Analysis == "" {
			t.Fatalf("result = %+v", res)
		}
	})

	t.Run("default yields one file", func(t *testing.T) {
		res, err := c.Analyze(ctx, codegen.Request{Description: "fix the login page"})
		if err != nil {
			t.Fatalf("analyze: %v", err)
		}
		if !res.Success || len(res.FilesChanged) != 1 {
			t.Fatalf("result = %+v", res)
		}
		if err := res.Validate(); err != nil {
			t.Fatalf("invariant: %v", err)
		}
	})
}

func TestAnalyze_RespectsContextCancellation(t *testing.T) {
	c := New(config.MockSettings{Delay: 0})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Analyze(ctx, codegen.Request{Description: "fix"}); err == nil {
		t.Fatalf("expected context error")
	}
}

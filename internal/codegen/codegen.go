package codegen

import (
	"context"

	"github.com/jo-hoe/fixsmith/internal/jobs"
)

// Request carries everything the generator needs for one analysis pass.
type Request struct {
	Description string // the user's free-text fix/feature request
	RepoDir     string // local checkout of the target repository, synced to base
}

// Client defines the capability to turn a natural-language request plus a
// repository snapshot into a structured fix proposal. Implementations should
// prefer returning FixResult{Success: false} with an error text over a Go
// error; the error return is reserved for transport-level failures.
type Client interface {
	Analyze(ctx context.Context, req Request) (jobs.FixResult, error)
}

package deploy

import (
	"context"
	"time"

	"github.com/jo-hoe/fixsmith/internal/jobs"
)

// Waiter is the capability to block until a preview deployment for a branch is
// ready. Implementations never return an error: the outcome, including timeout,
// is always expressed in the DeploymentResult, and the caller treats it as
// advisory.
type Waiter interface {
	WaitForReady(ctx context.Context, branch string, timeout time.Duration) jobs.DeploymentResult
}

package jobs

import (
	"fmt"
	"time"

	"github.com/jo-hoe/fixsmith/internal/common"
)

// Status is the terminal classification of a processed job.
type Status string

const (
	StatusCompleted Status = common.StatusCompleted
	StatusFailed    Status = common.StatusFailed
)

// Job describes a single fix/feature request derived from one inbound Slack event.
// Jobs live only in process memory; pending and in-flight jobs are lost on restart.
type Job struct {
	ID          string    // UUIDv4
	Description string    // free-text request from the triggering message
	Channel     string    // originating Slack channel ID
	ThreadTS    string    // timestamp of the triggering message (thread anchor)
	UserID      string    // requesting Slack user
	CreatedAt   time.Time // creation time
	Attempts    int       // incremented by the queue on each handler failure
}

// FileChange is one generated file: path relative to the repo root plus its full new content.
type FileChange struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// FixResult is the structured outcome of the code-generation step for one job.
// Success with an empty FilesChanged list is a valid terminal state meaning
// "no actionable change", not an error.
type FixResult struct {
	Success      bool         `json:"success"`
	Analysis     string       `json:"analysis"`
	Solution     string       `json:"solution"`
	FilesChanged []string     `json:"files_changed"`
	Files        []FileChange `json:"files"`
	Error        string       `json:"error,omitempty"`
}

// Validate checks the path-agreement invariant: on success, FilesChanged and
// Files must describe the same set of paths, with no duplicates.
func (r *FixResult) Validate() error {
	if !r.Success {
		return nil
	}
	if len(r.FilesChanged) != len(r.Files) {
		return fmt.Errorf("fix result lists %d changed paths but %d file records", len(r.FilesChanged), len(r.Files))
	}
	seen := make(map[string]bool, len(r.FilesChanged))
	for _, p := range r.FilesChanged {
		if seen[p] {
			return fmt.Errorf("duplicate changed path %q", p)
		}
		seen[p] = true
	}
	recorded := make(map[string]bool, len(r.Files))
	for _, f := range r.Files {
		if !seen[f.Path] {
			return fmt.Errorf("file record %q has no matching changed path", f.Path)
		}
		if recorded[f.Path] {
			return fmt.Errorf("duplicate file record %q", f.Path)
		}
		recorded[f.Path] = true
	}
	return nil
}

// DeploymentResult is the advisory outcome of the preview-deployment wait.
// Its failure never flips the job's overall status to failed.
type DeploymentResult struct {
	Success bool   // deployment reached ready state within the budget
	URL     string // preview URL when ready
	State   string // ready|error|building|queued|canceled
	Error   string // populated on failure or timeout
}

// JobResult is the terminal record of one job's processing. It is constructed
// exactly once per attempt, at whichever pipeline exit point the job reached.
type JobResult struct {
	JobID      string
	Status     Status
	BranchName string            // set once a branch was derived, even if later stages failed
	PRURL      string            // set only when the pull request was opened
	PreviewURL string            // set only when the preview deployment became ready
	Fix        *FixResult        // retained whenever generation succeeded
	Deployment *DeploymentResult // present when deployment tracking ran
	Error      string            // non-empty whenever Status is failed
}

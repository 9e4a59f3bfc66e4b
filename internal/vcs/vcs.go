package vcs

import (
	"context"

	"github.com/jo-hoe/fixsmith/internal/jobs"
)

// CommitResult describes the outcome of staging and committing generated files.
// NothingToCommit is set when the generated content matched the working tree
// exactly; that is a success, not an error.
type CommitResult struct {
	Branch          string
	CommitSHA       string
	NothingToCommit bool
}

// PullRequest describes a PR to open from Branch into Base.
type PullRequest struct {
	Branch string
	Base   string
	Title  string
	Body   string
}

// PRResult identifies an opened pull request.
type PRResult struct {
	URL    string
	Number int
}

// RepoOps are the local repository operations, all relative to the single
// configured remote and base branch.
type RepoOps interface {
	// InitRepo clones the repository if no local checkout exists, otherwise
	// syncs the existing checkout to the remote base branch.
	InitRepo(ctx context.Context) error
	// CreateBranch re-syncs to base, deletes any stale same-named local branch
	// left by a previous run, then creates and checks out a fresh branch.
	CreateBranch(ctx context.Context, name string) error
	// CommitFiles writes the generated file contents into the working tree,
	// stages exactly those paths, and commits.
	CommitFiles(ctx context.Context, files []jobs.FileChange, message string) (CommitResult, error)
	// Push pushes the branch to the remote with upstream tracking set.
	Push(ctx context.Context, branch string) error
	// Dir returns the local checkout path.
	Dir() string
}

// HostOps are the code-host operations that have no local-checkout equivalent.
type HostOps interface {
	OpenPullRequest(ctx context.Context, pr PullRequest) (PRResult, error)
	AddLabels(ctx context.Context, number int, labels []string) error
}

// Client is the full version-control port the processor consumes.
type Client interface {
	RepoOps
	HostOps
}

type client struct {
	RepoOps
	HostOps
}

// NewClient composes the local-repository and code-host halves into one port.
func NewClient(r RepoOps, h HostOps) Client {
	return &client{RepoOps: r, HostOps: h}
}

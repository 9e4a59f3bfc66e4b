package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/jo-hoe/fixsmith/internal/common"
	appcfg "github.com/jo-hoe/fixsmith/internal/config"
	"github.com/jo-hoe/fixsmith/internal/jobs"
	"github.com/jo-hoe/fixsmith/internal/vcs"
)

var _ vcs.RepoOps = (*Repo)(nil)

// Repo implements vcs.RepoOps with go-git against one configured remote and
// base branch. All jobs share this single local checkout; the queue's
// one-job-at-a-time invariant is what makes that safe without locking.
type Repo struct {
	log *slog.Logger
	cfg appcfg.RepoConfig
	dir string
}

// New creates a Repo rooted under cfg.CloneDir.
func New(log *slog.Logger, cfg appcfg.RepoConfig) (*Repo, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("repo url must not be empty")
	}
	if strings.TrimSpace(cfg.CloneDir) == "" {
		return nil, errors.New("clone dir must not be empty")
	}
	if err := os.MkdirAll(cfg.CloneDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure clone dir: %w", err)
	}
	return &Repo{
		log: log,
		cfg: cfg,
		dir: filepath.Join(cfg.CloneDir, checkoutDirName(cfg.URL, cfg.BaseBranch)),
	}, nil
}

func (r *Repo) Dir() string { return r.dir }

// InitRepo clones if no checkout exists, else fetches and hard-resets the base
// branch to its remote state so every job starts from a clean tree.
func (r *Repo) InitRepo(ctx context.Context) error {
	if _, err := os.Stat(filepath.Join(r.dir, ".git")); os.IsNotExist(err) {
		return r.clone(ctx)
	}
	repo, err := gogit.PlainOpen(r.dir)
	if err != nil {
		return fmt.Errorf("open repo: %w", err)
	}
	return r.syncBase(ctx, repo)
}

func (r *Repo) clone(ctx context.Context) error {
	r.log.Info("cloning repository", "url", r.cfg.URL, "branch", r.cfg.BaseBranch)
	_, err := gogit.PlainCloneContext(ctx, r.dir, false, &gogit.CloneOptions{
		URL:           r.cfg.URL,
		Auth:          r.auth(),
		ReferenceName: plumbing.NewBranchReferenceName(r.cfg.BaseBranch),
	})
	if err != nil {
		return fmt.Errorf("clone: %w", err)
	}
	return nil
}

// syncBase fetches the remote and resets the base branch to origin/base.
func (r *Repo) syncBase(ctx context.Context, repo *gogit.Repository) error {
	err := repo.FetchContext(ctx, &gogit.FetchOptions{
		RemoteName: common.GitRemoteName,
		Auth:       r.auth(),
		Force:      true,
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return fmt.Errorf("fetch: %w", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("worktree: %w", err)
	}
	if err := wt.Checkout(&gogit.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(r.cfg.BaseBranch),
		Force:  true,
	}); err != nil {
		return fmt.Errorf("checkout %s: %w", r.cfg.BaseBranch, err)
	}

	remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName(common.GitRemoteName, r.cfg.BaseBranch), true)
	if err != nil {
		return fmt.Errorf("resolve %s/%s: %w", common.GitRemoteName, r.cfg.BaseBranch, err)
	}
	if err := wt.Reset(&gogit.ResetOptions{
		Mode:   gogit.HardReset,
		Commit: remoteRef.Hash(),
	}); err != nil {
		return fmt.Errorf("reset to %s/%s: %w", common.GitRemoteName, r.cfg.BaseBranch, err)
	}
	return nil
}

// CreateBranch re-syncs base, removes any stale local branch with the same
// name, then creates and checks out a fresh branch. Delete-then-recreate,
// never merge or rename: re-running after a prior partial failure must not
// error on "branch already exists".
func (r *Repo) CreateBranch(ctx context.Context, name string) error {
	repo, err := gogit.PlainOpen(r.dir)
	if err != nil {
		return fmt.Errorf("open repo: %w", err)
	}
	if err := r.syncBase(ctx, repo); err != nil {
		return err
	}

	branchRef := plumbing.NewBranchReferenceName(name)
	if _, err := repo.Reference(branchRef, false); err == nil {
		r.log.Info("removing stale local branch", "branch", name)
		if err := repo.Storer.RemoveReference(branchRef); err != nil {
			return fmt.Errorf("remove stale branch %s: %w", name, err)
		}
	}

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("worktree: %w", err)
	}
	if err := wt.Checkout(&gogit.CheckoutOptions{
		Branch: branchRef,
		Create: true,
	}); err != nil {
		return fmt.Errorf("create branch %s: %w", name, err)
	}
	return nil
}

// CommitFiles writes the generated contents, stages exactly those paths (never
// a blanket add-all), and commits. Zero net staged changes is success with
// NothingToCommit set and the current HEAD.
func (r *Repo) CommitFiles(ctx context.Context, files []jobs.FileChange, message string) (vcs.CommitResult, error) {
	repo, err := gogit.PlainOpen(r.dir)
	if err != nil {
		return vcs.CommitResult{}, fmt.Errorf("open repo: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return vcs.CommitResult{}, fmt.Errorf("worktree: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return vcs.CommitResult{}, fmt.Errorf("head: %w", err)
	}
	branch := head.Name().Short()

	for _, f := range files {
		full := filepath.Join(r.dir, filepath.FromSlash(f.Path))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return vcs.CommitResult{}, fmt.Errorf("ensure dir for %s: %w", f.Path, err)
		}
		if err := os.WriteFile(full, []byte(f.Content), 0o644); err != nil {
			return vcs.CommitResult{}, fmt.Errorf("write %s: %w", f.Path, err)
		}
		if _, err := wt.Add(f.Path); err != nil {
			return vcs.CommitResult{}, fmt.Errorf("stage %s: %w", f.Path, err)
		}
	}

	status, err := wt.Status()
	if err != nil {
		return vcs.CommitResult{}, fmt.Errorf("status: %w", err)
	}
	if status.IsClean() {
		return vcs.CommitResult{
			Branch:          branch,
			CommitSHA:       head.Hash().String(),
			NothingToCommit: true,
		}, nil
	}

	sha, err := wt.Commit(message, &gogit.CommitOptions{
		Author: &object.Signature{
			Name:  r.cfg.AuthorName,
			Email: r.cfg.AuthorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return vcs.CommitResult{}, fmt.Errorf("commit: %w", err)
	}
	return vcs.CommitResult{Branch: branch, CommitSHA: sha.String()}, nil
}

// Push pushes the branch to origin and records upstream tracking in the local
// branch config.
func (r *Repo) Push(ctx context.Context, branch string) error {
	repo, err := gogit.PlainOpen(r.dir)
	if err != nil {
		return fmt.Errorf("open repo: %w", err)
	}
	refSpec := gitconfig.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch))
	err = repo.PushContext(ctx, &gogit.PushOptions{
		RemoteName: common.GitRemoteName,
		RefSpecs:   []gitconfig.RefSpec{refSpec},
		Auth:       r.auth(),
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return fmt.Errorf("push %s: %w", branch, err)
	}

	err = repo.CreateBranch(&gitconfig.Branch{
		Name:   branch,
		Remote: common.GitRemoteName,
		Merge:  plumbing.NewBranchReferenceName(branch),
	})
	if err != nil && !errors.Is(err, gogit.ErrBranchExists) {
		return fmt.Errorf("set upstream for %s: %w", branch, err)
	}
	return nil
}

// auth returns basic auth for http(s) remotes. Local-path remotes (tests) take
// no credentials.
func (r *Repo) auth() transport.AuthMethod {
	if !strings.HasPrefix(r.cfg.URL, "http://") && !strings.HasPrefix(r.cfg.URL, "https://") {
		return nil
	}
	if strings.TrimSpace(r.cfg.Token) == "" {
		return nil
	}
	username := r.cfg.Username
	if username == "" {
		username = "git"
	}
	return &githttp.BasicAuth{Username: username, Password: r.cfg.Token}
}

// checkoutDirName derives a stable directory name from repo URL and branch.
func checkoutDirName(url, branch string) string {
	s := url + "_" + branch
	s = strings.ReplaceAll(s, "://", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, ":", "_")
	return s
}

package processor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/jo-hoe/fixsmith/internal/codegen"
	"github.com/jo-hoe/fixsmith/internal/common"
	"github.com/jo-hoe/fixsmith/internal/config"
	"github.com/jo-hoe/fixsmith/internal/deploy"
	"github.com/jo-hoe/fixsmith/internal/jobs"
	"github.com/jo-hoe/fixsmith/internal/notify"
	"github.com/jo-hoe/fixsmith/internal/vcs"
)

// Processor is the single queue handler. It drives one job through the ordered
// pipeline (repo sync, generation, branch, commit, push, PR, deployment wait)
// and reports each transition by editing one persistent status message.
type Processor struct {
	log           *slog.Logger
	notifier      notify.Notifier
	generator     codegen.Client
	vcs           vcs.Client
	deployer      deploy.Waiter // nil when deployment tracking is disabled
	baseBranch    string
	prLabels      []string
	deployTimeout time.Duration
}

// Ensure Processor implements jobs.Handler
var _ jobs.Handler = (*Processor)(nil)

func New(log *slog.Logger, cfg *config.Config, n notify.Notifier, g codegen.Client, v vcs.Client, d deploy.Waiter) *Processor {
	return &Processor{
		log:           log,
		notifier:      n,
		generator:     g,
		vcs:           v,
		deployer:      d,
		baseBranch:    cfg.Repo.BaseBranch,
		prLabels:      cfg.GitHub.PRLabels,
		deployTimeout: time.Duration(cfg.Deploy.TimeoutMinutes) * time.Minute,
	}
}

// Process runs the pipeline for one job. The only error it ever returns is a
// failure to post the initial status message: with no message there is no way
// to show progress, so that single case is left to the queue's retry policy.
// Everything after that point, panics included, is converted into a terminal
// JobResult with a best-effort notification.
func (p *Processor) Process(ctx context.Context, job *jobs.Job) (res jobs.JobResult, err error) {
	log := p.log.With("job_id", job.ID)
	res = jobs.JobResult{JobID: job.ID}

	// Acknowledged
	if rErr := p.notifier.React(ctx, job.Channel, job.ThreadTS, common.ReactionWorking); rErr != nil {
		log.Warn("acknowledge reaction failed", "err", rErr)
	}
	ref, postErr := p.notifier.Post(ctx, job.Channel, job.ThreadTS, ackText(job))
	if postErr != nil {
		return res, fmt.Errorf("post status message: %w", postErr)
	}

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("pipeline panic", "panic", rec, "stack", string(debug.Stack()))
			res.Status = jobs.StatusFailed
			res.Error = fmt.Sprintf("unexpected failure: %v", rec)
			p.report(ctx, job, &ref, &res)
			err = nil
		}
	}()

	// RepoReady
	p.update(ctx, job, &ref, progressText(job, stageSyncing))
	if initErr := p.vcs.InitRepo(ctx); initErr != nil {
		return p.fail(ctx, job, &ref, &res, fmt.Errorf("prepare repository: %w", initErr)), nil
	}

	// Analyzed
	p.update(ctx, job, &ref, progressText(job, stageAnalyzing))
	fix, genErr := p.generator.Analyze(ctx, codegen.Request{
		Description: job.Description,
		RepoDir:     p.vcs.Dir(),
	})
	if genErr != nil {
		return p.fail(ctx, job, &ref, &res, fmt.Errorf("analyze request: %w", genErr)), nil
	}
	if !fix.Success {
		return p.fail(ctx, job, &ref, &res, fmt.Errorf("analyze request: %s", fix.Error)), nil
	}
	if vErr := fix.Validate(); vErr != nil {
		return p.fail(ctx, job, &ref, &res, fmt.Errorf("analyze request: %w", vErr)), nil
	}
	res.Fix = &fix

	// No actionable change is a valid completed outcome, not an error.
	if len(fix.FilesChanged) == 0 {
		log.Info("no actionable change", "analysis_len", len(fix.Analysis))
		res.Status = jobs.StatusCompleted
		p.update(ctx, job, &ref, noChangeText(job, &fix))
		p.react(ctx, job, common.ReactionSuccess)
		return res, nil
	}

	// Branched
	branch := branchName(job.Description)
	p.update(ctx, job, &ref, progressText(job, stageBranching(branch)))
	if brErr := p.vcs.CreateBranch(ctx, branch); brErr != nil {
		return p.fail(ctx, job, &ref, &res, fmt.Errorf("create branch %s: %w", branch, brErr)), nil
	}
	res.BranchName = branch

	// Committed
	p.update(ctx, job, &ref, progressText(job, stageCommitting))
	commit, cErr := p.vcs.CommitFiles(ctx, fix.Files, commitMessage(job.Description, &fix))
	if cErr != nil {
		return p.fail(ctx, job, &ref, &res, fmt.Errorf("commit changes: %w", cErr)), nil
	}
	if commit.NothingToCommit {
		log.Info("generated content matches working tree, nothing committed", "branch", commit.Branch)
	}

	// Pushed
	p.update(ctx, job, &ref, progressText(job, stagePushing))
	if pushErr := p.vcs.Push(ctx, branch); pushErr != nil {
		return p.fail(ctx, job, &ref, &res,
			fmt.Errorf("push branch %s (the branch may exist only locally): %w", branch, pushErr)), nil
	}

	// PR creation failure is a soft stop: the branch is pushed and reviewable,
	// so the job still completes, carrying the error and no PR URL.
	p.update(ctx, job, &ref, progressText(job, stageOpeningPR))
	pr, prErr := p.vcs.OpenPullRequest(ctx, vcs.PullRequest{
		Branch: branch,
		Base:   p.baseBranch,
		Title:  prTitle(job.Description),
		Body:   prBody(job.Description, &fix),
	})
	if prErr != nil {
		log.Warn("pull request creation failed, branch remains pushed", "branch", branch, "err", prErr)
		res.Status = jobs.StatusCompleted
		res.Error = fmt.Sprintf("open pull request: %v", prErr)
		p.report(ctx, job, &ref, &res)
		return res, nil
	}
	res.PRURL = pr.URL
	if lblErr := p.vcs.AddLabels(ctx, pr.Number, p.prLabels); lblErr != nil {
		log.Warn("apply labels failed", "pr", pr.Number, "err", lblErr)
	}

	// DeployTracked (best-effort; both outcomes complete the job)
	if p.deployer != nil {
		p.update(ctx, job, &ref, progressText(job, stageDeploying))
		dep := p.deployer.WaitForReady(ctx, branch, p.deployTimeout)
		res.Deployment = &dep
		if dep.Success {
			res.PreviewURL = dep.URL
		} else {
			log.Warn("preview deployment not ready", "branch", branch, "state", dep.State, "err", dep.Error)
		}
	}

	// Reported
	res.Status = jobs.StatusCompleted
	p.report(ctx, job, &ref, &res)
	return res, nil
}

// fail finalizes a stage-local fatal failure: status failed, error recorded,
// any FixResult produced so far preserved on the result.
func (p *Processor) fail(ctx context.Context, job *jobs.Job, ref *notify.MessageRef, res *jobs.JobResult, cause error) jobs.JobResult {
	p.log.Error("job failed", "job_id", job.ID, "err", cause)
	res.Status = jobs.StatusFailed
	res.Error = cause.Error()
	p.report(ctx, job, ref, res)
	return *res
}

// report performs the single final status-message edit plus the final reaction.
func (p *Processor) report(ctx context.Context, job *jobs.Job, ref *notify.MessageRef, res *jobs.JobResult) {
	p.update(ctx, job, ref, summaryText(job, res))

	reaction := common.ReactionSuccess
	if res.Status == jobs.StatusFailed || res.Error != "" || (res.Deployment != nil && !res.Deployment.Success) {
		reaction = common.ReactionWarning
	}
	p.react(ctx, job, reaction)
}

// update edits the persistent status message in place. If the edit fails, one
// fallback message is posted instead so the user is never left staring at a
// stale "in progress" text, and the fallback becomes the tracked message.
func (p *Processor) update(ctx context.Context, job *jobs.Job, ref *notify.MessageRef, text string) {
	updErr := p.notifier.Update(ctx, *ref, text)
	if updErr == nil {
		return
	}
	p.log.Warn("status update failed, posting fallback message", "job_id", job.ID, "err", updErr)
	newRef, postErr := p.notifier.Post(ctx, job.Channel, job.ThreadTS, text)
	if postErr != nil {
		p.log.Error("fallback status post failed", "job_id", job.ID, "err", postErr)
		return
	}
	*ref = newRef
}

func (p *Processor) react(ctx context.Context, job *jobs.Job, emoji string) {
	if err := p.notifier.React(ctx, job.Channel, job.ThreadTS, emoji); err != nil {
		p.log.Warn("reaction failed", "job_id", job.ID, "emoji", emoji, "err", err)
	}
}

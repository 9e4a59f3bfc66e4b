package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jo-hoe/fixsmith/internal/common"
)

// Sentinel errors callers branch on.
var (
	ErrQueueNotStarted = errors.New("queue not started")
	ErrQueueFull       = errors.New("queue is full")
)

// Handler processes one job to a terminal JobResult. A returned error marks the
// attempt as failed in an unexpected way and makes the job eligible for retry;
// a JobResult with StatusFailed and a nil error is a terminal business outcome
// and is never retried.
type Handler interface {
	Process(ctx context.Context, job *Job) (JobResult, error)
}

// Queue is an in-memory bounded FIFO queue with a single worker, so at most one
// job is mid-processing at any time. That invariant is what makes the shared
// local repository checkout safe without locking; do not add workers without
// redesigning repository access.
type Queue struct {
	log         *slog.Logger
	ch          chan *Job
	maxAttempts int
	wg          sync.WaitGroup
	cancelOnce  sync.Once
	cancel      context.CancelFunc
	started     bool
	mu          sync.Mutex
}

// NewQueue creates a new Queue with the given capacity and per-job attempt bound.
func NewQueue(logger *slog.Logger, capacity int, maxAttempts int) *Queue {
	if capacity <= 0 {
		capacity = common.DefaultQueueCapacity
	}
	if maxAttempts <= 0 {
		maxAttempts = common.DefaultMaxAttempts
	}
	return &Queue{
		log:         logger,
		ch:          make(chan *Job, capacity),
		maxAttempts: maxAttempts,
	}
}

// Start registers the single handler and launches the worker goroutine.
// Enqueue before Start is a startup-ordering error, not silent buffering.
func (q *Queue) Start(ctx context.Context, h Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return errors.New("queue already started")
	}
	if h == nil {
		return errors.New("handler must not be nil")
	}
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.wg.Add(1)
	go q.worker(ctx, h)
	q.started = true
	return nil
}

func (q *Queue) worker(ctx context.Context, h Handler) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			q.log.Debug("worker stopping due to context cancellation")
			return
		case job, ok := <-q.ch:
			if !ok {
				q.log.Debug("queue closed, worker exiting")
				return
			}
			q.process(ctx, h, job)
		}
	}
}

// process runs one handler invocation and applies the retry policy. Handler
// failures are never propagated to the enqueuer; they are observable only via
// logs and whatever notifications the handler already posted.
func (q *Queue) process(ctx context.Context, h Handler, job *Job) {
	job.Attempts++
	log := q.log.With("job_id", job.ID, "attempt", job.Attempts)
	log.Info("processing job")
	start := time.Now()

	res, err := h.Process(ctx, job)
	if err != nil {
		log.Error("job attempt failed", "err", err, "duration", time.Since(start))
		q.retry(ctx, job)
		return
	}
	log.Info("job processed",
		"status", string(res.Status),
		"branch", res.BranchName,
		"pr_url", res.PRURL,
		"duration", time.Since(start))
}

func (q *Queue) retry(ctx context.Context, job *Job) {
	log := q.log.With("job_id", job.ID)
	if job.Attempts >= q.maxAttempts {
		log.Error("job dropped after exhausting attempts", "attempts", job.Attempts)
		return
	}
	if ctx.Err() != nil {
		log.Warn("job dropped, queue shutting down")
		return
	}
	// Re-enqueue through the same lock Shutdown takes before closing the
	// channel, so the send can never hit a closed channel mid-shutdown.
	if err := q.Enqueue(job); err != nil {
		log.Error("job dropped on retry", "err", err)
		return
	}
	log.Info("job re-enqueued for retry", "attempts", job.Attempts)
}

// Enqueue adds a job to the back of the queue. It never blocks the caller:
// the inbound-event handler must return to Slack within seconds, so this is
// fire-and-forget from its perspective.
func (q *Queue) Enqueue(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.started {
		return ErrQueueNotStarted
	}
	select {
	case q.ch <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown gracefully stops accepting work and waits for the worker to finish
// the current job up to the provided deadline.
func (q *Queue) Shutdown(deadline time.Duration) {
	q.cancelOnce.Do(func() {
		if q.cancel != nil {
			q.cancel()
		}
		// Flip started under the lock so a concurrent Enqueue either finishes
		// its send first or observes a stopped queue, never a closed channel.
		q.mu.Lock()
		q.started = false
		q.mu.Unlock()
		close(q.ch)

		done := make(chan struct{})
		go func() {
			defer close(done)
			q.wg.Wait()
		}()

		if deadline <= 0 {
			<-done
			return
		}

		timer := time.NewTimer(deadline)
		defer timer.Stop()
		select {
		case <-done:
			return
		case <-timer.C:
			q.log.Warn("queue shutdown deadline reached; worker may still be running")
		}
	})
}

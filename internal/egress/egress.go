package egress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"stagecoach/internal/config"
	"stagecoach/internal/ledger"
	"stagecoach/internal/logging"
	"stagecoach/internal/services"
	"stagecoach/internal/services/watchdog"
)

// Summary reports one egress run.
type Summary struct {
	Jobs     ledger.Summary
	Notified bool
	Duration time.Duration
}

// Option configures the runner.
type Option func(*Runner)

// WithCopyFunc injects a custom copier (primarily for tests).
func WithCopyFunc(fn CopyFunc) Option {
	return func(r *Runner) {
		if fn != nil {
			r.copyFn = fn
		}
	}
}

// Runner mirrors a session's files to the destination per the persisted
// ledger: a worker pool copies unconfirmed jobs, transient failures retry
// with backoff, and the ledger is rewritten after every state change so an
// interrupted run resumes where it stopped.
type Runner struct {
	cfg     config.Transfer
	backend watchdog.Backend
	copyFn  CopyFunc
	logger  *slog.Logger
}

// New builds a transfer runner. A nil backend disables notification.
func New(cfg config.Transfer, backend watchdog.Backend, logger *slog.Logger, opts ...Option) *Runner {
	if backend == nil {
		backend = watchdog.Disabled{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	runner := &Runner{
		cfg:     cfg,
		backend: backend,
		copyFn:  copyAndVerify,
		logger:  logging.NewComponentLogger(logger, "egress"),
	}
	for _, opt := range opts {
		opt(runner)
	}
	return runner
}

// Run executes every unconfirmed job in the stored ledger across the worker
// pool, then notifies the transfer backend once all copies confirm. Any
// unconfirmed job or failed notification leaves the run partial, tagged
// services.ErrTransfer; confirmed copies are never reverted.
func (r *Runner) Run(ctx context.Context, store *ledger.Store) (*Summary, error) {
	started := time.Now()
	led, err := store.Load()
	if err != nil {
		return nil, services.Wrap(services.ErrTransfer, "", "egress", "load ledger", err)
	}
	if led == nil {
		return nil, services.Wrap(services.ErrNotFound, "", "egress",
			fmt.Sprintf("no transfer ledger at %s", store.Path()), nil)
	}

	state := &runState{store: store, led: led, logger: r.logger}
	queue := led.Unconfirmed()
	r.logger.Info("transfer starting",
		logging.Int("jobs", len(queue)),
		logging.Int("workers", r.workers()),
		logging.String("destination", led.DestinationRoot))

	jobs := make(chan *ledger.Job)
	var wg sync.WaitGroup
	for i := 0; i < r.workers(); i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(seed))
			for job := range jobs {
				if ctx.Err() != nil {
					continue
				}
				r.runJob(ctx, state, job, rnd)
			}
		}(started.UnixNano() + int64(i))
	}
	for _, job := range queue {
		jobs <- job
	}
	close(jobs)
	wg.Wait()

	summary := &Summary{Jobs: led.Summarize(), Duration: time.Since(started)}

	if err := ctx.Err(); err != nil {
		return summary, services.Wrap(services.ErrAborted, "", "egress",
			"transfer interrupted", err)
	}
	if !led.Complete() {
		return summary, services.Wrap(services.ErrTransfer, "", "egress",
			fmt.Sprintf("%d of %d files unconfirmed",
				summary.Jobs.Total-summary.Jobs.Confirmed, summary.Jobs.Total), nil)
	}

	if err := r.notify(ctx, led); err != nil {
		return summary, services.Wrap(services.ErrTransfer, "", "egress",
			"files confirmed but downstream notification failed", err)
	}
	summary.Notified = r.backend.Name() != "none"
	summary.Duration = time.Since(started)
	r.logger.Info("transfer complete",
		logging.Int("confirmed", summary.Jobs.Confirmed),
		logging.Uint64("bytes", uint64(summary.Jobs.ConfirmedBytes)),
		logging.Duration("duration", summary.Duration))
	return summary, nil
}

func (r *Runner) runJob(ctx context.Context, state *runState, job *ledger.Job, rnd *rand.Rand) {
	for {
		state.markInFlight(job)
		err := r.copyFn(ctx, job, state.led.FingerprintMode)
		if err == nil {
			state.markConfirmed(job)
			r.logger.Info("file confirmed",
				logging.String("path", job.Source),
				logging.Int("attempts", job.Attempts))
			return
		}

		transient := IsTransient(err)
		if !transient || job.Attempts >= r.maxAttempts() || ctx.Err() != nil {
			state.markFailed(job, err)
			r.logger.Error("file failed",
				logging.String("path", job.Source),
				logging.Int("attempts", job.Attempts),
				logging.Bool("transient", transient),
				logging.Error(err))
			return
		}

		delay := retryDelay(job.Attempts, r.retryBase(), r.retryCeiling(), r.cfg.RetryJitter, rnd)
		r.logger.Warn("transient copy failure, retrying",
			logging.String("path", job.Source),
			logging.Int("attempt", job.Attempts),
			logging.Duration("delay", delay),
			logging.Error(err))
		if !sleepCtx(ctx, delay) {
			state.markFailed(job, errors.New("transfer interrupted"))
			return
		}
	}
}

// notify delivers the post-copy notice, retrying transient delivery
// failures under the same policy as file copies.
func (r *Runner) notify(ctx context.Context, led *ledger.Ledger) error {
	notice := buildNotice(led)
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts(); attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := r.backend.Notify(ctx, notice)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsTransient(err) {
			return err
		}
		delay := retryDelay(attempt, r.retryBase(), r.retryCeiling(), r.cfg.RetryJitter, rnd)
		r.logger.Warn("notification failed, retrying",
			logging.String("backend", r.backend.Name()),
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Error(err))
		if !sleepCtx(ctx, delay) {
			return ctx.Err()
		}
	}
	return lastErr
}

func buildNotice(led *ledger.Ledger) watchdog.Notice {
	notice := watchdog.Notice{
		SessionID:   led.SessionID,
		Subject:     led.Subject,
		Destination: led.DestinationRoot,
		CompletedAt: time.Now().UTC(),
	}
	for _, job := range led.Jobs {
		if job.State != ledger.StateConfirmed {
			continue
		}
		rel, err := filepath.Rel(led.DestinationRoot, job.Destination)
		if err != nil || strings.HasPrefix(rel, "..") {
			rel = job.Destination
		}
		notice.Files = append(notice.Files, watchdog.NoticeFile{
			Path:        filepath.ToSlash(rel),
			SizeBytes:   job.Size,
			Fingerprint: job.Fingerprint,
		})
		notice.TotalBytes += job.Size
	}
	notice.FileCount = len(notice.Files)
	return notice
}

func (r *Runner) workers() int {
	if r.cfg.Workers < 1 {
		return 1
	}
	return r.cfg.Workers
}

func (r *Runner) maxAttempts() int {
	if r.cfg.MaxAttempts < 1 {
		return 1
	}
	return r.cfg.MaxAttempts
}

func (r *Runner) retryBase() time.Duration {
	if r.cfg.RetryBaseMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(r.cfg.RetryBaseMS) * time.Millisecond
}

func (r *Runner) retryCeiling() time.Duration {
	if r.cfg.RetryCapMS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(r.cfg.RetryCapMS) * time.Millisecond
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// runState serializes ledger mutation and persistence across the pool.
type runState struct {
	mu     sync.Mutex
	led    *ledger.Ledger
	store  *ledger.Store
	logger *slog.Logger
}

func (s *runState) markInFlight(job *ledger.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.MarkInFlight()
	s.persist()
}

func (s *runState) markConfirmed(job *ledger.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.MarkConfirmed()
	s.persist()
}

func (s *runState) markFailed(job *ledger.Job, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.MarkFailed(err.Error())
	s.persist()
}

func (s *runState) persist() {
	if err := s.store.Save(s.led); err != nil {
		s.logger.Error("persist ledger", logging.Error(err))
	}
}

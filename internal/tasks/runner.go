// Package tasks runs fire-and-forget background work that must outlive the
// request which scheduled it.
package tasks

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/unfurld/unfurld/internal/telemetry"
)

// Runner supervises detached tasks. Work runs on the runner's own context,
// not the request context, so client disconnects never cancel a scheduled
// cache write. Close drains in-flight work.
type Runner struct {
	baseCtx context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	logger  *zap.Logger

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewRunner constructs a Runner. timeout bounds each task; zero means one
// minute.
func NewRunner(timeout time.Duration, logger *zap.Logger) *Runner {
	if timeout <= 0 {
		timeout = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		baseCtx: ctx,
		cancel:  cancel,
		timeout: timeout,
		logger:  logger,
	}
}

// Submit schedules fn and returns immediately. Errors are logged and
// counted, never propagated; a failed background write must not fail the
// request that scheduled it.
func (r *Runner) Submit(name string, fn func(ctx context.Context) error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.Warn("task submitted after close, dropped", zap.String("task", name))
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(r.baseCtx, r.timeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			telemetry.ObserveBackgroundTask(name, "error")
			r.logger.Warn("background task failed", zap.String("task", name), zap.Error(err))
			return
		}
		telemetry.ObserveBackgroundTask(name, "ok")
	}()
}

// Close waits for in-flight tasks to finish, then cancels the base context.
// Further submissions are dropped.
func (r *Runner) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.wg.Wait()
	r.cancel()
}

// Wait blocks until currently scheduled tasks complete. Primarily for tests
// asserting a write was scheduled and ran.
func (r *Runner) Wait() {
	r.wg.Wait()
}

package session

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// #region runner
// Runner is the single goroutine that owns a Machine. Clicks, timer
// callbacks and operator keys are posted to it and run in order.
type Runner struct {
	queue    chan func()
	stopped  chan struct{}
	stopOnce sync.Once
	logger   *zap.Logger
}

// NewRunner returns a runner with a queue of the given depth.
func NewRunner(depth int, logger *zap.Logger) *Runner {
	if depth < 1 {
		depth = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		queue:   make(chan func(), depth),
		stopped: make(chan struct{}),
		logger:  logger,
	}
}

// Post enqueues f. After Run returns, posted work is dropped.
func (r *Runner) Post(f func()) {
	select {
	case <-r.stopped:
		return
	default:
	}
	select {
	case r.queue <- f:
	case <-r.stopped:
	}
}

// Run processes posted work until m completes or ctx ends. Context
// cancellation cancels the session as an operator stop.
func (r *Runner) Run(ctx context.Context, m *Machine) error {
	defer r.stopOnce.Do(func() { close(r.stopped) })
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("runner cancelled", zap.Error(ctx.Err()))
			m.Cancel(ReasonOperator)
			return nil
		case <-m.Done():
			return nil
		case f := <-r.queue:
			f()
		}
	}
}

// Stopped closes when Run has returned.
func (r *Runner) Stopped() <-chan struct{} { return r.stopped }

// #endregion runner

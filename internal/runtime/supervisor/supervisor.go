// Package supervisor manages named goroutines tied to a shared context:
// panic recovery, optional restart with backoff, and timeout-aware stop.
package supervisor

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	logx "notifyd/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log logx.Logger

	// Counters are best-effort operational metrics.
	started atomic.Uint64
	active  atomic.Int64

	doneOnce sync.Once
	doneCh   chan struct{}
	wg       sync.WaitGroup
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		log:    logx.Nop(),
		doneCh: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Counters reports (active, started) goroutine counts.
func (s *Supervisor) Counters() (int64, uint64) {
	return s.active.Load(), s.started.Load()
}

// Go runs fn in a supervised goroutine. Panics are recovered and logged;
// the goroutine is not restarted.
func (s *Supervisor) Go(name string, fn func(ctx context.Context)) {
	s.spawn(name, fn, false)
}

// GoRestart runs fn in a supervised goroutine and restarts it with a small
// backoff if it panics, until the supervisor context is cancelled.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context)) {
	s.spawn(name, fn, true)
}

func (s *Supervisor) spawn(name string, fn func(ctx context.Context), restart bool) {
	if fn == nil {
		return
	}
	s.wg.Add(1)
	s.started.Add(1)
	s.active.Add(1)

	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)

		backoff := 250 * time.Millisecond
		const backoffMax = 5 * time.Second

		for {
			panicked := s.runOnce(name, fn)
			if !panicked || !restart || s.ctx.Err() != nil {
				return
			}
			s.log.Warn("supervised goroutine restarting after panic",
				logx.String("goroutine", name), logx.Duration("backoff", backoff))
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < backoffMax {
				backoff *= 2
				if backoff > backoffMax {
					backoff = backoffMax
				}
			}
		}
	}()
}

func (s *Supervisor) runOnce(name string, fn func(ctx context.Context)) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			s.log.Error("panic in supervised goroutine",
				logx.String("goroutine", name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	fn(s.ctx)
	return false
}

// Stop cancels the supervisor context and waits for all goroutines,
// bounded by ctx's deadline.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.doneCh)
		}()
	})
	select {
	case <-s.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Package supervisor runs named background tasks under one shared context,
// with panic capture, first-error tracking, and optional restart loops.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	logx "chimebot/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	mu       sync.Mutex
	firstErr error

	wg       sync.WaitGroup
	waitOnce sync.Once
	done     chan struct{}
}

type SupervisorOption func(*Supervisor)

func WithLogger(log logx.Logger) SupervisorOption {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the shared context as soon as any task fails.
// Leave it off for groups whose members should outlive each other's failures.
func WithCancelOnError(enabled bool) SupervisorOption {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func NewSupervisor(parent context.Context, opts ...SupervisorOption) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, done: make(chan struct{})}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel signals every task to stop. It does not wait; pair with Wait.
func (s *Supervisor) Cancel() { s.cancel() }

// Err returns the first recorded task error, if any.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr
}

func (s *Supervisor) record(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	if s.firstErr == nil {
		s.firstErr = err
	}
	s.mu.Unlock()
}

// runRecovered invokes fn once, folding a panic into the returned error so a
// broken task cannot crash the process.
func runRecovered(ctx context.Context, name string, log logx.Logger, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked",
				logx.String("task", name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

// Go runs fn once in its own goroutine. A non-nil return (other than context
// cancellation) becomes the supervisor's error.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Debug("task started", logx.String("task", name))
		err := runRecovered(s.ctx, name, s.log, fn)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.record(fmt.Errorf("%s: %w", name, err))
			if s.cancelOnErr {
				s.cancel()
			}
		}
		s.log.Debug("task exited", logx.String("task", name))
	}()
}

// Go0 is Go for functions with nothing to report.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

type restartPolicy struct {
	backoffMin    time.Duration
	backoffMax    time.Duration
	maxRestarts   int // <=0: unlimited
	restartOnExit bool
	recordErr     bool
}

type RestartOption func(*restartPolicy)

// WithRestartBackoff bounds the delay between restarts. The delay doubles on
// each consecutive failure and resets after a run that held up for a while.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if min > 0 {
			p.backoffMin = min
		}
		if max > 0 {
			p.backoffMax = max
		}
	}
}

// WithMaxRestarts gives up after n failed restarts. The first run is free.
func WithMaxRestarts(n int) RestartOption {
	return func(p *restartPolicy) { p.maxRestarts = n }
}

// WithPublishFirstError records restart-loop failures as the supervisor error.
// Off by default: a self-healing loop usually should not mark the group failed.
func WithPublishFirstError(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.recordErr = enabled }
}

// WithStopOnCleanExit controls whether a nil return ends the loop (default)
// or counts as a failure and triggers a restart.
func WithStopOnCleanExit(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.restartOnExit = !enabled }
}

// GoRestart keeps fn running until the context ends, restarting it after
// errors and panics with jittered exponential backoff. Meant for pollers,
// watchers, and consumer loops that must survive transient failures.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	pol := restartPolicy{backoffMin: 250 * time.Millisecond, backoffMax: 30 * time.Second}
	for _, o := range opts {
		o(&pol)
	}
	if pol.backoffMin <= 0 {
		pol.backoffMin = 250 * time.Millisecond
	}
	if pol.backoffMax < pol.backoffMin {
		pol.backoffMax = pol.backoffMin
	}

	s.Go0(name+".restart", func(ctx context.Context) {
		restarts := 0
		delay := pol.backoffMin
		for ctx.Err() == nil {
			began := time.Now()
			err := runRecovered(ctx, name, s.log, fn)

			switch {
			case ctx.Err() != nil || errors.Is(err, context.Canceled):
				return
			case err == nil && !pol.restartOnExit:
				return
			case err == nil:
				err = errors.New("returned early")
			}

			if pol.recordErr {
				s.record(fmt.Errorf("%s: %w", name, err))
			}

			restarts++
			if pol.maxRestarts > 0 && restarts > pol.maxRestarts {
				s.log.Error("task restart budget exhausted",
					logx.String("task", name),
					logx.Int("restarts", restarts-1),
					logx.Any("err", err),
				)
				return
			}

			// A run that held up for a while earns a fresh backoff window.
			if time.Since(began) >= time.Minute {
				delay = pol.backoffMin
			}
			wait := delay + jitter(delay/4)
			if wait > pol.backoffMax {
				wait = pol.backoffMax
			}
			s.log.Warn("task restarting",
				logx.String("task", name),
				logx.Duration("in", wait),
				logx.Any("err", err),
			)

			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}

			delay *= 2
			if delay > pol.backoffMax {
				delay = pol.backoffMax
			}
		}
	})
}

// GoRestart0 is GoRestart for functions with nothing to report.
func (s *Supervisor) GoRestart0(name string, fn func(ctx context.Context), opts ...RestartOption) {
	if fn == nil {
		return
	}
	s.GoRestart(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	}, opts...)
}

func jitter(span time.Duration) time.Duration {
	if span <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(span) + 1))
}

// Stop cancels the group and waits for every task, bounded by ctx.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every task has exited or ctx ends. On a full drain it
// returns the first recorded task error.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.waitOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

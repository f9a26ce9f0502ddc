package agenda

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	rtsup "chimebot/internal/runtime/supervisor"
	kit "chimebot/internal/transport"
	logx "chimebot/pkg/logx"
)

const dispatchSendTimeout = 10 * time.Second

// dispatcher delivers firings to the chat adapter on worker goroutines so a
// slow or failing send never blocks the trigger loop. Delivery failures are
// logged and the firing is dropped; the fire state was already stamped, so a
// retry here could only produce duplicates.
type dispatcher struct {
	log         logx.Logger
	adapter     kit.Adapter
	defaultChat int64
	limiter     *rate.Limiter
	workers     int

	mu        sync.Mutex
	queue     chan Firing
	accepting bool
	stopping  bool
	sup       *rtsup.Supervisor
}

func newDispatcher(cfg Config, adapter kit.Adapter, log logx.Logger) *dispatcher {
	qs := cfg.QueueSize
	if qs <= 0 {
		qs = 64
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 20
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 2
	}
	d := &dispatcher{
		log:         log,
		adapter:     adapter,
		defaultChat: cfg.DefaultChat,
		limiter:     rate.NewLimiter(rate.Limit(rps), rps),
		workers:     workers,
	}
	d.queue = make(chan Firing, qs)
	return d
}

func (d *dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sup != nil {
		return nil
	}
	d.accepting = true
	d.stopping = false
	d.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(d.log),
		rtsup.WithCancelOnError(false),
	)
	for i := 0; i < d.workers; i++ {
		name := fmt.Sprintf("dispatch.worker.%d", i)
		d.sup.GoRestart(name, d.workerLoop,
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
		)
	}
	return nil
}

func (d *dispatcher) workerLoop(ctx context.Context) error {
	d.mu.Lock()
	queue := d.queue
	d.mu.Unlock()
	if queue == nil {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			// Take whatever is already buffered, then stop.
			for {
				select {
				case f, ok := <-queue:
					if !ok {
						return nil
					}
					d.deliver(ctx, f)
				default:
					return nil
				}
			}
		case f, ok := <-queue:
			if !ok {
				d.mu.Lock()
				stopping := d.stopping
				d.mu.Unlock()
				if stopping || ctx.Err() != nil {
					return nil
				}
				return errors.New("dispatch queue closed unexpectedly")
			}
			d.deliver(ctx, f)
		}
	}
}

func (d *dispatcher) deliver(ctx context.Context, f Firing) {
	chat := f.Chat
	if chat == 0 {
		chat = d.defaultChat
	}
	if chat == 0 {
		d.log.Warn("no target chat for firing", logx.String("kind", string(f.Kind)))
		return
	}

	sctx, cancel := context.WithTimeout(ctx, dispatchSendTimeout)
	defer cancel()

	if err := d.limiter.Wait(sctx); err != nil {
		d.log.Warn("dispatch rate wait aborted",
			logx.String("kind", string(f.Kind)),
			logx.Int64("chat", chat),
			logx.Err(err))
		return
	}
	_, err := d.adapter.SendText(sctx, kit.ChatTarget{ChatID: chat}, f.Text, &kit.SendOptions{
		ParseMode:      "HTML",
		DisablePreview: true,
	})
	if err != nil {
		d.log.Error("dispatch failed",
			logx.String("kind", string(f.Kind)),
			logx.Int64("chat", chat),
			logx.Err(err))
		return
	}
	d.log.Debug("firing delivered",
		logx.String("kind", string(f.Kind)),
		logx.Int64("chat", chat))
}

// Enqueue hands a firing to the workers without blocking. A full queue drops
// the firing with a warning.
func (d *dispatcher) Enqueue(f Firing) {
	defer func() {
		// Stop may close the queue between the snapshot and the send.
		if r := recover(); r != nil {
			d.log.Warn("dispatch queue closed; dropping firing", logx.String("kind", string(f.Kind)))
		}
	}()
	d.mu.Lock()
	accepting := d.accepting
	queue := d.queue
	d.mu.Unlock()
	if !accepting || queue == nil {
		d.log.Warn("dispatcher not running; dropping firing", logx.String("kind", string(f.Kind)))
		return
	}
	select {
	case queue <- f:
	default:
		d.log.Warn("dispatch queue full; dropping firing", logx.String("kind", string(f.Kind)))
	}
}

// Stop closes the queue and delivers what is buffered, bounded by ctx.
func (d *dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	sup := d.sup
	queue := d.queue
	d.sup = nil
	d.queue = nil
	d.accepting = false
	d.stopping = true
	d.mu.Unlock()
	if sup == nil {
		return nil
	}

	if queue != nil {
		func() {
			defer func() { _ = recover() }()
			close(queue)
		}()
	}

	// Drain synchronously so shutdown sends do not race worker teardown.
	if queue != nil {
	drain:
		for {
			select {
			case f, ok := <-queue:
				if !ok {
					break drain
				}
				d.deliver(ctx, f)
			case <-ctx.Done():
				break drain
			}
		}
	}

	sup.Cancel()
	return sup.Wait(ctx)
}

package workflow

import (
	"context"
	"log/slog"
	"sync"

	"forge-router/internal/cache"
	"forge-router/internal/fleet"
)

// Dispatcher couples the pending queue to idle fleet nodes. It is
// triggered after every admission and after every node addition, and
// drains as many pending tasks as there are idle nodes before going back
// to sleep.
type Dispatcher struct {
	record  *Record
	fleet   *fleet.Fleet
	cache   *cache.Cache
	logger  *slog.Logger
	trigger chan struct{}

	// inFlight tracks every spawned executor so a graceful shutdown can
	// wait for in-flight work to finish instead of killing it mid-task.
	inFlight sync.WaitGroup
}

// NewDispatcher constructs a Dispatcher. Call Run in its own goroutine.
func NewDispatcher(record *Record, f *fleet.Fleet, c *cache.Cache, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		record:  record,
		fleet:   f,
		cache:   c,
		logger:  logger,
		trigger: make(chan struct{}, 1),
	}
}

// Trigger wakes the dispatcher loop. Safe to call from any goroutine;
// non-blocking.
func (d *Dispatcher) Trigger() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is cancelled, draining the pending queue every time
// it is triggered.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.trigger:
			d.drain(ctx)
		}
	}
}

// drain implements the peek → pick → pop → spawn contract: picking the
// node before committing to dequeue ensures a pending task is never lost
// for want of an idle node.
func (d *Dispatcher) drain(ctx context.Context) {
	for {
		task, ok := d.record.PeekPending()
		if !ok {
			return
		}

		node, ok := d.fleet.Pick(task.Payload.CacheMap())
		if !ok {
			return
		}

		popped, ok := d.record.PopPending()
		if !ok || popped.ID != task.ID {
			// Lost the race to another drain; release the node and retry.
			d.fleet.SetIdle(node)
			continue
		}

		d.logger.Info("dispatched", "task", popped.ID, "node", node)
		d.inFlight.Add(1)
		go d.runAndRelease(context.WithoutCancel(ctx), popped, node)
	}
}

func (d *Dispatcher) runAndRelease(ctx context.Context, task *Task, node string) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("executor panicked", "task", task.ID, "node", node, "panic", r)
			task.setResult(Result{Status: ResultError, Error: "internal executor error"})
		}
		d.fleet.SetIdle(node)
		d.Trigger()
		d.inFlight.Done()
	}()

	RunExecutor(ctx, task, node, d.cache, d.logger)
}

// Idle returns a channel that is closed once every spawned executor has
// returned. Graceful shutdown selects on this against a deadline so
// in-flight work runs to completion instead of being killed mid-task.
func (d *Dispatcher) Idle() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		d.inFlight.Wait()
		close(done)
	}()
	return done
}

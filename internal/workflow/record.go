package workflow

import (
	"errors"
	"sync"
)

// ErrPendingQueueFull is returned by Add when the pending FIFO is at
// capacity; callers surface this as HTTP 429.
var ErrPendingQueueFull = errors.New("pending queue full")

// Record is the bounded FIFO of accepted tasks (RecordLock-guarded): a
// capacity-H history keyed by id, and a capacity-P pending queue of ids
// awaiting dispatch.
type Record struct {
	mu sync.Mutex

	inner map[string]*Task
	order []string // insertion order, oldest first
	hCap  int

	pending []string // FIFO, oldest (next to dispatch) first
	pCap    int
}

// NewRecord constructs a Record with history capacity h and pending
// capacity p.
func NewRecord(h, p int) *Record {
	return &Record{
		inner: make(map[string]*Task),
		hCap:  h,
		pCap:  p,
	}
}

// Add admits a new workflow payload: it is rejected with
// ErrPendingQueueFull if the pending queue is already at capacity,
// otherwise a Task is created, enqueued, and inserted into history
// (evicting the oldest history entry if that, too, is at capacity).
func (r *Record) Add(payload Payload) (*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pending) >= r.pCap {
		return nil, ErrPendingQueueFull
	}

	task := newTask(payload, len(r.pending))
	r.pending = append(r.pending, task.ID)

	if len(r.order) >= r.hCap {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.inner, oldest)
	}
	r.inner[task.ID] = task
	r.order = append(r.order, task.ID)

	return task, nil
}

// Get returns the task for id as long as it is still in the history
// window.
func (r *Record) Get(id string) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.inner[id]
	return task, ok
}

// PeekPending returns the task at the head of the pending queue without
// removing it.
func (r *Record) PeekPending() (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.pending) > 0 {
		task, ok := r.inner[r.pending[0]]
		if ok {
			return task, true
		}
		// The task aged out of history while still pending; drop the
		// dangling id and keep looking.
		r.pending = r.pending[1:]
	}
	return nil, false
}

// PopPending removes and returns the head of the pending queue.
func (r *Record) PopPending() (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) == 0 {
		return nil, false
	}
	id := r.pending[0]
	r.pending = r.pending[1:]
	task, ok := r.inner[id]
	return task, ok
}

// PendingDepth returns the current pending queue length.
func (r *Record) PendingDepth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

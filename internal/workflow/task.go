// Package workflow implements the workflow lifecycle: the bounded pending
// queue and history (Workflow Record), the dispatcher that couples pending
// tasks to idle nodes, and the task executor that drives a backend's
// WebSocket protocol to completion.
package workflow

import (
	"sync"

	"github.com/google/uuid"
)

// ResultStatus is the tag of a WorkflowResult's current variant.
type ResultStatus string

const (
	ResultPending ResultStatus = "pending"
	ResultRunning ResultStatus = "running"
	ResultDone    ResultStatus = "done"
	ResultError   ResultStatus = "error"
)

// Result is the tagged WorkflowResult variant. Data carries previews while
// Running and artifacts once Done; both encode as base64 byte arrays.
type Result struct {
	Status     ResultStatus `json:"status"`
	QueueDepth int          `json:"queue_depth,omitempty"`
	Progress   float64      `json:"progress,omitempty"`
	Data       [][]byte     `json:"data,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// Stripped returns a copy of r with Done artifacts stripped to an empty
// list, for the unauthenticated preview endpoint.
func (r Result) Stripped() Result {
	if r.Status == ResultDone {
		r.Data = [][]byte{}
	}
	return r
}

// Task is one accepted workflow: an id, its payload, and a shared-mutable
// result that the executor updates as the backend reports progress.
type Task struct {
	ID      string
	Payload Payload

	mu     sync.RWMutex
	result Result
}

func newTask(payload Payload, queueDepth int) *Task {
	return &Task{
		ID:      uuid.New().String(),
		Payload: payload,
		result:  Result{Status: ResultPending, QueueDepth: queueDepth},
	}
}

// Result returns the task's current result.
func (t *Task) Result() Result {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.result
}

func (t *Task) setResult(r Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.result = r
}

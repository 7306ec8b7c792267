package hooks

import (
	"errors"
	"sync"

	"intentchain/native/intents"
)

var (
	// ErrQueueFull indicates the bounded queue cannot accept more hooks.
	ErrQueueFull = errors.New("hooks: queue full")
	// ErrEmptyPayload indicates an enqueue without a payload.
	ErrEmptyPayload = errors.New("hooks: payload required")
)

// Hook is an opaque post-settlement callback handed to the external lazy
// executor. The settlement core never interprets the payload.
type Hook struct {
	Origin    intents.IntentID
	Payload   []byte
	MaxWeight uint64
}

// Queue is the contract the execution engine produces hooks into.
type Queue interface {
	Enqueue(origin intents.IntentID, payload []byte, maxWeight uint64) error
}

// MemoryQueue is a bounded FIFO hook queue drained by the external executor.
type MemoryQueue struct {
	mu    sync.Mutex
	hooks []Hook
	limit int
}

// NewMemoryQueue constructs a queue holding at most limit hooks. A limit of
// zero means unbounded.
func NewMemoryQueue(limit int) *MemoryQueue {
	return &MemoryQueue{limit: limit}
}

// Enqueue appends a hook to the queue.
func (q *MemoryQueue) Enqueue(origin intents.IntentID, payload []byte, maxWeight uint64) error {
	if len(payload) == 0 {
		return ErrEmptyPayload
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.limit > 0 && len(q.hooks) >= q.limit {
		return ErrQueueFull
	}
	q.hooks = append(q.hooks, Hook{
		Origin:    origin,
		Payload:   append([]byte(nil), payload...),
		MaxWeight: maxWeight,
	})
	return nil
}

// Drain removes and returns up to max hooks in arrival order. A max of zero
// drains everything.
func (q *MemoryQueue) Drain(max int) []Hook {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.hooks)
	if max > 0 && max < n {
		n = max
	}
	drained := make([]Hook, n)
	copy(drained, q.hooks[:n])
	q.hooks = q.hooks[n:]
	return drained
}

// Len returns the number of queued hooks.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.hooks)
}

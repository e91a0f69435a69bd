package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codegraph/graphlink/internal/transport"
)

// Task is one execute request moving through the dispatcher. Its result is a
// future settled exactly once: with a result, a timeout, a queue eviction,
// or a query error.
type Task struct {
	// ID identifies the task in logs.
	ID string

	// CorrelationID is the caller's correlation context, carried explicitly
	// on the task and threaded through every log emission.
	CorrelationID string

	// Command is the statement text.
	Command string

	// Params is the statement parameter map.
	Params map[string]any

	// Timeout is the client-side give-up deadline.
	Timeout time.Duration

	// EnqueuedAt is when the task entered the dispatcher.
	EnqueuedAt time.Time

	done   chan struct{}
	once   sync.Once
	result *transport.Result
	err    error
	timer  *time.Timer
}

func newTask(correlationID, command string, params map[string]any, timeout time.Duration) *Task {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	return &Task{
		ID:            uuid.NewString()[:8],
		CorrelationID: correlationID,
		Command:       command,
		Params:        params,
		Timeout:       timeout,
		EnqueuedAt:    time.Now(),
		done:          make(chan struct{}),
	}
}

// settle resolves or rejects the task. Only the first call wins; a late
// transport completion after a timeout is a no-op.
func (t *Task) settle(result *transport.Result, err error) {
	t.once.Do(func() {
		t.result = result
		t.err = err
		if t.timer != nil {
			t.timer.Stop()
		}
		close(t.done)
	})
}

// Wait blocks until the task settles or ctx is done.
func (t *Task) Wait(ctx context.Context) (*transport.Result, error) {
	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done returns a channel closed when the task settles.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Settled reports whether the task has a final outcome.
func (t *Task) Settled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

type correlationKey struct{}

// WithCorrelation attaches a correlation ID to the context for tasks created
// under it.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationFrom extracts the correlation ID, empty when unset.
func CorrelationFrom(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return ""
}

package testutil

import (
	"sync"
	"time"

	"github.com/hupe1980/querymesh/core"
)

// Recorder captures stream messages handed to a core.StreamCallback.
// Example:
//
//	rec := NewRecorder()
//	_, _ = orch.ProcessQuery(ctx, "top customers", rec.Callback, nil, orchestrator.QueryOptions{})
//	msgs := rec.Messages()
type Recorder struct {
	mu      sync.Mutex
	senders []core.AgentID
	msgs    []core.StreamMessage
	notify  chan struct{}
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{}, 1)}
}

// Callback records msg. Its signature matches core.StreamCallback.
func (r *Recorder) Callback(sender core.AgentID, msg core.StreamMessage, _ *core.CancellationToken) {
	r.mu.Lock()
	r.senders = append(r.senders, sender)
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Messages returns a copy of everything recorded so far.
func (r *Recorder) Messages() []core.StreamMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.StreamMessage, len(r.msgs))
	copy(out, r.msgs)
	return out
}

// Contents returns the Content field of every recorded message.
func (r *Recorder) Contents() []string {
	msgs := r.Messages()
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

// Finals returns the recorded messages flagged IsFinal.
func (r *Recorder) Finals() []core.StreamMessage {
	var out []core.StreamMessage
	for _, m := range r.Messages() {
		if m.IsFinal {
			out = append(out, m)
		}
	}
	return out
}

// WaitFor blocks until at least n messages were recorded or timeout elapses.
// It reports whether n was reached.
func (r *Recorder) WaitFor(n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		r.mu.Lock()
		got := len(r.msgs)
		r.mu.Unlock()
		if got >= n {
			return true
		}
		select {
		case <-r.notify:
		case <-deadline.C:
			return false
		}
	}
}

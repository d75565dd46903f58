package sink

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/hupe1980/querymesh/core"
	"github.com/hupe1980/querymesh/logging"
)

// Event is the wire form of one stream event, shared by every sink that
// serialises events.
type Event struct {
	Sender  string             `json:"sender"`
	Message core.StreamMessage `json:"message"`
}

// NewEvent wraps msg with its sender.
func NewEvent(sender core.AgentID, msg core.StreamMessage) Event {
	s := ""
	if !sender.IsZero() {
		s = sender.String()
	}
	return Event{Sender: s, Message: msg}
}

// Tee fans one stream out to several callbacks, in argument order. Nil
// callbacks are skipped. A panicking callback is logged and does not keep
// the others from running.
func Tee(logger logging.Logger, callbacks ...core.StreamCallback) core.StreamCallback {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	var cbs []core.StreamCallback
	for _, cb := range callbacks {
		if cb != nil {
			cbs = append(cbs, cb)
		}
	}
	return func(sender core.AgentID, msg core.StreamMessage, token *core.CancellationToken) {
		for i, cb := range cbs {
			func() {
				defer func() {
					if r := recover(); r != nil {
						logger.Error("stream sink panicked",
							"sink", i,
							"error", (&core.PanicError{Value: r}).Error(),
						)
					}
				}()
				cb(sender, msg, token)
			}()
		}
	}
}

// JSONLines writes every event as one JSON object per line. Write errors
// are logged; the stream itself is never interrupted.
func JSONLines(w io.Writer, logger logging.Logger) core.StreamCallback {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	var mu sync.Mutex
	enc := json.NewEncoder(w)
	return func(sender core.AgentID, msg core.StreamMessage, _ *core.CancellationToken) {
		mu.Lock()
		defer mu.Unlock()
		if err := enc.Encode(NewEvent(sender, msg)); err != nil {
			logger.Warn("write stream event", "error", err.Error())
		}
	}
}

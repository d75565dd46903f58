package session

import (
	"errors"
	"time"

	"github.com/hupe1980/querymesh/core"
)

// ErrSessionNotFound is returned for unknown session ids.
var ErrSessionNotFound = errors.New("session not found")

// Turn is one question of a session together with every stream event the
// run produced for it.
type Turn struct {
	ID        string               `json:"id"`
	Query     string               `json:"query"`
	Messages  []core.StreamMessage `json:"messages"`
	StartedAt time.Time            `json:"startedAt"`
}

// Final returns the terminal message of the turn, if it arrived.
func (t Turn) Final() (core.StreamMessage, bool) {
	for i := len(t.Messages) - 1; i >= 0; i-- {
		if t.Messages[i].IsFinal {
			return t.Messages[i], true
		}
	}
	return core.StreamMessage{}, false
}

// Session is the transcript of a chat session.
type Session struct {
	ID        string    `json:"id"`
	Turns     []Turn    `json:"turns"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (s *Session) Clone() *Session {
	c := *s
	c.Turns = make([]Turn, len(s.Turns))
	for i, t := range s.Turns {
		t.Messages = append([]core.StreamMessage(nil), t.Messages...)
		c.Turns[i] = t
	}
	return &c
}

package testutil

import (
	"time"

	"github.com/hupe1980/querymesh/core"
)

// StreamBuilder provides a fluent helper for constructing stream messages in
// tests.
// Example:
//
//	sm := NewStreamBuilder("sql_generator").Content("SELECT 1").Chunk("m-1").Build()
//
// Chain only the parts you need; sensible defaults are applied.
type StreamBuilder struct {
	msg core.StreamMessage
}

// NewStreamBuilder creates a builder for a process-region message from source.
func NewStreamBuilder(source string) *StreamBuilder {
	return &StreamBuilder{msg: core.NewStreamMessage(source, "")}
}

// Content sets the display text (chainable).
func (b *StreamBuilder) Content(c string) *StreamBuilder { b.msg.Content = c; return b }

// ID overrides the generated message id (chainable).
func (b *StreamBuilder) ID(id string) *StreamBuilder { b.msg.MessageID = id; return b }

// Region tags the message and adjusts its type (chainable).
func (b *StreamBuilder) Region(r core.Region) *StreamBuilder {
	b.msg = b.msg.WithRegion(r)
	return b
}

// Chunk marks the message as a partial chunk of messageID (chainable).
func (b *StreamBuilder) Chunk(messageID string) *StreamBuilder {
	b.msg = b.msg.AsChunk(messageID)
	return b
}

// Final marks the message as the terminal event with result (chainable).
func (b *StreamBuilder) Final(result any) *StreamBuilder {
	b.msg.IsFinal = true
	b.msg.Result = result
	return b
}

// At fixes the timestamp (chainable).
func (b *StreamBuilder) At(ts time.Time) *StreamBuilder { b.msg.Timestamp = ts.UTC(); return b }

// Build returns the constructed message.
func (b *StreamBuilder) Build() core.StreamMessage { return b.msg }

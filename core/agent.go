package core

import "context"

// Agent defines the contract every unit of work registered with a runtime
// must implement.
//
// The runtime delivers messages to OnMessage one at a time per agent, in
// mailbox (FIFO) order. Within a handler invocation an agent may publish
// messages to any topic, send direct messages and await their replies, and
// mutate its own private state. It must never touch another agent's state.
//
// Implementations must:
//   - Respect cancellation via ctx / mctx.Token before expensive calls
//   - Return ErrUnhandledMessage for message kinds they do not handle
//   - Treat each invocation as its own unit of work (no half-committed
//     downstream state on failure)
//
// The returned Message is the reply for direct sends and ignored for topic
// deliveries.
type Agent interface {
	ID() AgentID
	OnMessage(ctx context.Context, msg Message, mctx *MessageContext) (Message, error)
}

// Releaser is implemented by agents holding resources that must be disposed
// when the runtime closes.
type Releaser interface {
	Release(ctx context.Context) error
}

// Runtime is the subset of the message bus visible to agents.
type Runtime interface {
	// Publish enqueues msg for every agent subscribed to topic and returns
	// without waiting for delivery.
	Publish(ctx context.Context, msg Message, topic TopicID, sender *AgentID) error

	// Send delivers msg to a single recipient and waits for its reply.
	Send(ctx context.Context, msg Message, recipient AgentID, sender *AgentID) (Message, error)
}

// StreamCallback receives every stream event of a run, in bus delivery order.
// It may block (e.g. writing to a socket); it never runs on a bus worker.
type StreamCallback func(sender AgentID, msg StreamMessage, token *CancellationToken)

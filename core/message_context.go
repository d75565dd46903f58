package core

import (
	"context"
	"time"

	"github.com/hupe1980/querymesh/logging"
)

// MessageContext carries routing metadata and helpers for one delivery. It
// aggregates:
//   - The recipient identity and the (optional) sender
//   - The topic the message arrived on, or IsRPC for direct sends
//   - The run's CancellationToken
//   - A Runtime handle bound to the recipient so Publish/Send record it as
//     the sender
//
// A MessageContext is only valid for the duration of the handler call.
type MessageContext struct {
	Recipient AgentID
	Sender    *AgentID
	Topic     *TopicID
	IsRPC     bool
	MessageID string
	Token     *CancellationToken
	Runtime   Runtime
	// Received is when the handler call began.
	Received  time.Time

	*loggerAdapter
}

// NewMessageContext constructs a MessageContext. A nil token is replaced by a
// fresh, never cancelled one.
func NewMessageContext(
	recipient AgentID,
	sender *AgentID,
	topic *TopicID,
	messageID string,
	token *CancellationToken,
	rt Runtime,
	logger logging.Logger,
) *MessageContext {
	if token == nil {
		token = NewCancellationToken(context.Background())
	}
	return &MessageContext{
		Recipient:     recipient,
		Sender:        sender,
		Topic:         topic,
		IsRPC:         topic == nil,
		MessageID:     messageID,
		Token:         token,
		Runtime:       rt,
		Received:      time.Now(),
		loggerAdapter: newLoggerAdapter(logger, "agent", recipient.String(), "message_id", messageID),
	}
}

// Publish publishes msg to topic with the recipient as sender.
func (mc *MessageContext) Publish(ctx context.Context, msg Message, topic TopicID) error {
	self := mc.Recipient
	return mc.Runtime.Publish(ctx, msg, topic, &self)
}

// Send delivers msg to recipient with this agent as sender and awaits the reply.
func (mc *MessageContext) Send(ctx context.Context, msg Message, recipient AgentID) (Message, error) {
	self := mc.Recipient
	return mc.Runtime.Send(ctx, msg, recipient, &self)
}

// Cancelled reports whether the run has been cancelled.
func (mc *MessageContext) Cancelled() bool { return mc.Token.IsCancelled() }

// SourceTopic returns the topic the message arrived on, or a topic scoped
// to "default" for direct sends.
func (mc *MessageContext) SourceTopic() TopicID {
	if mc.Topic != nil {
		return *mc.Topic
	}
	return NewTopicID("", "")
}

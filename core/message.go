package core

// MessageKind is the discriminator of the closed Message set. Agents route
// deliveries through a dispatch table keyed by kind rather than by runtime
// type inspection.
type MessageKind string

// Message is implemented by every payload travelling over the bus. Concrete
// messages are plain value structs; Kind must be declared on the value
// receiver so that a zero value reports its kind.
type Message interface {
	Kind() MessageKind
}

const (
	// KindStream identifies StreamMessage.
	KindStream MessageKind = "stream"
	// KindResponse identifies ResponseMessage.
	KindResponse MessageKind = "response"
)

// QueryContext is the routing context every pipeline message carries so that
// a stage can act without access to earlier messages still in flight.
type QueryContext struct {
	Query               string `json:"query"`
	ConnectionID        int64  `json:"connectionId,omitempty"`
	SessionID           string `json:"sessionId,omitempty"`
	UserFeedbackEnabled bool   `json:"userFeedbackEnabled,omitempty"`
}

// ResponseMessage is a plain text answer produced by an agent. The stream
// collector relays it as a StreamMessage of type message.
type ResponseMessage struct {
	Source    string `json:"source"`
	Content   string `json:"content"`
	IsFinal   bool   `json:"isFinal"`
	Result    any    `json:"result,omitempty"`
	MessageID string `json:"messageId,omitempty"`
}

// Kind implements Message.
func (ResponseMessage) Kind() MessageKind { return KindResponse }

// ToStream converts the response into the UI event shape.
func (r ResponseMessage) ToStream() StreamMessage {
	sm := NewStreamMessage(r.Source, r.Content)
	sm.Type = StreamTypeMessage
	sm.IsFinal = r.IsFinal
	sm.Result = r.Result
	if r.MessageID != "" {
		sm.MessageID = r.MessageID
	}
	if r.IsFinal {
		sm.Region = RegionSuccess
	}
	return sm
}

// StreamTopicType is the reserved topic type the stream collector listens on.
const StreamTopicType = "stream_output"

// StreamTopic returns the stream output topic scoped to source.
func StreamTopic(source string) TopicID { return NewTopicID(StreamTopicType, source) }

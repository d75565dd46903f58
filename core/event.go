package core

import (
	"time"

	"github.com/google/uuid"
)

// StreamType classifies a UI event.
type StreamType string

const (
	StreamTypeMessage  StreamType = "message"
	StreamTypeProgress StreamType = "progress"
	StreamTypeSuccess  StreamType = "success"
	StreamTypeWarning  StreamType = "warning"
	StreamTypeError    StreamType = "error"
	StreamTypeInfo     StreamType = "info"
)

// Region is a UI routing tag telling the client where to place an event. It
// is not a structural part of the message type.
type Region string

const (
	RegionProcess  Region = "process"
	RegionProgress Region = "progress"
	RegionSuccess  Region = "success"
	RegionWarning  Region = "warning"
	RegionError    Region = "error"
	RegionInfo     Region = "info"
)

// StreamMessage is the unit of communication between pipeline agents and
// external clients. After publication it should be treated as immutable. It
// captures:
//   - Correlation (MessageID, Source)
//   - Display content and its placement (Type, Region)
//   - Completion signalling (IsFinal) and an optional structured Result
//   - A UTC timestamp
//
// At most one StreamMessage per run carries IsFinal=true; the collector uses
// it as the end-of-stream signal. Partial marks a content chunk that may be
// coalesced with adjacent chunks sharing Source and MessageID.
type StreamMessage struct {
	Type      StreamType `json:"type"`
	Source    string     `json:"source"`
	Content   string     `json:"content"`
	Region    Region     `json:"region"`
	IsFinal   bool       `json:"isFinal"`
	Result    any        `json:"result,omitempty"`
	MessageID string     `json:"messageId"`
	Platform  string     `json:"platform,omitempty"`
	Partial   bool       `json:"partial,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// Kind implements Message.
func (StreamMessage) Kind() MessageKind { return KindStream }

// NewStreamMessage creates a process-region message event authored by source.
// Prefer the With* helpers for other categories.
func NewStreamMessage(source, content string) StreamMessage {
	return StreamMessage{
		Type:      StreamTypeMessage,
		Source:    source,
		Content:   content,
		Region:    RegionProcess,
		MessageID: NewID(),
		Timestamp: time.Now().UTC(),
	}
}

// NewErrorMessage creates an error-region event.
func NewErrorMessage(source, content string, final bool) StreamMessage {
	sm := NewStreamMessage(source, content)
	sm.Type = StreamTypeError
	sm.Region = RegionError
	sm.IsFinal = final
	return sm
}

// NewFinalMessage creates the terminal success event of a run.
func NewFinalMessage(source, content string, result any) StreamMessage {
	sm := NewStreamMessage(source, content)
	sm.Type = StreamTypeSuccess
	sm.Region = RegionSuccess
	sm.IsFinal = true
	sm.Result = result
	return sm
}

// WithRegion returns a copy tagged with region and the matching stream type.
func (m StreamMessage) WithRegion(r Region) StreamMessage {
	m.Region = r
	switch r {
	case RegionProgress:
		m.Type = StreamTypeProgress
	case RegionSuccess:
		m.Type = StreamTypeSuccess
	case RegionWarning:
		m.Type = StreamTypeWarning
	case RegionError:
		m.Type = StreamTypeError
	case RegionInfo:
		m.Type = StreamTypeInfo
	default:
		m.Type = StreamTypeMessage
	}
	return m
}

// AsChunk returns a copy marked as a partial content chunk of messageID.
func (m StreamMessage) AsChunk(messageID string) StreamMessage {
	m.Partial = true
	m.MessageID = messageID
	return m
}

// NewID generates a new unique identifier for messages and runs.
func NewID() string { return uuid.NewString() }

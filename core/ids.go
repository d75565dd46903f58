package core

import (
	"fmt"
	"regexp"
	"strings"
)

var agentTypePattern = regexp.MustCompile(`^[\w\-\.]+$`)

// AgentID identifies an agent instance inside a single runtime. Type names the
// agent implementation (and the factory that builds it); Key distinguishes
// instances of the same type. Identity is stable for the runtime's lifetime.
type AgentID struct {
	Type string `json:"type"`
	Key  string `json:"key"`
}

// NewAgentID builds an AgentID. An empty key is normalised to "default".
func NewAgentID(agentType, key string) AgentID {
	if key == "" {
		key = "default"
	}
	return AgentID{Type: agentType, Key: key}
}

// ParseAgentID parses the "type/key" form produced by String.
func ParseAgentID(s string) (AgentID, error) {
	typ, key, ok := strings.Cut(s, "/")
	if !ok {
		return AgentID{}, fmt.Errorf("invalid agent id %q: expected type/key", s)
	}
	id := AgentID{Type: typ, Key: key}
	if err := id.Validate(); err != nil {
		return AgentID{}, err
	}
	return id, nil
}

// Validate reports whether the identifier is well formed.
func (id AgentID) Validate() error {
	if !agentTypePattern.MatchString(id.Type) {
		return fmt.Errorf("invalid agent type %q", id.Type)
	}
	if id.Key == "" {
		return fmt.Errorf("agent %s: empty key", id.Type)
	}
	for _, r := range id.Key {
		if r < 32 || r > 126 {
			return fmt.Errorf("agent %s: key contains non printable character", id.Type)
		}
	}
	return nil
}

// String renders the identifier as "type/key".
func (id AgentID) String() string { return id.Type + "/" + id.Key }

// IsZero reports whether the identifier is unset.
func (id AgentID) IsZero() bool { return id.Type == "" && id.Key == "" }

// TopicID names a broadcast channel. Type selects the logical channel
// (e.g. "sql_generator"); Source scopes it, usually to a single run.
type TopicID struct {
	Type   string `json:"type"`
	Source string `json:"source"`
}

// NewTopicID builds a TopicID. An empty source is normalised to "default".
func NewTopicID(topicType, source string) TopicID {
	if source == "" {
		source = "default"
	}
	return TopicID{Type: topicType, Source: source}
}

// String renders the topic as "type/source".
func (t TopicID) String() string { return t.Type + "/" + t.Source }

package runtime

import (
	"fmt"
	"strings"

	"github.com/hupe1980/querymesh/core"
)

// Subscription binds topics to agents. Matching subscriptions are resolved
// at publish time, in the order they were added to the runtime.
type Subscription interface {
	// ID uniquely identifies the subscription within a runtime.
	ID() string
	// Matches reports whether the subscription applies to topic.
	Matches(topic core.TopicID) bool
	// MapToAgent returns the recipient for a matching topic.
	MapToAgent(topic core.TopicID) (core.AgentID, error)
}

// TypeSubscription is a dynamic binding: a topic of type TopicType with
// source S is delivered to the agent (AgentType, S). The instance is created
// lazily from the agent type's factory when it does not exist yet.
type TypeSubscription struct {
	TopicType string
	AgentType string
}

// ID implements Subscription.
func (s TypeSubscription) ID() string { return "type:" + s.TopicType + "->" + s.AgentType }

// Matches implements Subscription.
func (s TypeSubscription) Matches(topic core.TopicID) bool { return topic.Type == s.TopicType }

// MapToAgent implements Subscription.
func (s TypeSubscription) MapToAgent(topic core.TopicID) (core.AgentID, error) {
	if !s.Matches(topic) {
		return core.AgentID{}, fmt.Errorf("topic %s does not match subscription %s", topic, s.ID())
	}
	return core.NewAgentID(s.AgentType, topic.Source), nil
}

// TypePrefixSubscription matches every topic type starting with Prefix and
// maps it like TypeSubscription.
type TypePrefixSubscription struct {
	Prefix    string
	AgentType string
}

// ID implements Subscription.
func (s TypePrefixSubscription) ID() string { return "prefix:" + s.Prefix + "->" + s.AgentType }

// Matches implements Subscription.
func (s TypePrefixSubscription) Matches(topic core.TopicID) bool {
	return strings.HasPrefix(topic.Type, s.Prefix)
}

// MapToAgent implements Subscription.
func (s TypePrefixSubscription) MapToAgent(topic core.TopicID) (core.AgentID, error) {
	if !s.Matches(topic) {
		return core.AgentID{}, fmt.Errorf("topic %s does not match subscription %s", topic, s.ID())
	}
	return core.NewAgentID(s.AgentType, topic.Source), nil
}

// AgentSubscription is a static binding of every topic of type TopicType
// (any source) to one concrete agent.
type AgentSubscription struct {
	TopicType string
	Agent     core.AgentID
}

// ID implements Subscription.
func (s AgentSubscription) ID() string { return "agent:" + s.TopicType + "->" + s.Agent.String() }

// Matches implements Subscription.
func (s AgentSubscription) Matches(topic core.TopicID) bool { return topic.Type == s.TopicType }

// MapToAgent implements Subscription.
func (s AgentSubscription) MapToAgent(topic core.TopicID) (core.AgentID, error) {
	if !s.Matches(topic) {
		return core.AgentID{}, fmt.Errorf("topic %s does not match subscription %s", topic, s.ID())
	}
	return s.Agent, nil
}

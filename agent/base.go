package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/hupe1980/querymesh/core"
)

// HandlerFunc handles one delivered message. The returned message is the
// reply for direct sends and is ignored for topic deliveries.
type HandlerFunc func(ctx context.Context, msg core.Message, mctx *core.MessageContext) (core.Message, error)

type route struct {
	name string
	fn   HandlerFunc
}

// BaseAgent bundles identity, an explicit dispatch table and release hooks.
// Embed it in concrete agent implementations and register handlers with On
// (or Handle) at construction time.
//
// The dispatch table maps a message kind to exactly one handler. It is
// built before the agent is registered with a runtime and is read-only
// afterwards, so it needs no locking: the runtime never runs two handlers
// of the same agent concurrently.
type BaseAgent struct {
	id          core.AgentID
	description string
	routes      map[core.MessageKind]route
	releasers   []func(ctx context.Context) error
}

// NewBaseAgent constructs a BaseAgent with a generated description
// (customizable via SetDescription).
func NewBaseAgent(id core.AgentID) *BaseAgent {
	return &BaseAgent{
		id:          id,
		description: fmt.Sprintf("Agent %s", id),
		routes:      make(map[core.MessageKind]route),
	}
}

// ID returns the agent's identity.
func (b *BaseAgent) ID() core.AgentID { return b.id }

// Description returns a detailed description of this agent's purpose.
func (b *BaseAgent) Description() string { return b.description }

// SetDescription updates the agent's description.
func (b *BaseAgent) SetDescription(desc string) { b.description = desc }

// Handle registers fn for kind under a handler name used in logs and error
// reports. Registering a kind twice is a programming error and panics.
func (b *BaseAgent) Handle(kind core.MessageKind, name string, fn HandlerFunc) {
	if _, exists := b.routes[kind]; exists {
		panic(fmt.Sprintf("agent %s: handler for %q already registered", b.id, kind))
	}
	if name == "" {
		name = string(kind)
	}
	b.routes[kind] = route{name: name, fn: fn}
}

// On registers a typed handler for the message variant T. T must be a value
// type whose zero value reports its kind.
//
// Example:
//
//	agent.On(b, "handle_sql", func(ctx context.Context, m SqlMessage, mctx *core.MessageContext) (core.Message, error) {
//	    ...
//	})
func On[T core.Message](b *BaseAgent, name string, fn func(ctx context.Context, msg T, mctx *core.MessageContext) (core.Message, error)) {
	var zero T
	b.Handle(zero.Kind(), name, func(ctx context.Context, msg core.Message, mctx *core.MessageContext) (core.Message, error) {
		typed, ok := msg.(T)
		if !ok {
			return nil, fmt.Errorf("handler %s: expected %T, got %T", name, zero, msg)
		}
		return fn(ctx, typed, mctx)
	})
}

// Handles reports whether a handler is registered for kind.
func (b *BaseAgent) Handles(kind core.MessageKind) bool {
	_, ok := b.routes[kind]
	return ok
}

// Kinds returns the handled message kinds, sorted.
func (b *BaseAgent) Kinds() []core.MessageKind {
	kinds := make([]core.MessageKind, 0, len(b.routes))
	for k := range b.routes {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// HandlerName returns the name of the handler registered for kind, or an
// empty string.
func (b *BaseAgent) HandlerName(kind core.MessageKind) string {
	return b.routes[kind].name
}

// OnMessage dispatches msg by kind. Messages without a handler yield
// core.ErrUnhandledMessage.
func (b *BaseAgent) OnMessage(ctx context.Context, msg core.Message, mctx *core.MessageContext) (core.Message, error) {
	r, ok := b.routes[msg.Kind()]
	if !ok {
		return nil, fmt.Errorf("%w: agent %s has no handler for %q", core.ErrUnhandledMessage, b.id, msg.Kind())
	}
	return r.fn(ctx, msg, mctx)
}

// OnRelease registers a hook executed by Release. Hooks run in reverse
// registration order.
func (b *BaseAgent) OnRelease(fn func(ctx context.Context) error) {
	b.releasers = append(b.releasers, fn)
}

// Release runs the registered release hooks and joins their errors. It
// implements core.Releaser.
func (b *BaseAgent) Release(ctx context.Context) error {
	var errs []error
	for i := len(b.releasers) - 1; i >= 0; i-- {
		if err := b.releasers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	b.releasers = nil
	return errors.Join(errs...)
}

// Emit publishes sm on the stream topic of the run the current delivery
// belongs to.
func (b *BaseAgent) Emit(ctx context.Context, mctx *core.MessageContext, sm core.StreamMessage) error {
	if sm.Source == "" {
		sm.Source = b.id.Type
	}
	return mctx.Publish(ctx, sm, core.StreamTopic(mctx.SourceTopic().Source))
}

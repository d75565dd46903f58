package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/querymesh/core"
)

// CallbackType defines the delivery lifecycle points where callbacks run.
//
// Callbacks hook into the bus without modifying agents. Each type represents
// one point in the life of a delivery:
//   - BeforeDeliver/AfterDeliver: around a single handler invocation
//   - OnError: a handler (or its factory) failed
//   - OnOrphan: a publish matched zero subscribers
//
// Callbacks run synchronously on the delivering worker. A BeforeDeliver
// callback returning an error drops the delivery.
type CallbackType string

const (
	// CallbackBeforeDeliver is triggered before a handler is invoked.
	CallbackBeforeDeliver CallbackType = "before_deliver"

	// CallbackAfterDeliver is triggered after a handler returned, whether it
	// succeeded or not.
	CallbackAfterDeliver CallbackType = "after_deliver"

	// CallbackOnError is triggered when a handler returns an error or panics.
	// The orchestrator uses it to turn failures into error stream messages.
	CallbackOnError CallbackType = "on_error"

	// CallbackOnOrphan is triggered when a published message had no recipient.
	CallbackOnOrphan CallbackType = "on_orphan"
)

// CallbackContext describes the delivery a callback is invoked for.
type CallbackContext struct {
	// Agent is the recipient. Zero for OnOrphan.
	Agent core.AgentID

	// Sender is the publishing agent, if any.
	Sender *core.AgentID

	// Topic is the topic the message was published on; nil for direct sends.
	Topic *core.TopicID

	// Message is the payload being delivered.
	Message core.Message

	// Err is the handler failure for OnError and AfterDeliver.
	Err *core.HandlerError

	// Runtime gives callbacks the same publish/send surface agents have.
	Runtime core.Runtime

	CallbackType CallbackType
}

// Callback is a delivery lifecycle hook.
type Callback interface {
	// Type returns the lifecycle point this callback handles.
	Type() CallbackType

	// Execute performs the callback logic.
	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback wraps a function as a callback implementation.
//
// Example:
//
//	rt.Callbacks().Register(runtime.NewFunctionCallback(
//	    runtime.CallbackOnOrphan,
//	    func(ctx context.Context, cc *runtime.CallbackContext) error {
//	        log.Printf("dropped message on %s", cc.Topic)
//	        return nil
//	    },
//	))
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a new function-based callback.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{callbackType: callbackType, fn: fn}
}

// Type returns the callback type this function handles.
func (c *FunctionCallback) Type() CallbackType { return c.callbackType }

// Execute calls the wrapped function with the provided context.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// CallbackManager keeps callbacks per type and runs them in registration
// order. It is safe for concurrent registration and execution since every
// agent mailbox runs on its own worker.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty callback manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{callbacks: make(map[CallbackType][]Callback)}
}

// Register adds a callback for its type.
func (cm *CallbackManager) Register(callback Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	t := callback.Type()
	cm.callbacks[t] = append(cm.callbacks[t], callback)
}

// Execute runs all callbacks registered for callbackType. The first error
// stops execution and is returned.
func (cm *CallbackManager) Execute(
	ctx context.Context,
	callbackType CallbackType,
	callbackCtx *CallbackContext,
) error {
	cm.mu.RLock()
	callbacks := cm.callbacks[callbackType]
	cm.mu.RUnlock()

	callbackCtx.CallbackType = callbackType
	for _, cb := range callbacks {
		if err := cb.Execute(ctx, callbackCtx); err != nil {
			return fmt.Errorf("%s callback: %w", callbackType, err)
		}
	}
	return nil
}

// LoggingCallback forwards a one-line description of each lifecycle event
// to a logging function. Useful for debugging and audit trails.
type LoggingCallback struct {
	callbackType CallbackType
	logger       func(message string)
}

// NewLoggingCallback creates a new logging callback.
func NewLoggingCallback(callbackType CallbackType, logger func(message string)) *LoggingCallback {
	return &LoggingCallback{callbackType: callbackType, logger: logger}
}

// Type returns the callback type this logger handles.
func (c *LoggingCallback) Type() CallbackType { return c.callbackType }

// Execute logs the lifecycle event.
func (c *LoggingCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	if c.logger == nil {
		return nil
	}
	kind := core.MessageKind("")
	if callbackCtx.Message != nil {
		kind = callbackCtx.Message.Kind()
	}
	target := callbackCtx.Agent.String()
	if callbackCtx.Agent.IsZero() && callbackCtx.Topic != nil {
		target = "topic " + callbackCtx.Topic.String()
	}
	c.logger(fmt.Sprintf("[%s] %s kind=%s", c.callbackType, target, kind))
	return nil
}

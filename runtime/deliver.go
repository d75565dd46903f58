package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/querymesh/core"
	"github.com/hupe1980/querymesh/logging"
)

// handlerNamer is implemented by agents that dispatch on message kind and
// can name the handler responsible for a kind.
type handlerNamer interface {
	HandlerName(kind core.MessageKind) string
}

// deliver runs one envelope on mb's worker. Every outcome, including panics,
// ends with the pending counter decremented.
func (rt *Runtime) deliver(mb *mailbox, env *envelope) {
	defer rt.done()

	if rt.token.IsCancelled() {
		rt.cancelled.Add(1)
		env.respond(nil, rt.token.Err())
		return
	}

	a, err := rt.instantiate(mb)
	if err != nil {
		herr := &core.HandlerError{Agent: mb.id, Handler: "factory", Err: err}
		rt.fail(env, mb.id, herr, 0)
		env.respond(nil, herr)
		return
	}

	cbCtx := &CallbackContext{
		Agent:   mb.id,
		Sender:  env.sender,
		Topic:   env.topic,
		Message: env.msg,
		Runtime: rt,
	}
	ctx := rt.token.Context()
	if err := rt.callbacks.Execute(ctx, CallbackBeforeDeliver, cbCtx); err != nil {
		rt.logger.Debug("delivery skipped by callback", "agent", mb.id.String(), "error", err.Error())
		env.respond(nil, err)
		return
	}

	start := time.Now()
	result, err := rt.invoke(ctx, a, env)
	dur := time.Since(start)

	if err != nil {
		switch {
		case errors.Is(err, core.ErrUnhandledMessage):
			rt.logger.Warn("unhandled message",
				"agent", mb.id.String(),
				"message_kind", string(env.msg.Kind()),
			)
		case rt.token.IsCancelled() && errors.Is(err, context.Canceled):
			rt.cancelled.Add(1)
		default:
			herr := &core.HandlerError{Agent: mb.id, Handler: handlerName(a, env.msg.Kind()), Err: err}
			cbCtx.Err = herr
			rt.fail(env, mb.id, herr, dur)
			err = herr
		}
	} else {
		rt.delivered.Add(1)
		logging.RecordDelivery(rt.logger, mb.id.String(), string(env.msg.Kind()), dur, nil)
	}

	_ = rt.callbacks.Execute(ctx, CallbackAfterDeliver, cbCtx)
	env.respond(result, err)
}

// instantiate returns mb's agent, running its lazy factory on first use and
// recording the instance for Close.
func (rt *Runtime) instantiate(mb *mailbox) (core.Agent, error) {
	if mb.agent != nil {
		return mb.agent, nil
	}
	a, err := mb.instance(rt.token.Context())
	if err != nil {
		return nil, err
	}
	if a.ID() != mb.id {
		mb.agent = nil
		return nil, fmt.Errorf("factory built agent %s for id %s", a.ID(), mb.id)
	}

	rt.mu.Lock()
	if _, exists := rt.agents[mb.id]; !exists {
		rt.agents[mb.id] = a
		rt.order = append(rt.order, mb.id)
	}
	rt.mu.Unlock()

	rt.logger.Debug("agent instantiated", "agent", mb.id.String())
	return a, nil
}

// invoke calls the handler with a per-delivery context and converts panics
// into errors so that one agent cannot take down the bus.
func (rt *Runtime) invoke(ctx context.Context, a core.Agent, env *envelope) (result core.Message, err error) {
	if rt.config.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rt.config.HandlerTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &core.PanicError{Value: r}
		}
	}()

	mctx := core.NewMessageContext(a.ID(), env.sender, env.topic, env.messageID, rt.token, rt, rt.logger)
	return a.OnMessage(ctx, env.msg, mctx)
}

func (rt *Runtime) fail(env *envelope, id core.AgentID, herr *core.HandlerError, dur time.Duration) {
	rt.failed.Add(1)
	logging.RecordDelivery(rt.logger, id.String(), string(env.msg.Kind()), dur, herr.Err, "handler", herr.Handler)
	_ = rt.callbacks.Execute(rt.token.Context(), CallbackOnError, &CallbackContext{
		Agent:   id,
		Sender:  env.sender,
		Topic:   env.topic,
		Message: env.msg,
		Err:     herr,
		Runtime: rt,
	})
}

func handlerName(a core.Agent, kind core.MessageKind) string {
	if n, ok := a.(handlerNamer); ok {
		if name := n.HandlerName(kind); name != "" {
			return name
		}
	}
	return string(kind)
}

package agent

import (
	"context"

	"github.com/hupe1980/querymesh/core"
)

// FuncAgent adapts a single catch-all function into an agent. Useful for
// tests, observers and small glue agents that do not warrant a type.
type FuncAgent struct {
	*BaseAgent
	fn HandlerFunc
}

// NewFuncAgent creates a FuncAgent delivering every message kind to fn.
func NewFuncAgent(id core.AgentID, fn HandlerFunc) *FuncAgent {
	return &FuncAgent{BaseAgent: NewBaseAgent(id), fn: fn}
}

// OnMessage implements core.Agent.
func (a *FuncAgent) OnMessage(ctx context.Context, msg core.Message, mctx *core.MessageContext) (core.Message, error) {
	return a.fn(ctx, msg, mctx)
}

// HandlerName names the catch-all handler.
func (a *FuncAgent) HandlerName(core.MessageKind) string { return "func" }

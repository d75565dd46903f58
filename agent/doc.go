// Package agent contains the building blocks for bus agents.
//
// The package focuses on three concerns:
//
//  1. Identity, dispatch and release plumbing (BaseAgent)
//  2. Closure agents for glue code and tests (FuncAgent)
//  3. Model-backed agents with instruction templates (ModelAgent)
//
// Dispatch is an explicit table from message kind to handler, built when the
// agent is constructed:
//
//	b := agent.NewBaseAgent(core.NewAgentID("sql_executor", runID))
//	agent.On(b, "execute", func(ctx context.Context, m text2sql.SqlMessage, mctx *core.MessageContext) (core.Message, error) {
//	    ...
//	})
//
// A handler may publish to any topic, send direct messages and await their
// replies, and mutate only its own agent's state.
package agent

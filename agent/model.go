package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/querymesh/core"
	"github.com/hupe1980/querymesh/logging"
	"github.com/hupe1980/querymesh/model"
)

// ModelAgentOptions configures a ModelAgent instance.
//
// Use functional options with NewModelAgent to override defaults.
type ModelAgentOptions struct {
	// Instruction is the system prompt template.
	Instruction Instruction

	// EnableStreaming requests streamed generation and forwards every text
	// delta as a partial stream chunk.
	EnableStreaming bool

	// Limiter caps model calls of the run. Nil means unlimited.
	Limiter *core.ModelLimiter

	// Timeout bounds a single model call. Zero means no extra bound.
	Timeout time.Duration
}

// ModelAgent is a BaseAgent that can call a language model. Pipeline stages
// embed it and call Generate from their handlers.
type ModelAgent struct {
	*BaseAgent
	llm             model.Model
	instruction     Instruction
	enableStreaming bool
	limiter         *core.ModelLimiter
	timeout         time.Duration
}

// NewModelAgent creates a new model-backed agent.
func NewModelAgent(id core.AgentID, llm model.Model, optFns ...func(o *ModelAgentOptions)) *ModelAgent {
	opts := ModelAgentOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &ModelAgent{
		BaseAgent:       NewBaseAgent(id),
		llm:             llm,
		instruction:     opts.Instruction,
		enableStreaming: opts.EnableStreaming,
		limiter:         opts.Limiter,
		timeout:         opts.Timeout,
	}
}

// Model returns the underlying model.
func (a *ModelAgent) Model() model.Model { return a.llm }

// Generate resolves the instruction with vars and asks the model to answer
// prompt. It refuses to call the model once the run is cancelled or the
// run's model budget is exhausted.
func (a *ModelAgent) Generate(ctx context.Context, mctx *core.MessageContext, vars map[string]string, prompt string) (string, error) {
	if mctx.Cancelled() {
		return "", mctx.Token.Err()
	}
	if a.llm == nil {
		return "", fmt.Errorf("agent %s: no model configured", a.ID())
	}
	if err := a.limiter.Acquire(); err != nil {
		return "", err
	}

	instructions, err := a.instruction.Resolve(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("resolve instruction: %w", err)
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	req := model.NewRequest(instructions, prompt)
	start := time.Now()
	var text string
	if a.enableStreaming {
		req.Stream = true
		text, err = a.stream(ctx, mctx, req)
	} else {
		text, err = model.Collect(ctx, a.llm, req)
	}

	logging.RecordModelCall(mctx.Logger(), a.llm.Info().Name, time.Since(start), err)
	if err != nil {
		return "", err
	}
	return text, nil
}

// stream consumes a streamed generation, emitting every delta as a partial
// chunk sharing one message id.
func (a *ModelAgent) stream(ctx context.Context, mctx *core.MessageContext, req model.Request) (string, error) {
	respCh, errCh := a.llm.Generate(ctx, req)
	messageID := core.NewID()

	var (
		chunks strings.Builder
		final  string
		done   bool
	)
	for respCh != nil || errCh != nil {
		select {
		case r, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if !r.Partial {
				final, done = r.Text, true
				continue
			}
			chunks.WriteString(r.Text)
			chunk := core.NewStreamMessage(a.ID().Type, r.Text).WithRegion(core.RegionProgress).AsChunk(messageID)
			if err := a.Emit(ctx, mctx, chunk); err != nil {
				return "", err
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return "", err
			}
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if !done {
		final = chunks.String()
	}
	if strings.TrimSpace(final) == "" {
		return "", model.ErrEmptyResponse
	}
	return final, nil
}

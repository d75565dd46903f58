package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/querymesh/collector"
	"github.com/hupe1980/querymesh/core"
	"github.com/hupe1980/querymesh/datasource"
	"github.com/hupe1980/querymesh/logging"
	"github.com/hupe1980/querymesh/runtime"
)

// run is the state of a single ProcessQuery call.
type run struct {
	o        *Orchestrator
	id       string
	self     core.AgentID
	state    core.RunState
	callback core.StreamCallback
	token    *core.CancellationToken
	logger   logging.Logger

	rt   *runtime.Runtime
	coll *collector.Collector
	data datasource.DataAccess

	err      error
	timedOut bool
	final    *core.StreamMessage
}

func (o *Orchestrator) newRun(ctx context.Context, callback core.StreamCallback, opts QueryOptions) *run {
	id := core.NewID()
	return &run{
		o:        o,
		id:       id,
		self:     core.NewAgentID(AgentType, id),
		state:    core.RunCreated,
		callback: callback,
		token:    core.NewCancellationToken(ctx),
		logger:   logging.ForRun(logging.Scoped(o.logger, "orchestrator"), id, opts.SessionID),
	}
}

func (r *run) transition(next core.RunState) {
	s, err := r.state.Transition(next)
	if err != nil {
		r.logger.Warn("ignored run state change", "error", err.Error())
		return
	}
	r.state = s
	r.logger.Debug("run state", "state", string(s))
}

// configure resolves the connection, opens the data access and the model.
func (r *run) configure(ctx context.Context, query string, connectionID *int64, opts QueryOptions) (Env, error) {
	info, err := r.o.resolveConnection(ctx, connectionID)
	if err != nil {
		return Env{}, err
	}
	data, err := r.o.opener(ctx, info)
	if err != nil {
		return Env{}, fmt.Errorf("open connection %d: %w", info.ID, err)
	}
	r.data = data

	llm, err := r.o.resolveModel()
	if err != nil {
		return Env{}, fmt.Errorf("resolve model: %w", err)
	}

	env := Env{
		RunID: r.id,
		Query: core.QueryContext{
			Query:               query,
			ConnectionID:        info.ID,
			SessionID:           opts.SessionID,
			UserFeedbackEnabled: opts.UserFeedbackEnabled,
		},
		Connection: info,
		Data:       data,
		Model:      llm,
		Limiter:    core.NewModelLimiter(r.o.config.MaxModelCalls),
		Logger:     r.logger,
	}
	if opts.UserFeedbackEnabled {
		env.Feedback = opts.Feedback
	}
	r.transition(core.RunConfigured)
	return env, nil
}

// execute builds the bus, seeds the pipeline and waits for the run to end.
func (r *run) execute(ctx context.Context, env Env) error {
	cfg := r.o.config

	r.rt = runtime.New(func(o *runtime.Options) {
		o.Config = cfg.Runtime
		o.Token = r.token
		o.Logger = r.logger
	})
	r.coll = collector.New(core.NewAgentID(collector.AgentType, r.id), r.callback, func(o *collector.Options) {
		o.Config = cfg.Collector
		o.Logger = r.logger
	})

	if err := r.rt.RegisterInstance(r.coll.ID(), r.coll); err != nil {
		return fmt.Errorf("register collector: %w", err)
	}
	if err := r.rt.Subscribe(runtime.AgentSubscription{TopicType: core.StreamTopicType, Agent: r.coll.ID()}); err != nil {
		return fmt.Errorf("subscribe collector: %w", err)
	}
	r.rt.Callbacks().Register(runtime.NewFunctionCallback(runtime.CallbackOnError, r.onHandlerError))
	r.rt.Callbacks().Register(runtime.NewLoggingCallback(runtime.CallbackOnOrphan, func(m string) {
		r.logger.Debug("orphan message", "detail", m)
	}))

	if err := r.o.pipeline.Register(r.rt, env); err != nil {
		return fmt.Errorf("register pipeline: %w", err)
	}
	if err := r.rt.Start(); err != nil {
		return fmt.Errorf("start runtime: %w", err)
	}
	r.coll.Start(r.token.Context())
	r.transition(core.RunRunning)

	progress := core.NewStreamMessage(AgentType, fmt.Sprintf("Processing query: %s", env.Query.Query)).
		WithRegion(core.RegionProgress)
	if err := r.rt.Publish(ctx, progress, core.StreamTopic(r.id), &r.self); err != nil {
		return r.publishFailed(err)
	}
	seed, topic := r.o.pipeline.Seed(env)
	if err := r.rt.Publish(ctx, seed, topic, &r.self); err != nil {
		return r.publishFailed(err)
	}

	r.wait()
	return nil
}

func (r *run) publishFailed(err error) error {
	if r.token.IsCancelled() {
		r.transition(core.RunCancelled)
		r.drain()
		return nil
	}
	return fmt.Errorf("publish: %w", err)
}

// wait blocks until the run is idle, cancelled or timed out.
func (r *run) wait() {
	cfg := r.o.config

	idleCtx, cancel := context.WithTimeout(context.Background(), cfg.IdleTimeout)
	defer cancel()
	idle := make(chan error, 1)
	go func() { idle <- r.rt.StopWhenIdle(idleCtx) }()

	select {
	case err := <-idle:
		r.afterIdle(err)
	case <-r.coll.Final():
		grace := time.NewTimer(cfg.FinalGrace)
		defer grace.Stop()
		select {
		case err := <-idle:
			r.afterIdle(err)
		case <-grace.C:
			r.logger.Warn("run still busy after terminal message, cancelling",
				"pending", r.rt.Pending(),
			)
			r.token.Cancel()
			r.drain()
			r.transition(core.RunIdle)
		}
	case <-r.token.Done():
		r.logger.Info("run cancelled")
		r.transition(core.RunCancelled)
		r.drain()
	}
}

func (r *run) afterIdle(err error) {
	if err == nil {
		if r.token.IsCancelled() {
			r.transition(core.RunCancelled)
			return
		}
		r.transition(core.RunIdle)
		return
	}
	r.logger.Warn("run timed out", "idle_timeout", r.o.config.IdleTimeout.String())
	r.timedOut = true
	r.token.Cancel()
	r.transition(core.RunCancelled)
	r.drain()
}

// drain waits a bounded time for cancelled work to finish.
func (r *run) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), r.o.config.DrainTimeout)
	defer cancel()
	if err := r.rt.StopWhenIdle(ctx); err != nil {
		r.logger.Warn("drain timed out, forcing close", "pending", r.rt.Pending())
	}
}

// onHandlerError turns a failed delivery into an error event on the stream.
func (r *run) onHandlerError(ctx context.Context, cc *runtime.CallbackContext) error {
	if r.token.IsCancelled() || cc.Agent == r.coll.ID() {
		return nil
	}
	cause := "handler failed"
	if cc.Err != nil {
		cause = cc.Err.Err.Error()
	}
	sm := core.NewErrorMessage(cc.Agent.Type,
		fmt.Sprintf("Error in %s: %s", cc.Agent.Type, cause),
		r.o.config.TerminalOnHandlerError,
	)
	sender := cc.Agent
	return cc.Runtime.Publish(ctx, sm, core.StreamTopic(r.id), &sender)
}

func (r *run) fail(err error) {
	r.err = err
	r.logger.Error("run failed", "error", err.Error())
	r.transition(core.RunFailed)
}

// finish closes the bus and the data access, then guarantees the terminal
// message. The collector is flushed by Close before any synthesized
// message reaches the callback.
func (r *run) finish() {
	if r.rt != nil {
		ctx, cancel := context.WithTimeout(context.Background(), r.o.config.DrainTimeout)
		if err := r.rt.Close(ctx); err != nil {
			r.logger.Warn("runtime close", "error", err.Error())
		}
		cancel()
	}
	if r.data != nil {
		if err := r.data.Close(); err != nil {
			r.logger.Warn("close data access", "error", err.Error())
		}
	}

	if r.coll != nil {
		if fm, ok := r.coll.FinalMessage(); ok {
			r.final = &fm
		}
	}
	if r.final == nil {
		sm := core.NewErrorMessage(AgentType, r.terminalReason(), true)
		r.deliverDirect(sm)
		r.final = &sm
	}

	r.token.Cancel()
	r.transition(core.RunClosed)
}

func (r *run) terminalReason() string {
	switch {
	case r.err != nil:
		return fmt.Sprintf("Failed to process query: %v", r.err)
	case r.timedOut:
		return fmt.Sprintf("Query timed out after %s", r.o.config.IdleTimeout)
	case r.state == core.RunCancelled:
		return "Query was cancelled"
	default:
		return "Query finished without a result"
	}
}

func (r *run) deliverDirect(sm core.StreamMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("stream callback panicked", "error", (&core.PanicError{Value: rec}).Error())
		}
	}()
	r.callback(r.self, sm, r.token)
}

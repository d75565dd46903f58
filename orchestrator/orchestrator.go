package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/querymesh/collector"
	"github.com/hupe1980/querymesh/core"
	"github.com/hupe1980/querymesh/datasource"
	"github.com/hupe1980/querymesh/logging"
	"github.com/hupe1980/querymesh/model"
	"github.com/hupe1980/querymesh/runtime"
)

// AgentType is the identity type the orchestrator publishes under.
const AgentType = "orchestrator"

var (
	// ErrNilCallback is returned by ProcessQuery when no stream callback is given.
	ErrNilCallback = errors.New("stream callback is required")

	// ErrNoPipeline is returned by ProcessQuery when no pipeline is configured.
	ErrNoPipeline = errors.New("no pipeline configured")

	// ErrNoConnection reports a run without an explicit or default connection.
	ErrNoConnection = errors.New("no connection selected")
)

// Config defines run limits and failure policy.
type Config struct {
	// IdleTimeout bounds how long a run may take to become idle.
	IdleTimeout time.Duration

	// DrainTimeout bounds the wait for in-flight handlers after cancellation.
	DrainTimeout time.Duration

	// FinalGrace is how long a run may stay busy after its terminal message.
	FinalGrace time.Duration

	// TerminalOnHandlerError marks the error event published for a failed
	// handler as the terminal message of the run.
	TerminalOnHandlerError bool

	// DefaultConnectionID is used when ProcessQuery gets no connection id.
	// Zero means none.
	DefaultConnectionID int64

	// Model names the pool entry used by the run. Empty selects the pool default.
	Model string

	// MaxModelCalls caps model calls per run. Zero or less means unlimited.
	MaxModelCalls int

	Collector collector.Config
	Runtime   runtime.Config
}

// DefaultConfig provides the orchestrator defaults.
var DefaultConfig = Config{
	IdleTimeout:            2 * time.Minute,
	DrainTimeout:           5 * time.Second,
	FinalGrace:             2 * time.Second,
	TerminalOnHandlerError: true,
	MaxModelCalls:          10,
	Collector:              collector.DefaultConfig,
	Runtime:                runtime.DefaultConfig,
}

// Options configures an Orchestrator.
type Options struct {
	Config Config

	// Logger provides structured logging. Defaults to NoOpLogger.
	Logger logging.Logger

	// Connections resolves connection ids.
	Connections datasource.ConnectionStore

	// Opener opens the DataAccess of a run. Defaults to datasource.Open.
	Opener datasource.Opener

	// Pipeline registers the stages of every run.
	Pipeline Pipeline

	// Models supplies the model of a run. Nil runs without a model.
	Models *model.Pool
}

// Orchestrator drives one bus instance per query. It is safe for concurrent
// use; runs share nothing but the injected stores and the model pool.
type Orchestrator struct {
	config      Config
	logger      logging.Logger
	connections datasource.ConnectionStore
	opener      datasource.Opener
	pipeline    Pipeline
	models      *model.Pool
}

// New creates an orchestrator.
func New(optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		Config: DefaultConfig,
		Logger: logging.NoOpLogger{},
		Opener: datasource.Open,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Opener == nil {
		opts.Opener = datasource.Open
	}
	opts.Config = withDefaultTimeouts(opts.Config)
	return &Orchestrator{
		config:      opts.Config,
		logger:      opts.Logger,
		connections: opts.Connections,
		opener:      opts.Opener,
		pipeline:    opts.Pipeline,
		models:      opts.Models,
	}
}

// withDefaultTimeouts replaces unusable durations with the DefaultConfig
// values. A zero idle timeout would cancel every run before its first stage.
func withDefaultTimeouts(cfg Config) Config {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultConfig.IdleTimeout
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultConfig.DrainTimeout
	}
	if cfg.FinalGrace < 0 {
		cfg.FinalGrace = DefaultConfig.FinalGrace
	}
	return cfg
}

// QueryOptions carries per-query settings.
type QueryOptions struct {
	// UserFeedbackEnabled lets stages pause for user feedback.
	UserFeedbackEnabled bool

	// Feedback answers feedback questions. Nil disables feedback.
	Feedback FeedbackFunc

	// SessionID correlates the run with a chat session.
	SessionID string
}

// Result summarises a finished run.
type Result struct {
	RunID     string
	SessionID string

	// State is the outcome before the run closed: idle, cancelled or failed.
	State core.RunState

	// Final is the terminal message the callback received.
	Final *core.StreamMessage

	Orphans  int64
	Stats    runtime.Stats
	Duration time.Duration
}

// ProcessQuery runs the pipeline for query and relays every stream event to
// callback. Exactly one terminal message reaches the callback per run. Only
// programming errors are returned; every other failure is reported through
// the callback.
func (o *Orchestrator) ProcessQuery(
	ctx context.Context,
	query string,
	callback core.StreamCallback,
	connectionID *int64,
	opts QueryOptions,
) (Result, error) {
	if callback == nil {
		return Result{}, ErrNilCallback
	}
	if o.pipeline == nil {
		return Result{}, ErrNoPipeline
	}

	start := time.Now()
	r := o.newRun(ctx, callback, opts)
	r.logger.Info("run started", "query_length", len(query))

	env, err := r.configure(ctx, query, connectionID, opts)
	if err == nil {
		err = r.execute(ctx, env)
	}
	if err != nil {
		r.fail(err)
	}
	outcome := r.state
	r.finish()

	res := Result{
		RunID:     r.id,
		SessionID: opts.SessionID,
		State:     outcome,
		Final:     r.final,
		Duration:  time.Since(start),
	}
	if r.rt != nil {
		res.Stats = r.rt.Stats()
		res.Orphans = res.Stats.Orphans
	}
	r.logger.Info("run finished",
		"state", string(outcome),
		"orphans", res.Orphans,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

// resolveConnection picks the explicit connection id or the configured default.
func (o *Orchestrator) resolveConnection(ctx context.Context, id *int64) (datasource.ConnectionInfo, error) {
	if o.connections == nil {
		return datasource.ConnectionInfo{}, errors.New("no connection store configured")
	}
	cid := o.config.DefaultConnectionID
	if id != nil {
		cid = *id
	}
	if cid == 0 {
		return datasource.ConnectionInfo{}, ErrNoConnection
	}
	info, err := o.connections.GetConnection(ctx, cid)
	if err != nil {
		return datasource.ConnectionInfo{}, fmt.Errorf("resolve connection %d: %w", cid, err)
	}
	return info, nil
}

func (o *Orchestrator) resolveModel() (model.Model, error) {
	if o.models == nil {
		return nil, nil
	}
	if o.config.Model != "" {
		return o.models.Get(o.config.Model)
	}
	return o.models.Default()
}

// Package querymesh wires the chat-to-SQL runtime from a config.Config:
// connection stores, the model pool, the text2sql pipeline, the
// orchestrator, session recording and the optional NATS event fan-out.
// Most applications interact with this package by:
//  1. Loading a config via config.Load
//  2. Creating a QueryMesh via New
//  3. Calling Query with a stream callback per chat message
package querymesh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/querymesh/collector"
	"github.com/hupe1980/querymesh/config"
	"github.com/hupe1980/querymesh/core"
	"github.com/hupe1980/querymesh/datasource"
	"github.com/hupe1980/querymesh/logging"
	"github.com/hupe1980/querymesh/model"
	"github.com/hupe1980/querymesh/model/anthropic"
	"github.com/hupe1980/querymesh/model/openai"
	"github.com/hupe1980/querymesh/orchestrator"
	"github.com/hupe1980/querymesh/runtime"
	"github.com/hupe1980/querymesh/session"
	"github.com/hupe1980/querymesh/sink"
	"github.com/hupe1980/querymesh/text2sql"
)

// Options configures the QueryMesh instance.
type Options struct {
	// Config defaults to config.Default().
	Config *config.Config

	// Logger defaults to a logger built from Config.Log.
	Logger logging.Logger

	// Models overrides the pool built from Config.Models.
	Models *model.Pool

	// Connections overrides the stores built from Config.Connections and
	// Config.Store.
	Connections datasource.ConnectionStore

	// Opener overrides datasource.Open.
	Opener datasource.Opener

	// Sessions defaults to an in-memory store.
	Sessions *session.InMemoryStore
}

// QueryMesh is the high-level façade over the orchestrator and its services.
type QueryMesh struct {
	cfg         *config.Config
	logger      logging.Logger
	store       *datasource.SQLiteStore
	connections datasource.ConnectionStore
	models      *model.Pool
	sessions    *session.InMemoryStore
	pipeline    *text2sql.Pipeline
	orch        *orchestrator.Orchestrator
	nats        *sink.EmbeddedNATS
	publisher   *sink.NATSPublisher
}

// New creates a QueryMesh. Call Close to release the connection store and
// the NATS resources.
func New(optFns ...func(o *Options)) (*QueryMesh, error) {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	cfg := opts.Config
	if opts.Logger == nil {
		opts.Logger = NewLogger(cfg.Log)
	}
	if opts.Sessions == nil {
		opts.Sessions = session.NewInMemoryStore()
	}

	q := &QueryMesh{
		cfg:      cfg,
		logger:   opts.Logger,
		sessions: opts.Sessions,
		models:   opts.Models,
	}

	q.connections = opts.Connections
	if q.connections == nil {
		var stores []datasource.ConnectionStore
		if len(cfg.Connections) > 0 {
			stores = append(stores, datasource.NewStaticStore(cfg.Connections...))
		}
		if cfg.Store.Path != "" {
			st, err := datasource.NewSQLiteStore(cfg.Store.Path)
			if err != nil {
				return nil, fmt.Errorf("open connection store: %w", err)
			}
			q.store = st
			stores = append(stores, st)
		}
		q.connections = datasource.NewChainStore(stores...)
	}

	if q.models == nil {
		pool, err := BuildModels(cfg.Models, cfg.DefaultModel)
		if err != nil {
			_ = q.Close()
			return nil, err
		}
		q.models = pool
	}

	if cfg.NATS.Enabled() {
		if err := q.startNATS(); err != nil {
			_ = q.Close()
			return nil, err
		}
	}

	q.pipeline = text2sql.New(func(o *text2sql.Options) {
		o.Config = cfg.Pipeline
	})
	q.orch = orchestrator.New(func(o *orchestrator.Options) {
		o.Config = OrchestratorConfig(cfg)
		o.Logger = q.logger
		o.Connections = q.connections
		o.Pipeline = q.pipeline
		o.Models = q.models
		if opts.Opener != nil {
			o.Opener = opts.Opener
		}
	})
	return q, nil
}

func (q *QueryMesh) startNATS() error {
	url := q.cfg.NATS.URL
	if q.cfg.NATS.Embedded {
		ns, err := sink.StartEmbeddedNATS("127.0.0.1", q.cfg.NATS.Port)
		if err != nil {
			return err
		}
		q.nats = ns
		url = ns.ClientURL()
		q.logger.Info("embedded nats started", "url", url)
	}
	pub, err := sink.NewNATSPublisher(url, func(o *sink.NATSOptions) {
		if q.cfg.NATS.SubjectPrefix != "" {
			o.SubjectPrefix = q.cfg.NATS.SubjectPrefix
		}
		o.Logger = q.logger
	})
	if err != nil {
		return err
	}
	q.publisher = pub
	return nil
}

// Request is one chat message to answer.
type Request struct {
	Query string

	// ConnectionID selects the data source. Nil uses the configured default.
	ConnectionID *int64

	// SessionID groups turns of one chat. Empty starts a new session.
	SessionID string

	UserFeedbackEnabled bool
	Feedback            orchestrator.FeedbackFunc
}

// Query answers req, relaying every stream event to callback. Events are
// also recorded in the session store and, when configured, published to
// NATS under the session id.
func (q *QueryMesh) Query(ctx context.Context, req Request, callback core.StreamCallback) (orchestrator.Result, error) {
	if callback == nil {
		return orchestrator.Result{}, orchestrator.ErrNilCallback
	}
	if req.SessionID == "" {
		req.SessionID = core.NewID()
	}

	callbacks := []core.StreamCallback{callback, q.sessions.Callback(req.SessionID, req.Query)}
	if q.publisher != nil {
		callbacks = append(callbacks, q.publisher.Callback(req.SessionID))
	}

	return q.orch.ProcessQuery(ctx, req.Query, sink.Tee(q.logger, callbacks...), req.ConnectionID, orchestrator.QueryOptions{
		UserFeedbackEnabled: req.UserFeedbackEnabled,
		Feedback:            req.Feedback,
		SessionID:           req.SessionID,
	})
}

// Config returns the active configuration.
func (q *QueryMesh) Config() *config.Config { return q.cfg }

// Logger returns the configured logger.
func (q *QueryMesh) Logger() logging.Logger { return q.logger }

// Sessions returns the session store.
func (q *QueryMesh) Sessions() *session.InMemoryStore { return q.sessions }

// Connections returns the connection store used to resolve connection ids.
func (q *QueryMesh) Connections() datasource.ConnectionStore { return q.connections }

// Store returns the writable SQLite connection store, or nil when
// store.path is not configured.
func (q *QueryMesh) Store() *datasource.SQLiteStore { return q.store }

// Models returns the model pool.
func (q *QueryMesh) Models() *model.Pool { return q.models }

// NATSSubject returns the subject events of sessionID are published to, or
// an empty string when NATS is disabled.
func (q *QueryMesh) NATSSubject(sessionID string) string {
	if q.publisher == nil {
		return ""
	}
	return q.publisher.Subject(sessionID)
}

// NATSURL returns the URL of the NATS server events are published to.
func (q *QueryMesh) NATSURL() string {
	if q.nats != nil {
		return q.nats.ClientURL()
	}
	if q.publisher != nil {
		return q.cfg.NATS.URL
	}
	return ""
}

// Close releases the connection store and NATS resources.
func (q *QueryMesh) Close() error {
	var errs []error
	if q.publisher != nil {
		errs = append(errs, q.publisher.Close())
		q.publisher = nil
	}
	if q.nats != nil {
		q.nats.Close()
		q.nats = nil
	}
	if q.store != nil {
		errs = append(errs, q.store.Close())
		q.store = nil
	}
	return errors.Join(errs...)
}

// OrchestratorConfig maps the run section of cfg onto the orchestrator.
func OrchestratorConfig(cfg *config.Config) orchestrator.Config {
	oc := orchestrator.DefaultConfig
	oc.IdleTimeout = cfg.Run.IdleTimeout
	oc.DrainTimeout = cfg.Run.DrainTimeout
	oc.FinalGrace = cfg.Run.FinalGrace
	oc.MaxModelCalls = cfg.Run.MaxModelCalls
	oc.TerminalOnHandlerError = cfg.Run.TerminalOnHandlerError
	oc.DefaultConnectionID = cfg.DefaultConnectionID
	oc.Model = cfg.DefaultModel
	oc.Collector = collector.DefaultConfig
	oc.Collector.MaxBuffered = cfg.Run.MaxBuffered
	oc.Collector.FlushInterval = cfg.Run.FlushInterval
	oc.Collector.Coalesce = cfg.Run.Coalesce
	oc.Runtime = runtime.DefaultConfig
	return oc
}

// BuildModels creates a pool with one lazily constructed client per entry.
func BuildModels(models []config.ModelConfig, defaultName string) (*model.Pool, error) {
	pool := model.NewPool()
	for _, mc := range models {
		if err := pool.Register(mc.Name, func() (model.Model, error) { return newModel(mc) }); err != nil {
			return nil, err
		}
	}
	if defaultName != "" {
		if err := pool.SetDefault(defaultName); err != nil {
			return nil, err
		}
	}
	return pool, nil
}

func newModel(mc config.ModelConfig) (model.Model, error) {
	switch strings.ToLower(mc.Provider) {
	case config.ProviderOpenAI:
		return openai.NewModel(func(o *openai.Options) {
			if mc.Model != "" {
				o.Model = mc.Model
			}
			o.Temperature = mc.Temperature
			if mc.MaxTokens > 0 {
				o.MaxCompletionTokens = mc.MaxTokens
			}
			o.APIKey = mc.APIKey
			o.BaseURL = mc.BaseURL
		}), nil
	case config.ProviderAnthropic:
		return anthropic.NewModel(func(o *anthropic.Options) {
			if mc.Model != "" {
				o.Model = anthropicsdk.Model(mc.Model)
			}
			o.Temperature = mc.Temperature
			if mc.MaxTokens > 0 {
				o.MaxTokens = mc.MaxTokens
			}
			o.APIKey = mc.APIKey
		}), nil
	case config.ProviderMock:
		return model.NewMockModel(mc.Name, config.ProviderMock), nil
	default:
		return nil, fmt.Errorf("model %q: unknown provider %q", mc.Name, mc.Provider)
	}
}

// NewLogger builds the process logger from the log section. The slog format
// defers level and output to slog.Default.
func NewLogger(lc config.LogConfig) logging.Logger {
	if lc.Format == config.LogFormatSlog {
		return logging.NewSlogAdapter(slog.Default())
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.ParseLevel(lc.Level),
		Format: lc.Format,
		Output: os.Stderr,
	})
}

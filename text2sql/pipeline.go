package text2sql

import (
	"fmt"
	"time"

	"github.com/hupe1980/querymesh/core"
	"github.com/hupe1980/querymesh/orchestrator"
	"github.com/hupe1980/querymesh/runtime"
)

// Config selects the optional stages and tunes the mandatory ones.
type Config struct {
	// EnableAnalysis inserts the query analyzer before SQL generation.
	EnableAnalysis bool `yaml:"enable_analysis"`

	// EnableVisualization appends the chart recommender after the explainer.
	EnableVisualization bool `yaml:"enable_visualization"`

	// MaxRows limits the rows returned by the executor.
	MaxRows int `yaml:"max_rows"`

	// MaxSchemaTables limits the tables passed to the model. Zero or less
	// means all tables.
	MaxSchemaTables int `yaml:"max_schema_tables"`

	// PreviewRows limits the rows shown to the explainer.
	PreviewRows int `yaml:"preview_rows"`

	// EnableStreaming forwards model output as partial progress chunks.
	EnableStreaming bool `yaml:"enable_streaming"`

	// ModelTimeout bounds each model call. Zero means no bound.
	ModelTimeout time.Duration `yaml:"model_timeout"`

	Prompts Prompts `yaml:"prompts"`
}

// DefaultConfig provides the pipeline defaults.
var DefaultConfig = Config{
	EnableVisualization: true,
	MaxRows:             100,
	MaxSchemaTables:     10,
	PreviewRows:         10,
	ModelTimeout:        time.Minute,
}

// Options configures a Pipeline.
type Options struct {
	Config Config
}

// Pipeline is the chat-to-SQL stage chain. It implements
// orchestrator.Pipeline and is safe for concurrent runs: every run gets its
// own stage agents.
type Pipeline struct {
	config Config
}

var _ orchestrator.Pipeline = (*Pipeline)(nil)

// New creates a pipeline.
func New(optFns ...func(o *Options)) *Pipeline {
	opts := Options{Config: DefaultConfig}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Pipeline{config: opts.Config}
}

// Stages returns the enabled stage topic types in execution order.
func (p *Pipeline) Stages() []string {
	stages := []string{TopicSchemaRetriever}
	if p.config.EnableAnalysis {
		stages = append(stages, TopicQueryAnalyzer)
	}
	stages = append(stages, TopicSQLGenerator, TopicSQLExecutor, TopicSQLExplainer)
	if p.config.EnableVisualization {
		stages = append(stages, TopicVisualization)
	}
	return stages
}

// Register implements orchestrator.Pipeline. Each stage is a lazy factory
// bound to its topic type, so one instance per run is created on first
// delivery.
func (p *Pipeline) Register(rt *runtime.Runtime, env orchestrator.Env) error {
	stages := p.Stages()
	for i, name := range stages {
		s := stage{config: p.config, env: env}
		if i+1 < len(stages) {
			s.next = stages[i+1]
		}

		var factory runtime.Factory
		switch name {
		case TopicSchemaRetriever:
			factory = newSchemaRetriever(s)
		case TopicQueryAnalyzer:
			factory = newQueryAnalyzer(s)
		case TopicSQLGenerator:
			factory = newSQLGenerator(s)
		case TopicSQLExecutor:
			factory = newSQLExecutor(s)
		case TopicSQLExplainer:
			factory = newSQLExplainer(s)
		case TopicVisualization:
			factory = newVisualizationRecommender(s)
		default:
			return fmt.Errorf("unknown stage %q", name)
		}

		if err := rt.RegisterFactory(name, factory); err != nil {
			return fmt.Errorf("register stage %s: %w", name, err)
		}
		if err := rt.Subscribe(runtime.TypeSubscription{TopicType: name, AgentType: name}); err != nil {
			return fmt.Errorf("subscribe stage %s: %w", name, err)
		}
	}
	return nil
}

// Seed implements orchestrator.Pipeline.
func (p *Pipeline) Seed(env orchestrator.Env) (core.Message, core.TopicID) {
	return QueryMessage{QueryContext: env.Query}, core.NewTopicID(TopicSchemaRetriever, env.RunID)
}

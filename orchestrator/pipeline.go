package orchestrator

import (
	"context"

	"github.com/hupe1980/querymesh/core"
	"github.com/hupe1980/querymesh/datasource"
	"github.com/hupe1980/querymesh/logging"
	"github.com/hupe1980/querymesh/model"
	"github.com/hupe1980/querymesh/runtime"
)

// FeedbackFunc asks the user a question in the middle of a run and returns
// the answer. An empty answer means "no feedback".
type FeedbackFunc func(ctx context.Context, question string) (string, error)

// Env holds the per-run resources handed to a Pipeline. Everything in it is
// owned by the run and released by the orchestrator when the run closes;
// stages must not close the DataAccess.
type Env struct {
	RunID      string
	Query      core.QueryContext
	Connection datasource.ConnectionInfo
	Data       datasource.DataAccess
	Model      model.Model
	Limiter    *core.ModelLimiter
	Feedback   FeedbackFunc
	Logger     logging.Logger
}

// Pipeline registers the stage agents of a run and produces the message
// that starts it.
type Pipeline interface {
	// Register installs factories and subscriptions for the run's stages.
	Register(rt *runtime.Runtime, env Env) error

	// Seed returns the first message and the topic it is published on.
	Seed(env Env) (core.Message, core.TopicID)
}

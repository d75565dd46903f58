package text2sql

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hupe1980/querymesh/agent"
	"github.com/hupe1980/querymesh/core"
	"github.com/hupe1980/querymesh/logging"
	"github.com/hupe1980/querymesh/orchestrator"
	"github.com/hupe1980/querymesh/runtime"
)

// stage is the run-scoped wiring shared by every stage agent.
type stage struct {
	config Config
	env    orchestrator.Env
	next   string // topic type of the following stage; empty for the last
}

// complete reports a finished stage. The last stage emits the terminal
// success message; the others emit a progress event and hand msg on.
func (s stage) complete(ctx context.Context, mctx *core.MessageContext, b *agent.BaseAgent, content string, msg core.Message, result QueryResult) error {
	logging.RecordStage(mctx.Logger(), mctx.Recipient.Type, time.Since(mctx.Received), nil)
	if s.next == "" {
		return b.Emit(ctx, mctx, core.NewFinalMessage("", content, result))
	}
	if err := b.Emit(ctx, mctx, core.NewStreamMessage("", content)); err != nil {
		return err
	}
	return mctx.Publish(ctx, msg, core.NewTopicID(s.next, mctx.SourceTopic().Source))
}

// abort ends the run with a terminal error emitted by the stage itself.
func (s stage) abort(ctx context.Context, mctx *core.MessageContext, b *agent.BaseAgent, content string) error {
	logging.RecordStage(mctx.Logger(), mctx.Recipient.Type, time.Since(mctx.Received), errors.New(content))
	return b.Emit(ctx, mctx, core.NewErrorMessage("", content, true))
}

func (s stage) modelAgent(id core.AgentID, template string) *agent.ModelAgent {
	return agent.NewModelAgent(id, s.env.Model, func(o *agent.ModelAgentOptions) {
		o.Instruction = agent.NewInstructionFromText(template)
		o.EnableStreaming = s.config.EnableStreaming
		o.Limiter = s.env.Limiter
		o.Timeout = s.config.ModelTimeout
	})
}

func dialectOf(d string) string {
	if d == "" {
		return "SQL"
	}
	return d
}

func newSchemaRetriever(s stage) runtime.Factory {
	return func(id core.AgentID) (core.Agent, error) {
		b := agent.NewBaseAgent(id)
		b.SetDescription("Selects the tables relevant to the question")

		agent.On(b, "retrieve_schema", func(ctx context.Context, m QueryMessage, mctx *core.MessageContext) (core.Message, error) {
			if mctx.Cancelled() {
				return nil, mctx.Token.Err()
			}
			if s.env.Data == nil {
				return nil, errors.New("no data access configured")
			}
			schema, err := s.env.Data.Schema(ctx)
			if err != nil {
				return nil, fmt.Errorf("load schema: %w", err)
			}
			if len(schema.Tables) == 0 {
				return nil, s.abort(ctx, mctx, b, "The database has no tables to query")
			}

			tables := RankTables(schema, m.Query, s.config.MaxSchemaTables)
			out := SchemaContextMessage{
				QueryContext: m.QueryContext,
				Dialect:      schema.Dialect,
				Schema:       RenderSchema(schema.Dialect, tables),
				Tables:       tableNames(tables),
			}
			content := fmt.Sprintf("Found %d relevant tables: %s", len(out.Tables), strings.Join(out.Tables, ", "))
			return nil, s.complete(ctx, mctx, b, content, out, QueryResult{})
		})
		return b, nil
	}
}

func newQueryAnalyzer(s stage) runtime.Factory {
	return func(id core.AgentID) (core.Agent, error) {
		a := s.modelAgent(id, s.config.Prompts.analyzer())
		a.SetDescription("Breaks the question down into tables, filters and aggregations")

		agent.On(a.BaseAgent, "analyze_query", func(ctx context.Context, m SchemaContextMessage, mctx *core.MessageContext) (core.Message, error) {
			vars := map[string]string{"dialect": dialectOf(m.Dialect), "schema": m.Schema}
			text, err := a.Generate(ctx, mctx, vars, m.Query)
			if err != nil {
				return nil, fmt.Errorf("analyze query: %w", err)
			}
			analysis := strings.TrimSpace(text)

			if m.UserFeedbackEnabled && s.env.Feedback != nil {
				ask := core.NewStreamMessage("", "Proposed analysis:\n"+analysis).WithRegion(core.RegionInfo)
				if err := a.Emit(ctx, mctx, ask); err != nil {
					return nil, err
				}
				feedback, err := s.env.Feedback(ctx, analysis)
				if mctx.Cancelled() {
					return nil, mctx.Token.Err()
				}
				if err != nil {
					return nil, fmt.Errorf("user feedback: %w", err)
				}
				if feedback = strings.TrimSpace(feedback); feedback != "" {
					analysis += "\n\nUser feedback: " + feedback
				}
			}

			out := AnalysisMessage{
				QueryContext: m.QueryContext,
				Dialect:      m.Dialect,
				Schema:       m.Schema,
				Analysis:     analysis,
			}
			return nil, s.complete(ctx, mctx, a.BaseAgent, "Analysis:\n"+analysis, out, QueryResult{})
		})
		return a, nil
	}
}

func newSQLGenerator(s stage) runtime.Factory {
	return func(id core.AgentID) (core.Agent, error) {
		a := s.modelAgent(id, s.config.Prompts.generator())
		a.SetDescription("Writes the SQL statement answering the question")

		generate := func(ctx context.Context, mctx *core.MessageContext, qc core.QueryContext, dialect, schema, analysis string) error {
			if analysis == "" {
				analysis = "(none)"
			}
			vars := map[string]string{"dialect": dialectOf(dialect), "schema": schema, "analysis": analysis}
			text, err := a.Generate(ctx, mctx, vars, qc.Query)
			if err != nil {
				return fmt.Errorf("generate sql: %w", err)
			}
			sql, err := ExtractSQL(text)
			if err != nil {
				return s.abort(ctx, mctx, a.BaseAgent, "Could not find a SQL query in the model response")
			}
			content := "Generated SQL:\n```sql\n" + sql + "\n```"
			return s.complete(ctx, mctx, a.BaseAgent, content, SQLMessage{QueryContext: qc, SQL: sql}, QueryResult{SQL: sql})
		}

		agent.On(a.BaseAgent, "generate_from_schema", func(ctx context.Context, m SchemaContextMessage, mctx *core.MessageContext) (core.Message, error) {
			return nil, generate(ctx, mctx, m.QueryContext, m.Dialect, m.Schema, "")
		})
		agent.On(a.BaseAgent, "generate_from_analysis", func(ctx context.Context, m AnalysisMessage, mctx *core.MessageContext) (core.Message, error) {
			return nil, generate(ctx, mctx, m.QueryContext, m.Dialect, m.Schema, m.Analysis)
		})
		return a, nil
	}
}

func newSQLExecutor(s stage) runtime.Factory {
	return func(id core.AgentID) (core.Agent, error) {
		b := agent.NewBaseAgent(id)
		b.SetDescription("Runs the generated statement against the database")

		agent.On(b, "execute_sql", func(ctx context.Context, m SQLMessage, mctx *core.MessageContext) (core.Message, error) {
			if err := CheckReadOnly(m.SQL); err != nil {
				return nil, s.abort(ctx, mctx, b, fmt.Sprintf("Rejected SQL: %v", err))
			}
			if mctx.Cancelled() {
				return nil, mctx.Token.Err()
			}
			if s.env.Data == nil {
				return nil, errors.New("no data access configured")
			}

			rs, err := s.env.Data.Query(ctx, m.SQL, s.config.MaxRows)
			if err != nil {
				if mctx.Cancelled() {
					return nil, mctx.Token.Err()
				}
				return nil, s.abort(ctx, mctx, b, fmt.Sprintf("Query failed: %v", err))
			}

			content := fmt.Sprintf("Query returned %d rows", len(rs.Rows))
			if rs.Truncated {
				content += fmt.Sprintf(" (limited to %d)", s.config.MaxRows)
			}
			out := SQLResultMessage{QueryContext: m.QueryContext, SQL: m.SQL, Result: rs}
			return nil, s.complete(ctx, mctx, b, content, out, QueryResult{SQL: m.SQL, Results: &rs})
		})
		return b, nil
	}
}

func newSQLExplainer(s stage) runtime.Factory {
	return func(id core.AgentID) (core.Agent, error) {
		a := s.modelAgent(id, s.config.Prompts.explainer())
		a.SetDescription("Explains the statement and its result in plain language")

		agent.On(a.BaseAgent, "explain_sql", func(ctx context.Context, m SQLResultMessage, mctx *core.MessageContext) (core.Message, error) {
			vars := map[string]string{
				"sql":     m.SQL,
				"rows":    strconv.Itoa(len(m.Result.Rows)),
				"preview": Preview(m.Result, s.config.PreviewRows),
			}
			text, err := a.Generate(ctx, mctx, vars, m.Query)
			if err != nil {
				return nil, fmt.Errorf("explain sql: %w", err)
			}
			explanation := strings.TrimSpace(text)
			rs := m.Result
			out := SQLExplanationMessage{
				QueryContext: m.QueryContext,
				SQL:          m.SQL,
				Result:       rs,
				Explanation:  explanation,
			}
			result := QueryResult{SQL: m.SQL, Results: &rs, Explanation: explanation}
			return nil, s.complete(ctx, mctx, a.BaseAgent, explanation, out, result)
		})
		return a, nil
	}
}

func newVisualizationRecommender(s stage) runtime.Factory {
	return func(id core.AgentID) (core.Agent, error) {
		b := agent.NewBaseAgent(id)
		b.SetDescription("Recommends a chart for the result")

		agent.On(b, "recommend_visualization", func(ctx context.Context, m SQLExplanationMessage, mctx *core.MessageContext) (core.Message, error) {
			if mctx.Cancelled() {
				return nil, mctx.Token.Err()
			}
			viz := Recommend(m.Query, m.Result)
			content := m.Explanation
			if viz.Type != ChartTable {
				content = strings.TrimSpace(fmt.Sprintf("%s\n\nSuggested visualization: %s chart of %s", m.Explanation, viz.Type, viz.Title))
			}
			rs := m.Result
			result := QueryResult{SQL: m.SQL, Results: &rs, Explanation: m.Explanation, Visualization: &viz}
			reply := VisualizationMessage{QueryContext: m.QueryContext, Visualization: viz}
			return reply, s.complete(ctx, mctx, b, content, reply, result)
		})
		return b, nil
	}
}

package text2sql

import (
	"github.com/hupe1980/querymesh/core"
	"github.com/hupe1980/querymesh/datasource"
)

// Topic types of the pipeline stages. Stage agents are registered under the
// same names.
const (
	TopicSchemaRetriever = "schema_retriever"
	TopicQueryAnalyzer   = "query_analyzer"
	TopicSQLGenerator    = "sql_generator"
	TopicSQLExecutor     = "sql_executor"
	TopicSQLExplainer    = "sql_explainer"
	TopicVisualization   = "visualization_recommender"
)

const (
	KindQuery          core.MessageKind = "query"
	KindSchemaContext  core.MessageKind = "schema_context"
	KindAnalysis       core.MessageKind = "analysis"
	KindSQL            core.MessageKind = "sql"
	KindSQLResult      core.MessageKind = "sql_result"
	KindSQLExplanation core.MessageKind = "sql_explanation"
	KindVisualization  core.MessageKind = "visualization"
)

// QueryMessage starts a run.
type QueryMessage struct {
	core.QueryContext
}

func (QueryMessage) Kind() core.MessageKind { return KindQuery }

// SchemaContextMessage carries the rendered schema relevant to the query.
type SchemaContextMessage struct {
	core.QueryContext
	Dialect string   `json:"dialect"`
	Schema  string   `json:"schema"`
	Tables  []string `json:"tables"`
}

func (SchemaContextMessage) Kind() core.MessageKind { return KindSchemaContext }

// AnalysisMessage carries the analyzer's reading of the question.
type AnalysisMessage struct {
	core.QueryContext
	Dialect  string `json:"dialect"`
	Schema   string `json:"schema"`
	Analysis string `json:"analysis"`
}

func (AnalysisMessage) Kind() core.MessageKind { return KindAnalysis }

// SQLMessage carries the generated statement.
type SQLMessage struct {
	core.QueryContext
	SQL string `json:"sql"`
}

func (SQLMessage) Kind() core.MessageKind { return KindSQL }

// SQLResultMessage carries the executed statement and its rows.
type SQLResultMessage struct {
	core.QueryContext
	SQL    string               `json:"sql"`
	Result datasource.ResultSet `json:"result"`
}

func (SQLResultMessage) Kind() core.MessageKind { return KindSQLResult }

// SQLExplanationMessage adds a plain language explanation to a result.
type SQLExplanationMessage struct {
	core.QueryContext
	SQL         string               `json:"sql"`
	Result      datasource.ResultSet `json:"result"`
	Explanation string               `json:"explanation"`
}

func (SQLExplanationMessage) Kind() core.MessageKind { return KindSQLExplanation }

// VisualizationMessage is the visualization stage's reply to direct sends.
type VisualizationMessage struct {
	core.QueryContext
	Visualization Visualization `json:"visualization"`
}

func (VisualizationMessage) Kind() core.MessageKind { return KindVisualization }

// QueryResult is the structured result of the terminal message.
type QueryResult struct {
	SQL           string                `json:"sql"`
	Results       *datasource.ResultSet `json:"results"`
	Explanation   string                `json:"explanation,omitempty"`
	Visualization *Visualization        `json:"visualization,omitempty"`
}

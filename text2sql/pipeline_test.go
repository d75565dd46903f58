package text2sql

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/hupe1980/querymesh/core"
	"github.com/hupe1980/querymesh/datasource"
	"github.com/hupe1980/querymesh/internal/testutil"
	"github.com/hupe1980/querymesh/logging"
	"github.com/hupe1980/querymesh/model"
	"github.com/hupe1980/querymesh/orchestrator"
)

const (
	topProductsSQL = "SELECT p.name, SUM(s.amount) AS total FROM sales s " +
		"JOIN products p ON p.id = s.product_id WHERE s.year = 2023 " +
		"GROUP BY p.name ORDER BY total DESC LIMIT 5"
	analysisText    = "Join sales to products, keep 2023, sum amount per product, order descending, limit 5."
	explanationText = "The query sums 2023 sales per product and lists the five best sellers."
)

func newSalesDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sales.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	stmts := []string{
		`CREATE TABLE products (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
		`CREATE TABLE sales (
			id INTEGER PRIMARY KEY,
			product_id INTEGER NOT NULL REFERENCES products(id),
			year INTEGER NOT NULL,
			amount REAL NOT NULL
		)`,
		`CREATE TABLE employees (id INTEGER PRIMARY KEY, full_name TEXT)`,
	}
	names := []string{"Alpha", "Bravo", "Charlie", "Delta", "Echo", "Foxtrot"}
	for i, n := range names {
		stmts = append(stmts,
			fmt.Sprintf(`INSERT INTO products (id, name) VALUES (%d, '%s')`, i+1, n),
			fmt.Sprintf(`INSERT INTO sales (product_id, year, amount) VALUES (%d, 2023, %d)`, i+1, (i+1)*100),
			fmt.Sprintf(`INSERT INTO sales (product_id, year, amount) VALUES (%d, 2022, 999)`, i+1),
		)
	}
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err)
	}
	return path
}

func newMock(generatorReply string) *model.MockModel {
	llm := model.NewMockModel("mock", "test")
	llm.AddRule("data analyst", analysisText)
	llm.AddRule("SQL developer", generatorReply)
	llm.AddRule("explain query results", explanationText)
	return llm
}

func fenced(sql string) string { return "```sql\n" + sql + "\n```" }

func baseConfig() Config {
	cfg := DefaultConfig
	cfg.EnableAnalysis = false
	cfg.EnableVisualization = false
	return cfg
}

type fixture struct {
	llm    *model.MockModel
	dbPath string
	tune   func(c *orchestrator.Config)
	logger logging.Logger
}

func newFixture(t *testing.T, llm *model.MockModel) *fixture {
	return &fixture{llm: llm, dbPath: newSalesDB(t)}
}

func (f *fixture) run(t *testing.T, cfg Config, query string, opts orchestrator.QueryOptions) (orchestrator.Result, *testutil.Recorder) {
	t.Helper()
	pool := model.NewPool()
	require.NoError(t, pool.Add("mock", f.llm))

	ocfg := orchestrator.DefaultConfig
	ocfg.IdleTimeout = 10 * time.Second
	ocfg.DrainTimeout = 2 * time.Second
	ocfg.FinalGrace = 2 * time.Second
	ocfg.Collector.FlushInterval = 5 * time.Millisecond
	if f.tune != nil {
		f.tune(&ocfg)
	}

	o := orchestrator.New(func(o *orchestrator.Options) {
		o.Config = ocfg
		o.Pipeline = New(func(po *Options) { po.Config = cfg })
		o.Connections = datasource.NewStaticStore(datasource.ConnectionInfo{
			ID:       7,
			Name:     "sales",
			DBType:   "sqlite",
			Database: f.dbPath,
		})
		o.Models = pool
		if f.logger != nil {
			o.Logger = f.logger
		}
	})

	rec := testutil.NewRecorder()
	connID := int64(7)
	res, err := o.ProcessQuery(context.Background(), query, rec.Callback, &connID, opts)
	require.NoError(t, err)
	return res, rec
}

func sources(msgs []core.StreamMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Source
	}
	return out
}

func TestPipeline_EndToEnd(t *testing.T) {
	f := newFixture(t, newMock(fenced(topProductsSQL)))
	res, rec := f.run(t, baseConfig(), "top 5 products by 2023 sales", orchestrator.QueryOptions{})

	assert.Equal(t, core.RunIdle, res.State)
	assert.Zero(t, res.Orphans)

	msgs := rec.Messages()
	require.Len(t, msgs, 5)
	assert.Equal(t, []string{
		orchestrator.AgentType,
		TopicSchemaRetriever,
		TopicSQLGenerator,
		TopicSQLExecutor,
		TopicSQLExplainer,
	}, sources(msgs))

	for _, m := range msgs[:4] {
		assert.False(t, m.IsFinal)
	}
	assert.Equal(t, "Found 2 relevant tables: sales, products", msgs[1].Content)
	assert.Contains(t, msgs[2].Content, topProductsSQL)
	assert.Equal(t, "Query returned 5 rows", msgs[3].Content)

	final := msgs[4]
	assert.True(t, final.IsFinal)
	assert.Equal(t, core.RegionSuccess, final.Region)
	assert.Equal(t, explanationText, final.Content)

	result, ok := final.Result.(QueryResult)
	require.True(t, ok, "result is %T", final.Result)
	assert.Equal(t, topProductsSQL, result.SQL)
	assert.Equal(t, explanationText, result.Explanation)
	require.NotNil(t, result.Results)
	assert.Equal(t, []string{"name", "total"}, result.Results.Columns)
	require.Len(t, result.Results.Rows, 5)
	assert.Equal(t, "Foxtrot", result.Results.Rows[0][0])
	assert.Nil(t, result.Visualization)

	calls := f.llm.Calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[0].Instructions, "Table sales (")
	assert.Contains(t, calls[0].Instructions, "(none)")
	assert.NotContains(t, calls[0].Instructions, "employees")
	assert.Contains(t, calls[1].Instructions, "Result (5 rows)")
}

func TestPipeline_AllStages(t *testing.T) {
	f := newFixture(t, newMock(fenced(topProductsSQL)))
	cfg := baseConfig()
	cfg.EnableAnalysis = true
	cfg.EnableVisualization = true

	_, rec := f.run(t, cfg, "top 5 products by 2023 sales", orchestrator.QueryOptions{})

	msgs := rec.Messages()
	require.Len(t, msgs, 7)
	assert.Equal(t, []string{
		orchestrator.AgentType,
		TopicSchemaRetriever,
		TopicQueryAnalyzer,
		TopicSQLGenerator,
		TopicSQLExecutor,
		TopicSQLExplainer,
		TopicVisualization,
	}, sources(msgs))
	require.Len(t, rec.Finals(), 1)

	final := msgs[6]
	result, ok := final.Result.(QueryResult)
	require.True(t, ok)
	require.NotNil(t, result.Visualization)
	assert.Equal(t, ChartBar, result.Visualization.Type)
	assert.Equal(t, "name", result.Visualization.X)
	assert.Contains(t, final.Content, "Suggested visualization: bar chart")

	calls := f.llm.Calls()
	require.Len(t, calls, 3)
	assert.Contains(t, calls[1].Instructions, analysisText)
}

func TestPipeline_UserFeedback(t *testing.T) {
	f := newFixture(t, newMock(fenced(topProductsSQL)))
	cfg := baseConfig()
	cfg.EnableAnalysis = true

	var asked string
	_, rec := f.run(t, cfg, "top 5 products by 2023 sales", orchestrator.QueryOptions{
		UserFeedbackEnabled: true,
		Feedback: func(_ context.Context, question string) (string, error) {
			asked = question
			return "use net amounts", nil
		},
	})

	assert.Equal(t, analysisText, asked)
	var info []core.StreamMessage
	for _, m := range rec.Messages() {
		if m.Region == core.RegionInfo {
			info = append(info, m)
		}
	}
	require.Len(t, info, 1)
	assert.Contains(t, info[0].Content, analysisText)

	calls := f.llm.Calls()
	require.GreaterOrEqual(t, len(calls), 2)
	assert.Contains(t, calls[1].Instructions, "User feedback: use net amounts")
	assert.Len(t, rec.Finals(), 1)
}

func TestPipeline_RejectsWritingSQL(t *testing.T) {
	f := newFixture(t, newMock(fenced("DELETE FROM sales")))
	_, rec := f.run(t, baseConfig(), "remove all sales", orchestrator.QueryOptions{})

	finals := rec.Finals()
	require.Len(t, finals, 1)
	assert.Equal(t, TopicSQLExecutor, finals[0].Source)
	assert.Equal(t, core.RegionError, finals[0].Region)
	assert.True(t, strings.HasPrefix(finals[0].Content, "Rejected SQL"))

	db, err := sql.Open("sqlite", f.dbPath)
	require.NoError(t, err)
	defer db.Close()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sales`).Scan(&n))
	assert.Equal(t, 12, n)
	assert.Len(t, f.llm.Calls(), 1, "explainer must not run")
}

func TestPipeline_QueryError(t *testing.T) {
	f := newFixture(t, newMock(fenced("SELECT missing_column FROM sales")))
	_, rec := f.run(t, baseConfig(), "q", orchestrator.QueryOptions{})

	finals := rec.Finals()
	require.Len(t, finals, 1)
	assert.Equal(t, TopicSQLExecutor, finals[0].Source)
	assert.Contains(t, finals[0].Content, "Query failed")
}

func TestPipeline_NoSQLInResponse(t *testing.T) {
	f := newFixture(t, newMock("Sorry, I cannot help with that."))
	_, rec := f.run(t, baseConfig(), "q", orchestrator.QueryOptions{})

	finals := rec.Finals()
	require.Len(t, finals, 1)
	assert.Equal(t, TopicSQLGenerator, finals[0].Source)
	assert.Equal(t, core.RegionError, finals[0].Region)
}

func TestPipeline_ModelFailure(t *testing.T) {
	llm := model.NewMockModel("mock", "test")
	llm.FailOn("SQL developer", "rate limited")
	f := newFixture(t, llm)

	res, rec := f.run(t, baseConfig(), "q", orchestrator.QueryOptions{})

	finals := rec.Finals()
	require.Len(t, finals, 1)
	assert.Equal(t, TopicSQLGenerator, finals[0].Source)
	assert.Contains(t, finals[0].Content, "rate limited")
	assert.Equal(t, int64(1), res.Stats.Failed)
}

func TestPipeline_ModelCallLimit(t *testing.T) {
	f := newFixture(t, newMock(fenced(topProductsSQL)))
	f.tune = func(c *orchestrator.Config) { c.MaxModelCalls = 1 }

	_, rec := f.run(t, baseConfig(), "top 5 products by 2023 sales", orchestrator.QueryOptions{})

	finals := rec.Finals()
	require.Len(t, finals, 1)
	assert.Equal(t, TopicSQLExplainer, finals[0].Source)
	assert.Contains(t, finals[0].Content, core.ErrModelCallLimit.Error())
}

func TestPipeline_RowLimit(t *testing.T) {
	f := newFixture(t, newMock(fenced("SELECT * FROM sales")))
	cfg := baseConfig()
	cfg.MaxRows = 3

	_, rec := f.run(t, cfg, "all sales", orchestrator.QueryOptions{})

	msgs := rec.Messages()
	require.Len(t, msgs, 5)
	assert.Equal(t, "Query returned 3 rows (limited to 3)", msgs[3].Content)
	result, ok := msgs[4].Result.(QueryResult)
	require.True(t, ok)
	assert.True(t, result.Results.Truncated)
}

func TestPipeline_Stages(t *testing.T) {
	assert.Equal(t,
		[]string{TopicSchemaRetriever, TopicSQLGenerator, TopicSQLExecutor, TopicSQLExplainer},
		New(func(o *Options) { o.Config = baseConfig() }).Stages(),
	)
	assert.Equal(t,
		[]string{TopicSchemaRetriever, TopicSQLGenerator, TopicSQLExecutor, TopicSQLExplainer, TopicVisualization},
		New().Stages(),
	)
}

func TestPipeline_LogsStageOutcomes(t *testing.T) {
	var buf bytes.Buffer
	f := newFixture(t, newMock(fenced("DELETE FROM sales")))
	f.logger = logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelInfo, Format: "text", Output: &buf})

	_, rec := f.run(t, baseConfig(), "remove all sales", orchestrator.QueryOptions{})
	require.Len(t, rec.Finals(), 1)

	out := buf.String()
	assert.Contains(t, out, "Stage completed")
	assert.Contains(t, out, "stage="+TopicSQLGenerator)
	assert.Contains(t, out, "Stage failed")
	assert.Contains(t, out, "stage="+TopicSQLExecutor)
}

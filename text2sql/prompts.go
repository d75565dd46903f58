package text2sql

import (
	"fmt"
	"strings"

	"github.com/hupe1980/querymesh/datasource"
)

// Prompt templates. Placeholders in braces are filled per request.
const (
	DefaultAnalyzerPrompt = `You are a data analyst working with a {dialect} database.
Analyse the user's question against the schema below. List the tables and
columns needed, the filters, the aggregations and the ordering. Do not write SQL.

Schema:
{schema}`

	DefaultGeneratorPrompt = `You are an expert {dialect} SQL developer.
Write a single read-only SELECT statement that answers the user's question.
Use only tables and columns from the schema. Return the query in a sql fenced
code block and nothing else.

Schema:
{schema}

Analysis:
{analysis}`

	DefaultExplainerPrompt = `You explain query results to business users.
Describe in two or three sentences what the SQL does and what the result shows.

SQL:
{sql}

Result ({rows} rows):
{preview}`
)

// Prompts overrides the default templates. Empty fields keep the default.
type Prompts struct {
	Analyzer  string `yaml:"analyzer"`
	Generator string `yaml:"generator"`
	Explainer string `yaml:"explainer"`
}

func (p Prompts) analyzer() string  { return orDefault(p.Analyzer, DefaultAnalyzerPrompt) }
func (p Prompts) generator() string { return orDefault(p.Generator, DefaultGeneratorPrompt) }
func (p Prompts) explainer() string { return orDefault(p.Explainer, DefaultExplainerPrompt) }

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// Preview renders the first n rows of rs as a pipe separated table.
func Preview(rs datasource.ResultSet, n int) string {
	if len(rs.Columns) == 0 {
		return "(no columns)"
	}
	var b strings.Builder
	b.WriteString(strings.Join(rs.Columns, " | "))
	for i, row := range rs.Rows {
		if n > 0 && i == n {
			fmt.Fprintf(&b, "\n... %d more rows", len(rs.Rows)-n)
			break
		}
		cells := make([]string, len(row))
		for j, v := range row {
			if v == nil {
				cells[j] = "NULL"
				continue
			}
			cells[j] = fmt.Sprint(v)
		}
		b.WriteString("\n")
		b.WriteString(strings.Join(cells, " | "))
	}
	return b.String()
}

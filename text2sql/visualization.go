package text2sql

import (
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/querymesh/datasource"
)

// ChartType names a visualization.
type ChartType string

const (
	ChartTable   ChartType = "table"
	ChartBar     ChartType = "bar"
	ChartLine    ChartType = "line"
	ChartPie     ChartType = "pie"
	ChartScatter ChartType = "scatter"
)

// Visualization is a chart recommendation for a result set.
type Visualization struct {
	Type   ChartType `json:"type"`
	X      string    `json:"x,omitempty"`
	Y      []string  `json:"y,omitempty"`
	Title  string    `json:"title,omitempty"`
	Reason string    `json:"reason"`
}

const (
	maxPieSlices = 6
	maxBars      = 50
)

var shareWords = []string{"share", "proportion", "percent", "percentage", "distribution", "breakdown", "split"}

type columnKind int

const (
	kindCategorical columnKind = iota
	kindNumeric
	kindTemporal
)

// Recommend picks a chart for rs. The rules look at column kinds only:
//   - a temporal column with numeric measures is a line chart
//   - one category with one measure is a pie chart for few non-negative
//     rows when the question asks about shares, a bar chart otherwise
//   - two or more measures without a category is a scatter plot
//   - everything else is a table
func Recommend(query string, rs datasource.ResultSet) Visualization {
	if len(rs.Rows) == 0 || len(rs.Columns) == 0 {
		return Visualization{Type: ChartTable, Reason: "the query returned no rows"}
	}
	if len(rs.Rows) == 1 {
		return Visualization{Type: ChartTable, Reason: "a single row is best read as a table"}
	}

	var temporal, numeric, categorical []string
	for i, col := range rs.Columns {
		switch classify(rs, i) {
		case kindTemporal:
			temporal = append(temporal, col)
		case kindNumeric:
			numeric = append(numeric, col)
		default:
			categorical = append(categorical, col)
		}
	}

	switch {
	case len(temporal) > 0 && len(numeric) > 0:
		return Visualization{
			Type:   ChartLine,
			X:      temporal[0],
			Y:      numeric,
			Title:  fmt.Sprintf("%s over %s", strings.Join(numeric, ", "), temporal[0]),
			Reason: "numeric measures over a time dimension",
		}
	case len(categorical) == 1 && len(numeric) >= 1:
		x := categorical[0]
		if len(numeric) == 1 && len(rs.Rows) <= maxPieSlices && asksForShare(query) && nonNegative(rs, indexOf(rs.Columns, numeric[0])) {
			return Visualization{
				Type:   ChartPie,
				X:      x,
				Y:      numeric,
				Title:  fmt.Sprintf("%s by %s", numeric[0], x),
				Reason: "a few categories sharing one non-negative measure",
			}
		}
		if len(rs.Rows) > maxBars {
			return Visualization{Type: ChartTable, Reason: fmt.Sprintf("more than %d categories", maxBars)}
		}
		return Visualization{
			Type:   ChartBar,
			X:      x,
			Y:      numeric,
			Title:  fmt.Sprintf("%s by %s", strings.Join(numeric, ", "), x),
			Reason: "numeric measures compared across categories",
		}
	case len(categorical) == 0 && len(numeric) >= 2:
		return Visualization{
			Type:   ChartScatter,
			X:      numeric[0],
			Y:      numeric[1:2],
			Title:  fmt.Sprintf("%s vs %s", numeric[1], numeric[0]),
			Reason: "relationship between two numeric columns",
		}
	default:
		return Visualization{Type: ChartTable, Reason: "no chartable combination of columns"}
	}
}

func classify(rs datasource.ResultSet, col int) columnKind {
	name := strings.ToLower(rs.Columns[col])
	if col < len(rs.ColumnTypes) {
		t := strings.ToUpper(rs.ColumnTypes[col])
		if strings.Contains(t, "DATE") || strings.Contains(t, "TIME") {
			return kindTemporal
		}
	}
	for _, hint := range []string{"date", "time", "year", "month", "day", "week", "quarter", "period"} {
		if strings.Contains(name, hint) {
			return kindTemporal
		}
	}

	seen, numbers, dates := 0, 0, 0
	for _, row := range rs.Rows {
		if col >= len(row) || row[col] == nil {
			continue
		}
		seen++
		switch v := row[col].(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
			numbers++
		case time.Time:
			dates++
		case string:
			if looksLikeDate(v) {
				dates++
			}
		}
	}
	switch {
	case seen == 0:
		return kindCategorical
	case dates == seen:
		return kindTemporal
	case numbers == seen:
		return kindNumeric
	default:
		return kindCategorical
	}
}

func looksLikeDate(s string) bool {
	for _, layout := range []string{"2006-01-02", "2006-01", time.RFC3339, "2006-01-02 15:04:05"} {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

func asksForShare(query string) bool {
	q := strings.ToLower(query)
	for _, w := range shareWords {
		if strings.Contains(q, w) {
			return true
		}
	}
	return false
}

func nonNegative(rs datasource.ResultSet, col int) bool {
	for _, row := range rs.Rows {
		if col < 0 || col >= len(row) {
			continue
		}
		if toFloat(row[col]) < 0 {
			return false
		}
	}
	return true
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}

func indexOf(list []string, v string) int {
	for i, s := range list {
		if s == v {
			return i
		}
	}
	return -1
}

package text2sql

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/hupe1980/querymesh/datasource"
)

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "from": {}, "what": {}, "which": {},
	"who": {}, "how": {}, "many": {}, "much": {}, "show": {}, "list": {}, "give": {},
	"all": {}, "are": {}, "was": {}, "were": {}, "top": {}, "per": {}, "each": {},
	"by": {}, "of": {}, "in": {}, "on": {}, "me": {}, "is": {}, "a": {}, "an": {},
	"to": {}, "that": {}, "than": {}, "have": {}, "has": {}, "most": {}, "least": {},
}

// keywords splits a question into normalised search terms.
func keywords(query string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, w := range strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r))
	}) {
		if len(w) < 2 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		if isNumber(w) {
			continue
		}
		w = singular(w)
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

func isNumber(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func singular(w string) string {
	switch {
	case strings.HasSuffix(w, "ies") && len(w) > 4:
		return w[:len(w)-3] + "y"
	case strings.HasSuffix(w, "sses"):
		return w[:len(w)-2]
	case strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") && len(w) > 3:
		return w[:len(w)-1]
	default:
		return w
	}
}

// nameParts splits an identifier such as order_items into singular parts.
func nameParts(name string) []string {
	parts := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return r == '_' || r == '-' || r == ' ' || r == '.'
	})
	for i, p := range parts {
		parts[i] = singular(p)
	}
	return parts
}

type scoredTable struct {
	table datasource.Table
	score float64
}

// RankTables orders the tables of s by relevance to query and returns at
// most limit of them. Table name matches weigh more than column matches and
// tables referenced by a match through a foreign key get a small boost so
// that join partners are kept. When nothing matches every table is
// returned (up to limit). A limit of zero or less means no limit.
func RankTables(s datasource.Schema, query string, limit int) []datasource.Table {
	terms := keywords(query)
	scores := make(map[string]float64, len(s.Tables))

	for _, t := range s.Tables {
		var score float64
		tableParts := nameParts(t.Name)
		for _, term := range terms {
			switch {
			case singular(strings.ToLower(t.Name)) == term:
				score += 3
			case contains(tableParts, term):
				score += 2
			}
			for _, c := range t.Columns {
				if contains(nameParts(c.Name), term) {
					score++
					break
				}
			}
		}
		scores[strings.ToLower(t.Name)] = score
	}

	for _, t := range s.Tables {
		if scores[strings.ToLower(t.Name)] == 0 {
			continue
		}
		for _, fk := range t.ForeignKeys {
			ref := strings.ToLower(fk.RefTable)
			if cur, ok := scores[ref]; ok && cur < 1 {
				scores[ref] = cur + 0.5
			}
		}
	}

	ranked := make([]scoredTable, 0, len(s.Tables))
	matched := false
	for _, t := range s.Tables {
		sc := scores[strings.ToLower(t.Name)]
		if sc > 0 {
			matched = true
		}
		ranked = append(ranked, scoredTable{table: t, score: sc})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].table.Name < ranked[j].table.Name
	})

	out := make([]datasource.Table, 0, len(ranked))
	for _, r := range ranked {
		if matched && r.score == 0 {
			break
		}
		out = append(out, r.table)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// RenderSchema formats tables as compact DDL-like text for prompts.
func RenderSchema(dialect string, tables []datasource.Table) string {
	var b strings.Builder
	if dialect != "" {
		fmt.Fprintf(&b, "Dialect: %s\n", dialect)
	}
	for _, t := range tables {
		refs := make(map[string]datasource.ForeignKey, len(t.ForeignKeys))
		for _, fk := range t.ForeignKeys {
			refs[fk.Column] = fk
		}
		fmt.Fprintf(&b, "Table %s (\n", t.Name)
		for i, c := range t.Columns {
			b.WriteString("  ")
			b.WriteString(c.Name)
			if c.Type != "" {
				b.WriteString(" " + c.Type)
			}
			if c.PrimaryKey {
				b.WriteString(" PRIMARY KEY")
			}
			if c.NotNull && !c.PrimaryKey {
				b.WriteString(" NOT NULL")
			}
			if fk, ok := refs[c.Name]; ok {
				fmt.Fprintf(&b, " REFERENCES %s(%s)", fk.RefTable, fk.RefColumn)
			}
			if i < len(t.Columns)-1 {
				b.WriteString(",")
			}
			b.WriteString("\n")
		}
		b.WriteString(")\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func tableNames(tables []datasource.Table) []string {
	out := make([]string, len(tables))
	for i, t := range tables {
		out[i] = t.Name
	}
	return out
}

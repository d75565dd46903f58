package text2sql

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/querymesh/datasource"
)

func salesSchema() datasource.Schema {
	return datasource.Schema{
		Dialect: "sqlite",
		Tables: []datasource.Table{
			{Name: "employees", Columns: []datasource.Column{{Name: "id", Type: "INTEGER", PrimaryKey: true}, {Name: "full_name", Type: "TEXT"}}},
			{Name: "products", Columns: []datasource.Column{{Name: "id", Type: "INTEGER", PrimaryKey: true}, {Name: "name", Type: "TEXT", NotNull: true}}},
			{
				Name: "sales",
				Columns: []datasource.Column{
					{Name: "id", Type: "INTEGER", PrimaryKey: true},
					{Name: "product_id", Type: "INTEGER", NotNull: true},
					{Name: "year", Type: "INTEGER"},
					{Name: "amount", Type: "REAL"},
				},
				ForeignKeys: []datasource.ForeignKey{{Column: "product_id", RefTable: "products", RefColumn: "id"}},
			},
			{Name: "categories", Columns: []datasource.Column{{Name: "id", Type: "INTEGER"}, {Name: "label", Type: "TEXT"}}},
		},
	}
}

func TestKeywords(t *testing.T) {
	assert.Equal(t, []string{"product", "sale"}, keywords("Top 5 products by 2023 sales"))
	assert.Equal(t, []string{"category", "address"}, keywords("categories, addresses and categories"))
}

func TestRankTables(t *testing.T) {
	// sales matches by name and through product_id
	got := tableNames(RankTables(salesSchema(), "top 5 products by 2023 sales", 0))
	assert.Equal(t, []string{"sales", "products"}, got)
}

func TestRankTables_ColumnMatchAndJoinPartner(t *testing.T) {
	// "amount" only matches a column of sales; products is kept as the
	// foreign key target.
	got := tableNames(RankTables(salesSchema(), "total amount per year", 0))
	assert.Equal(t, []string{"sales", "products"}, got)
}

func TestRankTables_NoMatchReturnsAll(t *testing.T) {
	got := RankTables(salesSchema(), "hello there", 0)
	assert.Len(t, got, 4)

	limited := RankTables(salesSchema(), "hello there", 2)
	assert.Equal(t, []string{"categories", "employees"}, tableNames(limited))
}

func TestRankTables_Limit(t *testing.T) {
	got := RankTables(salesSchema(), "products sales", 1)
	assert.Len(t, got, 1)
}

func TestRenderSchema(t *testing.T) {
	s := salesSchema()
	sales, _ := s.Table("sales")
	out := RenderSchema("sqlite", []datasource.Table{sales})

	want := "Dialect: sqlite\n" +
		"Table sales (\n" +
		"  id INTEGER PRIMARY KEY,\n" +
		"  product_id INTEGER NOT NULL REFERENCES products(id),\n" +
		"  year INTEGER,\n" +
		"  amount REAL\n" +
		")"
	assert.Equal(t, want, out)
}

package datasource

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConnectionNotFound is returned when a connection id is unknown.
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrUnsupportedDB is returned by Open for database types without a driver.
	ErrUnsupportedDB = errors.New("unsupported database type")

	// ErrDatabaseNotFound is returned when a sqlite file does not exist.
	ErrDatabaseNotFound = errors.New("database not found")
)

// ConnectionInfo describes how to reach a database.
type ConnectionInfo struct {
	ID       int64  `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	DBType   string `json:"db_type" yaml:"db_type"`
	Host     string `json:"host,omitempty" yaml:"host,omitempty"`
	Port     int    `json:"port,omitempty" yaml:"port,omitempty"`
	Database string `json:"database,omitempty" yaml:"database,omitempty"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"-" yaml:"password,omitempty"`
	DSN      string `json:"-" yaml:"dsn,omitempty"`
}

// ConnectionStore resolves connection ids to connection info.
type ConnectionStore interface {
	GetConnection(ctx context.Context, id int64) (ConnectionInfo, error)
	ListConnections(ctx context.Context) ([]ConnectionInfo, error)
}

// Column describes a table column.
type Column struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	NotNull    bool   `json:"not_null,omitempty"`
	PrimaryKey bool   `json:"primary_key,omitempty"`
}

// ForeignKey links a column to a column of another table.
type ForeignKey struct {
	Column    string `json:"column"`
	RefTable  string `json:"ref_table"`
	RefColumn string `json:"ref_column"`
}

// Table describes one table of a schema.
type Table struct {
	Name        string       `json:"name"`
	Columns     []Column     `json:"columns"`
	ForeignKeys []ForeignKey `json:"foreign_keys,omitempty"`
}

// Schema is the introspected structure of a database.
type Schema struct {
	Dialect string  `json:"dialect"`
	Tables  []Table `json:"tables"`
}

// Table returns the table with the given name (case-insensitive).
func (s Schema) Table(name string) (Table, bool) {
	for _, t := range s.Tables {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return Table{}, false
}

// ResultSet is the outcome of a query.
type ResultSet struct {
	Columns     []string `json:"columns"`
	ColumnTypes []string `json:"column_types,omitempty"`
	Rows        [][]any  `json:"rows"`
	Truncated   bool     `json:"truncated,omitempty"`
}

// Records returns the rows as column-name keyed maps.
func (r ResultSet) Records() []map[string]any {
	out := make([]map[string]any, len(r.Rows))
	for i, row := range r.Rows {
		rec := make(map[string]any, len(r.Columns))
		for j, col := range r.Columns {
			if j < len(row) {
				rec[col] = row[j]
			}
		}
		out[i] = rec
	}
	return out
}

// DataAccess is the per-run handle on a database. It is owned by the run:
// agents use it but never close it.
type DataAccess interface {
	Schema(ctx context.Context) (Schema, error)
	Query(ctx context.Context, query string, maxRows int) (ResultSet, error)
	Close() error
}

// Opener creates a DataAccess for a connection.
type Opener func(ctx context.Context, info ConnectionInfo) (DataAccess, error)

// Open is the default Opener. It supports the sqlite database type.
func Open(ctx context.Context, info ConnectionInfo) (DataAccess, error) {
	switch strings.ToLower(info.DBType) {
	case "sqlite", "sqlite3":
		return OpenSQLite(ctx, info)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDB, info.DBType)
	}
}

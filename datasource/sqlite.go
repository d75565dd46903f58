package datasource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// sqliteAccess is the DataAccess for SQLite databases. Connections are
// opened with query_only enabled so a run can never modify the database.
type sqliteAccess struct {
	db *sql.DB
}

// OpenSQLite opens a read-only DataAccess for a sqlite connection. The DSN
// wins over Database, which is treated as a file path that must exist.
func OpenSQLite(ctx context.Context, info ConnectionInfo) (DataAccess, error) {
	dsn := info.DSN
	if dsn == "" {
		if info.Database == "" {
			return nil, fmt.Errorf("connection %d: no database path", info.ID)
		}
		if err := checkFile(info.Database); err != nil {
			return nil, fmt.Errorf("connection %d: %w", info.ID, err)
		}
		dsn = info.Database
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection so the pragma below applies to every statement
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable query_only: %w", err)
	}
	return &sqliteAccess{db: db}, nil
}

// checkFile rejects paths that sql.Open would silently create.
func checkFile(path string) error {
	if path == ":memory:" {
		return nil
	}
	st, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrDatabaseNotFound, path)
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if st.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}

func (a *sqliteAccess) Close() error { return a.db.Close() }

// Schema introspects tables, columns, primary keys and foreign keys.
func (a *sqliteAccess) Schema(ctx context.Context) (Schema, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
	if err != nil {
		return Schema{}, fmt.Errorf("list tables: %w", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return Schema{}, fmt.Errorf("scan table: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return Schema{}, err
	}
	rows.Close()

	schema := Schema{Dialect: "sqlite"}
	for _, name := range names {
		t := Table{Name: name}
		if t.Columns, err = a.columns(ctx, name); err != nil {
			return Schema{}, err
		}
		if t.ForeignKeys, err = a.foreignKeys(ctx, name); err != nil {
			return Schema{}, err
		}
		schema.Tables = append(schema.Tables, t)
	}
	return schema, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (a *sqliteAccess) columns(ctx context.Context, table string) ([]Column, error) {
	rows, err := a.db.QueryContext(ctx, "PRAGMA table_info("+quoteIdent(table)+")")
	if err != nil {
		return nil, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		cols = append(cols, Column{Name: name, Type: typ, NotNull: notNull == 1, PrimaryKey: pk > 0})
	}
	return cols, rows.Err()
}

func (a *sqliteAccess) foreignKeys(ctx context.Context, table string) ([]ForeignKey, error) {
	rows, err := a.db.QueryContext(ctx, "PRAGMA foreign_key_list("+quoteIdent(table)+")")
	if err != nil {
		return nil, fmt.Errorf("foreign keys %s: %w", table, err)
	}
	defer rows.Close()

	var fks []ForeignKey
	for rows.Next() {
		var (
			id, seq            int
			refTable, from     string
			to                 sql.NullString
			onUpdate, onDelete string
			match              string
		)
		if err := rows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			return nil, fmt.Errorf("scan foreign key: %w", err)
		}
		fks = append(fks, ForeignKey{Column: from, RefTable: refTable, RefColumn: to.String})
	}
	return fks, rows.Err()
}

// Query runs query and returns at most maxRows rows. maxRows <= 0 means no
// limit. Truncated is set when more rows were available.
func (a *sqliteAccess) Query(ctx context.Context, query string, maxRows int) (ResultSet, error) {
	rows, err := a.db.QueryContext(ctx, query)
	if err != nil {
		return ResultSet{}, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return ResultSet{}, fmt.Errorf("columns: %w", err)
	}
	rs := ResultSet{Columns: cols, Rows: [][]any{}}
	if types, err := rows.ColumnTypes(); err == nil {
		for _, ct := range types {
			rs.ColumnTypes = append(rs.ColumnTypes, ct.DatabaseTypeName())
		}
	}

	for rows.Next() {
		if maxRows > 0 && len(rs.Rows) >= maxRows {
			rs.Truncated = true
			break
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return ResultSet{}, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		rs.Rows = append(rs.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return ResultSet{}, fmt.Errorf("read rows: %w", err)
	}
	return rs, nil
}

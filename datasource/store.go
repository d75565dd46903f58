package datasource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists connection definitions in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ ConnectionStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (and migrates) the store at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %s: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS connections (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			name        TEXT NOT NULL UNIQUE,
			db_type     TEXT NOT NULL,
			host        TEXT,
			port        INTEGER,
			database    TEXT,
			username    TEXT,
			password    TEXT,
			dsn         TEXT,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

// AddConnection inserts info and returns it with its assigned id. A non-zero
// info.ID is kept.
func (s *SQLiteStore) AddConnection(ctx context.Context, info ConnectionInfo) (ConnectionInfo, error) {
	var id any
	if info.ID != 0 {
		id = info.ID
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO connections (id, name, db_type, host, port, database, username, password, dsn)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, info.Name, info.DBType, info.Host, info.Port, info.Database, info.Username, info.Password, info.DSN)
	if err != nil {
		return ConnectionInfo{}, fmt.Errorf("add connection: %w", err)
	}
	if info.ID == 0 {
		if info.ID, err = res.LastInsertId(); err != nil {
			return ConnectionInfo{}, fmt.Errorf("add connection: %w", err)
		}
	}
	return info, nil
}

// DeleteConnection removes a connection.
func (s *SQLiteStore) DeleteConnection(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", ErrConnectionNotFound, id)
	}
	return nil
}

// GetConnection implements ConnectionStore.
func (s *SQLiteStore) GetConnection(ctx context.Context, id int64) (ConnectionInfo, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, db_type, host, port, database, username, password, dsn
		FROM connections WHERE id = ?`, id)
	info, err := scanConnection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ConnectionInfo{}, fmt.Errorf("%w: %d", ErrConnectionNotFound, id)
	}
	if err != nil {
		return ConnectionInfo{}, fmt.Errorf("get connection: %w", err)
	}
	return info, nil
}

// ListConnections implements ConnectionStore.
func (s *SQLiteStore) ListConnections(ctx context.Context) ([]ConnectionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, db_type, host, port, database, username, password, dsn
		FROM connections ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var conns []ConnectionInfo
	for rows.Next() {
		info, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		conns = append(conns, info)
	}
	return conns, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConnection(row scanner) (ConnectionInfo, error) {
	var (
		info                                    ConnectionInfo
		host, database, username, password, dsn sql.NullString
		port                                    sql.NullInt64
	)
	if err := row.Scan(&info.ID, &info.Name, &info.DBType, &host, &port, &database, &username, &password, &dsn); err != nil {
		return ConnectionInfo{}, err
	}
	info.Host = host.String
	info.Port = int(port.Int64)
	info.Database = database.String
	info.Username = username.String
	info.Password = password.String
	info.DSN = dsn.String
	return info, nil
}

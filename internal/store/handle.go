package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	_ "github.com/mattn/go-sqlite3"                      // SQLite driver
	_ "github.com/tursodatabase/libsql-client-go/libsql" // Turso driver

	"go-query-pipeline/internal/model"
)

// ResultSet is a fully materialized, driver-neutral query result
type ResultSet struct {
	Columns []string
	Rows    [][]interface{}
}

// Conn is one read-only handle to the dataset
type Conn interface {
	Query(ctx context.Context, query string, args ...interface{}) (*ResultSet, error)
	Close() error
}

// Opener creates a new read-only handle
type Opener func(ctx context.Context) (Conn, error)

// NewOpener picks the handle implementation for the configured driver
func NewOpener(cfg model.DataSourceConfig) (Opener, Dialect, error) {
	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, nil, err
	}
	if cfg.DSN == "" {
		return nil, nil, fmt.Errorf("datasource dsn is required")
	}

	switch strings.ToLower(cfg.Driver) {
	case "sqlite3", "sqlite":
		dsn := readOnlySQLiteDSN(cfg.DSN)
		return func(ctx context.Context) (Conn, error) { return openSQL(ctx, "sqlite3", dsn) }, dialect, nil
	case "libsql":
		return func(ctx context.Context) (Conn, error) { return openSQL(ctx, "libsql", cfg.DSN) }, dialect, nil
	default:
		return func(ctx context.Context) (Conn, error) { return openPgx(ctx, cfg.DSN) }, dialect, nil
	}
}

// readOnlySQLiteDSN forces mode=ro on plain paths and file: URIs
func readOnlySQLiteDSN(dsn string) string {
	if strings.Contains(dsn, "mode=") {
		return dsn
	}
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&mode=ro"
	}
	return dsn + "?mode=ro"
}

// ensureReadOnly rejects anything that is not a plain read statement
func ensureReadOnly(query string) error {
	head := strings.ToUpper(strings.TrimSpace(query))
	if strings.HasPrefix(head, "SELECT") || strings.HasPrefix(head, "WITH") {
		return nil
	}
	return fmt.Errorf("read-only handle refused statement: %.40q", query)
}

// ------------------- database/sql handles (sqlite3, libsql) -------------------

type sqlConn struct {
	db *sql.DB
}

func openSQL(ctx context.Context, driver, dsn string) (Conn, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s handle: %w", driver, err)
	}
	// one physical connection per pooled handle
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s handle ping failed: %w", driver, err)
	}
	return &sqlConn{db: db}, nil
}

func (c *sqlConn) Query(ctx context.Context, query string, args ...interface{}) (*ResultSet, error) {
	if err := ensureReadOnly(query); err != nil {
		return nil, err
	}
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	rs := &ResultSet{Columns: cols}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rs.Rows = append(rs.Rows, values)
	}
	return rs, rows.Err()
}

func (c *sqlConn) Close() error { return c.db.Close() }

// ------------------- pgx handles (postgres) -------------------

type pgxConn struct {
	conn *pgx.Conn
}

func openPgx(ctx context.Context, dsn string) (Conn, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if _, err := conn.Exec(ctx, "SET SESSION CHARACTERISTICS AS TRANSACTION READ ONLY"); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to mark postgres session read-only: %w", err)
	}
	return &pgxConn{conn: conn}, nil
}

func (c *pgxConn) Query(ctx context.Context, query string, args ...interface{}) (*ResultSet, error) {
	if err := ensureReadOnly(query); err != nil {
		return nil, err
	}
	rows, err := c.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	rs := &ResultSet{Columns: make([]string, len(fields))}
	for i, f := range fields {
		rs.Columns[i] = f.Name
	}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		rs.Rows = append(rs.Rows, values)
	}
	return rs, rows.Err()
}

func (c *pgxConn) Close() error { return c.conn.Close(context.Background()) }

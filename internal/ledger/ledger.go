// Package ledger records every rendered page file in Postgres. Rendered
// pages are never deleted by the service; the ledger is how operators find
// them afterwards.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"pdf2image/internal/convert"
	u "pdf2image/internal/utils"
)

// Ledger writes rendered page rows.
type Ledger struct {
	db *sql.DB
}

func postgresPort(cfg u.PostgresConfig) int {
	if cfg.Port != 0 {
		return cfg.Port
	}
	return 5432
}

// Enabled reports whether cfg names a database at all.
func Enabled(cfg u.PostgresConfig) bool {
	return strings.TrimSpace(cfg.Host) != ""
}

func postgresDSN(cfg u.PostgresConfig) (string, error) {
	if strings.HasPrefix(cfg.Host, "postgres://") || strings.HasPrefix(cfg.Host, "postgresql://") {
		return cfg.Host, nil
	}
	if cfg.Host == "" {
		return "", fmt.Errorf("postgres host is empty")
	}
	if cfg.Database == "" {
		return "", fmt.Errorf("postgres database is empty")
	}
	if cfg.User == "" {
		return "", fmt.Errorf("postgres user is empty")
	}

	// Host may carry its own port, and IPv6 literals may come bracketed or bare.
	host, port, err := net.SplitHostPort(cfg.Host)
	if err != nil {
		host, port = strings.Trim(cfg.Host, "[]"), strconv.Itoa(postgresPort(cfg))
	}

	dsn := &url.URL{Scheme: "postgres", Host: net.JoinHostPort(host, port), Path: "/" + cfg.Database}
	if cfg.Password != "" {
		dsn.User = url.UserPassword(cfg.User, cfg.Password)
	} else {
		dsn.User = url.User(cfg.User)
	}
	if cfg.SSLMode != "" {
		dsn.RawQuery = url.Values{"sslmode": {cfg.SSLMode}}.Encode()
	}
	return dsn.String(), nil
}

// Open connects to Postgres and makes sure the rendered_pages table exists.
func Open(ctx context.Context, cfg u.PostgresConfig) (*Ledger, error) {
	dsn, err := postgresDSN(cfg)
	if err != nil {
		return nil, err
	}
	return open(ctx, "pgx", dsn)
}

func open(ctx context.Context, driverName, dsn string) (*Ledger, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	// One insert per conversion; a handful of connections is plenty.
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	l := &Ledger{db: db}
	if err := l.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create rendered_pages schema: %w", err)
	}
	return l, nil
}

func (l *Ledger) ensureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	ddl1 := `CREATE TABLE IF NOT EXISTS rendered_pages (
		path TEXT PRIMARY KEY,
		scratch_id TEXT NOT NULL,
		page INTEGER NOT NULL,
		format TEXT NOT NULL,
		dpi INTEGER NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`
	ddl2 := `CREATE INDEX IF NOT EXISTS idx_rendered_pages_created_at ON rendered_pages (created_at);`
	if _, err := l.db.ExecContext(ctx, ddl1); err != nil {
		return err
	}
	if _, err := l.db.ExecContext(ctx, ddl2); err != nil {
		return err
	}
	return nil
}

// Record inserts one row per output path of res in a single transaction.
func (l *Ledger) Record(ctx context.Context, res *convert.Result) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	const insert = `INSERT INTO rendered_pages (path, scratch_id, page, format, dpi)
		VALUES ($1, $2, $3, $4, $5) ON CONFLICT (path) DO NOTHING;`
	for i, p := range res.Paths {
		if _, err := tx.ExecContext(ctx, insert, p, res.ID, i+1, res.Format, res.DPI); err != nil {
			return fmt.Errorf("record %s: %w", p, err)
		}
	}
	return tx.Commit()
}

// Close releases the connection pool.
func (l *Ledger) Close() error {
	return l.db.Close()
}

package lookup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Config describes the external store a job enriches from. Query must
// select one key's attributes using the driver's own placeholder style
// ($1 for postgres, ? for mysql and sqlite); its result columns line up
// positionally with Attrs.
type Config struct {
	Driver         string
	DSN            string
	Query          string
	Attrs          []string
	Timeout        time.Duration
	ConnectRetries int
	RetryBackoff   time.Duration
}

const (
	defaultTimeout = 10 * time.Second
	defaultRetries = 3
	defaultBackoff = 2 * time.Second
)

func driverName(label string) (string, error) {
	switch label {
	case "postgres", "pgx":
		return "pgx", nil
	case "mysql":
		return "mysql", nil
	case "sqlite", "sqlite3":
		return "sqlite3", nil
	}
	return "", fmt.Errorf("unsupported lookup driver %q", label)
}

// SQLClient is a Client backed by a relational store.
type SQLClient struct {
	db      *sql.DB
	query   string
	attrs   []string
	timeout time.Duration
}

// OpenSQL connects to the configured store and verifies the connection,
// retrying a bounded number of times with a fixed backoff. Connection
// failures come back wrapped in ErrUnavailable.
func OpenSQL(ctx context.Context, cfg Config) (*SQLClient, error) {
	name, err := driverName(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if cfg.Query == "" {
		return nil, errors.New("lookup query not configured")
	}
	if len(cfg.Attrs) == 0 {
		return nil, errors.New("lookup attrs not configured")
	}

	db, err := sql.Open(name, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open lookup store: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := cfg.ConnectRetries
	if retries <= 0 {
		retries = defaultRetries
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}

	if err := pingWithRetry(ctx, db, retries, backoff, timeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return &SQLClient{
		db:      db,
		query:   cfg.Query,
		attrs:   cfg.Attrs,
		timeout: timeout,
	}, nil
}

func pingWithRetry(ctx context.Context, db *sql.DB, retries int, backoff, timeout time.Duration) error {
	var last error
	for attempt := 1; attempt <= retries; attempt++ {
		pctx, cancel := context.WithTimeout(ctx, timeout)
		last = db.PingContext(pctx)
		cancel()
		if last == nil {
			return nil
		}
		slog.Warn("lookup store unreachable",
			"attempt", attempt, "retries", retries, "error", last)
		if attempt == retries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return last
}

// Lookup runs the configured query for one key. A miss returns a nil
// map; a row carrying a NULL or empty attribute counts as a miss too,
// since a partial identity is useless downstream. Store errors are
// wrapped in ErrUnavailable.
func (c *SQLClient) Lookup(ctx context.Context, key string) (map[string]string, error) {
	qctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	vals := make([]sql.NullString, len(c.attrs))
	dest := make([]any, len(vals))
	for i := range vals {
		dest[i] = &vals[i]
	}
	if err := c.db.QueryRowContext(qctx, c.query, key).Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: lookup %q: %v", ErrUnavailable, key, err)
	}

	attrs := make(map[string]string, len(c.attrs))
	for i, name := range c.attrs {
		if !vals[i].Valid || vals[i].String == "" {
			return nil, nil
		}
		attrs[name] = vals[i].String
	}
	return attrs, nil
}

func (c *SQLClient) Close() error { return c.db.Close() }

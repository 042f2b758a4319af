package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/feedbridge/feedbridge/internal/feed"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds the configuration for connecting to the catalog PostgreSQL database.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// URI returns the connection URI for the given scheme.
func (c Config) URI(scheme string) string {
	host := c.Host
	if c.Port != 0 {
		host = fmt.Sprintf("%s:%d", c.Host, c.Port)
	}

	user := url.User(c.User)
	if c.Password != "" {
		user = url.UserPassword(c.User, c.Password)
	}

	u := &url.URL{
		Scheme: scheme,
		User:   user,
		Host:   host,
		Path:   c.DBName,
	}

	q := u.Query()
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	u.RawQuery = q.Encode()

	return u.String()
}

type dbPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
	Close()
}

// identifierRe matches the table and column names allowed in feed queries.
var identifierRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Postgres is a record source paging through one table of the catalog
// database. The catalog schema is externally owned; this source only reads.
type Postgres struct {
	pool    dbPool
	table   string
	columns []string
}

type pgOptions struct {
	newPool func(ctx context.Context, dsn string) (dbPool, error)
}

// PostgresOptions represents an optional function to override Postgres default values.
type PostgresOptions func(*pgOptions)

// NewPostgres creates a source reading the given columns from table, with a
// PostgreSQL connection pool using the provided configuration.
// Note: The connection is validated with a ping, but it is not maintained.
func NewPostgres(ctx context.Context, cfg Config, table string, columns []string, args ...PostgresOptions) (*Postgres, error) {
	opts := pgOptions{
		newPool: func(ctx context.Context, dsn string) (dbPool, error) {
			return pgxpool.New(ctx, dsn)
		},
	}
	for _, opt := range args {
		opt(&opts)
	}

	if !identifierRe.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("at least one column is required for table %q", table)
	}
	for _, c := range columns {
		if !identifierRe.MatchString(c) {
			return nil, fmt.Errorf("invalid column name %q", c)
		}
	}

	pool, err := opts.newPool(ctx, cfg.URI("postgres"))
	if err != nil {
		return nil, fmt.Errorf("unable to create database connection pool: %w", err)
	}

	slog.Debug("Testing catalog database connection", "host", cfg.Host, "port", cfg.Port)
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %v", err)
	}

	return &Postgres{pool: pool, table: table, columns: append([]string(nil), columns...)}, nil
}

// ItemsForBatch implements feed.Source.
//
// Fixed-size batches page with LIMIT/OFFSET keyed to the batch number, in a
// stable order, so pulling the same batch twice before any state change
// returns the same records. Unbounded sources return everything on batch 1.
func (p *Postgres) ItemsForBatch(ctx context.Context, batch int, size feed.BatchSize) ([]feed.Record, error) {
	if size.IsUnbounded() && batch > 1 {
		return nil, nil
	}

	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY %s`, strings.Join(p.columns, ", "), p.table, p.columns[0])
	if !size.IsUnbounded() {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", size.Size(), (batch-1)*size.Size())
	}

	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query batch %d of %s: %w", batch, p.table, err)
	}
	defer rows.Close()

	var records []feed.Record
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row values from %s: %w", p.table, err)
		}
		record := make(feed.Record, len(p.columns))
		for i, col := range p.columns {
			if i < len(values) {
				record[col] = values[i]
			}
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows of %s: %w", p.table, err)
	}

	return records, nil
}

// Close releases the underlying connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// Package warehouse provides the pooled connection provider backing the
// query engine. It wraps a pgx/v5 pool speaking the warehouse's
// postgres-compatible wire protocol and classifies driver errors so the
// engine can recognize aborted-transaction states without string sniffing.
package warehouse

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/farescope/dsmcp/pkg/engine"
	"github.com/farescope/dsmcp/pkg/logging"
)

// Config holds warehouse connection settings.
type Config struct {
	URL             string
	MaxConnections  int32
	MinConnections  int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Pool is a pgx-backed engine.ConnectionProvider.
type Pool struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// New creates a connection pool and verifies the warehouse is reachable.
func New(ctx context.Context, cfg *Config, logger *zap.Logger) (*Pool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse warehouse URL: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConnections
	if poolConfig.MaxConns == 0 {
		poolConfig.MaxConns = 10
	}
	poolConfig.MinConns = cfg.MinConnections
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	if poolConfig.MaxConnLifetime == 0 {
		poolConfig.MaxConnLifetime = time.Hour
	}
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	if poolConfig.MaxConnIdleTime == 0 {
		poolConfig.MaxConnIdleTime = 30 * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create warehouse pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping warehouse: %w", err)
	}

	logger.Info("warehouse pool ready",
		zap.String("url", logging.SanitizeConnectionString(cfg.URL)),
		zap.Int32("max_conns", poolConfig.MaxConns))

	return &Pool{pool: pool, logger: logger}, nil
}

// Acquire checks a connection out of the pool for one statement.
func (p *Pool) Acquire(ctx context.Context) (engine.Conn, error) {
	c, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return &conn{c: c}, nil
}

// Close releases the pool.
func (p *Pool) Close() {
	p.pool.Close()
}

type conn struct {
	c *pgxpool.Conn
}

func (c *conn) Query(ctx context.Context, sql string, args ...any) (engine.Rows, error) {
	r, err := c.c.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(err)
	}
	return &rows{r: r}, nil
}

func (c *conn) Rollback(ctx context.Context) error {
	_, err := c.c.Exec(ctx, "ROLLBACK")
	return classify(err)
}

func (c *conn) Release() {
	c.c.Release()
}

type rows struct {
	r pgx.Rows
}

func (r *rows) Columns() []string {
	fields := r.r.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, fd := range fields {
		columns[i] = string(fd.Name)
	}
	return columns
}

func (r *rows) Next() bool {
	return r.r.Next()
}

func (r *rows) Values() ([]any, error) {
	values, err := r.r.Values()
	if err != nil {
		return nil, classify(err)
	}
	return values, nil
}

func (r *rows) Err() error {
	return classify(r.r.Err())
}

func (r *rows) Close() {
	r.r.Close()
}

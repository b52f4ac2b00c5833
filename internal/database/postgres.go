package database

import (
	"context"
	"fmt"
	"strconv"
	"time"

	pgxtrace "github.com/DataDog/dd-trace-go/contrib/jackc/pgx.v5/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the console archive's connection pool. Queries are traced through
// dd-trace-go under Config.TraceService.
type DB struct {
	pool *pgxpool.Pool
	cfg  *Config
}

// PoolStats is the subset of pool statistics reported by health checks
type PoolStats struct {
	Total    int32 `json:"total"`
	Idle     int32 `json:"idle"`
	InUse    int32 `json:"in_use"`
	Max      int32 `json:"max"`
	Waiting  int64 `json:"waiting"`
	Acquires int64 `json:"acquires"`
}

// NewDB connects the pool and pings it
func NewDB(ctx context.Context, cfg *Config) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = 30 * time.Second
	if cfg.ConnectTimeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.StatementTimeout > 0 {
		poolConfig.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)
	}

	connectCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	pool, err := pgxtrace.NewPoolWithConfig(connectCtx, poolConfig, pgxtrace.WithService(cfg.TraceService))
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping %s:%d/%s: %w", cfg.Host, cfg.Port, cfg.Database, err)
	}

	return &DB{pool: pool, cfg: cfg}, nil
}

// Close closes the pool
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// Health pings the database
func (db *DB) Health(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Stats reports pool usage
func (db *DB) Stats() PoolStats {
	s := db.pool.Stat()
	return PoolStats{
		Total:    s.TotalConns(),
		Idle:     s.IdleConns(),
		InUse:    s.AcquiredConns(),
		Max:      s.MaxConns(),
		Waiting:  s.EmptyAcquireCount(),
		Acquires: s.AcquireCount(),
	}
}

// SendBatch sends queued statements in one round trip
func (db *DB) SendBatch(ctx context.Context, batch *pgx.Batch) pgx.BatchResults {
	return db.pool.SendBatch(ctx, batch)
}

// QueryRow executes a query that returns at most one row
func (db *DB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return db.pool.QueryRow(ctx, sql, args...)
}

// Query executes a query that returns rows
func (db *DB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return db.pool.Query(ctx, sql, args...)
}

// Exec executes a statement without returning rows
func (db *DB) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	return db.pool.Exec(ctx, sql, args...)
}

package database

import (
	"context"
	"time"
)

// ConsoleArchive is the console message store used by the relay, the
// retention sweeper and the gateway API
type ConsoleArchive interface {
	// InsertBatch stores messages, skipping already archived message IDs
	InsertBatch(ctx context.Context, messages []ConsoleMessage) (int, error)

	// Recent returns messages of one deployment, newest first
	Recent(ctx context.Context, q MessageQuery) ([]ConsoleMessage, error)

	// Oldest returns messages received before cutoff in id order
	Oldest(ctx context.Context, cutoff time.Time, limit int) ([]ConsoleMessage, error)

	// DeleteUpTo removes messages received before cutoff with id <= maxID
	DeleteUpTo(ctx context.Context, cutoff time.Time, maxID int64) (int, error)

	// Count returns the number of archived messages of a deployment
	Count(ctx context.Context, deploymentID string) (int64, error)
}

// SnapshotIndex records where KV snapshots were written
type SnapshotIndex interface {
	Record(ctx context.Context, rec *SnapshotRecord) error
	List(ctx context.Context, deploymentID, namespace string, limit int) ([]SnapshotRecord, error)
	Get(ctx context.Context, id int64) (*SnapshotRecord, error)
}

// Store bundles the pool with its repositories
type Store struct {
	db        *DB
	Console   *ConsoleRepository
	Snapshots *SnapshotRepository
}

var (
	_ ConsoleArchive = (*ConsoleRepository)(nil)
	_ SnapshotIndex  = (*SnapshotRepository)(nil)
)

// Open migrates the schema and connects the pool
func Open(ctx context.Context, cfg *Config) (*Store, error) {
	if err := Migrate(ctx, cfg.ConnectionString()); err != nil {
		return nil, err
	}

	db, err := NewDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &Store{
		db:        db,
		Console:   NewConsoleRepository(db),
		Snapshots: NewSnapshotRepository(db),
	}, nil
}

// DB returns the underlying pool wrapper
func (s *Store) DB() *DB {
	return s.db
}

// Health checks if the database is healthy
func (s *Store) Health(ctx context.Context) error {
	return s.db.Health(ctx)
}

// Stats reports connection pool usage
func (s *Store) Stats() PoolStats {
	return s.db.Stats()
}

// Close closes the pool
func (s *Store) Close() error {
	s.db.Close()
	return nil
}

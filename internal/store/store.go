package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/strainline/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on products.strain_key
const currentSchemaVersion = 1

// DefaultWriteTimeout bounds every mutating operation.
const DefaultWriteTimeout = 8 * time.Second

// ChangeSink receives committed lineage changes. Notify must not block.
type ChangeSink interface {
	Notify(ev model.ChangeEvent)
}

// Store is the durable strain and lineage store.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db           *sql.DB
	locks        *strainLocks
	sink         ChangeSink
	now          func() time.Time
	newID        func() string
	writeTimeout time.Duration
	logger       *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithChangeSink sets where committed changes are published.
func WithChangeSink(sink ChangeSink) Option {
	return func(s *Store) {
		s.sink = sink
	}
}

// WithClock overrides the wall clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithEventIDs overrides the change event id generator.
func WithEventIDs(gen func() string) Option {
	return func(s *Store) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithWriteTimeout bounds each mutation.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{
		db:           db,
		locks:        newStrainLocks(),
		now:          time.Now,
		newID:        func() string { return uuid.Must(uuid.NewV7()).String() },
		writeTimeout: DefaultWriteTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "store")
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// WriteTimeout reports the bound applied to each mutation.
func (s *Store) WriteTimeout() time.Duration {
	return s.writeTimeout
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 indexes products by strain so product counts stay cheap on
// large catalogs.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_products_strain_key
		ON products(strain_key)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// mutate runs fn for the strain called name under the per-strain lock,
// the write timeout and a single transaction. Events returned by fn are
// published only after commit.
func (s *Store) mutate(ctx context.Context, op, name string, fn func(ctx context.Context, tx *sql.Tx, key string) ([]model.ChangeEvent, error)) error {
	key := nameKey(name)
	if key == "" {
		return model.NewError(model.CodeMalformedInput, op, "strain name is empty", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	unlock, err := s.locks.acquire(ctx, key)
	if err != nil {
		return s.writeError(ctx, op, key, "waiting for strain lock", err)
	}
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.writeError(ctx, op, key, "begin tx", err)
	}
	defer tx.Rollback() // No-op if committed

	events, err := fn(ctx, tx, key)
	if err != nil {
		return s.writeError(ctx, op, key, "", err)
	}

	if err := tx.Commit(); err != nil {
		return s.writeError(ctx, op, key, "commit", err)
	}

	if s.sink != nil {
		for _, ev := range events {
			s.sink.Notify(ev)
		}
	}
	return nil
}

// writeError maps a failed mutation onto the error taxonomy. Anything that
// failed because the write deadline passed is TIMEOUT_EXCEEDED.
func (s *Store) writeError(ctx context.Context, op, key, stage string, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		s.logger.Warn("write abandoned", "op", op, "strain", key, "stage", stage, "timeout", s.writeTimeout)
		return model.NewError(model.CodeTimeoutExceeded, op, "not saved, try again", err)
	}
	if model.CodeOf(err) != "" {
		return err
	}
	if stage != "" {
		return fmt.Errorf("%s: %s: %w", op, stage, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

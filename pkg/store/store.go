package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/internal/observability"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/internal/tracing"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Config configures the store.
type Config struct {
	Path   string
	Logger zerolog.Logger

	// Now overrides the clock, mostly for tests.
	Now func() time.Time
}

// Store persists conversations in sqlite.
type Store struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger
	now    func() time.Time

	writeLocks map[string]*sync.Mutex
	locksMu    sync.Mutex
}

// Open opens (creating if needed) the database at cfg.Path and applies migrations.
func Open(cfg Config) (*Store, error) {
	observability.EnsureRegistered()

	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, classify("open database", err)
	}
	// sqlite allows one writer; a single connection keeps transactions from racing for the lock.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, classify("open database", err)
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	s := &Store{
		db:         db,
		path:       path,
		logger:     cfg.Logger.With().Str("component", "store").Logger(),
		now:        now,
		writeLocks: make(map[string]*sync.Mutex),
	}

	s.logger.Info().Str("path", path).Msg("Store opened")
	return s, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return classify("prepare migrations", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return classify("apply migrations", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// getWriteLock gets or creates the write lock for a conversation
func (s *Store) getWriteLock(conversationID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	if lock, exists := s.writeLocks[conversationID]; exists {
		return lock
	}

	lock := &sync.Mutex{}
	s.writeLocks[conversationID] = lock
	return lock
}

func (s *Store) releaseWriteLock(conversationID string) {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	delete(s.writeLocks, conversationID)
}

// instrument opens a span for op and returns a finisher that records the outcome.
func (s *Store) instrument(ctx context.Context, op, conversationID string) (context.Context, func(error)) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "cora.store", "store."+op, attribute.String("conversation_id", conversationID))

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if !errors.Is(err, ErrNotFound) {
				logger := tracing.LoggerFromContext(ctx, s.logger)
				logger.Warn().
					Err(err).
					Str("op", op).
					Str("conversation_id", conversationID).
					Msg("Store operation failed")
			}
		}
		span.End()
		observability.RecordStoreOperation(op, time.Since(start), err == nil || errors.Is(err, ErrNotFound))
	}
}

func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return classify(op, err)
	}
	return nil
}

func requireConversation(ctx context.Context, tx *sql.Tx, conversationID string) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, conversationID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func fromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

func (s *Store) nowNanos() int64 {
	return s.now().UTC().UnixNano()
}

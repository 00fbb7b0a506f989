// Package store implements the local durable store and its outbox.
//
// Every entity table lives in one embedded SQLite database opened in WAL
// mode. All mutating entity operations run inside a single transaction that
// writes the entity row AND appends the matching op to the ops_queue table,
// so the outbox can never reference a write that did not happen.
//
// The store is an explicit object constructed once at startup and passed to
// the sync client and CLI by reference; there is no package-level instance.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the local database plus the outbox-changed notifier.
type Store struct {
	conn *sql.DB
	path string

	subsMu sync.Mutex
	subs   []chan struct{}
}

// Open creates or opens the local database at path, applies the WAL and
// busy-timeout pragmas and runs pending schema migrations.
//
// The caller must Close the store when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := s.migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// SubscribeOutbox registers an observer for outbox-changed notifications.
// The returned channel receives one (possibly coalesced) signal after every
// successful enqueue; the second return value unsubscribes.
func (s *Store) SubscribeOutbox() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.subsMu.Lock()
	s.subs = append(s.subs, ch)
	s.subsMu.Unlock()

	cancel := func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		for i, sub := range s.subs {
			if sub == ch {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
	return ch, cancel
}

// notifyOutboxChanged fires every subscriber without blocking; a subscriber
// that has not drained its previous signal keeps the single pending one.
func (s *Store) notifyOutboxChanged() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// mutate runs fn in a transaction and fires the outbox notifier after the
// commit. Use for every operation that enqueues ops.
func (s *Store) mutate(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if err := s.inTx(ctx, fn); err != nil {
		return err
	}
	s.notifyOutboxChanged()
	return nil
}

// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlite implements the local object cache: one SQLite file per
// scope holding a single objects(hash, content) table.
//
// Saves are buffered in memory and written in one IMMEDIATE transaction
// when the buffer exceeds MaxBufferBytes or on EndWrite. INSERT OR
// IGNORE makes saves idempotent. Reads and presence checks see buffered
// records before they are flushed.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/specklesystems/speckle-go/lib/config"
	"github.com/specklesystems/speckle-go/lib/sqlitepool"
	"github.com/specklesystems/speckle-go/lib/transport"
)

const (
	// DefaultScope names the cache file when Config.Scope is empty.
	DefaultScope = "Objects"

	// DefaultMaxBufferBytes is the write buffer flushed per transaction.
	DefaultMaxBufferBytes = 10 * 1000 * 1000
)

const schema = `CREATE TABLE IF NOT EXISTS objects (
	hash TEXT PRIMARY KEY,
	content TEXT
) WITHOUT ROWID;`

// Config configures a Transport.
type Config struct {
	// Path is the database file. When empty it is
	// {BasePath}/{Scope}.db.
	Path string

	// BasePath is the directory holding scope files. Empty means
	// config.UserDataPath().
	BasePath string

	// Scope names the database file. Defaults to DefaultScope.
	Scope string

	// MaxBufferBytes bounds buffered, unflushed record bytes. Defaults
	// to DefaultMaxBufferBytes.
	MaxBufferBytes int

	// Logger receives flush and open messages. Nil discards.
	Logger *slog.Logger
}

// Transport is the SQLite-backed object cache. It is safe for concurrent
// use; writes are serialized through one connection at a time.
type Transport struct {
	pool   *sqlitepool.Pool
	name   string
	logger *slog.Logger

	maxBufferBytes int

	mu          sync.Mutex
	pending     map[string][]byte
	order       []string
	bufferBytes int
	stats       Stats
}

// Stats counts work done by a Transport.
type Stats struct {
	// Saved is the number of records accepted by SaveObject,
	// duplicates within a buffer excluded.
	Saved int

	// Flushes is the number of write transactions committed.
	Flushes int
}

// Open opens or creates the cache database.
func Open(cfg Config) (*Transport, error) {
	scope := cfg.Scope
	if scope == "" {
		scope = DefaultScope
	}
	path := cfg.Path
	if path == "" {
		base := cfg.BasePath
		if base == "" {
			var err error
			base, err = config.UserDataPath()
			if err != nil {
				return nil, fmt.Errorf("sqlite transport: %w", err)
			}
		}
		path = filepath.Join(base, scope+".db")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	maxBufferBytes := cfg.MaxBufferBytes
	if maxBufferBytes <= 0 {
		maxBufferBytes = DefaultMaxBufferBytes
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   path,
		Logger: logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite transport: %w", err)
	}

	return &Transport{
		pool:           pool,
		name:           "sqlite:" + scope,
		logger:         logger,
		maxBufferBytes: maxBufferBytes,
		pending:        make(map[string][]byte),
	}, nil
}

// Path returns the database file path.
func (t *Transport) Path() string { return t.pool.Path() }

func (t *Transport) Name() string { return t.name }

func (t *Transport) BeginWrite(context.Context) {}

// EndWrite flushes buffered records.
func (t *Transport) EndWrite(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flushLocked(ctx)
}

// SaveObject buffers a record, committing the buffer once it exceeds
// the size bound. Storage errors from that commit are returned here.
func (t *Transport) SaveObject(ctx context.Context, id string, serialized []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.pending[id]; exists {
		return nil
	}
	t.pending[id] = slices.Clone(serialized)
	t.order = append(t.order, id)
	t.bufferBytes += len(serialized)
	t.stats.Saved++
	if t.bufferBytes >= t.maxBufferBytes {
		return t.flushLocked(ctx)
	}
	return nil
}

// flushLocked writes the buffer in one transaction. The buffer is kept
// on failure so a later EndWrite can retry.
func (t *Transport) flushLocked(ctx context.Context) error {
	if len(t.order) == 0 {
		return nil
	}
	count, size := len(t.order), t.bufferBytes
	err := t.pool.WithImmediateTx(ctx, func(conn *sqlite.Conn) error {
		for _, id := range t.order {
			err := sqlitex.Execute(conn, "INSERT OR IGNORE INTO objects (hash, content) VALUES (?, ?)", &sqlitex.ExecOptions{
				Args: []any{id, string(t.pending[id])},
			})
			if err != nil {
				return fmt.Errorf("inserting %s: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sqlite transport: flushing %d records to %s: %w", count, t.pool.Path(), err)
	}

	clear(t.pending)
	t.order = t.order[:0]
	t.bufferBytes = 0
	t.stats.Flushes++
	t.logger.Debug("object cache flushed", "path", t.pool.Path(), "records", count, "bytes", size)
	return nil
}

func (t *Transport) HasObjects(ctx context.Context, ids []string) (map[string]bool, error) {
	result := make(map[string]bool, len(ids))
	var lookup []string

	t.mu.Lock()
	for _, id := range ids {
		if _, ok := t.pending[id]; ok {
			result[id] = true
		} else {
			lookup = append(lookup, id)
		}
	}
	t.mu.Unlock()

	if len(lookup) == 0 {
		return result, nil
	}
	err := t.pool.WithConn(ctx, func(conn *sqlite.Conn) error {
		for _, id := range lookup {
			found := false
			err := sqlitex.Execute(conn, "SELECT 1 FROM objects WHERE hash = ?", &sqlitex.ExecOptions{
				Args: []any{id},
				ResultFunc: func(*sqlite.Stmt) error {
					found = true
					return nil
				},
			})
			if err != nil {
				return err
			}
			result[id] = found
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite transport: has objects: %w", err)
	}
	return result, nil
}

func (t *Transport) GetObject(ctx context.Context, id string) ([]byte, error) {
	t.mu.Lock()
	if serialized, ok := t.pending[id]; ok {
		t.mu.Unlock()
		return slices.Clone(serialized), nil
	}
	t.mu.Unlock()

	var (
		content []byte
		found   bool
	)
	err := t.pool.WithConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT content FROM objects WHERE hash = ?", &sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				content = []byte(stmt.ColumnText(0))
				found = true
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite transport: get %s: %w", id, err)
	}
	if !found {
		return nil, transport.ErrNotFound
	}
	return content, nil
}

func (t *Transport) CopyObjectAndChildren(ctx context.Context, id string, sink transport.Transport) ([]byte, error) {
	return transport.CopyClosure(ctx, t, id, sink)
}

// Stats returns a snapshot of the counters.
func (t *Transport) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// Close flushes buffered records and closes the database.
func (t *Transport) Close() error {
	t.mu.Lock()
	flushErr := t.flushLocked(context.Background())
	t.mu.Unlock()
	return errors.Join(flushErr, t.pool.Close())
}

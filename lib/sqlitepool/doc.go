// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens SQLite databases with the pragmas the object
// cache relies on.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool. Callers [Pool.Take] a
// connection, do their work, and [Pool.Put] it back, or use
// [Pool.WithConn] for the common take/run/put sequence, or
// [Pool.WithImmediateTx] for a write transaction. Connections are
// not safe for concurrent use.
//
// # Pragmas
//
// Every connection is initialized with:
//
//   - journal_mode=WAL: readers never block the writer.
//   - synchronous=NORMAL: commits survive a process crash. Records are
//     content-addressed and re-derivable, so losing the tail of the WAL
//     on power failure only costs a re-download.
//   - busy_timeout=5000: wait for the write lock instead of failing
//     with SQLITE_BUSY when two processes share a cache file.
//   - temp_store=MEMORY.
//
// Extra pragmas and schema setup go in [Config.OnConnect].
//
// # Usage
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:   filepath.Join(base, "Objects.db"),
//	    Logger: logger,
//	    OnConnect: func(conn *sqlite.Conn) error {
//	        return sqlitex.ExecuteScript(conn, schema, nil)
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
package sqlitepool

// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport defines the contract every record store implements
// and provides the in-memory store plus helpers shared by the local and
// remote implementations.
//
// A transport moves serialized records keyed by id. Records are
// immutable and content-addressed, so saving the same id twice is a
// no-op and transports never delete.
//
// Writes are bracketed: [Transport.BeginWrite] opens a logical batch
// and [Transport.EndWrite] blocks until every record accepted since then
// is durable (local stores) or uploaded (remote stores).
// [Transport.SaveObject] may buffer.
package transport

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by GetObject and CopyObjectAndChildren
	// when a record is not present.
	ErrNotFound = errors.New("transport: object not found")

	// ErrUnsupported is returned by operations a transport does not
	// provide, such as point reads against the remote object store.
	ErrUnsupported = errors.New("transport: operation not supported")
)

// Transport is a store of serialized records.
type Transport interface {
	// Name identifies the transport in logs and errors.
	Name() string

	// BeginWrite starts a logical write batch.
	BeginWrite(ctx context.Context)

	// EndWrite blocks until every record saved since BeginWrite is
	// durable or uploaded, and returns the first error encountered.
	EndWrite(ctx context.Context) error

	// SaveObject accepts a record. Saving an existing id is a no-op.
	SaveObject(ctx context.Context, id string, serialized []byte) error

	// HasObjects reports presence for each id.
	HasObjects(ctx context.Context, ids []string) (map[string]bool, error)

	// GetObject returns the record for id, or ErrNotFound.
	GetObject(ctx context.Context, id string) ([]byte, error)

	// CopyObjectAndChildren writes the record for id and its transitive
	// closure into sink and returns the root record.
	CopyObjectAndChildren(ctx context.Context, id string, sink Transport) ([]byte, error)
}

// Writes saves a record to every transport in order, stopping at the
// first error. The error names the transport that refused the record.
func Writes(ctx context.Context, transports []Transport, id string, serialized []byte) error {
	for _, t := range transports {
		if err := t.SaveObject(ctx, id, serialized); err != nil {
			return fmt.Errorf("saving %s to %s: %w", id, t.Name(), err)
		}
	}
	return nil
}

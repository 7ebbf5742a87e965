// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

package speckle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/specklesystems/speckle-go/lib/entity"
	"github.com/specklesystems/speckle-go/lib/objecthash"
	"github.com/specklesystems/speckle-go/lib/serializer"
	"github.com/specklesystems/speckle-go/lib/telemetry"
	"github.com/specklesystems/speckle-go/lib/transport"
	"github.com/specklesystems/speckle-go/lib/transport/server"
)

// SendOptions configures Send.
type SendOptions struct {
	// Hasher computes ids. Defaults to objecthash.SHA256, which is the
	// only hasher accepted when a server transport is present.
	Hasher objecthash.Hasher

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Telemetry receives a "send" event. Nil reports nothing.
	Telemetry *telemetry.Notifier
}

// Send serializes root into every transport and returns the result once
// all of them have finished writing. The first error from any
// transport fails the send.
func Send(ctx context.Context, root entity.Entity, transports []transport.Transport, opts SendOptions) (*serializer.Result, error) {
	if len(transports) == 0 {
		return nil, errors.New("send: at least one transport is required")
	}
	hasher := opts.Hasher
	if hasher == nil {
		hasher = objecthash.SHA256
	}
	names := make([]string, len(transports))
	for i, t := range transports {
		names[i] = t.Name()
		if _, remote := t.(*server.Transport); remote && hasher.Name() != objecthash.SHA256.Name() {
			return nil, fmt.Errorf("send: %s requires the %s hasher, got %s",
				t.Name(), objecthash.SHA256.Name(), hasher.Name())
		}
	}

	op := opts.Telemetry.Start("send", map[string]any{"transports": strings.Join(names, ",")})
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("operation_id", op.ID().String())

	result, err := serializer.New(serializer.Config{
		Transports: transports,
		Hasher:     hasher,
		Logger:     logger,
	}).Serialize(ctx, root)
	if err != nil {
		op.End(ctx, err)
		return nil, fmt.Errorf("send: %w", err)
	}

	op.Set("object_id", result.ID)
	op.Set("records", result.Records)
	op.End(ctx, nil)
	logger.Info("send complete",
		"object_id", result.ID,
		"records", result.Records,
		"transports", names,
	)
	return result, nil
}

// ReceiveOptions configures Receive.
type ReceiveOptions struct {
	// Remote, when set, supplies records missing from the local
	// transport.
	Remote transport.Transport

	// Registry picks Go types by speckle_type. Defaults to
	// entity.DefaultRegistry.
	Registry *entity.Registry

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Telemetry receives a "receive" event. Nil reports nothing.
	Telemetry *telemetry.Notifier
}

// Receive materializes the graph rooted at id from local. On a miss the
// remote's closure is copied into local first.
func Receive(ctx context.Context, id string, local transport.Transport, opts ReceiveOptions) (entity.Entity, error) {
	if local == nil {
		return nil, errors.New("receive: a local transport is required")
	}
	attributes := map[string]any{"object_id": id, "local": local.Name()}
	if opts.Remote != nil {
		attributes["remote"] = opts.Remote.Name()
	}
	op := opts.Telemetry.Start("receive", attributes)
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("operation_id", op.ID().String())

	deserializer, err := serializer.NewDeserializer(serializer.DeserializerConfig{
		Source:   local,
		Remote:   opts.Remote,
		Registry: opts.Registry,
		Logger:   logger,
	})
	if err != nil {
		op.End(ctx, err)
		return nil, fmt.Errorf("receive: %w", err)
	}
	out, err := deserializer.Deserialize(ctx, id)
	op.End(ctx, err)
	if err != nil {
		return nil, fmt.Errorf("receive %s: %w", id, err)
	}
	logger.Info("receive complete", "object_id", id, "local", local.Name())
	return out, nil
}

// Serialize returns the root record of root without writing any record
// anywhere. Detached children are referenced by id but not kept.
func Serialize(ctx context.Context, root entity.Entity) ([]byte, error) {
	result, err := serializer.New(serializer.Config{}).Serialize(ctx, root)
	if err != nil {
		return nil, err
	}
	return result.Root, nil
}

// Deserialize rebuilds an entity from a record's JSON. References are
// resolved through source, which may be nil when the record has none.
func Deserialize(ctx context.Context, serialized []byte, source transport.Transport, registry *entity.Registry) (entity.Entity, error) {
	if source == nil {
		source = transport.NewMemory("empty")
	}
	deserializer, err := serializer.NewDeserializer(serializer.DeserializerConfig{
		Source:   source,
		Registry: registry,
	})
	if err != nil {
		return nil, err
	}
	return deserializer.DeserializeRecord(ctx, serialized)
}

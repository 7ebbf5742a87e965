// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

package serializer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/specklesystems/speckle-go/lib/canonjson"
	"github.com/specklesystems/speckle-go/lib/entity"
	"github.com/specklesystems/speckle-go/lib/transport"
)

// DeserializerConfig configures a Deserializer.
type DeserializerConfig struct {
	// Source is the transport records are read from. Required.
	Source transport.Transport

	// Remote, when set, is asked to copy a missing record and its
	// closure into Source before the read is retried.
	Remote transport.Transport

	// Registry picks Go types by speckle_type. Defaults to
	// entity.DefaultRegistry.
	Registry *entity.Registry

	// Logger receives debug output. Nil discards.
	Logger *slog.Logger
}

// Deserializer rebuilds entity graphs from records.
type Deserializer struct {
	source   transport.Transport
	remote   transport.Transport
	registry *entity.Registry
	logger   *slog.Logger
}

// NewDeserializer returns a Deserializer for cfg.
func NewDeserializer(cfg DeserializerConfig) (*Deserializer, error) {
	if cfg.Source == nil {
		return nil, errors.New("deserializer: Source is required")
	}
	registry := cfg.Registry
	if registry == nil {
		registry = entity.DefaultRegistry
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Deserializer{
		source:   cfg.Source,
		remote:   cfg.Remote,
		registry: registry,
		logger:   logger,
	}, nil
}

// Deserialize materializes the graph rooted at id. Any missing record
// fails the whole call with a *MissingObjectError.
func (d *Deserializer) Deserialize(ctx context.Context, id string) (entity.Entity, error) {
	r := d.newReader(ctx)
	return r.entity(id)
}

// DeserializeRecord materializes a graph from the root record's JSON.
// References inside it are resolved through the source transport.
func (d *Deserializer) DeserializeRecord(ctx context.Context, serialized []byte) (entity.Entity, error) {
	object, err := canonjson.UnmarshalObject(serialized)
	if err != nil {
		return nil, fmt.Errorf("deserializer: %w", err)
	}
	r := d.newReader(ctx)
	id, _ := object[entity.KeyID].(string)
	if id != "" {
		r.visiting[id] = true
	}
	e, err := r.build(object)
	if err != nil {
		return nil, err
	}
	if id != "" {
		r.entities[id] = e
	}
	return e, nil
}

func (d *Deserializer) newReader(ctx context.Context) *reader {
	return &reader{
		ctx:      ctx,
		d:        d,
		entities: make(map[string]entity.Entity),
		chunks:   make(map[string][]any),
		visiting: make(map[string]bool),
		fetched:  make(map[string]bool),
	}
}

// reader holds the memo tables of one deserialization.
type reader struct {
	ctx      context.Context
	d        *Deserializer
	entities map[string]entity.Entity
	chunks   map[string][]any
	visiting map[string]bool
	fetched  map[string]bool
}

// load returns the parsed record for id, pulling it from the remote on
// a miss.
func (r *reader) load(id string) (map[string]any, error) {
	serialized, err := r.d.source.GetObject(r.ctx, id)
	if errors.Is(err, transport.ErrNotFound) && r.d.remote != nil && !r.fetched[id] {
		r.fetched[id] = true
		r.d.logger.Debug("object missing locally, copying from remote",
			"object_id", id,
			"source", r.d.source.Name(),
			"remote", r.d.remote.Name(),
		)
		if _, copyErr := r.d.remote.CopyObjectAndChildren(r.ctx, id, r.d.source); copyErr != nil {
			return nil, &MissingObjectError{ID: id, Err: copyErr}
		}
		serialized, err = r.d.source.GetObject(r.ctx, id)
	}
	if err != nil {
		if errors.Is(err, transport.ErrNotFound) {
			return nil, &MissingObjectError{ID: id, Err: err}
		}
		return nil, fmt.Errorf("deserializer: reading %s from %s: %w", id, r.d.source.Name(), err)
	}

	object, err := canonjson.UnmarshalObject(serialized)
	if err != nil {
		return nil, fmt.Errorf("deserializer: parsing %s: %w", id, err)
	}
	return object, nil
}

// entity resolves a detached record to its entity, memoized by id.
func (r *reader) entity(id string) (entity.Entity, error) {
	if e, ok := r.entities[id]; ok {
		return e, nil
	}
	if r.visiting[id] {
		return nil, fmt.Errorf("deserializer: reference cycle through %s", id)
	}
	r.visiting[id] = true
	defer delete(r.visiting, id)

	object, err := r.load(id)
	if err != nil {
		return nil, err
	}
	e, err := r.build(object)
	if err != nil {
		return nil, err
	}
	r.entities[id] = e
	return e, nil
}

// chunkData returns the data array of a chunk record.
func (r *reader) chunkData(id string, object map[string]any) ([]any, error) {
	if data, ok := r.chunks[id]; ok {
		return data, nil
	}
	raw, ok := object[entity.KeyData].([]any)
	if !ok && object[entity.KeyData] != nil {
		return nil, fmt.Errorf("deserializer: chunk %s: data is %T, not a list", id, object[entity.KeyData])
	}
	data := make([]any, len(raw))
	for i, element := range raw {
		decoded, err := r.value(element)
		if err != nil {
			return nil, err
		}
		data[i] = decoded
	}
	r.chunks[id] = data
	return data, nil
}

// build constructs an entity from a record or inline object.
func (r *reader) build(object map[string]any) (entity.Entity, error) {
	speckleType, _ := object[entity.KeySpeckleType].(string)
	e := r.d.registry.New(speckleType)

	if id, ok := object[entity.KeyID].(string); ok {
		if identified, ok := e.(entity.Identified); ok {
			identified.SetObjectID(id)
		}
	}
	base, _ := e.(*entity.Base)
	if applicationID, ok := object[entity.KeyApplicationID].(string); ok {
		if setter, ok := e.(interface{ SetApplicationID(string) }); ok {
			setter.SetApplicationID(applicationID)
		}
	}
	if base != nil {
		if count, ok := object[entity.KeyTotalChildrenCount].(int64); ok {
			base.TotalChildrenCount = int(count)
		}
	}

	names := make([]string, 0, len(object))
	for name := range object {
		if !entity.IsReserved(name) {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	for _, name := range names {
		raw := object[name]
		value, chunkSize, err := r.member(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if base != nil {
			// Restore the policy so that re-serializing the entity
			// reproduces the records it was read from.
			if chunkSize > 0 {
				base.Chunk(name, chunkSize)
			} else if containsReference(raw) {
				base.Detach(name)
			}
		}
		if err := e.SetMember(name, value); err != nil {
			return nil, fmt.Errorf("deserializer: setting %s on %s: %w", name, speckleType, err)
		}
	}
	return e, nil
}

// member decodes a top-level member value. For a chunked list it also
// returns the chunk size, taken from the first chunk.
func (r *reader) member(raw any) (any, int, error) {
	ids, ok := entity.ReferenceList(raw)
	if !ok {
		value, err := r.value(raw)
		return value, 0, err
	}

	var (
		flat      []any
		chunkSize int
		entities  []any
	)
	for i, id := range ids {
		if e, ok := r.entities[id]; ok {
			entities = append(entities, e)
			continue
		}
		if data, ok := r.chunks[id]; ok {
			if i == 0 {
				chunkSize = len(data)
			}
			flat = append(flat, data...)
			continue
		}
		object, err := r.load(id)
		if err != nil {
			return nil, 0, err
		}
		tag, _ := object[entity.KeySpeckleType].(string)
		if !entity.IsDataChunk(tag) {
			e, err := r.entity(id)
			if err != nil {
				return nil, 0, err
			}
			entities = append(entities, e)
			continue
		}
		data, err := r.chunkData(id, object)
		if err != nil {
			return nil, 0, err
		}
		if i == 0 {
			chunkSize = len(data)
		}
		flat = append(flat, data...)
	}

	switch {
	case entities == nil:
		if flat == nil {
			flat = []any{}
		}
		if chunkSize == 0 {
			// Only empty chunks; any size chunks an empty list the same way.
			chunkSize = entity.DefaultChunkSize
		}
		return flat, chunkSize, nil
	case flat == nil:
		return entities, 0, nil
	default:
		return nil, 0, fmt.Errorf("deserializer: list mixes chunks and detached entities")
	}
}

// value decodes a value nested inside a member.
func (r *reader) value(raw any) (any, error) {
	switch typed := raw.(type) {
	case map[string]any:
		if id, ok := entity.ReferenceID(typed); ok {
			return r.entity(id)
		}
		if _, ok := typed[entity.KeySpeckleType].(string); ok {
			return r.build(typed)
		}
		object := make(map[string]any, len(typed))
		for key, element := range typed {
			decoded, err := r.value(element)
			if err != nil {
				return nil, err
			}
			object[key] = decoded
		}
		return object, nil
	case []any:
		list := make([]any, len(typed))
		for i, element := range typed {
			decoded, err := r.value(element)
			if err != nil {
				return nil, err
			}
			list[i] = decoded
		}
		return list, nil
	default:
		return raw, nil
	}
}

// containsReference reports whether a raw member value holds a
// reference outside of any nested inline entity.
func containsReference(raw any) bool {
	switch typed := raw.(type) {
	case map[string]any:
		if _, ok := entity.ReferenceID(typed); ok {
			return true
		}
		if _, ok := typed[entity.KeySpeckleType].(string); ok {
			return false
		}
		for _, element := range typed {
			if containsReference(element) {
				return true
			}
		}
	case []any:
		for _, element := range typed {
			if containsReference(element) {
				return true
			}
		}
	}
	return false
}

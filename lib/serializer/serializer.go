// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

package serializer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"strconv"

	"github.com/specklesystems/speckle-go/lib/canonjson"
	"github.com/specklesystems/speckle-go/lib/entity"
	"github.com/specklesystems/speckle-go/lib/objecthash"
	"github.com/specklesystems/speckle-go/lib/transport"
)

// Config configures a Serializer.
type Config struct {
	// Transports receive every record produced. May be empty, in which
	// case Serialize only computes ids.
	Transports []transport.Transport

	// Hasher computes record ids. Defaults to objecthash.Default.
	Hasher objecthash.Hasher

	// Logger receives a debug line per serialized graph. Nil discards.
	Logger *slog.Logger
}

// Serializer turns entity graphs into records. A Serializer may be used
// for many graphs but not concurrently.
type Serializer struct {
	transports []transport.Transport
	hasher     objecthash.Hasher
	logger     *slog.Logger
}

// New returns a Serializer for cfg.
func New(cfg Config) *Serializer {
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = objecthash.Default
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Serializer{
		transports: cfg.Transports,
		hasher:     hasher,
		logger:     logger,
	}
}

// Hasher returns the hasher ids are computed with.
func (s *Serializer) Hasher() objecthash.Hasher { return s.hasher }

// Result describes one serialized graph.
type Result struct {
	// ID is the root record's id.
	ID string

	// Root is the root record's canonical JSON, id included.
	Root []byte

	// Closure maps every descendant id to its minimum depth.
	Closure map[string]int

	// Records is the number of distinct records produced, root
	// included.
	Records int
}

// Serialize walks root and hands every record to the configured
// transports, bracketed by BeginWrite and EndWrite on each. A walk
// error is returned in preference to an EndWrite error.
func (s *Serializer) Serialize(ctx context.Context, root entity.Entity) (*Result, error) {
	if isNil(root) {
		return nil, errors.New("serializer: nil root")
	}

	for _, t := range s.transports {
		t.BeginWrite(ctx)
	}

	w := &walker{
		ctx:      ctx,
		s:        s,
		written:  make(map[string]bool),
		detached: make(map[any]detachedRecord),
	}
	result, walkErr := w.root(root)

	var endErr error
	for _, t := range s.transports {
		if err := t.EndWrite(ctx); err != nil && endErr == nil {
			endErr = fmt.Errorf("serializer: finishing write to %s: %w", t.Name(), err)
		}
	}
	if walkErr != nil {
		return nil, walkErr
	}
	if endErr != nil {
		return nil, endErr
	}

	s.logger.Debug("object graph serialized",
		"object_id", result.ID,
		"records", result.Records,
		"hasher", s.hasher.Name(),
	)
	return result, nil
}

// detachedRecord is the memoized outcome of detaching one entity
// instance.
type detachedRecord struct {
	id      string
	closure map[string]int
}

// walker holds the state of one Serialize call.
type walker struct {
	ctx      context.Context
	s        *Serializer
	written  map[string]bool
	detached map[any]detachedRecord
}

func (w *walker) root(root entity.Entity) (*Result, error) {
	scope := newClosureScope()
	object, err := w.entityObject(root, "", scope)
	if err != nil {
		return nil, err
	}
	closure := scope.ids
	object[entity.KeyClosure] = closureValue(closure)
	object[entity.KeyTotalChildrenCount] = len(closure)

	id, serialized, err := w.finish(object, "")
	if err != nil {
		return nil, err
	}
	if err := w.emit(id, serialized); err != nil {
		return nil, err
	}
	return &Result{
		ID:      id,
		Root:    serialized,
		Closure: closure,
		Records: len(w.written),
	}, nil
}

// entityObject builds the record body of e without an id. Detached
// descendants found anywhere below e, short of another detached record,
// are added to scope at their traversal depth.
func (w *walker) entityObject(e entity.Entity, path string, scope *closureScope) (map[string]any, error) {
	if err := w.ctx.Err(); err != nil {
		return nil, err
	}

	object := map[string]any{
		entity.KeySpeckleType: e.SpeckleType(),
	}
	if identified, ok := e.(entity.ApplicationIdentified); ok {
		if applicationID := identified.ApplicationID(); applicationID != "" {
			object[entity.KeyApplicationID] = applicationID
		}
	}

	policy := e.Policy()
	for _, member := range e.Members() {
		if policy.Ignored(member.Name) {
			continue
		}
		memberPath := joinPath(path, member.Name)
		if entity.IsReserved(member.Name) {
			return nil, &UnsupportedValueError{
				Path:   memberPath,
				Value:  member.Value,
				Reason: fmt.Sprintf("member name %q is reserved", member.Name),
			}
		}

		var (
			value any
			err   error
		)
		if size, ok := policy.ChunkSize(member.Name); ok {
			value, err = w.chunked(member.Value, size, memberPath, scope)
		} else {
			value, err = w.value(member.Value, memberPath, policy.Detachable(member.Name), scope)
		}
		if err != nil {
			return nil, err
		}
		object[member.Name] = value
	}
	return object, nil
}

// value converts a member value. When detach is set, entities anywhere
// in the value (through lists and maps) become separate records.
func (w *walker) value(v any, path string, detach bool, scope *closureScope) (any, error) {
	switch value := v.(type) {
	case nil:
		return nil, nil
	case bool, string, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, json.Number:
		return value, nil
	case float64:
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return nil, &UnsupportedValueError{Path: path, Value: v, Reason: "non-finite number"}
		}
		return value, nil
	case float32:
		if math.IsNaN(float64(value)) || math.IsInf(float64(value), 0) {
			return nil, &UnsupportedValueError{Path: path, Value: v, Reason: "non-finite number"}
		}
		return value, nil
	case entity.Entity:
		if isNil(value) {
			return nil, nil
		}
		if detach {
			return w.detach(value, path, scope)
		}
		return w.inline(value, path, scope)
	case []any:
		if value == nil {
			return nil, nil
		}
		list := make([]any, len(value))
		for i, element := range value {
			converted, err := w.value(element, indexPath(path, i), detach, scope)
			if err != nil {
				return nil, err
			}
			list[i] = converted
		}
		return list, nil
	case map[string]any:
		if value == nil {
			return nil, nil
		}
		object := make(map[string]any, len(value))
		for key, element := range value {
			converted, err := w.value(element, joinPath(path, key), detach, scope)
			if err != nil {
				return nil, err
			}
			object[key] = converted
		}
		return object, nil
	}
	return w.reflected(reflect.ValueOf(v), path, detach, scope)
}

// reflected handles named scalar kinds (enums), typed slices and arrays,
// string-keyed maps, and pointers to any of those.
func (w *walker) reflected(rv reflect.Value, path string, detach bool, scope *closureScope) (any, error) {
	if !rv.IsValid() {
		return nil, nil
	}
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return w.value(rv.Elem().Interface(), path, detach, scope)
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint(), nil
	case reflect.Float32:
		return w.value(float32(rv.Float()), path, detach, scope)
	case reflect.Float64:
		return w.value(rv.Float(), path, detach, scope)
	case reflect.Slice:
		if rv.IsNil() {
			return nil, nil
		}
		fallthrough
	case reflect.Array:
		list := make([]any, rv.Len())
		for i := range rv.Len() {
			converted, err := w.value(rv.Index(i).Interface(), indexPath(path, i), detach, scope)
			if err != nil {
				return nil, err
			}
			list[i] = converted
		}
		return list, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, &UnsupportedValueError{Path: path, Value: rv.Interface(), Reason: "map keys must be strings"}
		}
		if rv.IsNil() {
			return nil, nil
		}
		object := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key := iter.Key().String()
			converted, err := w.value(iter.Value().Interface(), joinPath(path, key), detach, scope)
			if err != nil {
				return nil, err
			}
			object[key] = converted
		}
		return object, nil
	}
	return nil, &UnsupportedValueError{Path: path, Value: rv.Interface()}
}

// inline embeds e in its owner. The embedded object gets its own content
// id but no closure; its detached descendants belong to the owner.
func (w *walker) inline(e entity.Entity, path string, scope *closureScope) (any, error) {
	object, err := w.entityObject(e, path, scope.nested())
	if err != nil {
		return nil, err
	}
	serialized, err := canonjson.MarshalObject(object)
	if err != nil {
		return nil, w.canonError(path, err)
	}
	object[entity.KeyID] = w.s.hasher.ID(serialized)
	return object, nil
}

// detach writes e as its own record and returns a reference to it.
func (w *walker) detach(e entity.Entity, path string, scope *closureScope) (any, error) {
	key, memoizable := identityKey(e)
	if memoizable {
		if record, ok := w.detached[key]; ok {
			scope.add(record.id, record.closure)
			return entity.NewReference(record.id), nil
		}
	}

	child := newClosureScope()
	object, err := w.entityObject(e, path, child)
	if err != nil {
		return nil, err
	}
	id, err := w.writeDetached(object, child.ids, path)
	if err != nil {
		return nil, err
	}
	if memoizable {
		w.detached[key] = detachedRecord{id: id, closure: child.ids}
	}
	scope.add(id, child.ids)
	return entity.NewReference(id), nil
}

// chunked splits a list into DataChunk records of size elements each
// and returns the ordered references to them. A nil list stays null.
func (w *walker) chunked(v any, size int, path string, scope *closureScope) (any, error) {
	if size < 1 {
		return nil, &UnsupportedValueError{Path: path, Value: v, Reason: fmt.Sprintf("chunk size %d is less than 1", size)}
	}
	length, ok := listLength(v)
	if !ok {
		return nil, &UnsupportedValueError{Path: path, Value: v, Reason: fmt.Sprintf("chunked member must be a list, got %T", v)}
	}
	if length < 0 {
		return nil, nil
	}

	// An empty list still gets one empty chunk.
	chunks := max(1, (length+size-1)/size)
	references := make([]any, 0, chunks)
	for i := range chunks {
		start, end := i*size, min((i+1)*size, length)
		chunkPath := indexPath(path, i)

		chunk := newClosureScope()
		data, err := w.value(sliceOf(v, start, end), chunkPath, false, chunk)
		if err != nil {
			return nil, err
		}
		object := map[string]any{
			entity.KeySpeckleType: entity.TypeDataChunk,
			entity.KeyData:        data,
		}
		id, err := w.writeDetached(object, chunk.ids, chunkPath)
		if err != nil {
			return nil, err
		}
		scope.add(id, chunk.ids)
		references = append(references, entity.NewReference(id))
	}
	return references, nil
}

// writeDetached finalizes a non-root record and emits it.
func (w *walker) writeDetached(object map[string]any, closure map[string]int, path string) (string, error) {
	object[entity.KeyTotalChildrenCount] = len(closure)
	if len(closure) > 0 {
		object[entity.KeyClosure] = closureValue(closure)
	}
	id, serialized, err := w.finish(object, path)
	if err != nil {
		return "", err
	}
	if err := w.emit(id, serialized); err != nil {
		return "", err
	}
	return id, nil
}

// finish hashes object, adds the id, and returns the final bytes.
func (w *walker) finish(object map[string]any, path string) (string, []byte, error) {
	unhashed, err := canonjson.MarshalObject(object)
	if err != nil {
		return "", nil, w.canonError(path, err)
	}
	id := w.s.hasher.ID(unhashed)
	object[entity.KeyID] = id
	serialized, err := canonjson.MarshalObject(object)
	if err != nil {
		return "", nil, w.canonError(path, err)
	}
	return id, serialized, nil
}

// emit hands a record to every transport once per Serialize call.
func (w *walker) emit(id string, serialized []byte) error {
	if w.written[id] {
		return nil
	}
	w.written[id] = true
	if err := transport.Writes(w.ctx, w.s.transports, id, serialized); err != nil {
		return fmt.Errorf("serializer: %w", err)
	}
	return nil
}

func (w *walker) canonError(path string, err error) error {
	var unsupported *canonjson.UnsupportedTypeError
	if errors.As(err, &unsupported) {
		return &UnsupportedValueError{Path: path, Value: unsupported.Value}
	}
	return fmt.Errorf("serializer: %s: %w", path, err)
}

// closureScope collects the detached descendants of one record while
// its body is built. depth is the nesting of the entity currently being
// built below the record: 0 for the record itself, one more for each
// inline entity on the way down.
type closureScope struct {
	ids   map[string]int
	depth int
}

func newClosureScope() *closureScope {
	return &closureScope{ids: make(map[string]int)}
}

// nested returns a view of the same record one inline entity deeper.
func (c *closureScope) nested() *closureScope {
	return &closureScope{ids: c.ids, depth: c.depth + 1}
}

// add records a detached child at the next traversal depth and the
// child's own closure below it, keeping the minimum depth per id.
func (c *closureScope) add(id string, child map[string]int) {
	at := c.depth + 1
	setMin(c.ids, id, at)
	for descendant, depth := range child {
		setMin(c.ids, descendant, depth+at)
	}
}

func setMin(closure map[string]int, id string, depth int) {
	if existing, ok := closure[id]; !ok || depth < existing {
		closure[id] = depth
	}
}

func closureValue(closure map[string]int) map[string]any {
	value := make(map[string]any, len(closure))
	for id, depth := range closure {
		value[id] = depth
	}
	return value
}

// listLength returns the length of a list value, or -1 for a nil list.
// It reports false for values that are not lists.
func listLength(v any) (int, bool) {
	if v == nil {
		return -1, true
	}
	if list, ok := v.([]any); ok {
		if list == nil {
			return -1, true
		}
		return len(list), true
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return -1, true
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Slice:
		if rv.IsNil() {
			return -1, true
		}
		return rv.Len(), true
	case reflect.Array:
		return rv.Len(), true
	}
	return 0, false
}

// sliceOf returns elements [start, end) of a list value as []any.
func sliceOf(v any, start, end int) any {
	if list, ok := v.([]any); ok {
		return list[start:end]
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		rv = rv.Elem()
	}
	run := make([]any, 0, end-start)
	for i := start; i < end; i++ {
		run = append(run, rv.Index(i).Interface())
	}
	return run
}

// identityKey returns a map key identifying the entity instance, when
// the entity is a pointer.
func identityKey(e entity.Entity) (any, bool) {
	if reflect.ValueOf(e).Kind() == reflect.Pointer {
		return e, true
	}
	return nil, false
}

func isNil(e entity.Entity) bool {
	if e == nil {
		return true
	}
	rv := reflect.ValueOf(e)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

func joinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func indexPath(path string, i int) string {
	return path + "[" + strconv.Itoa(i) + "]"
}

// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
)

// Closure extracts the __closure map of a serialized record. Records
// without one return an empty map.
func Closure(serialized []byte) (map[string]int, error) {
	var header struct {
		Closure map[string]json.Number `json:"__closure"`
	}
	if err := json.Unmarshal(serialized, &header); err != nil {
		return nil, fmt.Errorf("transport: parsing record closure: %w", err)
	}
	closure := make(map[string]int, len(header.Closure))
	for id, depth := range header.Closure {
		value, err := depth.Int64()
		if err != nil {
			return nil, fmt.Errorf("transport: closure depth for %s: %w", id, err)
		}
		closure[id] = int(value)
	}
	return closure, nil
}

// CopyClosure copies the record for id and every id in its __closure
// from src into sink, skipping records sink already has. It returns the
// root record. Sink writes are bracketed by BeginWrite and EndWrite.
func CopyClosure(ctx context.Context, src Transport, id string, sink Transport) ([]byte, error) {
	root, err := src.GetObject(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("copying %s from %s: %w", id, src.Name(), err)
	}
	closure, err := Closure(root)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(closure)+1)
	ids = append(ids, id)
	for child := range closure {
		ids = append(ids, child)
	}
	slices.Sort(ids[1:])

	present, err := sink.HasObjects(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("checking %s for existing records: %w", sink.Name(), err)
	}

	sink.BeginWrite(ctx)
	for _, current := range ids {
		if present[current] {
			continue
		}
		serialized := root
		if current != id {
			serialized, err = src.GetObject(ctx, current)
			if err != nil {
				sink.EndWrite(ctx)
				return nil, fmt.Errorf("copying %s from %s: %w", current, src.Name(), err)
			}
		}
		if err := sink.SaveObject(ctx, current, serialized); err != nil {
			sink.EndWrite(ctx)
			return nil, fmt.Errorf("saving %s to %s: %w", current, sink.Name(), err)
		}
	}
	if err := sink.EndWrite(ctx); err != nil {
		return nil, fmt.Errorf("finishing copy to %s: %w", sink.Name(), err)
	}
	return root, nil
}

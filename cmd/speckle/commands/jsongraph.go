// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/specklesystems/speckle-go/lib/canonjson"
	"github.com/specklesystems/speckle-go/lib/entity"
)

// readGraph reads a JSON object graph from path, or stdin for "-".
func readGraph(path string) (*entity.Base, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	return decodeGraph(data)
}

// decodeGraph converts a JSON document to an entity graph. Objects that
// carry a speckle_type become entities, and so does the root whether
// or not it has one. Member names use the "@name" and "@(N)name"
// conventions for detached and chunked members. Reserved keys other
// than speckle_type and applicationId are dropped.
func decodeGraph(data []byte) (*entity.Base, error) {
	object, err := canonjson.UnmarshalObject(data)
	if err != nil {
		return nil, fmt.Errorf("parsing object graph: %w", err)
	}
	return toEntity(object), nil
}

func toEntity(object map[string]any) *entity.Base {
	speckleType, _ := object[entity.KeySpeckleType].(string)
	base := entity.New(speckleType)
	if applicationID, ok := object[entity.KeyApplicationID].(string); ok {
		base.AppID = applicationID
	}
	for _, name := range sortedKeys(object) {
		if entity.IsReserved(name) {
			continue
		}
		base.Set(name, toValue(object[name]))
	}
	return base
}

func toValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		if _, ok := typed[entity.KeySpeckleType].(string); ok {
			return toEntity(typed)
		}
		converted := make(map[string]any, len(typed))
		for key, element := range typed {
			converted[key] = toValue(element)
		}
		return converted
	case []any:
		converted := make([]any, len(typed))
		for i, element := range typed {
			converted[i] = toValue(element)
		}
		return converted
	default:
		return value
	}
}

// encodeGraph converts an entity graph back to plain JSON values. Each
// entity carries its speckle_type, its id when known, and its
// applicationId when set.
func encodeGraph(e entity.Entity) map[string]any {
	object := map[string]any{entity.KeySpeckleType: e.SpeckleType()}
	if identified, ok := e.(entity.Identified); ok && identified.ObjectID() != "" {
		object[entity.KeyID] = identified.ObjectID()
	}
	if application, ok := e.(entity.ApplicationIdentified); ok && application.ApplicationID() != "" {
		object[entity.KeyApplicationID] = application.ApplicationID()
	}
	for _, member := range e.Members() {
		object[member.Name] = fromValue(member.Value)
	}
	return object
}

func fromValue(value any) any {
	switch typed := value.(type) {
	case entity.Entity:
		return encodeGraph(typed)
	case map[string]any:
		converted := make(map[string]any, len(typed))
		for key, element := range typed {
			converted[key] = fromValue(element)
		}
		return converted
	case []any:
		converted := make([]any, len(typed))
		for i, element := range typed {
			converted[i] = fromValue(element)
		}
		return converted
	default:
		return value
	}
}

func sortedKeys(object map[string]any) []string {
	keys := make([]string, 0, len(object))
	for key := range object {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

package entity

import "strings"

// NewReference returns the wire form of a detached reference to id.
func NewReference(id string) map[string]any {
	return map[string]any{
		KeyReferencedID: id,
		KeySpeckleType:  TypeReference,
	}
}

// ReferenceID reports whether value is a detached reference and returns
// the id it points to.
func ReferenceID(value any) (string, bool) {
	object, ok := value.(map[string]any)
	if !ok {
		return "", false
	}
	if tag, _ := object[KeySpeckleType].(string); tag != TypeReference {
		return "", false
	}
	id, ok := object[KeyReferencedID].(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// ReferenceList returns the ids of a non-empty list made only of
// references. Chunked lists have this shape on the wire.
func ReferenceList(value any) ([]string, bool) {
	list, ok := value.([]any)
	if !ok || len(list) == 0 {
		return nil, false
	}
	ids := make([]string, 0, len(list))
	for _, element := range list {
		id, ok := ReferenceID(element)
		if !ok {
			return nil, false
		}
		ids = append(ids, id)
	}
	return ids, true
}

// IsDataChunk reports whether speckleType tags a chunk record. Other SDKs
// write different namespaces, so any tag ending in "DataChunk" matches.
func IsDataChunk(speckleType string) bool {
	return strings.HasSuffix(speckleType, "DataChunk")
}

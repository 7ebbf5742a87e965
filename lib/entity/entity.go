// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

// Package entity defines the in-memory object graph that the serializer
// turns into records.
//
// An [Entity] has a type tag, an ordered list of members, and a
// [Policy] naming which members are detached into their own records,
// which lists are chunked, and which members are never serialized. The
// core is schema-agnostic: domain types implement [Entity] themselves,
// and [Base] covers everything else with dynamic members.
//
// Member values are limited to:
//
//   - nil, bool, string, and the Go integer and float kinds (named
//     types of these kinds, i.e. enums, serialize as the underlying
//     scalar)
//   - slices and arrays of any allowed value
//   - maps with string keys and allowed values
//   - entities (pointer or value implementing [Entity])
//
// # Dynamic member conventions
//
// [Base.Set] understands the naming convention shared with the other
// Speckle SDKs: a member named "@name" is detached, and "@(N)name" is a
// chunkable list with chunk size N, stored under "@name". "@()name"
// uses [DefaultChunkSize].
//
// # Cycles
//
// Cycles through inline (non-detached) members are not detected. The
// content hash of a cyclic graph is undefined; callers must not build
// one. Cycles through detached members cannot form because a record's
// id depends on its children's ids.
package entity

// Reserved record keys. These are never members.
const (
	KeyID                 = "id"
	KeySpeckleType        = "speckle_type"
	KeyApplicationID      = "applicationId"
	KeyTotalChildrenCount = "totalChildrenCount"
	KeyClosure            = "__closure"
	KeyReferencedID       = "referencedId"
	KeyData               = "data"
)

// Type tags the core itself produces.
const (
	// TypeBase is the tag of an entity with no more specific type.
	TypeBase = "Base"

	// TypeReference tags a detached reference object.
	TypeReference = "reference"

	// TypeDataChunk tags the records a chunked list is split into.
	TypeDataChunk = "Speckle.Core.Models.DataChunk"
)

// DefaultChunkSize is the chunk size used by the "@()name" convention.
const DefaultChunkSize = 1000

// Member is one named value of an entity.
type Member struct {
	Name  string
	Value any
}

// Entity is a node in the object graph.
type Entity interface {
	// SpeckleType returns the type tag written to the record's
	// speckle_type field.
	SpeckleType() string

	// Members returns the serializable members in declaration order.
	Members() []Member

	// Policy returns the detach, chunk, and ignore rules for members.
	Policy() Policy
}

// Decodable is an entity the deserializer can populate.
type Decodable interface {
	Entity

	// SetMember assigns a decoded member value. Values are from the
	// decoded set: nil, bool, string, int64, float64, []any,
	// map[string]any, and Entity.
	SetMember(name string, value any) error
}

// ApplicationIdentified is implemented by entities that carry an
// external correlation id. A non-empty value is written to the record's
// applicationId field.
type ApplicationIdentified interface {
	ApplicationID() string
}

// Identified is implemented by entities that remember the id of the
// record they were read from.
type Identified interface {
	ObjectID() string
	SetObjectID(id string)
}

// Policy holds the per-member serialization rules of an entity type.
// The zero value detaches nothing, chunks nothing, and ignores nothing.
type Policy struct {
	// Detach names members serialized as separate records.
	Detach map[string]bool

	// Chunk maps list members to their chunk size.
	Chunk map[string]int

	// Ignore names members skipped by the serializer.
	Ignore map[string]bool
}

// Detachable reports whether the named member is detached, either by
// declaration or by the "@" prefix.
func (p Policy) Detachable(name string) bool {
	if len(name) > 1 && name[0] == '@' {
		return true
	}
	return p.Detach[name]
}

// ChunkSize returns the declared chunk size of the named member.
func (p Policy) ChunkSize(name string) (int, bool) {
	size, ok := p.Chunk[name]
	return size, ok
}

// Ignored reports whether the named member is skipped.
func (p Policy) Ignored(name string) bool {
	return p.Ignore[name]
}

// IsReserved reports whether name is a record key owned by the core.
func IsReserved(name string) bool {
	switch name {
	case KeyID, KeySpeckleType, KeyApplicationID, KeyTotalChildrenCount, KeyClosure:
		return true
	}
	return false
}

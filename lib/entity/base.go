// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

package entity

import (
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Base is a dynamic entity: a type tag plus an ordered set of named
// members. It is what the deserializer builds for type tags that have no
// registered constructor, and the usual way to assemble a graph without
// declaring Go types.
//
// Base is not safe for concurrent mutation.
type Base struct {
	// Type is the speckle_type tag. Empty means TypeBase.
	Type string

	// ID is the id of the record this entity was read from. The
	// serializer does not read or write it.
	ID string

	// AppID is the optional applicationId.
	AppID string

	// TotalChildrenCount is populated on read from the record.
	TotalChildrenCount int

	names  []string
	values map[string]any
	policy Policy
}

// New returns an empty Base with the given type tag.
func New(speckleType string) *Base {
	return &Base{Type: speckleType}
}

// SpeckleType implements Entity.
func (b *Base) SpeckleType() string {
	if b.Type == "" {
		return TypeBase
	}
	return b.Type
}

// ApplicationID implements ApplicationIdentified.
func (b *Base) ApplicationID() string { return b.AppID }

// SetApplicationID sets the applicationId written to the record.
func (b *Base) SetApplicationID(id string) { b.AppID = id }

// ObjectID implements Identified.
func (b *Base) ObjectID() string { return b.ID }

// SetObjectID implements Identified.
func (b *Base) SetObjectID(id string) { b.ID = id }

// Set assigns a member, appending it to the member order if new. Names
// using the "@(N)name" chunk syntax are stored as "@name" with chunk
// size N recorded in the policy. Set returns b for chaining.
func (b *Base) Set(name string, value any) *Base {
	name = b.applyChunkSyntax(name)
	if b.values == nil {
		b.values = make(map[string]any)
	}
	if _, exists := b.values[name]; !exists {
		b.names = append(b.names, name)
	}
	b.values[name] = value
	return b
}

// SetMember implements Decodable.
func (b *Base) SetMember(name string, value any) error {
	b.Set(name, value)
	return nil
}

// Get returns the named member.
func (b *Base) Get(name string) (any, bool) {
	value, ok := b.values[name]
	return value, ok
}

// Delete removes the named member.
func (b *Base) Delete(name string) {
	if _, ok := b.values[name]; !ok {
		return
	}
	delete(b.values, name)
	b.names = slices.DeleteFunc(b.names, func(existing string) bool { return existing == name })
}

// Names returns member names in insertion order.
func (b *Base) Names() []string {
	return slices.Clone(b.names)
}

// Len returns the number of members.
func (b *Base) Len() int { return len(b.names) }

// Members implements Entity.
func (b *Base) Members() []Member {
	members := make([]Member, 0, len(b.names))
	for _, name := range b.names {
		members = append(members, Member{Name: name, Value: b.values[name]})
	}
	return members
}

// Policy implements Entity.
func (b *Base) Policy() Policy {
	return b.policy
}

// Detach declares the named members detachable.
func (b *Base) Detach(names ...string) *Base {
	if b.policy.Detach == nil {
		b.policy.Detach = make(map[string]bool, len(names))
	}
	for _, name := range names {
		b.policy.Detach[name] = true
	}
	return b
}

// Chunk declares the named member chunkable with the given size.
func (b *Base) Chunk(name string, size int) *Base {
	if b.policy.Chunk == nil {
		b.policy.Chunk = make(map[string]int)
	}
	b.policy.Chunk[name] = size
	return b
}

// Ignore declares the named members as never serialized.
func (b *Base) Ignore(names ...string) *Base {
	if b.policy.Ignore == nil {
		b.policy.Ignore = make(map[string]bool, len(names))
	}
	for _, name := range names {
		b.policy.Ignore[name] = true
	}
	return b
}

// WithPolicy replaces the whole policy. The maps are copied.
func (b *Base) WithPolicy(policy Policy) *Base {
	b.policy = Policy{
		Detach: maps.Clone(policy.Detach),
		Chunk:  maps.Clone(policy.Chunk),
		Ignore: maps.Clone(policy.Ignore),
	}
	return b
}

// applyChunkSyntax rewrites "@(N)name" to "@name" and records the chunk
// size. Other names are returned unchanged.
func (b *Base) applyChunkSyntax(name string) string {
	size, stripped, ok := ParseChunkSyntax(name)
	if !ok {
		return name
	}
	b.Chunk(stripped, size)
	return stripped
}

// ParseChunkSyntax parses a member name of the form "@(N)name". It
// returns the chunk size, the stored name ("@name"), and whether name
// used the syntax at all. "@()name" yields DefaultChunkSize.
func ParseChunkSyntax(name string) (int, string, bool) {
	if !strings.HasPrefix(name, "@(") {
		return 0, "", false
	}
	closing := strings.IndexByte(name, ')')
	if closing < 0 || closing == len(name)-1 {
		return 0, "", false
	}
	digits := name[2:closing]
	size := DefaultChunkSize
	if digits != "" {
		parsed, err := strconv.Atoi(digits)
		if err != nil {
			return 0, "", false
		}
		size = parsed
	}
	return size, "@" + name[closing+1:], true
}

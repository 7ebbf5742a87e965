// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

package entity

import (
	"fmt"
	"strings"
	"sync"
)

// Constructor returns a new, empty entity ready for SetMember calls.
type Constructor func() Decodable

// Registry maps type tags to constructors. The deserializer consults it
// to pick the Go type for each record. A Registry is safe for concurrent
// use.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// DefaultRegistry is the process-wide registry used when no registry is
// passed explicitly.
var DefaultRegistry = NewRegistry()

// Register associates speckleType with constructor. Registering the same
// tag twice is an error.
func (r *Registry) Register(speckleType string, constructor Constructor) error {
	if speckleType == "" {
		return fmt.Errorf("entity: register: empty type tag")
	}
	if constructor == nil {
		return fmt.Errorf("entity: register %q: nil constructor", speckleType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.constructors[speckleType]; exists {
		return fmt.Errorf("entity: register %q: already registered", speckleType)
	}
	r.constructors[speckleType] = constructor
	return nil
}

// MustRegister is Register that panics on error, for use from package
// init functions.
func (r *Registry) MustRegister(speckleType string, constructor Constructor) {
	if err := r.Register(speckleType, constructor); err != nil {
		panic(err)
	}
}

// Lookup returns the constructor for speckleType. Type tags written by
// the other SDKs may be inheritance chains joined by ":" (for example
// "Objects.Geometry.Mesh:Custom.Mesh"); when the full tag is not
// registered, segments are tried from the most specific (last) to the
// least.
func (r *Registry) Lookup(speckleType string) (Constructor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if constructor, ok := r.constructors[speckleType]; ok {
		return constructor, true
	}
	segments := strings.Split(speckleType, ":")
	for i := len(segments) - 1; i >= 0 && len(segments) > 1; i-- {
		if constructor, ok := r.constructors[segments[i]]; ok {
			return constructor, true
		}
	}
	return nil, false
}

// New constructs an entity for speckleType. Unknown tags yield a *Base
// whose Type preserves the original tag.
func (r *Registry) New(speckleType string) Decodable {
	if constructor, ok := r.Lookup(speckleType); ok {
		return constructor()
	}
	return New(speckleType)
}

// Types returns the number of registered tags.
func (r *Registry) Types() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.constructors)
}

// Register adds a constructor to DefaultRegistry.
func Register(speckleType string, constructor Constructor) error {
	return DefaultRegistry.Register(speckleType, constructor)
}

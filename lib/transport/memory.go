// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"slices"
	"sync"
)

// Memory is a map-backed transport. It is safe for concurrent use and
// copies record bytes on the way in and out.
type Memory struct {
	name string

	mu      sync.RWMutex
	objects map[string][]byte
	saves   int
}

// NewMemory returns an empty memory transport.
func NewMemory(name string) *Memory {
	if name == "" {
		name = "memory"
	}
	return &Memory{name: name, objects: make(map[string][]byte)}
}

func (m *Memory) Name() string { return m.name }

func (m *Memory) BeginWrite(context.Context) {}

func (m *Memory) EndWrite(context.Context) error { return nil }

func (m *Memory) SaveObject(ctx context.Context, id string, serialized []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if _, exists := m.objects[id]; exists {
		return nil
	}
	m.objects[id] = slices.Clone(serialized)
	return nil
}

func (m *Memory) HasObjects(_ context.Context, ids []string) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[string]bool, len(ids))
	for _, id := range ids {
		_, result[id] = m.objects[id]
	}
	return result, nil
}

func (m *Memory) GetObject(_ context.Context, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	serialized, ok := m.objects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(serialized), nil
}

func (m *Memory) CopyObjectAndChildren(ctx context.Context, id string, sink Transport) ([]byte, error) {
	return CopyClosure(ctx, m, id, sink)
}

// Len returns the number of distinct records stored.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// Saves returns the number of SaveObject calls, duplicates included.
func (m *Memory) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

// IDs returns the stored ids in sorted order.
func (m *Memory) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.objects))
	for id := range m.objects {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
)

func TestMemorySaveAndGet(t *testing.T) {
	ctx := context.Background()
	memory := NewMemory("")
	if memory.Name() != "memory" {
		t.Errorf("Name = %q, want memory", memory.Name())
	}

	record := []byte(`{"id":"a","speckle_type":"Base"}`)
	if err := memory.SaveObject(ctx, "a", record); err != nil {
		t.Fatalf("SaveObject: %v", err)
	}
	record[2] = 'X'

	got, err := memory.GetObject(ctx, "a")
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	if string(got) != `{"id":"a","speckle_type":"Base"}` {
		t.Errorf("GetObject = %s; stored bytes were not copied", got)
	}

	if _, err := memory.GetObject(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetObject(missing) error = %v, want ErrNotFound", err)
	}
}

func TestMemorySaveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	memory := NewMemory("cache")
	for range 3 {
		if err := memory.SaveObject(ctx, "a", []byte(`{}`)); err != nil {
			t.Fatalf("SaveObject: %v", err)
		}
	}
	if memory.Len() != 1 {
		t.Errorf("Len = %d, want 1", memory.Len())
	}
	if memory.Saves() != 3 {
		t.Errorf("Saves = %d, want 3", memory.Saves())
	}
}

func TestMemoryHasObjects(t *testing.T) {
	ctx := context.Background()
	memory := NewMemory("")
	memory.SaveObject(ctx, "a", []byte(`{}`))

	has, err := memory.HasObjects(ctx, []string{"a", "b"})
	if err != nil {
		t.Fatalf("HasObjects: %v", err)
	}
	if !has["a"] || has["b"] || len(has) != 2 {
		t.Errorf("HasObjects = %v, want a:true b:false", has)
	}
}

func TestClosure(t *testing.T) {
	closure, err := Closure([]byte(`{"id":"r","__closure":{"x":1,"y":2}}`))
	if err != nil {
		t.Fatalf("Closure: %v", err)
	}
	if closure["x"] != 1 || closure["y"] != 2 || len(closure) != 2 {
		t.Errorf("Closure = %v", closure)
	}

	empty, err := Closure([]byte(`{"id":"leaf"}`))
	if err != nil {
		t.Fatalf("Closure(leaf): %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("Closure(leaf) = %v, want empty", empty)
	}

	if _, err := Closure([]byte(`not json`)); err == nil {
		t.Error("Closure of invalid JSON should fail")
	}
}

func TestCopyClosure(t *testing.T) {
	ctx := context.Background()
	src := NewMemory("src")
	src.SaveObject(ctx, "root", []byte(`{"id":"root","__closure":{"c1":1,"c2":2}}`))
	src.SaveObject(ctx, "c1", []byte(`{"id":"c1","__closure":{"c2":1}}`))
	src.SaveObject(ctx, "c2", []byte(`{"id":"c2"}`))
	src.SaveObject(ctx, "unrelated", []byte(`{"id":"unrelated"}`))

	sink := NewMemory("sink")
	sink.SaveObject(ctx, "c2", []byte(`{"id":"c2"}`))

	root, err := src.CopyObjectAndChildren(ctx, "root", sink)
	if err != nil {
		t.Fatalf("CopyObjectAndChildren: %v", err)
	}
	if string(root) != `{"id":"root","__closure":{"c1":1,"c2":2}}` {
		t.Errorf("root = %s", root)
	}
	if got, want := sink.IDs(), []string{"c1", "c2", "root"}; !slices.Equal(got, want) {
		t.Errorf("sink ids = %v, want %v", got, want)
	}
	// c2 was already present and must not be written again.
	if sink.Saves() != 3 {
		t.Errorf("sink saves = %d, want 3", sink.Saves())
	}
}

func TestCopyClosureMissingDescendant(t *testing.T) {
	ctx := context.Background()
	src := NewMemory("src")
	src.SaveObject(ctx, "root", []byte(`{"id":"root","__closure":{"gone":1}}`))

	_, err := CopyClosure(ctx, src, "root", NewMemory("sink"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("CopyClosure error = %v, want ErrNotFound", err)
	}

	_, err = CopyClosure(ctx, src, "absent", NewMemory("sink"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("CopyClosure(absent) error = %v, want ErrNotFound", err)
	}
}

func TestWrites(t *testing.T) {
	ctx := context.Background()
	first, second := NewMemory("first"), NewMemory("second")
	if err := Writes(ctx, []Transport{first, second}, "a", []byte(`{}`)); err != nil {
		t.Fatalf("Writes: %v", err)
	}
	if first.Len() != 1 || second.Len() != 1 {
		t.Errorf("lens = %d, %d; want 1, 1", first.Len(), second.Len())
	}
}

var errDiskFull = errors.New("disk full")

// refusingTransport fails every save.
type refusingTransport struct {
	*Memory
}

func (refusingTransport) SaveObject(context.Context, string, []byte) error {
	return errDiskFull
}

func TestWritesStopsAtFirstRefusal(t *testing.T) {
	ctx := context.Background()
	first, last := NewMemory("first"), NewMemory("last")
	refusing := refusingTransport{NewMemory("full")}

	err := Writes(ctx, []Transport{first, refusing, last}, "a", []byte(`{}`))
	if !errors.Is(err, errDiskFull) {
		t.Fatalf("Writes = %v, want the refusal", err)
	}
	if want := "saving a to full"; !strings.Contains(err.Error(), want) {
		t.Errorf("error %q does not contain %q", err, want)
	}
	if first.Len() != 1 || last.Len() != 0 {
		t.Errorf("lens = %d, %d; want 1, 0", first.Len(), last.Len())
	}
}

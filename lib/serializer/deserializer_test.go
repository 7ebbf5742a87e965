// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

package serializer

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/specklesystems/speckle-go/lib/entity"
	"github.com/specklesystems/speckle-go/lib/transport"
)

func TestDeserializeEmptyRoot(t *testing.T) {
	memory := transport.NewMemory("")
	result := serialize(t, memory, entity.New("Base"))

	out := deserialize(t, memory, nil, result.ID)
	base, ok := out.(*entity.Base)
	if !ok {
		t.Fatalf("Deserialize = %T, want *entity.Base", out)
	}
	if base.SpeckleType() != "Base" || base.Len() != 0 {
		t.Errorf("got type %q with %d members, want empty Base", base.SpeckleType(), base.Len())
	}
	if base.ObjectID() != result.ID {
		t.Errorf("ObjectID = %q, want %q", base.ObjectID(), result.ID)
	}
}

func TestDeserializeChunkedList(t *testing.T) {
	memory := transport.NewMemory("")
	mesh := entity.New("Mesh").Chunk("vertices", 3).Set("vertices", []int{1, 2, 3, 4, 5, 6, 7})
	result := serialize(t, memory, mesh)

	out := deserialize(t, memory, nil, result.ID).(*entity.Base)
	vertices, _ := out.Get("vertices")
	want := []any{int64(1), int64(2), int64(3), int64(4), int64(5), int64(6), int64(7)}
	if !reflect.DeepEqual(vertices, want) {
		t.Errorf("vertices = %#v, want %#v", vertices, want)
	}
	if size, ok := out.Policy().ChunkSize("vertices"); !ok || size != 3 {
		t.Errorf("restored chunk size = %d, %v; want 3, true", size, ok)
	}
}

func TestChunkingTransparency(t *testing.T) {
	list := []any{
		int64(1), "two", 3.5, true, nil,
		[]any{int64(1), int64(2)},
		map[string]any{"k": "v"},
	}
	for size := 1; size <= len(list)+2; size++ {
		memory := transport.NewMemory("")
		root := entity.New("Base").Chunk("items", size).Set("items", list)
		result := serialize(t, memory, root)

		out := deserialize(t, memory, nil, result.ID).(*entity.Base)
		items, _ := out.Get("items")
		if !reflect.DeepEqual(items, list) {
			t.Errorf("chunk size %d: items = %#v, want %#v", size, items, list)
		}
	}
}

func TestDeserializeEmptyChunkedList(t *testing.T) {
	memory := transport.NewMemory("")
	mesh := entity.New("Mesh").Chunk("faces", 4).Set("faces", []any{})
	first := serialize(t, memory, mesh)

	out := deserialize(t, memory, nil, first.ID).(*entity.Base)
	faces, _ := out.Get("faces")
	if list, ok := faces.([]any); !ok || len(list) != 0 {
		t.Fatalf("faces = %#v, want an empty list", faces)
	}
	if _, ok := out.Policy().ChunkSize("faces"); !ok {
		t.Error("faces lost its chunk policy")
	}

	again := serialize(t, transport.NewMemory(""), out)
	if again.ID != first.ID {
		t.Errorf("re-serialized id = %s, want %s", again.ID, first.ID)
	}
}

func TestDeserializeSharesDetachedChild(t *testing.T) {
	memory := transport.NewMemory("")
	material := entity.New("Material").Set("color", "red")
	a := entity.New("Wall").Detach("material").Set("name", "A").Set("material", material)
	b := entity.New("Wall").Detach("material").Set("name", "B").Set("material", material)
	result := serialize(t, memory, entity.New("Base").Set("a", a).Set("b", b))

	out := deserialize(t, memory, nil, result.ID).(*entity.Base)
	outA, _ := out.Get("a")
	outB, _ := out.Get("b")
	materialA, _ := outA.(*entity.Base).Get("material")
	materialB, _ := outB.(*entity.Base).Get("material")
	if materialA == nil || materialA != materialB {
		t.Errorf("materials = %p, %p; want the same instance", materialA, materialB)
	}
	color, _ := materialA.(*entity.Base).Get("color")
	if color != "red" {
		t.Errorf("material color = %v, want red", color)
	}
}

func TestRoundTripReproducesIDs(t *testing.T) {
	shared := entity.New("Objects.Other.RenderMaterial").Set("opacity", 0.5)
	root := entity.New("Objects.Organization.Collection").
		Set("name", "level 1").
		Set("@elements", []any{
			entity.New("Objects.BuiltElements.Wall").Detach("material").Set("height", 3).Set("material", shared),
			entity.New("Objects.BuiltElements.Wall").Detach("material").Set("height", 4).Set("material", shared),
		}).
		Set("@(2)points", []float64{0, 0.5, 1, 1.5, 2}).
		Set("origin", entity.New("Objects.Geometry.Point").Set("x", 1).Set("y", -2.25)).
		Set("props", map[string]any{"phase": "new", "tags": []any{"a", "b"}}).
		Set("@lookup", map[string]any{"mat": shared})
	root.AppID = "app-1"

	memory := transport.NewMemory("")
	first := serialize(t, memory, root)
	out := deserialize(t, memory, nil, first.ID)

	again := transport.NewMemory("")
	second := serialize(t, again, out)
	if second.ID != first.ID {
		t.Fatalf("re-serialized id = %s, want %s", second.ID, first.ID)
	}
	if !reflect.DeepEqual(again.IDs(), memory.IDs()) {
		t.Errorf("re-serialized records %v, want %v", again.IDs(), memory.IDs())
	}
	if out.(*entity.Base).AppID != "app-1" {
		t.Errorf("AppID = %q, want app-1", out.(*entity.Base).AppID)
	}
}

func TestDeserializeMissingChild(t *testing.T) {
	full := transport.NewMemory("full")
	root := entity.New("Base").Set("@child", entity.New("Child"))
	result := serialize(t, full, root)

	partial := transport.NewMemory("partial")
	partial.SaveObject(context.Background(), result.ID, result.Root)

	d, err := NewDeserializer(DeserializerConfig{Source: partial, Registry: entity.NewRegistry()})
	if err != nil {
		t.Fatalf("NewDeserializer: %v", err)
	}
	_, err = d.Deserialize(context.Background(), result.ID)
	var missing *MissingObjectError
	if !errors.As(err, &missing) {
		t.Fatalf("error = %v, want MissingObjectError", err)
	}
	if !errors.Is(err, transport.ErrNotFound) {
		t.Errorf("error %v does not wrap ErrNotFound", err)
	}
	for id := range result.Closure {
		if missing.ID != id {
			t.Errorf("missing id = %s, want %s", missing.ID, id)
		}
	}
}

func TestDeserializeCopiesFromRemote(t *testing.T) {
	remote := transport.NewMemory("remote")
	root := entity.New("Base").
		Set("@child", entity.New("Child").Set("@grand", entity.New("Grand")))
	result := serialize(t, remote, root)

	local := transport.NewMemory("local")
	out := deserialize(t, local, remote, result.ID)
	if out.(*entity.Base).ObjectID() != result.ID {
		t.Errorf("ObjectID = %s, want %s", out.(*entity.Base).ObjectID(), result.ID)
	}
	if !reflect.DeepEqual(local.IDs(), remote.IDs()) {
		t.Errorf("local ids %v, want %v", local.IDs(), remote.IDs())
	}
}

type testWall struct {
	entity.Base
}

func TestDeserializeUsesRegistry(t *testing.T) {
	registry := entity.NewRegistry()
	registry.MustRegister("Test.Wall", func() entity.Decodable {
		w := &testWall{}
		w.Type = "Test.Wall"
		return w
	})

	memory := transport.NewMemory("")
	root := entity.New("Base").Set("@wall", entity.New("Test.Wall").Set("height", 3))
	result := serialize(t, memory, root)

	d, err := NewDeserializer(DeserializerConfig{Source: memory, Registry: registry})
	if err != nil {
		t.Fatalf("NewDeserializer: %v", err)
	}
	out, err := d.Deserialize(context.Background(), result.ID)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	member, _ := out.(*entity.Base).Get("@wall")
	wall, ok := member.(*testWall)
	if !ok {
		t.Fatalf("@wall = %T, want *testWall", member)
	}
	if height, _ := wall.Get("height"); height != int64(3) {
		t.Errorf("height = %#v, want int64(3)", height)
	}
}

func TestDeserializeRecord(t *testing.T) {
	memory := transport.NewMemory("")
	result := serialize(t, memory, entity.New("Base").Set("@child", entity.New("Child").Set("n", 1)))

	d, err := NewDeserializer(DeserializerConfig{Source: memory})
	if err != nil {
		t.Fatalf("NewDeserializer: %v", err)
	}
	out, err := d.DeserializeRecord(context.Background(), result.Root)
	if err != nil {
		t.Fatalf("DeserializeRecord: %v", err)
	}
	child, _ := out.(*entity.Base).Get("@child")
	if n, _ := child.(*entity.Base).Get("n"); n != int64(1) {
		t.Errorf("child n = %#v, want 1", n)
	}
}

func TestDeserializeReferenceCycle(t *testing.T) {
	memory := transport.NewMemory("")
	const id = "0123456789abcdef0123456789abcdef"
	memory.SaveObject(context.Background(), id,
		[]byte(`{"id":"`+id+`","self":{"referencedId":"`+id+`","speckle_type":"reference"},"speckle_type":"Base"}`))

	d, err := NewDeserializer(DeserializerConfig{Source: memory})
	if err != nil {
		t.Fatalf("NewDeserializer: %v", err)
	}
	if _, err := d.Deserialize(context.Background(), id); err == nil {
		t.Error("Deserialize of a self-referencing record should fail")
	}
}

func TestNewDeserializerRequiresSource(t *testing.T) {
	if _, err := NewDeserializer(DeserializerConfig{}); err == nil {
		t.Error("NewDeserializer without Source should fail")
	}
}

func deserialize(t *testing.T, source, remote transport.Transport, id string) entity.Entity {
	t.Helper()
	cfg := DeserializerConfig{Source: source, Registry: entity.NewRegistry()}
	if remote != nil {
		cfg.Remote = remote
	}
	d, err := NewDeserializer(cfg)
	if err != nil {
		t.Fatalf("NewDeserializer: %v", err)
	}
	out, err := d.Deserialize(context.Background(), id)
	if err != nil {
		t.Fatalf("Deserialize(%s): %v", id, err)
	}
	return out
}

// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/specklesystems/speckle-go/lib/entity"
	"github.com/specklesystems/speckle-go/lib/objecthash"
	"github.com/specklesystems/speckle-go/lib/serializer"
	"github.com/specklesystems/speckle-go/lib/transport"
	"github.com/specklesystems/speckle-go/lib/transport/sqlite"
)

func sampleGraph(t *testing.T, hasher objecthash.Hasher) (*transport.Memory, *serializer.Result) {
	t.Helper()
	shared := entity.New("Material").Set("name", "concrete")
	root := entity.New("Collection").
		Set("name", "level 2").
		Set("@walls", []any{
			entity.New("Wall").Detach("material").Set("height", 3.5).Set("material", shared),
			entity.New("Wall").Detach("material").Set("height", 2).Set("material", shared),
		}).
		Set("@(4)points", []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9})

	memory := transport.NewMemory("source")
	result, err := serializer.New(serializer.Config{
		Transports: []transport.Transport{memory},
		Hasher:     hasher,
	}).Serialize(context.Background(), root)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	return memory, result
}

func TestExportImportRoundTrip(t *testing.T) {
	for _, compression := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(compression.String(), func(t *testing.T) {
			ctx := context.Background()
			source, result := sampleGraph(t, objecthash.SHA256)

			var buffer bytes.Buffer
			header, err := Export(ctx, &buffer, source, result.ID, ExportOptions{Compression: compression})
			if err != nil {
				t.Fatalf("Export: %v", err)
			}
			if header.Records != source.Len() || header.Root != result.ID || header.Hasher != "sha256" {
				t.Errorf("header = %+v, want %d records rooted at %s", header, source.Len(), result.ID)
			}
			if !bytes.HasPrefix(buffer.Bytes(), []byte("SPKB")) || buffer.Bytes()[4] != byte(compression) {
				t.Errorf("bundle prefix = %q", buffer.Bytes()[:5])
			}

			sink := transport.NewMemory("sink")
			imported, err := Import(ctx, &buffer, sink, ImportOptions{Verify: true})
			if err != nil {
				t.Fatalf("Import: %v", err)
			}
			if imported.Root != result.ID {
				t.Errorf("imported root = %s, want %s", imported.Root, result.ID)
			}
			if !slices.Equal(sink.IDs(), source.IDs()) {
				t.Errorf("sink ids = %v, want %v", sink.IDs(), source.IDs())
			}
			for _, id := range source.IDs() {
				want, _ := source.GetObject(ctx, id)
				got, _ := sink.GetObject(ctx, id)
				if !bytes.Equal(got, want) {
					t.Errorf("record %s differs after import", id)
				}
			}
		})
	}
}

func TestExportIsDeterministic(t *testing.T) {
	ctx := context.Background()
	source, result := sampleGraph(t, objecthash.SHA256)
	var first, second bytes.Buffer
	if _, err := Export(ctx, &first, source, result.ID, ExportOptions{Compression: CompressionZstd}); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if _, err := Export(ctx, &second, source, result.ID, ExportOptions{Compression: CompressionZstd}); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !bytes.Equal(first.Bytes(), second.Bytes()) {
		t.Error("two exports of the same graph differ")
	}
}

func TestImportIntoSQLite(t *testing.T) {
	ctx := context.Background()
	source, result := sampleGraph(t, objecthash.BLAKE3)

	var buffer bytes.Buffer
	if _, err := Export(ctx, &buffer, source, result.ID, ExportOptions{
		Compression: CompressionLZ4,
		Hasher:      "blake3",
	}); err != nil {
		t.Fatalf("Export: %v", err)
	}

	cache, err := sqlite.Open(sqlite.Config{Path: filepath.Join(t.TempDir(), "bundle.db")})
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	defer cache.Close()

	if _, err := Import(ctx, &buffer, cache, ImportOptions{Verify: true}); err != nil {
		t.Fatalf("Import: %v", err)
	}
	present, err := cache.HasObjects(ctx, source.IDs())
	if err != nil {
		t.Fatalf("HasObjects: %v", err)
	}
	for _, id := range source.IDs() {
		if !present[id] {
			t.Errorf("%s missing from cache after import", id)
		}
	}
}

func TestImportVerifyDetectsTampering(t *testing.T) {
	ctx := context.Background()
	source, result := sampleGraph(t, objecthash.SHA256)

	tampered := transport.NewMemory("tampered")
	for _, id := range source.IDs() {
		record, _ := source.GetObject(ctx, id)
		if id != result.ID {
			record = bytes.Replace(record, []byte("concrete"), []byte("plywood!"), 1)
		}
		tampered.SaveObject(ctx, id, record)
	}

	var buffer bytes.Buffer
	if _, err := Export(ctx, &buffer, tampered, result.ID, ExportOptions{}); err != nil {
		t.Fatalf("Export: %v", err)
	}
	raw := buffer.Bytes()

	_, err := Import(ctx, bytes.NewReader(raw), transport.NewMemory(""), ImportOptions{Verify: true})
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("verified Import = %v, want ErrCorrupt", err)
	}
	if _, err := Import(ctx, bytes.NewReader(raw), transport.NewMemory(""), ImportOptions{}); err != nil {
		t.Errorf("unverified Import = %v, want nil", err)
	}
}

func TestImportRejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{"empty", nil},
		{"bad magic", []byte("NOPE\x00")},
		{"truncated", []byte("SPKB\x00\xa1")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Import(context.Background(), bytes.NewReader(tt.input), transport.NewMemory(""), ImportOptions{})
			if !errors.Is(err, ErrCorrupt) {
				t.Errorf("Import = %v, want ErrCorrupt", err)
			}
		})
	}
}

func TestExportMissingDescendant(t *testing.T) {
	ctx := context.Background()
	_, result := sampleGraph(t, objecthash.SHA256)
	partial := transport.NewMemory("partial")
	partial.SaveObject(ctx, result.ID, result.Root)

	_, err := Export(ctx, &bytes.Buffer{}, partial, result.ID, ExportOptions{})
	if !errors.Is(err, transport.ErrNotFound) {
		t.Errorf("Export = %v, want ErrNotFound", err)
	}
}

func TestParseCompression(t *testing.T) {
	for _, name := range []string{"none", "lz4", "zstd"} {
		compression, err := ParseCompression(name)
		if err != nil || compression.String() != name {
			t.Errorf("ParseCompression(%q) = %v, %v", name, compression, err)
		}
	}
	if compression, _ := ParseCompression(""); compression != CompressionZstd {
		t.Errorf("ParseCompression(\"\") = %v, want zstd", compression)
	}
	if _, err := ParseCompression("brotli"); err == nil || !strings.Contains(err.Error(), "brotli") {
		t.Errorf("ParseCompression(brotli) = %v, want error", err)
	}
}

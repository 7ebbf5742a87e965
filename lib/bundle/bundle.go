// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"bufio"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/specklesystems/speckle-go/lib/canonjson"
	"github.com/specklesystems/speckle-go/lib/codec"
	"github.com/specklesystems/speckle-go/lib/entity"
	"github.com/specklesystems/speckle-go/lib/objecthash"
	"github.com/specklesystems/speckle-go/lib/transport"
)

// FormatVersion is the bundle layout written by Export.
const FormatVersion = 1

var magic = [4]byte{'S', 'P', 'K', 'B'}

// Header is the first item of a bundle stream.
type Header struct {
	Version int    `cbor:"version"`
	Root    string `cbor:"root"`
	Hasher  string `cbor:"hasher"`
	Records int    `cbor:"records"`
}

// Entry is one record.
type Entry struct {
	ID     string `cbor:"id"`
	Record []byte `cbor:"record"`
}

// ExportOptions configures Export.
type ExportOptions struct {
	// Compression selects the stream compression. The zero value
	// stores entries uncompressed.
	Compression Compression

	// Hasher names the algorithm the ids were computed with. Recorded
	// in the header so imports can verify. Defaults to sha256.
	Hasher string

	// Logger receives a summary line. Nil discards.
	Logger *slog.Logger
}

// Export writes the record for root and its closure, read from src, to
// w. It returns the header written.
func Export(ctx context.Context, w io.Writer, src transport.Transport, root string, opts ExportOptions) (*Header, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	hasher, err := objecthash.ByName(opts.Hasher)
	if err != nil {
		return nil, fmt.Errorf("bundle: %w", err)
	}

	rootRecord, err := src.GetObject(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("bundle: reading root %s from %s: %w", root, src.Name(), err)
	}
	closure, err := transport.Closure(rootRecord)
	if err != nil {
		return nil, fmt.Errorf("bundle: %w", err)
	}
	ids := make([]string, 0, len(closure))
	for id := range closure {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		return cmp.Or(cmp.Compare(closure[a], closure[b]), cmp.Compare(a, b))
	})

	header := &Header{
		Version: FormatVersion,
		Root:    root,
		Hasher:  hasher.Name(),
		Records: len(ids) + 1,
	}

	buffered := bufio.NewWriter(w)
	if _, err := buffered.Write(magic[:]); err != nil {
		return nil, fmt.Errorf("bundle: writing magic: %w", err)
	}
	compression := opts.Compression
	if err := buffered.WriteByte(byte(compression)); err != nil {
		return nil, fmt.Errorf("bundle: writing compression tag: %w", err)
	}
	stream, err := compressor(buffered, compression)
	if err != nil {
		return nil, err
	}
	frames := codec.NewFrameWriter(stream)
	if err := frames.Write(header); err != nil {
		return nil, fmt.Errorf("bundle: writing header: %w", err)
	}
	if err := frames.Write(Entry{ID: root, Record: rootRecord}); err != nil {
		return nil, fmt.Errorf("bundle: writing %s: %w", root, err)
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := src.GetObject(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("bundle: reading %s from %s: %w", id, src.Name(), err)
		}
		if err := frames.Write(Entry{ID: id, Record: record}); err != nil {
			return nil, fmt.Errorf("bundle: writing %s: %w", id, err)
		}
	}
	if err := stream.Close(); err != nil {
		return nil, fmt.Errorf("bundle: finishing compressed stream: %w", err)
	}
	if err := buffered.Flush(); err != nil {
		return nil, fmt.Errorf("bundle: flushing: %w", err)
	}

	logger.Debug("bundle exported",
		"object_id", root,
		"records", header.Records,
		"compression", compression.String(),
	)
	return header, nil
}

// ImportOptions configures Import.
type ImportOptions struct {
	// Verify rehashes every record and fails on an id mismatch.
	Verify bool

	// Logger receives a summary line. Nil discards.
	Logger *slog.Logger
}

// ErrCorrupt is wrapped by errors for malformed bundles.
var ErrCorrupt = errors.New("bundle: corrupt bundle")

// Import reads a bundle from r and saves every record into sink inside
// one BeginWrite/EndWrite bracket. It returns the header.
func Import(ctx context.Context, r io.Reader, sink transport.Transport, opts ImportOptions) (*Header, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	buffered := bufio.NewReader(r)
	var prefix [5]byte
	if _, err := io.ReadFull(buffered, prefix[:]); err != nil {
		return nil, fmt.Errorf("%w: reading prefix: %w", ErrCorrupt, err)
	}
	if [4]byte(prefix[:4]) != magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorrupt, prefix[:4])
	}
	compression := Compression(prefix[4])
	stream, release, err := decompressor(buffered, compression)
	if err != nil {
		return nil, err
	}
	defer release()

	frames := codec.NewFrameReader(stream)
	var header Header
	if err := frames.Read(&header); err != nil {
		return nil, fmt.Errorf("%w: reading header: %w", ErrCorrupt, err)
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("bundle: unsupported format version %d", header.Version)
	}
	hasher, err := objecthash.ByName(header.Hasher)
	if err != nil {
		return nil, fmt.Errorf("bundle: %w", err)
	}

	sink.BeginWrite(ctx)
	count, importErr := importEntries(ctx, frames, sink, &header, hasher, opts.Verify)
	endErr := sink.EndWrite(ctx)
	if importErr != nil {
		return nil, importErr
	}
	if endErr != nil {
		return nil, fmt.Errorf("bundle: finishing write to %s: %w", sink.Name(), endErr)
	}

	logger.Debug("bundle imported",
		"object_id", header.Root,
		"records", count,
		"sink", sink.Name(),
	)
	return &header, nil
}

func importEntries(ctx context.Context, frames *codec.FrameReader, sink transport.Transport, header *Header, hasher objecthash.Hasher, verify bool) (int, error) {
	count := 0
	for ; count < header.Records; count++ {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		var entry Entry
		if err := frames.Read(&entry); err != nil {
			return count, fmt.Errorf("%w: entry %d of %d: %w", ErrCorrupt, count+1, header.Records, err)
		}
		if count == 0 && entry.ID != header.Root {
			return count, fmt.Errorf("%w: first entry %s is not the root %s", ErrCorrupt, entry.ID, header.Root)
		}
		if verify {
			if err := verifyRecord(hasher, entry); err != nil {
				return count, err
			}
		}
		if err := sink.SaveObject(ctx, entry.ID, entry.Record); err != nil {
			return count, fmt.Errorf("bundle: saving %s into %s: %w", entry.ID, sink.Name(), err)
		}
	}
	return count, nil
}

// verifyRecord recomputes an entry's id from its content.
func verifyRecord(hasher objecthash.Hasher, entry Entry) error {
	object, err := canonjson.UnmarshalObject(entry.Record)
	if err != nil {
		return fmt.Errorf("%w: record %s: %w", ErrCorrupt, entry.ID, err)
	}
	if stored, _ := object[entity.KeyID].(string); stored != entry.ID {
		return fmt.Errorf("%w: record %s carries id %q", ErrCorrupt, entry.ID, stored)
	}
	delete(object, entity.KeyID)
	unhashed, err := canonjson.MarshalObject(object)
	if err != nil {
		return fmt.Errorf("%w: record %s: %w", ErrCorrupt, entry.ID, err)
	}
	if computed := hasher.ID(unhashed); computed != entry.ID {
		return fmt.Errorf("%w: record %s hashes to %s", ErrCorrupt, entry.ID, computed)
	}
	return nil
}

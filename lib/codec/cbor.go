// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	frameEncMode cbor.EncMode
	frameDecMode cbor.DecMode
)

func init() {
	var err error
	if frameEncMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(fmt.Sprintf("codec: frame encoder options: %v", err))
	}
	frameDecMode, err = cbor.DecOptions{
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		IndefLength:     cbor.IndefLengthForbidden,
		MaxNestedLevels: 16,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("codec: frame decoder options: %v", err))
	}
}

// FrameWriter writes a sequence of deterministic CBOR frames.
type FrameWriter struct {
	encoder *cbor.Encoder
	frames  int
}

// NewFrameWriter returns a FrameWriter appending frames to w.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{encoder: frameEncMode.NewEncoder(w)}
}

// Write encodes v as the next frame.
func (fw *FrameWriter) Write(v any) error {
	if err := fw.encoder.Encode(v); err != nil {
		return fmt.Errorf("codec: frame %d: %w", fw.frames+1, err)
	}
	fw.frames++
	return nil
}

// Frames returns the number of frames written so far.
func (fw *FrameWriter) Frames() int { return fw.frames }

// FrameReader reads frames written by a FrameWriter. Duplicate map
// keys and indefinite-length items are rejected.
type FrameReader struct {
	decoder *cbor.Decoder
	frames  int
}

// NewFrameReader returns a FrameReader consuming r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{decoder: frameDecMode.NewDecoder(r)}
}

// Read decodes the next frame into v. It returns io.EOF, unwrapped,
// when the stream ends cleanly between frames.
func (fr *FrameReader) Read(v any) error {
	err := fr.decoder.Decode(v)
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	if err != nil {
		return fmt.Errorf("codec: frame %d at byte %d: %w", fr.frames+1, fr.decoder.NumBytesRead(), err)
	}
	fr.frames++
	return nil
}

// Frames returns the number of frames read so far.
func (fr *FrameReader) Frames() int { return fr.frames }

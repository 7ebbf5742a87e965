// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec frames values as a stream of CBOR items.
//
// Records are always canonical JSON. CBOR only carries the framing
// around them, such as the header and entries of an offline bundle.
// Frames are written with Core Deterministic Encoding (RFC 8949 §4.2),
// so the same values always produce identical bytes:
//
//	fw := codec.NewFrameWriter(w)
//	err := fw.Write(header)
//
//	fr := codec.NewFrameReader(r)
//	err := fr.Read(&header)
//
// Frame types carry `cbor` struct tags.
package codec

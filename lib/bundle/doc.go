// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

// Package bundle writes and reads offline bundles: a root record and
// its full closure in one file, for moving a graph between caches
// without a server.
//
// A bundle is the 4-byte magic "SPKB", one compression tag byte, and a
// compressed stream of deterministic CBOR items: a [Header] followed by
// one [Entry] per record. The root comes first and descendants follow
// by increasing depth, so an import can stop early and still have
// every parent's ancestors.
package bundle

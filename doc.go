// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

// Package speckle is the entry point of the object sync engine.
//
// [Send] decomposes an entity graph into content-addressed records and
// writes them to a set of transports, typically the local SQLite cache
// (lib/transport/sqlite) and the remote object store
// (lib/transport/server). [Receive] rebuilds a graph from a root id,
// pulling the closure from a remote into the local cache on a miss.
// [Serialize] and [Deserialize] do the same conversions without any
// persistent transport.
//
// The building blocks live under lib/: entity (the graph model),
// serializer, transport and its implementations, and objecthash.
package speckle

// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

// Package serializer converts entity graphs to content-addressed records
// and back.
//
// [Serializer.Serialize] walks an [entity.Entity] in member order and
// produces one record per detached entity, one per chunk of a chunked
// list, and one for the root. Each record is canonical JSON (see
// package canonjson) whose id is the hash of its own bytes with the id
// field left out. Records are handed to the configured transports as
// soon as they are complete, children before parents, so a failed walk
// never writes a partial record.
//
// Every detached record carries totalChildrenCount and, when it has
// descendants, a __closure mapping each descendant id to the minimum
// number of detached hops needed to reach it. The root always carries
// __closure, possibly empty.
//
// [Deserializer.Deserialize] is the inverse. It resolves references and
// chunk lists through a read transport, falling back to a remote
// transport that copies the missing closure into the read transport.
// Entities are constructed through an [entity.Registry]; records
// referenced from several places yield one shared instance.
package serializer

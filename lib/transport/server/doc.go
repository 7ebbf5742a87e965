// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

// Package server implements the remote object store transport.
//
// The server exposes three endpoints per stream:
//
//	POST {server}/api/diff/{stream}      form objects=<json id array> -> {"id": bool}
//	POST {server}/objects/{stream}       multipart, gzip batches as batch-N
//	GET  {server}/objects/{stream}/{id}  id<TAB>json<LF> lines, root first
//
// Uploads go through a [BatchSender]: records are grouped into batches
// bounded by bytes and count, queued on a bounded channel, and uploaded
// by a fixed pool of workers. Each worker first asks the diff endpoint
// which ids the server lacks and uploads only those. The first error
// is latched and returned by every later call until the sender is
// discarded.
//
// Downloads stream the closure line by line into a sink transport, so
// memory stays proportional to the longest record.
package server

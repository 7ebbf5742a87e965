// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information.
//
// Four package-level variables are injected at build time via
// -ldflags -X:
//
//	go build -ldflags "-X github.com/specklesystems/speckle-go/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// They default to "unknown" / "0.1.0-dev" during development builds,
// in which case [Info] falls back to the revision the Go toolchain
// stamped into the binary. [UserAgent] identifies this client to the
// server.
package version

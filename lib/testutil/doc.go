// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive] wraps the select-with-timeout pattern so tests that
// wait on goroutines fail instead of hanging. It is the only place
// tests use real wall-clock timeouts; code under test waits on a
// clock.FakeClock.
//
// [UserDataDir] points the user data path at a per-test directory so
// that caches opened with default settings never touch the real home
// directory.
//
// All helpers call t.Fatalf on failure.
package testutil

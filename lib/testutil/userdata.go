// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import "testing"

// UserDataDir creates a temporary directory, exports it as
// SPECKLE_USERDATA_PATH for the rest of the test, and returns it.
// Tests using it cannot run in parallel.
func UserDataDir(t *testing.T) string {
	t.Helper()
	directory := t.TempDir()
	t.Setenv("SPECKLE_USERDATA_PATH", directory)
	return directory
}

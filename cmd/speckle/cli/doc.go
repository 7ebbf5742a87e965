// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command framework of the speckle binary: a tree of
// [Command] values with pflag flag sets, generated help, typo
// suggestions for commands and flags, and [ExitError] for commands that
// report their own failures.
package cli

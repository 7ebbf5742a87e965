// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads client configuration for the object sync engine.
//
// Configuration comes from a single file named by the SPECKLE_CONFIG
// environment variable (via [Load]) or a --config flag (via
// [LoadFile]). There is no discovery. Files are YAML; names ending in
// .json or .jsonc are read as JSON with comments and trailing commas.
//
// Two environment variables override file values: SPECKLE_TOKEN
// replaces the account token and SPECKLE_USERDATA_PATH replaces the
// cache base directory. ${VAR} and ${VAR:-default} patterns in path
// fields are expanded after loading.
//
// [UserDataPath] resolves the per-user directory local caches live in
// when no base path is configured.
//
// This package depends on no other packages of this module.
package config

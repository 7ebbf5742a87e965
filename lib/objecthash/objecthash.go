// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

// Package objecthash computes the content-derived identifiers that name
// every record in the object store.
//
// An object id is the first [IDLength] hex characters of the SHA-256
// digest of the record's canonical JSON (with the "id" field excluded).
// The truncation is part of the wire contract: existing stores key on
// 32-character ids, so changing it invalidates every stored object.
//
// [BLAKE3] is available for scopes that never talk to a server (scratch
// caches, tests). Its ids have the same shape but different values, so
// a graph hashed with BLAKE3 must not be uploaded.
package objecthash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// IDLength is the number of hex characters in an object id.
const IDLength = 32

// Hasher turns serialized bytes into an object id.
type Hasher interface {
	// Name identifies the algorithm in logs and configuration.
	Name() string

	// Sum returns the full lowercase hex digest of data.
	Sum(data []byte) string

	// ID returns the object id for data: the first IDLength hex
	// characters of Sum.
	ID(data []byte) string
}

// SHA256 is the wire hasher. All ids sent to a server use it.
var SHA256 Hasher = sha256Hasher{}

// BLAKE3 is a faster local-only hasher.
var BLAKE3 Hasher = blake3Hasher{}

// Default is the hasher used when none is configured.
var Default = SHA256

type sha256Hasher struct{}

func (sha256Hasher) Name() string { return "sha256" }

func (sha256Hasher) Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (h sha256Hasher) ID(data []byte) string {
	return h.Sum(data)[:IDLength]
}

type blake3Hasher struct{}

func (blake3Hasher) Name() string { return "blake3" }

func (blake3Hasher) Sum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (h blake3Hasher) ID(data []byte) string {
	return h.Sum(data)[:IDLength]
}

// ID hashes data with the default hasher.
func ID(data []byte) string {
	return Default.ID(data)
}

// ByName returns the hasher registered under name ("sha256" or
// "blake3"). An empty name selects Default.
func ByName(name string) (Hasher, error) {
	switch name {
	case "", SHA256.Name():
		return SHA256, nil
	case BLAKE3.Name():
		return BLAKE3, nil
	default:
		return nil, fmt.Errorf("unknown object hasher %q", name)
	}
}

// ValidID reports whether s has the shape of an object id: exactly
// IDLength lowercase hex characters.
func ValidID(s string) bool {
	if len(s) != IDLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

package serializer

import "fmt"

// UnsupportedValueError is returned when a member value cannot be
// represented in a record.
type UnsupportedValueError struct {
	// Path locates the value, e.g. "elements[3].@material.color".
	Path string

	// Value is the offending value.
	Value any

	// Reason, when set, replaces the generic type message.
	Reason string
}

func (e *UnsupportedValueError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("serializer: %s: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("serializer: %s: unsupported value of type %T", e.Path, e.Value)
}

// MissingObjectError is returned when a record needed to rebuild a graph
// is in neither the read transport nor the remote.
type MissingObjectError struct {
	ID  string
	Err error
}

func (e *MissingObjectError) Error() string {
	return fmt.Sprintf("serializer: object %s: %v", e.ID, e.Err)
}

func (e *MissingObjectError) Unwrap() error { return e.Err }

// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnauthorized is matched by errors for 401 and 403 responses.
var ErrUnauthorized = errors.New("server transport: unauthorized")

// HTTPError is a non-success response from the object store.
type HTTPError struct {
	// Op names the request: "diff", "upload" or "download".
	Op string

	// StatusCode is the HTTP status.
	StatusCode int

	// Body is the start of the response body.
	Body string
}

func (err *HTTPError) Error() string {
	if err.Body == "" {
		return fmt.Sprintf("server transport: %s: HTTP %d", err.Op, err.StatusCode)
	}
	return fmt.Sprintf("server transport: %s: HTTP %d: %s", err.Op, err.StatusCode, err.Body)
}

// Unwrap returns ErrUnauthorized for authentication failures so callers
// can use errors.Is.
func (err *HTTPError) Unwrap() error {
	if IsAuthStatus(err.StatusCode) {
		return ErrUnauthorized
	}
	return nil
}

// IsAuthStatus reports whether status is an authentication failure.
func IsAuthStatus(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

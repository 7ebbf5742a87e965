// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides HTTP plumbing shared by the remote transports.
//
// [DecodeResponse] and [ErrorBody] read bounded response bodies. They
// serve small answers such as the diff endpoint and failed requests.
// The object download is streamed line by line and never goes through
// them.
//
// [RetryTransport] retries idempotent failures (network errors and
// gateway statuses) with backoff measured on an injectable clock, and
// [NewHTTPClient] builds a client with the connect timeout and attempt
// count used by the server transport.
package netutil

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

const (
	// MaxJSONResponse bounds the body DecodeResponse will read.
	MaxJSONResponse int64 = 256 << 20

	maxErrorBody = 64 << 10
)

// DecodeResponse JSON-decodes a response body into v. Bodies larger
// than MaxJSONResponse are rejected rather than truncated.
func DecodeResponse(body io.Reader, v any) error {
	data, err := io.ReadAll(&io.LimitedReader{R: body, N: MaxJSONResponse + 1})
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	if int64(len(data)) > MaxJSONResponse {
		return fmt.Errorf("response body exceeds %d bytes", MaxJSONResponse)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding response body: %w", err)
	}
	return nil
}

// ErrorBody returns up to 64 KiB of a failed response's body, trimmed,
// for an error message. Whatever was read before a read error is kept.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
	return strings.TrimSpace(string(data))
}

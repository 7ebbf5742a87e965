// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/specklesystems/speckle-go/lib/clock"
)

const (
	// DefaultAttempts is the number of tries a request gets, including
	// the first.
	DefaultAttempts = 3

	// DefaultConnectTimeout bounds TCP connection establishment.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultBackoff is the wait before the second attempt. Each later
	// wait doubles.
	DefaultBackoff = 500 * time.Millisecond
)

// RetryTransport is an http.RoundTripper that retries requests failing
// with a transient network error or a gateway status. Requests with a
// body are retried only when the body can be replayed through
// Request.GetBody.
type RetryTransport struct {
	// Base performs each attempt. Nil uses http.DefaultTransport.
	Base http.RoundTripper

	// Attempts is the total number of tries. Values below 1 mean
	// DefaultAttempts.
	Attempts int

	// Backoff is the first wait between attempts. Zero means
	// DefaultBackoff.
	Backoff time.Duration

	// Clock measures backoff waits. Nil uses the real clock.
	Clock clock.Clock

	// Logger receives a debug line per retry. Nil discards.
	Logger *slog.Logger
}

// RoundTrip implements http.RoundTripper.
func (t *RetryTransport) RoundTrip(request *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	attempts := t.Attempts
	if attempts < 1 {
		attempts = DefaultAttempts
	}
	backoff := t.Backoff
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	waitClock := t.Clock
	if waitClock == nil {
		waitClock = clock.Real()
	}
	logger := t.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	replayable := request.Body == nil || request.Body == http.NoBody || request.GetBody != nil
	ctx := request.Context()

	for attempt := 1; ; attempt++ {
		current := request
		if attempt > 1 && request.GetBody != nil {
			body, err := request.GetBody()
			if err != nil {
				return nil, fmt.Errorf("replaying request body: %w", err)
			}
			current = request.Clone(ctx)
			current.Body = body
		}

		response, err := base.RoundTrip(current)
		retry := false
		switch {
		case err != nil:
			retry = IsTransient(err)
		case IsTransientStatus(response.StatusCode):
			retry = true
		}
		if !retry || !replayable || attempt >= attempts {
			return response, err
		}

		logger.Debug("retrying request",
			"method", request.Method,
			"url", request.URL.Redacted(),
			"attempt", attempt,
			"error", err,
			"status", statusOf(response),
		)
		if response != nil {
			io.Copy(io.Discard, io.LimitReader(response.Body, 64<<10))
			response.Body.Close()
		}
		if err := clock.Sleep(ctx, waitClock, backoff); err != nil {
			return nil, err
		}
		backoff *= 2
	}
}

func statusOf(response *http.Response) int {
	if response == nil {
		return 0
	}
	return response.StatusCode
}

// ClientConfig configures NewHTTPClient.
type ClientConfig struct {
	// ConnectTimeout bounds connection establishment. Zero means
	// DefaultConnectTimeout.
	ConnectTimeout time.Duration

	// Attempts is passed to RetryTransport.
	Attempts int

	// Clock is passed to RetryTransport.
	Clock clock.Clock

	// Logger is passed to RetryTransport.
	Logger *slog.Logger
}

// NewHTTPClient returns a client whose connections time out after
// ConnectTimeout and whose requests are retried by a RetryTransport.
// The client has no overall timeout; request lifetimes come from the
// request context.
func NewHTTPClient(cfg ClientConfig) *http.Client {
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.DialContext = (&net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	base.TLSHandshakeTimeout = connectTimeout

	return &http.Client{
		Transport: &RetryTransport{
			Base:     base,
			Attempts: cfg.Attempts,
			Clock:    cfg.Clock,
			Logger:   cfg.Logger,
		},
	}
}

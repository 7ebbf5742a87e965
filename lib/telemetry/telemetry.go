// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry reports send and receive operations to a sink.
//
// Reporting is fire-and-forget: a sink error or panic is logged and
// swallowed, never returned to the operation that produced the event.
//
//	op := notifier.Start("send", map[string]any{"stream_id": stream})
//	rootID, err := doSend()
//	op.End(ctx, err)
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/specklesystems/speckle-go/lib/clock"
)

// Status is the outcome of an operation.
type Status uint8

const (
	StatusOK    Status = 1
	StatusError Status = 2
)

// String returns "ok" or "error".
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// MarshalText renders the status name.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Event describes one finished operation.
type Event struct {
	// OperationID is unique per operation and appears in the
	// operation's log lines as operation_id.
	OperationID uuid.UUID `json:"operation_id"`

	// Operation names the work: "send" or "receive".
	Operation string `json:"operation"`

	// StartTime is Unix nanoseconds.
	StartTime int64 `json:"start_time"`

	// Duration is in nanoseconds.
	Duration int64 `json:"duration"`

	Status        Status `json:"status"`
	StatusMessage string `json:"status_message,omitempty"`

	// Attributes are operation-specific values such as stream_id,
	// object_id and records.
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Sink receives events.
type Sink interface {
	Emit(ctx context.Context, event Event) error
}

// Discard is a Sink that drops every event.
var Discard Sink = discardSink{}

type discardSink struct{}

func (discardSink) Emit(context.Context, Event) error { return nil }

// Notifier stamps and dispatches events.
type Notifier struct {
	sink   Sink
	clock  clock.Clock
	logger *slog.Logger
}

// NewNotifier returns a Notifier. Nil sink, clock or logger default to
// Discard, the real clock and a discard logger.
func NewNotifier(sink Sink, c clock.Clock, logger *slog.Logger) *Notifier {
	if sink == nil {
		sink = Discard
	}
	if c == nil {
		c = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Notifier{sink: sink, clock: c, logger: logger}
}

// Operation is an operation in progress.
type Operation struct {
	notifier   *Notifier
	id         uuid.UUID
	name       string
	start      int64
	attributes map[string]any
}

// Start begins an operation. A nil Notifier yields an Operation whose
// End does nothing.
func (n *Notifier) Start(name string, attributes map[string]any) *Operation {
	if n == nil {
		return &Operation{id: uuid.New(), name: name}
	}
	copied := make(map[string]any, len(attributes))
	for key, value := range attributes {
		copied[key] = value
	}
	return &Operation{
		notifier:   n,
		id:         uuid.New(),
		name:       name,
		start:      n.clock.Now().UnixNano(),
		attributes: copied,
	}
}

// ID returns the operation id.
func (o *Operation) ID() uuid.UUID { return o.id }

// Set adds an attribute reported when the operation ends.
func (o *Operation) Set(key string, value any) {
	if o.attributes != nil {
		o.attributes[key] = value
	}
}

// End reports the operation with err as its outcome.
func (o *Operation) End(ctx context.Context, err error) {
	n := o.notifier
	if n == nil {
		return
	}
	event := Event{
		OperationID: o.id,
		Operation:   o.name,
		StartTime:   o.start,
		Duration:    n.clock.Now().UnixNano() - o.start,
		Status:      StatusOK,
		Attributes:  o.attributes,
	}
	if err != nil {
		event.Status = StatusError
		event.StatusMessage = err.Error()
	}
	n.emit(ctx, event)
}

func (n *Notifier) emit(ctx context.Context, event Event) {
	defer func() {
		if recovered := recover(); recovered != nil {
			n.logger.Warn("telemetry sink panicked",
				"operation", event.Operation,
				"operation_id", event.OperationID.String(),
				"panic", fmt.Sprint(recovered),
			)
		}
	}()
	if err := n.sink.Emit(ctx, event); err != nil {
		n.logger.Debug("telemetry sink failed",
			"operation", event.Operation,
			"operation_id", event.OperationID.String(),
			"error", err,
		)
	}
}

// WriterSink writes each event as one JSON line.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink returns a sink writing JSON lines to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// Emit implements Sink.
func (s *WriterSink) Emit(_ context.Context, event Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("telemetry: encoding event: %w", err)
	}
	line = append(line, '\n')
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.w.Write(line)
	return err
}

// Recorder is a Sink that keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Sink.
func (r *Recorder) Emit(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

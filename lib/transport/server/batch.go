// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/specklesystems/speckle-go/lib/netutil"
)

// Batch defaults.
const (
	DefaultMaxBatchBytes  = 1000 * 1000
	DefaultMaxBatchLength = 20000
	DefaultQueueCapacity  = 10
	DefaultWorkers        = 4
)

// BatchConfig configures a BatchSender.
type BatchConfig struct {
	// ServerURL is the server base URL. Required.
	ServerURL string

	// StreamID is the target stream. Required.
	StreamID string

	// Token is sent as a bearer token when non-empty.
	Token string

	// MaxBatchBytes bounds the serialized bytes in one batch.
	MaxBatchBytes int

	// MaxBatchLength bounds the records in one batch.
	MaxBatchLength int

	// QueueCapacity bounds batches waiting for a worker. SendObject
	// blocks when the queue is full.
	QueueCapacity int

	// Workers is the number of upload goroutines.
	Workers int

	// HTTPClient, when set, is shared by every worker. Otherwise each
	// worker builds its own from Client.
	HTTPClient *http.Client

	// Client configures per-worker clients.
	Client netutil.ClientConfig

	// Logger receives batch progress. Defaults to slog.Default().
	Logger *slog.Logger
}

// BatchStats counts a sender's work.
type BatchStats struct {
	// Accepted is the number of records handed to SendObject, counting
	// each id once per run.
	Accepted int64

	// Batches is the number of batches workers have processed.
	Batches int64

	// Uploaded is the number of records posted to the server.
	Uploaded int64

	// Skipped is the number of records the server already had.
	Skipped int64
}

type pendingRecord struct {
	id         string
	serialized []byte
}

// BatchSender groups records into batches and uploads them with a pool
// of workers. SendObject and Flush may be called from several
// goroutines.
type BatchSender struct {
	api    *api
	config BatchConfig
	logger *slog.Logger

	// mu guards the current batch, the ids accepted this run, the queue
	// and worker lifecycle. Workers never take it.
	mu         sync.Mutex
	batch      []pendingRecord
	batchBytes int
	seen       map[string]struct{}
	queue      chan []pendingRecord
	running    bool
	workers    sync.WaitGroup
	workerCtx  context.Context
	cancel     context.CancelFunc

	errMu sync.Mutex
	err   error

	accepted atomic.Int64
	batches  atomic.Int64
	uploaded atomic.Int64
	skipped  atomic.Int64
}

// NewBatchSender validates cfg and returns an idle sender. Workers
// start on the first SendObject.
func NewBatchSender(cfg BatchConfig) (*BatchSender, error) {
	a, err := newAPI(cfg.ServerURL, cfg.StreamID, cfg.Token)
	if err != nil {
		return nil, err
	}
	if cfg.MaxBatchBytes <= 0 {
		cfg.MaxBatchBytes = DefaultMaxBatchBytes
	}
	if cfg.MaxBatchLength <= 0 {
		cfg.MaxBatchLength = DefaultMaxBatchLength
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Client.Logger == nil {
		cfg.Client.Logger = logger
	}
	return &BatchSender{
		api:    a,
		config: cfg,
		logger: logger,
		seen:   make(map[string]struct{}),
	}, nil
}

// SendObject adds a record to the current batch, queueing the batch
// first if the record would overflow it. It blocks while the queue is
// full and returns the run's latched error, if any, without accepting
// the record. A record larger than MaxBatchBytes travels alone.
func (s *BatchSender) SendObject(ctx context.Context, id string, serialized []byte) error {
	if err := s.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[id]; ok {
		return nil
	}
	s.seen[id] = struct{}{}
	s.accepted.Add(1)
	s.startLocked()

	size := len(serialized)
	if len(s.batch) > 0 &&
		(s.batchBytes+size > s.config.MaxBatchBytes || len(s.batch)+1 > s.config.MaxBatchLength) {
		full := s.batch
		s.batch = nil
		s.batchBytes = 0
		if err := s.enqueueLocked(ctx, full); err != nil {
			s.latch(err)
			return err
		}
	}
	s.batch = append(s.batch, pendingRecord{id: id, serialized: append([]byte(nil), serialized...)})
	s.batchBytes += size
	return nil
}

// Flush queues the partial batch, waits for the workers to drain the
// queue, and returns the latched error. It ends the run: the next
// SendObject starts fresh workers with no latched error and offers
// every record to the server again, so a failed send can be retried on
// the same sender.
func (s *BatchSender) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return s.endRunLocked()
	}
	if len(s.batch) > 0 {
		full := s.batch
		s.batch = nil
		s.batchBytes = 0
		if err := s.enqueueLocked(ctx, full); err != nil {
			s.latch(err)
		}
	}
	close(s.queue)
	s.running = false

	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.cancel()
		<-done
		s.latch(ctx.Err())
	}
	s.cancel()

	stats := s.Stats()
	s.logger.Debug("batch sender flushed",
		"stream_id", s.config.StreamID,
		"accepted", stats.Accepted,
		"batches", stats.Batches,
		"uploaded", stats.Uploaded,
		"skipped", stats.Skipped,
	)
	return s.endRunLocked()
}

// endRunLocked clears the latched error and the accepted ids once the
// workers are gone, and returns the error the run ended with.
func (s *BatchSender) endRunLocked() error {
	s.errMu.Lock()
	err := s.err
	s.err = nil
	s.errMu.Unlock()
	clear(s.seen)
	return err
}

// Err returns the error latched in the current run.
func (s *BatchSender) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Stats returns a snapshot of the counters.
func (s *BatchSender) Stats() BatchStats {
	return BatchStats{
		Accepted: s.accepted.Load(),
		Batches:  s.batches.Load(),
		Uploaded: s.uploaded.Load(),
		Skipped:  s.skipped.Load(),
	}
}

// latch records err if no error is latched yet.
func (s *BatchSender) latch(err error) {
	s.errMu.Lock()
	first := s.err == nil
	if first {
		s.err = err
	}
	s.errMu.Unlock()

	if first {
		s.logger.Error("batch upload failed",
			"stream_id", s.config.StreamID,
			"error", err,
		)
	}
}

func (s *BatchSender) startLocked() {
	if s.running {
		return
	}
	s.running = true
	s.queue = make(chan []pendingRecord, s.config.QueueCapacity)
	s.workerCtx, s.cancel = context.WithCancel(context.Background())
	for worker := range s.config.Workers {
		client := s.config.HTTPClient
		if client == nil {
			client = netutil.NewHTTPClient(s.config.Client)
		}
		s.workers.Add(1)
		go s.work(s.workerCtx, s.cancel, worker, s.queue, client)
	}
}

func (s *BatchSender) enqueueLocked(ctx context.Context, batch []pendingRecord) error {
	select {
	case s.queue <- batch:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("server transport: queueing batch: %w", ctx.Err())
	}
}

// work processes batches until the queue is closed. Once the context is
// cancelled it keeps draining so producers never block forever. An
// authentication failure cancels every worker of this run.
func (s *BatchSender) work(ctx context.Context, cancel context.CancelFunc, worker int, queue <-chan []pendingRecord, client *http.Client) {
	defer s.workers.Done()
	for batch := range queue {
		if ctx.Err() != nil || s.Err() != nil {
			continue
		}
		if err := s.send(ctx, client, batch); err != nil {
			s.latch(err)
			if errors.Is(err, ErrUnauthorized) {
				cancel()
			}
			continue
		}
		s.batches.Add(1)
		s.logger.Debug("batch processed",
			"stream_id", s.config.StreamID,
			"worker", worker,
			"batch_records", len(batch),
		)
	}
}

func (s *BatchSender) send(ctx context.Context, client *http.Client, batch []pendingRecord) error {
	ids := make([]string, len(batch))
	for i, record := range batch {
		ids[i] = record.id
	}
	present, err := s.api.diff(ctx, client, ids)
	if err != nil {
		return err
	}

	var missing [][]byte
	for _, record := range batch {
		if !present[record.id] {
			missing = append(missing, record.serialized)
		}
	}
	s.skipped.Add(int64(len(batch) - len(missing)))
	if len(missing) == 0 {
		s.logger.Debug("batch already on server",
			"stream_id", s.config.StreamID,
			"batch_records", len(batch),
		)
		return nil
	}
	if err := s.api.upload(ctx, client, missing); err != nil {
		return err
	}
	s.uploaded.Add(int64(len(missing)))
	return nil
}

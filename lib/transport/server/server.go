// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/specklesystems/speckle-go/lib/netutil"
	"github.com/specklesystems/speckle-go/lib/transport"
)

// Config configures a Transport. The batch fields of BatchConfig apply
// to uploads; HTTPClient and Client also serve downloads and presence
// checks.
type Config = BatchConfig

// Transport is the remote object store. Point reads are not supported;
// use CopyObjectAndChildren to pull a closure into a local transport.
type Transport struct {
	api    *api
	sender *BatchSender
	client *http.Client
	logger *slog.Logger
}

var _ transport.Transport = (*Transport)(nil)

// New returns a Transport for cfg.
func New(cfg Config) (*Transport, error) {
	sender, err := NewBatchSender(cfg)
	if err != nil {
		return nil, err
	}
	client := sender.config.HTTPClient
	if client == nil {
		client = netutil.NewHTTPClient(sender.config.Client)
	}
	return &Transport{
		api:    sender.api,
		sender: sender,
		client: client,
		logger: sender.logger,
	}, nil
}

// Name returns "server:" followed by the stream id.
func (t *Transport) Name() string { return "server:" + t.api.streamID }

// StreamID returns the target stream.
func (t *Transport) StreamID() string { return t.api.streamID }

// Stats returns the upload counters.
func (t *Transport) Stats() BatchStats { return t.sender.Stats() }

// BeginWrite is a no-op; the sender starts on the first save.
func (t *Transport) BeginWrite(context.Context) {}

// EndWrite flushes pending uploads and returns the latched error.
func (t *Transport) EndWrite(ctx context.Context) error {
	return t.sender.Flush(ctx)
}

// SaveObject hands the record to the batch sender.
func (t *Transport) SaveObject(ctx context.Context, id string, serialized []byte) error {
	return t.sender.SendObject(ctx, id, serialized)
}

// HasObjects asks the diff endpoint.
func (t *Transport) HasObjects(ctx context.Context, ids []string) (map[string]bool, error) {
	if len(ids) == 0 {
		return map[string]bool{}, nil
	}
	return t.api.diff(ctx, t.client, ids)
}

// GetObject is not supported by the object store.
func (t *Transport) GetObject(context.Context, string) ([]byte, error) {
	return nil, fmt.Errorf("server transport: point reads: %w", transport.ErrUnsupported)
}

// CopyObjectAndChildren downloads the closure of id and saves each
// record into sink as it arrives, inside one BeginWrite/EndWrite
// bracket. It returns the root record.
func (t *Transport) CopyObjectAndChildren(ctx context.Context, id string, sink transport.Transport) ([]byte, error) {
	body, err := t.api.download(ctx, t.client, id)
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s: %w", transport.ErrNotFound, id, err)
		}
		return nil, err
	}
	defer body.Close()

	sink.BeginWrite(ctx)
	root, count, copyErr := t.stream(ctx, id, body, sink)
	endErr := sink.EndWrite(ctx)
	if copyErr != nil {
		return nil, copyErr
	}
	if endErr != nil {
		return nil, fmt.Errorf("server transport: finishing copy into %s: %w", sink.Name(), endErr)
	}
	if root == nil {
		return nil, fmt.Errorf("server transport: download of %s did not include it: %w", id, transport.ErrNotFound)
	}

	t.logger.Debug("copied object closure",
		"stream_id", t.api.streamID,
		"object_id", id,
		"sink", sink.Name(),
		"records", count,
	)
	return root, nil
}

// stream reads id<TAB>json lines and saves each into sink before
// reading the next.
func (t *Transport) stream(ctx context.Context, id string, body io.Reader, sink transport.Transport) ([]byte, int, error) {
	reader := bufio.NewReaderSize(body, 64<<10)
	var (
		root  []byte
		count int
	)
	for {
		line, readErr := reader.ReadBytes('\n')
		line = bytes.TrimRight(line, "\r\n")
		if len(line) > 0 {
			recordID, serialized, ok := bytes.Cut(line, []byte{'\t'})
			if !ok {
				return nil, count, fmt.Errorf("server transport: malformed line %d in download of %s", count+1, id)
			}
			if err := sink.SaveObject(ctx, string(recordID), serialized); err != nil {
				return nil, count, fmt.Errorf("server transport: saving %s into %s: %w", recordID, sink.Name(), err)
			}
			if root == nil && string(recordID) == id {
				root = append([]byte(nil), serialized...)
			}
			count++
		}
		if readErr == io.EOF {
			return root, count, nil
		}
		if readErr != nil {
			return nil, count, fmt.Errorf("server transport: reading download of %s: %w", id, readErr)
		}
	}
}

// Copyright 2026 The Speckle Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"runtime"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/specklesystems/speckle-go/lib/entity"
	"github.com/specklesystems/speckle-go/lib/serializer"
	"github.com/specklesystems/speckle-go/lib/testutil"
	"github.com/specklesystems/speckle-go/lib/transport"
)

const (
	testStream = "stream1"
	testToken  = "secret-token"
)

// fakeObjectStore implements the three object endpoints for one
// stream over an in-memory map.
type fakeObjectStore struct {
	t *testing.T

	mu           sync.Mutex
	objects      map[string][]byte
	diffCalls    int
	uploadCalls  int
	uploaded     []string
	uploadStatus int

	diffEntered chan struct{}
	diffRelease chan struct{}
}

func newFakeObjectStore(t *testing.T) (*fakeObjectStore, *httptest.Server) {
	store := &fakeObjectStore{t: t, objects: make(map[string][]byte)}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/diff/{stream}", store.handleDiff)
	mux.HandleFunc("POST /objects/{stream}", store.handleUpload)
	mux.HandleFunc("GET /objects/{stream}/{id}", store.handleDownload)
	server := httptest.NewServer(store.checkHeaders(mux))
	t.Cleanup(server.Close)
	return store, server
}

func (f *fakeObjectStore) checkHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer "+testToken {
			http.Error(w, "bad token", http.StatusUnauthorized)
			return
		}
		if got := r.Header.Get("Accept"); got != "text/plain" {
			f.t.Errorf("%s %s: Accept = %q, want text/plain", r.Method, r.URL.Path, got)
		}
		if got := r.Header.Get("User-Agent"); !strings.HasPrefix(got, "speckle-go/") {
			f.t.Errorf("%s %s: User-Agent = %q", r.Method, r.URL.Path, got)
		}
		next.ServeHTTP(w, r)
	})
}

func (f *fakeObjectStore) put(id string, serialized []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[id] = serialized
}

// holdDiffs makes every diff request wait for release to be closed.
// entered receives once per held request, when there is room.
func (f *fakeObjectStore) holdDiffs() (entered <-chan struct{}, release chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.diffEntered = make(chan struct{}, 1)
	f.diffRelease = make(chan struct{})
	return f.diffEntered, f.diffRelease
}

func (f *fakeObjectStore) handleDiff(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	entered, release := f.diffEntered, f.diffRelease
	f.mu.Unlock()
	if release != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.diffCalls++
	var ids []string
	if err := json.Unmarshal([]byte(r.FormValue("objects")), &ids); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	answer := make(map[string]bool, len(ids))
	for _, id := range ids {
		_, answer[id] = f.objects[id]
	}
	json.NewEncoder(w).Encode(answer)
}

func (f *fakeObjectStore) handleUpload(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadCalls++
	if f.uploadStatus != 0 {
		http.Error(w, "upload refused", f.uploadStatus)
		return
	}
	file, header, err := r.FormFile("batch-1")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()
	if got := header.Header.Get("Content-Type"); got != "application/gzip" {
		f.t.Errorf("batch content type = %q, want application/gzip", got)
	}
	reader, err := gzip.NewReader(file)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var records []json.RawMessage
	if err := json.NewDecoder(reader).Decode(&records); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	for _, record := range records {
		var head struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(record, &head); err != nil || head.ID == "" {
			http.Error(w, "record without id", http.StatusBadRequest)
			return
		}
		f.objects[head.ID] = record
		f.uploaded = append(f.uploaded, head.ID)
	}
	w.WriteHeader(http.StatusCreated)
}

func (f *fakeObjectStore) handleDownload(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := r.PathValue("id")
	root, ok := f.objects[id]
	if !ok {
		http.NotFound(w, r)
		return
	}
	closure, err := transport.Closure(root)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	fmt.Fprintf(w, "%s\t%s\n", id, root)
	children := make([]string, 0, len(closure))
	for child := range closure {
		children = append(children, child)
	}
	slices.Sort(children)
	for _, child := range children {
		fmt.Fprintf(w, "%s\t%s\n", child, f.objects[child])
	}
}

func testRecord(i int) (string, []byte) {
	id := fmt.Sprintf("%032x", i)
	return id, []byte(fmt.Sprintf(`{"id":"%s","name":"r%04d","speckle_type":"Base"}`, id, i))
}

func (f *fakeObjectStore) uploads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.uploaded)
}

func (f *fakeObjectStore) calls() (diff, upload int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.diffCalls, f.uploadCalls
}

func newTestSender(t *testing.T, server *httptest.Server, modify func(*BatchConfig)) *BatchSender {
	t.Helper()
	cfg := BatchConfig{
		ServerURL:  server.URL,
		StreamID:   testStream,
		Token:      testToken,
		HTTPClient: server.Client(),
	}
	if modify != nil {
		modify(&cfg)
	}
	sender, err := NewBatchSender(cfg)
	if err != nil {
		t.Fatalf("NewBatchSender: %v", err)
	}
	return sender
}

func TestBatchSenderSkipsObjectsOnServer(t *testing.T) {
	store, server := newFakeObjectStore(t)
	existingID, existing := testRecord(1)
	store.put(existingID, existing)

	sender := newTestSender(t, server, nil)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		id, record := testRecord(i)
		if err := sender.SendObject(ctx, id, record); err != nil {
			t.Fatalf("SendObject(%d): %v", i, err)
		}
	}
	if err := sender.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	id2, _ := testRecord(2)
	id3, _ := testRecord(3)
	uploaded := store.uploads()
	slices.Sort(uploaded)
	if want := []string{id2, id3}; !slices.Equal(uploaded, want) {
		t.Errorf("uploaded = %v, want %v", uploaded, want)
	}
	stats := sender.Stats()
	if stats.Accepted != 3 || stats.Uploaded != 2 || stats.Skipped != 1 || stats.Batches != 1 {
		t.Errorf("stats = %+v, want 3 accepted, 2 uploaded, 1 skipped, 1 batch", stats)
	}
}

func TestBatchSenderSplitsBatches(t *testing.T) {
	store, server := newFakeObjectStore(t)
	_, sample := testRecord(0)
	sender := newTestSender(t, server, func(cfg *BatchConfig) {
		cfg.MaxBatchBytes = 3 * len(sample)
		cfg.Workers = 2
		cfg.QueueCapacity = 1
	})

	ctx := context.Background()
	const total = 25
	var want []string
	for i := range total {
		id, record := testRecord(i)
		want = append(want, id)
		if err := sender.SendObject(ctx, id, record); err != nil {
			t.Fatalf("SendObject(%d): %v", i, err)
		}
	}
	if err := sender.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	got := store.uploads()
	slices.Sort(got)
	if !slices.Equal(got, want) {
		t.Errorf("uploaded %d records, want each of %d exactly once", len(got), total)
	}
	if _, uploadCalls := store.calls(); uploadCalls != 9 {
		t.Errorf("upload calls = %d, want 9", uploadCalls)
	}
	if stats := sender.Stats(); stats.Batches != 9 {
		t.Errorf("batches = %d, want 9", stats.Batches)
	}
}

func TestBatchSenderMaxLength(t *testing.T) {
	store, server := newFakeObjectStore(t)
	sender := newTestSender(t, server, func(cfg *BatchConfig) {
		cfg.MaxBatchLength = 2
	})
	ctx := context.Background()
	for i := range 5 {
		id, record := testRecord(i)
		sender.SendObject(ctx, id, record)
	}
	if err := sender.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if diffCalls, _ := store.calls(); diffCalls != 3 {
		t.Errorf("diff calls = %d, want 3", diffCalls)
	}
}

func TestBatchSenderOversizedRecordTravelsAlone(t *testing.T) {
	store, server := newFakeObjectStore(t)
	sender := newTestSender(t, server, func(cfg *BatchConfig) {
		cfg.MaxBatchBytes = 10
	})
	ctx := context.Background()
	for i := range 3 {
		id, record := testRecord(i)
		sender.SendObject(ctx, id, record)
	}
	if err := sender.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	_, uploadCalls := store.calls()
	if uploaded := store.uploads(); uploadCalls != 3 || len(uploaded) != 3 {
		t.Errorf("upload calls = %d with %d records, want 3 and 3", uploadCalls, len(uploaded))
	}
}

func TestBatchSenderIdempotentResend(t *testing.T) {
	store, server := newFakeObjectStore(t)
	ctx := context.Background()
	for run := range 2 {
		sender := newTestSender(t, server, nil)
		for i := range 4 {
			id, record := testRecord(i)
			sender.SendObject(ctx, id, record)
			sender.SendObject(ctx, id, record)
		}
		if err := sender.Flush(ctx); err != nil {
			t.Fatalf("run %d: Flush: %v", run, err)
		}
	}
	if uploaded := store.uploads(); len(uploaded) != 4 {
		t.Errorf("uploaded %d records across two runs, want 4", len(uploaded))
	}
	if _, uploadCalls := store.calls(); uploadCalls != 1 {
		t.Errorf("upload calls = %d, want 1", uploadCalls)
	}
}

func TestBatchSenderRestartsAfterFlush(t *testing.T) {
	store, server := newFakeObjectStore(t)
	sender := newTestSender(t, server, nil)
	ctx := context.Background()

	id, record := testRecord(1)
	sender.SendObject(ctx, id, record)
	if err := sender.Flush(ctx); err != nil {
		t.Fatalf("first Flush: %v", err)
	}
	id, record = testRecord(2)
	if err := sender.SendObject(ctx, id, record); err != nil {
		t.Fatalf("SendObject after Flush: %v", err)
	}
	if err := sender.Flush(ctx); err != nil {
		t.Fatalf("second Flush: %v", err)
	}
	if uploaded := store.uploads(); len(uploaded) != 2 {
		t.Errorf("uploaded = %v, want 2 records", uploaded)
	}
	if err := sender.Flush(ctx); err != nil {
		t.Errorf("idle Flush: %v", err)
	}
}

func TestBatchSenderUnauthorized(t *testing.T) {
	_, server := newFakeObjectStore(t)
	sender := newTestSender(t, server, func(cfg *BatchConfig) {
		cfg.Token = "wrong"
	})
	ctx := context.Background()
	id, record := testRecord(1)
	if err := sender.SendObject(ctx, id, record); err != nil {
		t.Fatalf("SendObject: %v", err)
	}

	err := sender.Flush(ctx)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Flush = %v, want ErrUnauthorized", err)
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusUnauthorized || httpErr.Op != "diff" {
		t.Errorf("error = %#v, want diff HTTPError with 401", err)
	}

	if err := sender.Err(); err != nil {
		t.Errorf("Err after Flush = %v, want the run's error cleared", err)
	}
	id, record = testRecord(2)
	if err := sender.SendObject(ctx, id, record); err != nil {
		t.Fatalf("SendObject in a new run: %v", err)
	}
	if err := sender.Flush(ctx); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("second Flush = %v, want ErrUnauthorized again", err)
	}
}

func TestBatchSenderLatchesUploadFailure(t *testing.T) {
	store, server := newFakeObjectStore(t)
	store.mu.Lock()
	store.uploadStatus = http.StatusInternalServerError
	store.mu.Unlock()
	sender := newTestSender(t, server, func(cfg *BatchConfig) {
		cfg.MaxBatchLength = 1
		cfg.Workers = 1
	})
	ctx := context.Background()
	for i := range 3 {
		id, record := testRecord(i)
		sender.SendObject(ctx, id, record)
	}
	err := sender.Flush(ctx)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("Flush = %v, want upload HTTPError 500", err)
	}
	if errors.Is(err, ErrUnauthorized) {
		t.Error("500 should not match ErrUnauthorized")
	}
	if _, uploadCalls := store.calls(); uploadCalls != 1 {
		t.Errorf("upload calls = %d, want 1", uploadCalls)
	}
}

func TestBatchSenderRejectsSavesAfterFailureInRun(t *testing.T) {
	store, server := newFakeObjectStore(t)
	store.mu.Lock()
	store.uploadStatus = http.StatusInternalServerError
	store.mu.Unlock()
	sender := newTestSender(t, server, func(cfg *BatchConfig) {
		cfg.MaxBatchLength = 1
		cfg.Workers = 1
	})
	ctx := context.Background()

	id, record := testRecord(0)
	sender.SendObject(ctx, id, record)
	id, record = testRecord(1)
	sender.SendObject(ctx, id, record)
	// The first batch is with the worker; wait for its upload to fail.
	deadline := time.Now().Add(5 * time.Second)
	for sender.Err() == nil {
		if time.Now().After(deadline) {
			t.Fatal("upload failure was never latched")
		}
		runtime.Gosched()
	}
	id, record = testRecord(2)
	var httpErr *HTTPError
	if err := sender.SendObject(ctx, id, record); !errors.As(err, &httpErr) {
		t.Errorf("SendObject after a failed upload = %v, want the latched HTTPError", err)
	}
	sender.Flush(ctx)
}

func TestTransportRetriesAfterFailedSend(t *testing.T) {
	store, server := newFakeObjectStore(t)
	presentID, present := testRecord(0)
	store.put(presentID, present)
	store.mu.Lock()
	store.uploadStatus = http.StatusInternalServerError
	store.mu.Unlock()

	remote := newTestTransport(t, server)
	ctx := context.Background()
	save := func() {
		t.Helper()
		remote.BeginWrite(ctx)
		for i := range 3 {
			id, record := testRecord(i)
			if err := remote.SaveObject(ctx, id, record); err != nil {
				t.Fatalf("SaveObject(%d): %v", i, err)
			}
		}
	}

	save()
	var httpErr *HTTPError
	if err := remote.EndWrite(ctx); !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("EndWrite = %v, want upload HTTPError 500", err)
	}
	if uploaded := store.uploads(); len(uploaded) != 0 {
		t.Fatalf("uploaded = %v during the outage", uploaded)
	}

	store.mu.Lock()
	store.uploadStatus = 0
	store.mu.Unlock()

	save()
	if err := remote.EndWrite(ctx); err != nil {
		t.Fatalf("EndWrite after recovery: %v", err)
	}
	id1, _ := testRecord(1)
	id2, _ := testRecord(2)
	uploaded := store.uploads()
	slices.Sort(uploaded)
	if want := []string{id1, id2}; !slices.Equal(uploaded, want) {
		t.Errorf("uploaded = %v, want only the records the server lacked %v", uploaded, want)
	}
}

func TestBatchSenderBlocksWhenQueueFull(t *testing.T) {
	store, server := newFakeObjectStore(t)
	entered, release := store.holdDiffs()
	sender := newTestSender(t, server, func(cfg *BatchConfig) {
		cfg.Workers = 1
		cfg.QueueCapacity = 1
		cfg.MaxBatchLength = 1
	})
	ctx := context.Background()

	send := func(i int) {
		t.Helper()
		id, record := testRecord(i)
		if err := sender.SendObject(ctx, id, record); err != nil {
			t.Fatalf("SendObject(%d): %v", i, err)
		}
	}
	// Record 1 queues record 0, which the only worker takes into a
	// held diff. Record 2 queues record 1 and fills the queue.
	send(0)
	send(1)
	testutil.RequireReceive(t, entered, 5*time.Second, "waiting for the worker to reach diff")
	send(2)

	blockedCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		id, record := testRecord(3)
		done <- sender.SendObject(blockedCtx, id, record)
	}()
	select {
	case err := <-done:
		t.Fatalf("SendObject returned %v with the queue full", err)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	err := testutil.RequireReceive(t, done, 5*time.Second, "waiting for the blocked SendObject")
	if !errors.Is(err, context.Canceled) || !strings.Contains(err.Error(), "queueing batch") {
		t.Errorf("blocked SendObject = %v, want a cancelled queueing error", err)
	}

	close(release)
	if err := sender.Flush(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Flush = %v, want the run to end with the cancellation", err)
	}
}

func TestNewBatchSenderValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  BatchConfig
	}{
		{"no stream", BatchConfig{ServerURL: "https://example.test"}},
		{"bad scheme", BatchConfig{ServerURL: "ftp://example.test", StreamID: "s"}},
		{"no host", BatchConfig{ServerURL: "https://", StreamID: "s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewBatchSender(tt.cfg); err == nil {
				t.Error("NewBatchSender succeeded, want error")
			}
		})
	}
}

func newTestTransport(t *testing.T, server *httptest.Server) *Transport {
	t.Helper()
	remote, err := New(Config{
		ServerURL:  server.URL + "/",
		StreamID:   testStream,
		Token:      testToken,
		HTTPClient: server.Client(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return remote
}

func TestTransportSendAndReceive(t *testing.T) {
	_, server := newFakeObjectStore(t)
	remote := newTestTransport(t, server)
	ctx := context.Background()

	material := entity.New("Material").Set("color", "red")
	root := entity.New("Collection").
		Set("@elements", []any{
			entity.New("Wall").Detach("material").Set("height", 3).Set("material", material),
			entity.New("Wall").Detach("material").Set("height", 4).Set("material", material),
		}).
		Chunk("points", 2).Set("points", []float64{1, 2, 3, 4, 5})

	local := transport.NewMemory("local")
	result, err := serializer.New(serializer.Config{
		Transports: []transport.Transport{local, remote},
	}).Serialize(ctx, root)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if stats := remote.Stats(); stats.Uploaded != int64(local.Len()) {
		t.Errorf("uploaded %d records, want %d", stats.Uploaded, local.Len())
	}

	present, err := remote.HasObjects(ctx, append(local.IDs(), "ffffffffffffffffffffffffffffffff"))
	if err != nil {
		t.Fatalf("HasObjects: %v", err)
	}
	for _, id := range local.IDs() {
		if !present[id] {
			t.Errorf("HasObjects[%s] = false after send", id)
		}
	}
	if present["ffffffffffffffffffffffffffffffff"] {
		t.Error("HasObjects reported an unknown id")
	}

	sink := transport.NewMemory("sink")
	got, err := remote.CopyObjectAndChildren(ctx, result.ID, sink)
	if err != nil {
		t.Fatalf("CopyObjectAndChildren: %v", err)
	}
	if string(got) != string(result.Root) {
		t.Errorf("root = %s, want %s", got, result.Root)
	}
	if !slices.Equal(sink.IDs(), local.IDs()) {
		t.Errorf("sink ids = %v, want %v", sink.IDs(), local.IDs())
	}
	for _, id := range local.IDs() {
		want, _ := local.GetObject(ctx, id)
		have, _ := sink.GetObject(ctx, id)
		if string(have) != string(want) {
			t.Errorf("record %s differs after download", id)
		}
	}
}

func TestTransportCopyMissingRoot(t *testing.T) {
	_, server := newFakeObjectStore(t)
	remote := newTestTransport(t, server)

	_, err := remote.CopyObjectAndChildren(context.Background(), "0123456789abcdef0123456789abcdef", transport.NewMemory(""))
	if !errors.Is(err, transport.ErrNotFound) {
		t.Errorf("CopyObjectAndChildren = %v, want ErrNotFound", err)
	}
}

func TestTransportCopyMalformedStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("no-tab-here\n"))
	}))
	defer server.Close()
	remote := newTestTransport(t, server)

	_, err := remote.CopyObjectAndChildren(context.Background(), "root", transport.NewMemory(""))
	if err == nil || !strings.Contains(err.Error(), "malformed") {
		t.Errorf("CopyObjectAndChildren = %v, want malformed line error", err)
	}
}

func TestTransportGetObjectUnsupported(t *testing.T) {
	_, server := newFakeObjectStore(t)
	remote := newTestTransport(t, server)
	if _, err := remote.GetObject(context.Background(), "x"); !errors.Is(err, transport.ErrUnsupported) {
		t.Errorf("GetObject = %v, want ErrUnsupported", err)
	}
	if remote.Name() != "server:"+testStream {
		t.Errorf("Name = %q", remote.Name())
	}
}

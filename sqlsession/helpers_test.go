// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sqlsession

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Query-farm/wherobots-sql/sqlsessiontest"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// recordingTimer fires immediately and remembers every requested delay.
type recordingTimer struct {
	delays []time.Duration
	c      chan time.Time
}

func newRecordingTimer() *recordingTimer {
	return &recordingTimer{c: make(chan time.Time, 1)}
}

func (t *recordingTimer) Start(d time.Duration) {
	t.delays = append(t.delays, d)
	t.c <- time.Now()
}

func (t *recordingTimer) Stop() {}

func (t *recordingTimer) C() <-chan time.Time { return t.c }

// fakeTransport records outbound frames instead of writing them.
type fakeTransport struct {
	mu      sync.Mutex
	sent    [][]byte
	sendErr error
	closed  atomic.Bool
}

func (f *fakeTransport) Send(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakeTransport) IsClosed() bool { return f.closed.Load() }

func (f *fakeTransport) requests(t *testing.T) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, len(f.sent))
	for i, data := range f.sent {
		if err := json.Unmarshal(data, &out[i]); err != nil {
			t.Fatalf("sent frame %d is not JSON: %v", i, err)
		}
	}
	return out
}

// newFakeConnection returns a connection wired to a fakeTransport.
func newFakeConnection(cfg Config) (*Connection, *fakeTransport) {
	ft := &fakeTransport{}
	c := newConnection(cfg, "ws://fake/app/1/"+ProtocolVersion)
	c.session = ft
	return c, ft
}

// testConfig connects straight to srv's channel.
func testConfig(srv *sqlsessiontest.Server) Config {
	cfg := DefaultConfig()
	cfg.ChannelURL = srv.ChannelURL()
	cfg.HTTPClient = srv.Client()
	cfg.APIKey = "test-key"
	cfg.QueryTimeout = 5 * time.Second
	return cfg
}

// provisionConfig provisions against srv with fast retries.
func provisionConfig(srv *sqlsessiontest.Server) Config {
	cfg := DefaultConfig()
	cfg.Host = srv.Host()
	cfg.HTTPClient = srv.Client()
	cfg.APIKey = "test-key"
	cfg.QueryTimeout = 5 * time.Second
	cfg.Retry.InitialInterval = time.Millisecond
	cfg.Retry.MaxInterval = 5 * time.Millisecond
	return cfg
}

func connect(t *testing.T, cfg Config) *Connection {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := Connect(ctx, cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func frame(t *testing.T, v map[string]any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return data
}

// int64Payload encodes values as one compressed Arrow batch.
func int64Payload(t testing.TB, codec string, values ...int64) []byte {
	t.Helper()
	batch := sqlsessiontest.Int64Batch(memory.DefaultAllocator, "n", values...)
	defer batch.Release()
	data, err := sqlsessiontest.ArrowPayload(codec, batch.Schema(), batch)
	if err != nil {
		t.Fatalf("ArrowPayload: %v", err)
	}
	return data
}

type executeResult struct {
	res *Result
	err error
}

// executeAsync runs stmt.Execute on its own goroutine.
func executeAsync(ctx context.Context, stmt *Statement, sql string) <-chan executeResult {
	ch := make(chan executeResult, 1)
	go func() {
		res, err := stmt.Execute(ctx, sql)
		ch <- executeResult{res: res, err: err}
	}()
	return ch
}

func await(t *testing.T, ch <-chan executeResult) executeResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("Execute did not return")
		return executeResult{}
	}
}

func nextRequest(t *testing.T, srv *sqlsessiontest.Server) sqlsessiontest.Inbound {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	in, err := srv.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	return in
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sqlsession

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// StatementOption configures a [Statement].
type StatementOption func(*Statement)

// WithTimeout overrides the connection's QueryTimeout for one statement.
// Zero waits until the context is done.
func WithTimeout(d time.Duration) StatementOption {
	return func(s *Statement) { s.timeout = d }
}

// WithStore asks the server to write the statement's results to storage.
func WithStore(store *Store) StatementOption {
	return func(s *Statement) { s.store = store }
}

// Result is the outcome of a successful or cancelled execution. Exactly one
// of Stream and Stored is set for a succeeded query; both are nil when it
// was cancelled.
type Result struct {
	ExecutionID string
	State       QueryState
	Stream      *ResultStream
	Stored      *StoreResult
}

// Cancelled reports whether the query was cancelled before producing results.
func (r *Result) Cancelled() bool { return r.State == QueryCancelled }

// Release frees the result stream, if any.
func (r *Result) Release() {
	if r.Stream != nil {
		r.Stream.Release()
	}
}

// Statement executes one SQL statement on a [Connection]. It is single-use.
type Statement struct {
	conn    *Connection
	timeout time.Duration
	store   *Store

	executed    atomic.Bool
	mu          sync.Mutex
	executionID string
}

// NewStatement returns a statement using the connection's defaults.
func (c *Connection) NewStatement(opts ...StatementOption) *Statement {
	s := &Statement{conn: c, timeout: c.cfg.QueryTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExecutionID returns the id assigned by Execute, or "" before it is called.
func (s *Statement) ExecutionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executionID
}

// Execute submits sql and blocks until its outcome arrives, the statement
// timeout expires, or ctx is done. A timeout returns an [ErrTimeout] error
// and leaves the remote query running; call Cancel to stop it.
func (s *Statement) Execute(ctx context.Context, sql string) (*Result, error) {
	if !s.executed.CompareAndSwap(false, true) {
		return nil, ErrStatementExecuted
	}
	c := s.conn
	id := uuid.NewString()
	s.mu.Lock()
	s.executionID = id
	s.mu.Unlock()

	info := QueryInfo{
		ExecutionID: id,
		Statement:   sql,
		ChannelURL:  c.addr,
		Runtime:     c.cfg.Runtime,
		Region:      c.cfg.Region,
		Stored:      s.store != nil,
	}
	ctx, token, hookActive := s.hookStart(ctx, info)

	start := time.Now()
	out, err := s.run(ctx, id, sql)
	stats := &QueryStatistics{
		Outcome:      outcomeName(out, err),
		PayloadBytes: out.payloadBytes,
		Compression:  out.compression,
		Wait:         time.Since(start),
	}
	if hookActive {
		s.hookEnd(ctx, token, info, stats, err)
	}
	if err != nil {
		return nil, err
	}
	return &Result{ExecutionID: id, State: out.state, Stream: out.stream, Stored: out.stored}, nil
}

func (s *Statement) run(ctx context.Context, id, sql string) (outcome, error) {
	c := s.conn
	if err := ctx.Err(); err != nil {
		return outcome{}, contextDone(id, err)
	}
	rec, err := c.submit(ctx, id, sql, s.store)
	if err != nil {
		return outcome{}, err
	}

	var expired <-chan time.Time
	if s.timeout > 0 {
		timer := time.NewTimer(s.timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case out := <-rec.waiter:
		return out, out.err
	case <-expired:
		if _, ok := c.queries.remove(id); ok {
			slog.Warn("query timed out", "execution_id", id, "timeout", s.timeout)
			return outcome{}, &Error{
				Kind:        KindTimeout,
				Message:     "no result within " + s.timeout.String(),
				ExecutionID: id,
			}
		}
	case <-ctx.Done():
		if _, ok := c.queries.remove(id); ok {
			return outcome{}, contextDone(id, ctx.Err())
		}
	}
	// The outcome was delivered while the wait expired.
	out := <-rec.waiter
	return out, out.err
}

// contextDone reports a caller context that ended before the outcome
// arrived. err is context.Canceled or context.DeadlineExceeded.
func contextDone(id string, err error) *Error {
	return &Error{
		Kind:        KindTimeout,
		Message:     "context done",
		ExecutionID: id,
		Err:         err,
	}
}

// Cancel asks the server to cancel the running execution. Execute keeps
// blocking until the cancellation is reported.
func (s *Statement) Cancel(ctx context.Context) error {
	id := s.ExecutionID()
	if id == "" {
		return newError(KindQuery, "statement has not been executed", nil)
	}
	return s.conn.Cancel(ctx, id)
}

func (s *Statement) hookStart(ctx context.Context, info QueryInfo) (context.Context, HookToken, bool) {
	hook := s.conn.hook
	if hook == nil {
		return ctx, nil, false
	}
	var token HookToken
	active := false
	func() {
		defer func() {
			if rv := recover(); rv != nil {
				slog.Error("query hook start panic", "err", rv)
			}
		}()
		var hookCtx context.Context
		hookCtx, token = hook.OnQueryStart(ctx, info)
		if hookCtx != nil {
			ctx = hookCtx
		}
		active = true
	}()
	return ctx, token, active
}

func (s *Statement) hookEnd(ctx context.Context, token HookToken, info QueryInfo, stats *QueryStatistics, err error) {
	defer func() {
		if rv := recover(); rv != nil {
			slog.Error("query hook end panic", "err", rv)
		}
	}()
	s.conn.hook.OnQueryEnd(ctx, token, info, stats, err)
}

func outcomeName(out outcome, err error) string {
	switch {
	case err != nil:
		return OutcomeError
	case out.state == QueryCancelled:
		return OutcomeCancelled
	case out.stored != nil:
		return OutcomeStored
	default:
		return OutcomeResults
	}
}

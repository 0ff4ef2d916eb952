// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sqlsession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// transport is the part of a [Session] a Connection depends on.
type transport interface {
	Send(ctx context.Context, data []byte) error
	Close() error
	IsClosed() bool
}

// Connection is a ready SQL session shared by any number of concurrently
// executing statements. Inbound events are routed to statements by
// execution id.
type Connection struct {
	cfg     Config
	addr    string
	session transport
	queries *registry
	hook    QueryHook

	// ctx bounds sends made by the receive loop and is cancelled on Close.
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Connect provisions a session (unless cfg.ChannelURL is set) and opens its
// duplex channel.
func Connect(ctx context.Context, cfg Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	addr := cfg.ChannelURL
	if addr == "" {
		var err error
		addr, err = NewProvisioner(cfg).Provision(ctx)
		if err != nil {
			return nil, err
		}
	}

	c := newConnection(cfg, addr)
	sess, err := Open(ctx, addr, OpenOptions{
		Header:       cfg.header(),
		HTTPClient:   cfg.HTTPClient,
		MaxFrameSize: cfg.MaxFrameSize,
	}, (*connHandler)(c))
	if err != nil {
		c.cancel()
		return nil, err
	}
	c.session = sess
	return c, nil
}

func newConnection(cfg Config, addr string) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		cfg:     cfg,
		addr:    addr,
		queries: newRegistry(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Addr returns the duplex channel address.
func (c *Connection) Addr() string { return c.addr }

// IsClosed reports whether the underlying session has closed.
func (c *Connection) IsClosed() bool { return c.session.IsClosed() }

// SetQueryHook registers a hook called around each statement execution.
// It must be called before statements are executed.
func (c *Connection) SetQueryHook(hook QueryHook) {
	c.hook = hook
}

// Execute runs sql on a new single-use statement.
func (c *Connection) Execute(ctx context.Context, sql string, opts ...StatementOption) (*Result, error) {
	return c.NewStatement(opts...).Execute(ctx, sql)
}

// Cancel asks the server to cancel an execution. The query stays
// registered; its statement resolves when the cancelled state, an error,
// the timeout or the session close arrives.
func (c *Connection) Cancel(ctx context.Context, executionID string) error {
	if _, ok := c.queries.get(executionID); !ok {
		slog.Debug("cancelling unregistered execution", "execution_id", executionID)
	}
	slog.Info("cancelling query", "execution_id", executionID)
	return c.send(ctx, &CancelRequest{ExecutionID: executionID})
}

// Close closes the session and releases every waiting statement with an
// error wrapping [ErrSessionClosed]. It is idempotent.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.session != nil {
			err = c.session.Close()
		}
		c.failPending(ErrSessionClosed)
	})
	return err
}

// submit registers a query and sends it. The record is unregistered again
// if the request cannot be sent.
func (c *Connection) submit(ctx context.Context, id, sql string, store *Store) (*queryRecord, error) {
	if c.session.IsClosed() {
		return nil, newError(KindTransport, "executing statement", ErrSessionClosed)
	}
	rec := newQueryRecord(id, sql, store)
	if err := c.queries.register(rec); err != nil {
		return nil, queryError(id, "registering query", err)
	}
	// The session may have closed, and drained the registry, in between.
	if c.session.IsClosed() {
		c.queries.remove(id)
		return nil, newError(KindTransport, "executing statement", ErrSessionClosed)
	}

	slog.Debug("submitting query", "execution_id", id, "stored", store != nil)
	if err := c.send(ctx, &ExecuteSQLRequest{ExecutionID: id, Statement: sql, Store: store}); err != nil {
		c.queries.remove(id)
		return nil, err
	}
	return rec, nil
}

func (c *Connection) send(ctx context.Context, req Request) error {
	data, err := EncodeRequest(req)
	if err != nil {
		return err
	}
	slog.Debug("sending request", "kind", req.requestKind(), "frame", frameSummary(data))
	return c.session.Send(ctx, data)
}

// handleFrame decodes and dispatches one frame. Only frames that cannot be
// attributed to any execution are fatal.
func (c *Connection) handleFrame(t FrameType, data []byte) error {
	ev, err := DecodeFrame(t, data)
	if err == nil {
		c.dispatch(ev)
		return nil
	}

	var de *DecodeError
	if !errors.As(err, &de) {
		return newError(KindTransport, "decoding frame", err)
	}
	switch {
	case errors.Is(err, ErrUnroutableEvent):
		slog.Warn("dropping event without execution id", "kind", de.Kind)
		return nil
	case errors.Is(err, ErrUnknownEvent):
		slog.Warn("dropping event of unknown kind", "kind", de.Kind, "execution_id", de.ExecutionID)
		return nil
	case de.ExecutionID != "":
		c.deliver(de.ExecutionID, outcome{err: queryError(de.ExecutionID, "decoding event", err)})
		return nil
	default:
		return newError(KindTransport, "malformed frame", err)
	}
}

// dispatch advances one query's state machine. It runs on the receive loop
// only.
func (c *Connection) dispatch(ev Event) {
	id := ev.ExecutionID()
	rec, ok := c.queries.get(id)
	if !ok {
		slog.Warn("dropping event for unregistered execution", "execution_id", id, "kind", ev.Kind())
		return
	}

	switch e := ev.(type) {
	case *StateUpdated:
		if !advances(rec.state, e.State) {
			slog.Debug("ignoring stale state update", "execution_id", id, "state", e.State, "current", rec.state)
			return
		}
		slog.Debug("query state updated", "execution_id", id, "state", e.State)
		c.queries.transition(id, e.State)
		switch e.State {
		case QuerySucceeded:
			if e.ResultURI != "" {
				c.deliver(id, outcome{
					state:  QuerySucceeded,
					stored: &StoreResult{ResultURI: e.ResultURI, Size: e.Size},
				})
				return
			}
			c.retrieve(rec)
		case QueryFailed:
			c.armFailedFallback(id)
		case QueryCancelled:
			c.deliver(id, outcome{state: QueryCancelled})
		}

	case *ExecutionResult:
		res := e.Results
		if res.Format != FormatArrow {
			c.deliver(id, outcome{err: queryError(id, fmt.Sprintf("unsupported result format %q", res.Format), nil)})
			return
		}
		stream, err := DecodeResultBatch(res.ResultBytes, res.Compression)
		if err != nil {
			c.deliver(id, outcome{err: queryError(id, "decoding results", err)})
			return
		}
		stream.Format = res.Format
		stream.Geometry = res.Geometry
		stream.GeoColumns = res.GeoColumns
		delivered := c.deliver(id, outcome{
			state:        QuerySucceeded,
			stream:       stream,
			payloadBytes: int64(len(res.ResultBytes)),
			compression:  res.Compression,
		})
		if !delivered {
			stream.Release()
		}

	case *ErrorEvent:
		c.deliver(id, outcome{state: QueryFailed, err: queryError(id, e.Message, nil)})
	}
}

// retrieve asks for the inline results of a succeeded query.
func (c *Connection) retrieve(rec *queryRecord) {
	id := rec.executionID
	req := &RetrieveResultsRequest{
		ExecutionID: id,
		Format:      c.cfg.Format,
		Compression: c.cfg.Compression,
		Geometry:    c.cfg.Geometry,
	}
	if err := c.send(c.ctx, req); err != nil {
		c.deliver(id, outcome{err: queryError(id, "requesting results", err)})
	}
}

// armFailedFallback resolves a failed query with a generic error if no
// error event follows within the grace period.
func (c *Connection) armFailedFallback(id string) {
	grace := c.cfg.FailedGracePeriod
	if grace <= 0 {
		return
	}
	t := time.AfterFunc(grace, func() {
		slog.Warn("failed query reported no error", "execution_id", id, "grace_period", grace)
		c.deliver(id, outcome{
			state: QueryFailed,
			err:   queryError(id, "query failed without an error report", nil),
		})
	})
	_, ok := c.queries.update(id, func(rec *queryRecord) {
		if rec.failTimer != nil {
			rec.failTimer.Stop()
		}
		rec.failTimer = t
	})
	if !ok {
		t.Stop()
	}
}

// deliver removes the record and hands it out. It reports false for an
// execution that is no longer registered, whose outcome is dropped.
func (c *Connection) deliver(id string, out outcome) bool {
	rec, ok := c.queries.remove(id)
	if !ok {
		slog.Warn("dropping outcome for unregistered execution", "execution_id", id)
		return false
	}
	rec.resolve(out)
	return true
}

// failPending releases every waiting statement with a transport error.
func (c *Connection) failPending(cause error) {
	err := cause
	if !errors.Is(cause, ErrSessionClosed) {
		err = fmt.Errorf("%w: %w", ErrSessionClosed, cause)
	}
	for _, rec := range c.queries.drain() {
		slog.Info("releasing pending query", "execution_id", rec.executionID, "err", cause)
		rec.resolve(outcome{err: &Error{
			Kind:        KindTransport,
			Message:     "query interrupted",
			ExecutionID: rec.executionID,
			Err:         err,
		}})
	}
}

// connHandler adapts a Connection to [FrameHandler] without exporting the
// handler methods on Connection.
type connHandler Connection

func (h *connHandler) HandleFrame(t FrameType, data []byte) error {
	return (*Connection)(h).handleFrame(t, data)
}

func (h *connHandler) HandleClose(cause error) {
	(*Connection)(h).failPending(cause)
}

// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sqlsession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
)

// FrameHandler receives everything a [Session]'s receive loop reads.
// Both methods are called from the loop goroutine only.
type FrameHandler interface {
	// HandleFrame processes one inbound frame. A non-nil error is fatal:
	// the session closes and HandleClose receives that error.
	HandleFrame(t FrameType, data []byte) error
	// HandleClose is called exactly once, after the loop has stopped.
	HandleClose(cause error)
}

// OpenOptions configures the channel handshake.
type OpenOptions struct {
	Header       http.Header
	HTTPClient   *http.Client
	MaxFrameSize int64
}

// Session owns one duplex channel to a ready SQL session and the goroutine
// reading from it.
type Session struct {
	addr    string
	conn    *websocket.Conn
	handler FrameHandler

	// writeCtx bounds every write and ends with the session. coder/websocket
	// closes the connection when a write's context ends, so caller contexts
	// never reach conn.Write.
	writeCtx    context.Context
	cancelWrite context.CancelFunc
	writeMu     sync.Mutex

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// Open performs the channel handshake and starts the receive loop. It
// blocks until the handshake completes; a failure is an [ErrConnect] error.
func Open(ctx context.Context, addr string, opts OpenOptions, handler FrameHandler) (*Session, error) {
	slog.Info("connecting to SQL session", "channel_url", addr)
	slog.Debug("channel handshake headers", "headers", maskHeaders(opts.Header))

	conn, resp, err := websocket.Dial(ctx, addr, &websocket.DialOptions{
		HTTPClient: opts.HTTPClient,
		HTTPHeader: opts.Header,
	})
	if err != nil {
		msg := "opening channel"
		if resp != nil {
			msg = fmt.Sprintf("opening channel: HTTP %d", resp.StatusCode)
		}
		return nil, newError(KindConnect, msg, err)
	}
	limit := opts.MaxFrameSize
	if limit == 0 {
		limit = defaultMaxFrameSize
	}
	conn.SetReadLimit(limit)

	writeCtx, cancelWrite := context.WithCancel(context.Background())
	s := &Session{
		addr:        addr,
		conn:        conn,
		handler:     handler,
		writeCtx:    writeCtx,
		cancelWrite: cancelWrite,
		done:        make(chan struct{}),
	}
	go s.receiveLoop()
	return s, nil
}

// Addr returns the channel address the session is connected to.
func (s *Session) Addr() string { return s.addr }

// IsClosed reports whether the session has been closed, by either side.
func (s *Session) IsClosed() bool { return s.closed.Load() }

// Done is closed once the receive loop has exited and HandleClose returned.
func (s *Session) Done() <-chan struct{} { return s.done }

// Send writes one text frame. Concurrent calls are serialized. ctx only
// gates the send: once the write starts it runs to completion under the
// session's own context, so a caller giving up never closes the channel.
func (s *Session) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return newError(KindTransport, "sending frame", err)
	}
	if s.closed.Load() {
		return newError(KindTransport, "sending frame", ErrSessionClosed)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := ctx.Err(); err != nil {
		return newError(KindTransport, "sending frame", err)
	}
	if err := s.conn.Write(s.writeCtx, websocket.MessageText, data); err != nil {
		return newError(KindTransport, "sending frame", err)
	}
	return nil
}

// Close closes the channel. It is idempotent and does not wait for the
// receive loop, so it is safe to call from a FrameHandler.
func (s *Session) Close() error {
	s.shutdown(websocket.StatusNormalClosure, "")
	return nil
}

func (s *Session) shutdown(code websocket.StatusCode, reason string) {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		slog.Info("closing SQL session", "channel_url", s.addr, "code", code)
		go func() {
			defer s.cancelWrite()
			if cerr := s.conn.Close(code, reason); cerr != nil {
				slog.Debug("channel close handshake failed", "err", cerr)
				_ = s.conn.CloseNow()
			}
		}()
	})
}

func (s *Session) receiveLoop() {
	defer close(s.done)
	cause := s.readFrames()
	s.closed.Store(true)
	s.cancelWrite()
	s.handler.HandleClose(cause)
}

func (s *Session) readFrames() error {
	ctx := context.Background()
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			if s.closed.Load() || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				slog.Info("SQL session closed", "channel_url", s.addr)
				return ErrSessionClosed
			}
			slog.Error("channel read failed", "channel_url", s.addr, "err", err)
			s.shutdown(websocket.StatusInternalError, "read failed")
			return newError(KindTransport, "reading frame", err)
		}

		ft := FrameText
		if typ == websocket.MessageBinary {
			ft = FrameBinary
		}
		slog.Debug("received frame", "type", ft, "bytes", len(data))

		if err := s.handler.HandleFrame(ft, data); err != nil {
			slog.Error("closing SQL session after fatal frame", "err", err, "frame", frameSummary(data))
			code := websocket.StatusInternalError
			if errors.Is(err, ErrTransport) {
				code = websocket.StatusUnsupportedData
			}
			s.shutdown(code, "malformed frame")
			return err
		}
	}
}

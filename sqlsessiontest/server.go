// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package sqlsessiontest runs an in-process stand-in for the Wherobots SQL
// session service: the provisioning endpoints and the session's WebSocket
// channel. It does not import sqlsession, so sqlsession's own tests can use
// it.
//
// A Server either answers requests with a [Responder] or hands them to the
// test through [Server.Next] so the test can script events by hand.
package sqlsessiontest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// ProtocolVersion is the channel path segment the server accepts.
const ProtocolVersion = "1.0.0"

// Config scripts the provisioning endpoints.
type Config struct {
	// StartingPolls is the number of status polls answered with
	// StartingStatus before FinalStatus is returned.
	StartingPolls int
	// StartingStatus defaults to "PENDING".
	StartingStatus string
	// FinalStatus defaults to "READY".
	FinalStatus string
	// UnavailablePolls answers the first polls with HTTP 503 before the
	// status script starts.
	UnavailablePolls int
	// PollHTTPStatus, when set, answers every poll with that code.
	PollHTTPStatus int
	// CreateHTTPStatus, when set, answers the session request with that
	// code instead of redirecting to the status endpoint.
	CreateHTTPStatus int
	// Responder answers channel requests. Nil queues them for Next.
	Responder Responder
}

// CreateRequest is a recorded session request.
type CreateRequest struct {
	Region                       string      `json:"-"`
	RuntimeID                    string      `json:"runtime_id"`
	SessionType                  string      `json:"session_type"`
	ShutdownAfterInactiveSeconds *int64      `json:"shutdown_after_inactive_seconds"`
	Header                       http.Header `json:"-"`
}

// Request is a decoded channel request. Store is kept raw so tests can
// check the wire form.
type Request struct {
	Kind        string          `json:"kind"`
	ExecutionID string          `json:"execution_id"`
	Statement   string          `json:"statement"`
	Store       json.RawMessage `json:"store"`
	Format      string          `json:"format"`
	Compression string          `json:"compression"`
	Geometry    string          `json:"geometry"`

	Raw []byte `json:"-"`
}

// Inbound pairs a request with the peer it arrived on.
type Inbound struct {
	Request Request
	Peer    *Peer
}

// Server is a TLS test server. Use Client for an *http.Client that trusts it.
type Server struct {
	*httptest.Server
	cfg Config

	mu       sync.Mutex
	creates  []CreateRequest
	landed   map[string]bool
	polls    int
	pollHdrs []http.Header
	requests []Request
	peers    []*Peer
	channels int

	inbound chan Inbound
}

// NewServer starts a server with cfg.
func NewServer(cfg Config) *Server {
	if cfg.StartingStatus == "" {
		cfg.StartingStatus = "PENDING"
	}
	if cfg.FinalStatus == "" {
		cfg.FinalStatus = "READY"
	}
	s := &Server{
		cfg:     cfg,
		landed:  make(map[string]bool),
		inbound: make(chan Inbound, 256),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sql/session", s.handleCreate)
	mux.HandleFunc("GET /sql/session/{id}", s.handleStatus)
	mux.HandleFunc("GET /app/{id}/{version}", s.handleChannel)
	s.Server = httptest.NewTLSServer(mux)
	return s
}

// Host is the host:port to use as the provisioning host.
func (s *Server) Host() string {
	return strings.TrimPrefix(s.URL, "https://")
}

// ChannelURL is a channel address on this server that skips provisioning.
func (s *Server) ChannelURL() string {
	return "wss://" + s.Host() + "/app/direct/" + ProtocolVersion
}

// Creates returns the recorded session requests.
func (s *Server) Creates() []CreateRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CreateRequest(nil), s.creates...)
}

// Polls returns the number of status polls, not counting the request that
// followed the creation redirect.
func (s *Server) Polls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

// PollHeaders returns the headers of each counted poll.
func (s *Server) PollHeaders() []http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]http.Header(nil), s.pollHdrs...)
}

// Requests returns every channel request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// RequestsOfKind returns the received channel requests with the given kind.
func (s *Server) RequestsOfKind(kind string) []Request {
	var out []Request
	for _, r := range s.Requests() {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// Channels returns the number of accepted channel connections.
func (s *Server) Channels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels
}

// Next waits for the next channel request not handled by a Responder.
func (s *Server) Next(ctx context.Context) (Inbound, error) {
	select {
	case in := <-s.inbound:
		return in, nil
	case <-ctx.Done():
		return Inbound{}, fmt.Errorf("waiting for channel request: %w", ctx.Err())
	}
}

// Close closes every open channel and shuts the server down.
func (s *Server) Close() {
	s.mu.Lock()
	peers := append([]*Peer(nil), s.peers...)
	s.mu.Unlock()
	for _, p := range peers {
		_ = p.conn.CloseNow()
	}
	s.Server.Close()
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.Region = r.URL.Query().Get("region")
	req.Header = r.Header.Clone()

	s.mu.Lock()
	s.creates = append(s.creates, req)
	s.mu.Unlock()

	if s.cfg.CreateHTTPStatus != 0 {
		http.Error(w, "session request rejected", s.cfg.CreateHTTPStatus)
		return
	}
	id := uuid.NewString()
	http.Redirect(w, r, "/sql/session/"+id, http.StatusSeeOther)
}

type statusResponse struct {
	Status  string   `json:"status"`
	AppMeta *appMeta `json:"app_meta,omitempty"`
}

type appMeta struct {
	URL string `json:"url"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	landing := !s.landed[id]
	s.landed[id] = true
	n := s.polls
	if !landing {
		s.polls++
		n = s.polls
		s.pollHdrs = append(s.pollHdrs, r.Header.Clone())
	}
	s.mu.Unlock()

	if landing {
		writeJSON(w, statusResponse{Status: s.cfg.StartingStatus})
		return
	}
	if s.cfg.PollHTTPStatus != 0 {
		http.Error(w, "status unavailable", s.cfg.PollHTTPStatus)
		return
	}
	if n <= s.cfg.UnavailablePolls {
		http.Error(w, "try again", http.StatusServiceUnavailable)
		return
	}
	if n-s.cfg.UnavailablePolls <= s.cfg.StartingPolls {
		writeJSON(w, statusResponse{Status: s.cfg.StartingStatus})
		return
	}
	resp := statusResponse{Status: s.cfg.FinalStatus}
	if s.cfg.FinalStatus == "READY" {
		resp.AppMeta = &appMeta{URL: s.URL + "/app/" + id}
	}
	writeJSON(w, resp)
}

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	if r.PathValue("version") != ProtocolVersion {
		http.NotFound(w, r)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Error("mock channel accept failed", "err", err)
		return
	}
	conn.SetReadLimit(-1)
	p := &Peer{conn: conn, Header: r.Header.Clone()}

	s.mu.Lock()
	s.peers = append(s.peers, p)
	s.channels++
	s.mu.Unlock()

	ctx := r.Context()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			p.closed.Store(true)
			return
		}
		if typ != websocket.MessageText {
			slog.Warn("mock channel ignoring binary request")
			continue
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			slog.Warn("mock channel ignoring malformed request", "err", err)
			continue
		}
		req.Raw = data

		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()

		if s.cfg.Responder != nil {
			s.cfg.Responder(ctx, p, req)
			continue
		}
		select {
		case s.inbound <- Inbound{Request: req, Peer: p}:
		case <-ctx.Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// Peer is the server side of one channel connection.
type Peer struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed atomic.Bool

	// Header holds the handshake request headers.
	Header http.Header
}

// Send writes ev as a JSON text frame.
func (p *Peer) Send(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.SendRaw(ctx, websocket.MessageText, data)
}

// SendCBOR writes ev as a CBOR binary frame.
func (p *Peer) SendCBOR(ctx context.Context, ev Event) error {
	data, err := cborEncMode.Marshal(ev)
	if err != nil {
		return err
	}
	return p.SendRaw(ctx, websocket.MessageBinary, data)
}

// SendRaw writes data as-is.
func (p *Peer) SendRaw(ctx context.Context, typ websocket.MessageType, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.Write(ctx, typ, data)
}

// Close closes the channel with the given status.
func (p *Peer) Close(code websocket.StatusCode, reason string) error {
	return p.conn.Close(code, reason)
}

// Closed reports whether the client side has gone away.
func (p *Peer) Closed() bool { return p.closed.Load() }

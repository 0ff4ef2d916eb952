// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sqlsessiontest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fxamacker/cbor/v2"
)

// Event is an outbound event frame. Empty fields are omitted.
type Event struct {
	Kind        string   `json:"kind" cbor:"kind"`
	ExecutionID string   `json:"execution_id,omitempty" cbor:"execution_id,omitempty"`
	State       string   `json:"state,omitempty" cbor:"state,omitempty"`
	ResultURI   string   `json:"result_uri,omitempty" cbor:"result_uri,omitempty"`
	Size        *int64   `json:"size,omitempty" cbor:"size,omitempty"`
	Results     *Results `json:"results,omitempty" cbor:"results,omitempty"`
	Message     string   `json:"message,omitempty" cbor:"message,omitempty"`
}

// Results is the payload of an execution_result event.
type Results struct {
	ResultBytes []byte   `json:"result_bytes" cbor:"result_bytes"`
	Compression string   `json:"compression" cbor:"compression"`
	Format      string   `json:"format" cbor:"format"`
	Geometry    string   `json:"geometry,omitempty" cbor:"geometry,omitempty"`
	GeoColumns  []string `json:"geo_columns,omitempty" cbor:"geo_columns,omitempty"`
}

var cborEncMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("sqlsessiontest: building CBOR encoder: %v", err))
	}
	return em
}()

// StateUpdated builds a state_updated event.
func StateUpdated(id, state string) Event {
	return Event{Kind: "state_updated", ExecutionID: id, State: state}
}

// StoredResult builds a succeeded state_updated event carrying a result
// location. A negative size is omitted.
func StoredResult(id, uri string, size int64) Event {
	ev := StateUpdated(id, "succeeded")
	ev.ResultURI = uri
	if size >= 0 {
		ev.Size = &size
	}
	return ev
}

// ExecutionResult builds an execution_result event with an Arrow payload.
func ExecutionResult(id, compression string, payload []byte) Event {
	return Event{
		Kind:        "execution_result",
		ExecutionID: id,
		Results: &Results{
			ResultBytes: payload,
			Compression: compression,
			Format:      "arrow",
		},
	}
}

// Error builds an error event.
func Error(id, message string) Event {
	return Event{Kind: "error", ExecutionID: id, Message: message}
}

// Responder answers one channel request. It runs on the peer's read loop, so
// events it sends are ordered.
type Responder func(ctx context.Context, p *Peer, req Request)

// ResultResponder runs every statement to success and answers
// retrieve_results with payload encoded in the compression the client asked
// for. Cancel requests are answered with the cancelled state.
func ResultResponder(payload func(compression string) ([]byte, error)) Responder {
	return func(ctx context.Context, p *Peer, req Request) {
		var events []Event
		switch req.Kind {
		case "execute_sql":
			events = []Event{
				StateUpdated(req.ExecutionID, "running"),
				StateUpdated(req.ExecutionID, "succeeded"),
			}
		case "retrieve_results":
			compression := req.Compression
			if compression == "" {
				compression = "none"
			}
			data, err := payload(compression)
			if err != nil {
				events = []Event{Error(req.ExecutionID, err.Error())}
				break
			}
			events = []Event{ExecutionResult(req.ExecutionID, compression, data)}
		case "cancel":
			events = []Event{StateUpdated(req.ExecutionID, "cancelled")}
		}
		for _, ev := range events {
			if err := p.Send(ctx, ev); err != nil {
				slog.Warn("mock channel send failed", "err", err)
				return
			}
		}
	}
}

// StoreResponder answers every statement with a stored result at uri.
func StoreResponder(uri string, size int64) Responder {
	return func(ctx context.Context, p *Peer, req Request) {
		if req.Kind != "execute_sql" {
			return
		}
		if err := p.Send(ctx, StoredResult(req.ExecutionID, uri, size)); err != nil {
			slog.Warn("mock channel send failed", "err", err)
		}
	}
}

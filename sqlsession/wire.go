// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sqlsession

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// FrameType tells the codec how an inbound frame is encoded. It is taken
// from the transport message type, never sniffed from the payload.
type FrameType int

const (
	FrameText   FrameType = iota // UTF-8 JSON
	FrameBinary                  // CBOR
)

func (t FrameType) String() string {
	if t == FrameBinary {
		return "binary"
	}
	return "text"
}

// EventKind discriminates inbound events.
type EventKind string

const (
	EventStateUpdated    EventKind = "state_updated"
	EventExecutionResult EventKind = "execution_result"
	EventError           EventKind = "error"
)

// Event is one decoded inbound frame. The set of implementations is closed:
// [*StateUpdated], [*ExecutionResult] and [*ErrorEvent].
type Event interface {
	Kind() EventKind
	ExecutionID() string
	isEvent()
}

// StateUpdated reports a query state transition.
type StateUpdated struct {
	ID    string
	State QueryState
	// ResultURI is set when a succeeded query stored its results externally.
	ResultURI string
	Size      *int64
}

// ExecutionResult carries an inline, possibly compressed, result payload.
type ExecutionResult struct {
	ID      string
	Results Results
}

// Results is the payload of an [ExecutionResult].
type Results struct {
	ResultBytes []byte
	Compression DataCompression
	Format      DataFormat
	Geometry    GeometryRepresentation
	GeoColumns  []string
}

// ErrorEvent carries a server-reported failure for one execution.
type ErrorEvent struct {
	ID      string
	Message string
}

func (e *StateUpdated) Kind() EventKind        { return EventStateUpdated }
func (e *StateUpdated) ExecutionID() string    { return e.ID }
func (*StateUpdated) isEvent()                 {}
func (e *ExecutionResult) Kind() EventKind     { return EventExecutionResult }
func (e *ExecutionResult) ExecutionID() string { return e.ID }
func (*ExecutionResult) isEvent()              {}
func (e *ErrorEvent) Kind() EventKind          { return EventError }
func (e *ErrorEvent) ExecutionID() string      { return e.ID }
func (*ErrorEvent) isEvent()                   {}

// DecodeError reports a frame that could not be turned into an [Event].
// ExecutionID is set when the frame was routable, in which case the failure
// belongs to that query alone.
type DecodeError struct {
	ExecutionID string
	Kind        string
	Err         error
}

func (e *DecodeError) Error() string {
	if e.ExecutionID != "" {
		return fmt.Sprintf("decoding %s event for %s: %v", e.Kind, e.ExecutionID, e.Err)
	}
	return fmt.Sprintf("decoding frame: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Wire shapes. Every field carries both tags so the same structs decode JSON
// text frames and CBOR binary frames.
type envelope struct {
	Kind        string `json:"kind" cbor:"kind"`
	ExecutionID string `json:"execution_id" cbor:"execution_id"`
}

type stateUpdatedWire struct {
	State     string `json:"state" cbor:"state"`
	ResultURI string `json:"result_uri,omitempty" cbor:"result_uri,omitempty"`
	Size      *int64 `json:"size,omitempty" cbor:"size,omitempty"`
}

type resultsWire struct {
	ResultBytes []byte   `json:"result_bytes" cbor:"result_bytes"`
	Compression string   `json:"compression" cbor:"compression"`
	Format      string   `json:"format" cbor:"format"`
	Geometry    string   `json:"geometry,omitempty" cbor:"geometry,omitempty"`
	GeoColumns  []string `json:"geo_columns,omitempty" cbor:"geo_columns,omitempty"`
}

type executionResultWire struct {
	Results *resultsWire `json:"results" cbor:"results"`
}

type errorWire struct {
	Message string `json:"message" cbor:"message"`
}

// cborMode is the process-wide CBOR decoder configuration. It is immutable
// and safe for concurrent use.
var cborMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("sqlsession: building CBOR decoder: %v", err))
	}
	return dm
}()

func unmarshalerFor(t FrameType) func([]byte, any) error {
	if t == FrameBinary {
		return cborMode.Unmarshal
	}
	return json.Unmarshal
}

// DecodeFrame decodes one inbound frame into an Event.
//
// A frame that cannot be parsed at all yields a *DecodeError with no
// ExecutionID. A parsed frame without an execution id wraps
// [ErrUnroutableEvent]; one with an unrecognized kind wraps [ErrUnknownEvent].
func DecodeFrame(t FrameType, data []byte) (Event, error) {
	unmarshal := unmarshalerFor(t)

	var env envelope
	if err := unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("malformed %s frame: %w", t, err)}
	}
	if env.ExecutionID == "" {
		return nil, &DecodeError{Kind: env.Kind, Err: ErrUnroutableEvent}
	}

	fail := func(err error) (Event, error) {
		return nil, &DecodeError{ExecutionID: env.ExecutionID, Kind: env.Kind, Err: err}
	}

	switch EventKind(env.Kind) {
	case EventStateUpdated:
		var w stateUpdatedWire
		if err := unmarshal(data, &w); err != nil {
			return fail(err)
		}
		state, err := ParseQueryState(w.State)
		if err != nil {
			return fail(err)
		}
		return &StateUpdated{ID: env.ExecutionID, State: state, ResultURI: w.ResultURI, Size: w.Size}, nil

	case EventExecutionResult:
		var w executionResultWire
		if err := unmarshal(data, &w); err != nil {
			return fail(err)
		}
		if w.Results == nil {
			return fail(errors.New("missing results"))
		}
		compression, err := ParseDataCompression(w.Results.Compression)
		if err != nil {
			return fail(err)
		}
		return &ExecutionResult{
			ID: env.ExecutionID,
			Results: Results{
				ResultBytes: w.Results.ResultBytes,
				Compression: compression,
				Format:      DataFormat(w.Results.Format),
				Geometry:    GeometryRepresentation(w.Results.Geometry),
				GeoColumns:  w.Results.GeoColumns,
			},
		}, nil

	case EventError:
		var w errorWire
		if err := unmarshal(data, &w); err != nil {
			return fail(err)
		}
		return &ErrorEvent{ID: env.ExecutionID, Message: w.Message}, nil

	default:
		return fail(ErrUnknownEvent)
	}
}

// Request is an outbound message. Implementations are [*ExecuteSQLRequest],
// [*RetrieveResultsRequest] and [*CancelRequest].
type Request interface {
	requestKind() string
}

// ExecuteSQLRequest submits a statement under a client-generated execution id.
type ExecuteSQLRequest struct {
	ExecutionID string
	Statement   string
	Store       *Store
}

// RetrieveResultsRequest asks for the inline results of a succeeded query.
// Empty fields are omitted and the server applies its defaults.
type RetrieveResultsRequest struct {
	ExecutionID string
	Format      DataFormat
	Compression DataCompression
	Geometry    GeometryRepresentation
}

// CancelRequest asks the server to cancel an execution.
type CancelRequest struct {
	ExecutionID string
}

func (*ExecuteSQLRequest) requestKind() string      { return RequestExecuteSQL }
func (*RetrieveResultsRequest) requestKind() string { return RequestRetrieveResults }
func (*CancelRequest) requestKind() string          { return RequestCancel }

type executeSQLWire struct {
	Kind        string `json:"kind"`
	ExecutionID string `json:"execution_id"`
	Statement   string `json:"statement"`
	Store       *Store `json:"store,omitempty"`
}

type retrieveResultsWire struct {
	Kind        string                 `json:"kind"`
	ExecutionID string                 `json:"execution_id"`
	Format      DataFormat             `json:"format,omitempty"`
	Compression DataCompression        `json:"compression,omitempty"`
	Geometry    GeometryRepresentation `json:"geometry,omitempty"`
}

type cancelWire struct {
	Kind        string `json:"kind"`
	ExecutionID string `json:"execution_id"`
}

// EncodeRequest encodes an outbound request as a JSON text frame.
func EncodeRequest(req Request) ([]byte, error) {
	var v any
	switch r := req.(type) {
	case *ExecuteSQLRequest:
		v = executeSQLWire{Kind: r.requestKind(), ExecutionID: r.ExecutionID, Statement: r.Statement, Store: r.Store}
	case *RetrieveResultsRequest:
		v = retrieveResultsWire{
			Kind:        r.requestKind(),
			ExecutionID: r.ExecutionID,
			Format:      r.Format,
			Compression: r.Compression,
			Geometry:    r.Geometry,
		}
	case *CancelRequest:
		v = cancelWire{Kind: r.requestKind(), ExecutionID: r.ExecutionID}
	default:
		return nil, fmt.Errorf("unsupported request type %T", req)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", req.requestKind(), err)
	}
	return data, nil
}

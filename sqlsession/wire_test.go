// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sqlsession

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func TestDecodeFrameJSON(t *testing.T) {
	size := int64(42)
	tests := []struct {
		name  string
		frame string
		want  Event
	}{
		{
			name:  "state updated",
			frame: `{"kind":"state_updated","execution_id":"q1","state":"running"}`,
			want:  &StateUpdated{ID: "q1", State: QueryRunning},
		},
		{
			name:  "stored result",
			frame: `{"kind":"state_updated","execution_id":"q1","state":"succeeded","result_uri":"s3://bucket/key","size":42}`,
			want:  &StateUpdated{ID: "q1", State: QuerySucceeded, ResultURI: "s3://bucket/key", Size: &size},
		},
		{
			name:  "error",
			frame: `{"kind":"error","execution_id":"q2","message":"table not found"}`,
			want:  &ErrorEvent{ID: "q2", Message: "table not found"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeFrame(FrameText, []byte(tt.frame))
			if err != nil {
				t.Fatalf("DecodeFrame() error = %v", err)
			}
			if got.Kind() != tt.want.Kind() || got.ExecutionID() != tt.want.ExecutionID() {
				t.Fatalf("DecodeFrame() = %s/%s, want %s/%s",
					got.Kind(), got.ExecutionID(), tt.want.Kind(), tt.want.ExecutionID())
			}
			switch want := tt.want.(type) {
			case *StateUpdated:
				g := got.(*StateUpdated)
				if g.State != want.State || g.ResultURI != want.ResultURI {
					t.Errorf("got %+v, want %+v", g, want)
				}
				if (g.Size == nil) != (want.Size == nil) || (g.Size != nil && *g.Size != *want.Size) {
					t.Errorf("size = %v, want %v", g.Size, want.Size)
				}
			case *ErrorEvent:
				if g := got.(*ErrorEvent); g.Message != want.Message {
					t.Errorf("message = %q, want %q", g.Message, want.Message)
				}
			}
		})
	}
}

func TestDecodeFrameExecutionResult(t *testing.T) {
	payload := []byte{0x28, 0xb5, 0x2f, 0xfd}
	data, err := json.Marshal(map[string]any{
		"kind":         "execution_result",
		"execution_id": "q1",
		"results": map[string]any{
			"result_bytes": payload,
			"compression":  "zstd",
			"format":       "arrow",
			"geometry":     "ewkt",
			"geo_columns":  []string{"geom"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	ev, err := DecodeFrame(FrameText, data)
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	res, ok := ev.(*ExecutionResult)
	if !ok {
		t.Fatalf("DecodeFrame() = %T, want *ExecutionResult", ev)
	}
	if string(res.Results.ResultBytes) != string(payload) {
		t.Errorf("result bytes = %x, want %x", res.Results.ResultBytes, payload)
	}
	if res.Results.Compression != CompressionZstd || res.Results.Format != FormatArrow {
		t.Errorf("compression/format = %s/%s", res.Results.Compression, res.Results.Format)
	}
	if res.Results.Geometry != GeometryEWKT || len(res.Results.GeoColumns) != 1 {
		t.Errorf("geometry = %s %v", res.Results.Geometry, res.Results.GeoColumns)
	}
}

func TestDecodeFrameCBOR(t *testing.T) {
	data, err := cbor.Marshal(map[string]any{
		"kind":         "execution_result",
		"execution_id": "q9",
		"results": map[string]any{
			"result_bytes": []byte{1, 2, 3},
			"compression":  "lz4",
			"format":       "arrow",
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	ev, err := DecodeFrame(FrameBinary, data)
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	res := ev.(*ExecutionResult)
	if res.ID != "q9" || res.Results.Compression != CompressionLZ4 || len(res.Results.ResultBytes) != 3 {
		t.Errorf("got %+v", res)
	}

	// The frame type decides the decoder, not the content.
	if _, err := DecodeFrame(FrameText, data); err == nil {
		t.Error("CBOR payload decoded as a text frame")
	}
}

func TestDecodeFrameErrors(t *testing.T) {
	tests := []struct {
		name     string
		frame    string
		wantID   string
		sentinel error
	}{
		{name: "malformed", frame: `{"kind":`, wantID: ""},
		{name: "not an object", frame: `[1,2]`, wantID: ""},
		{name: "missing id", frame: `{"kind":"error","message":"x"}`, sentinel: ErrUnroutableEvent},
		{name: "unknown kind", frame: `{"kind":"progress","execution_id":"q1"}`, wantID: "q1", sentinel: ErrUnknownEvent},
		{name: "unknown state", frame: `{"kind":"state_updated","execution_id":"q1","state":"paused"}`, wantID: "q1"},
		{name: "missing results", frame: `{"kind":"execution_result","execution_id":"q1"}`, wantID: "q1"},
		{
			name:   "uppercase codec",
			frame:  `{"kind":"execution_result","execution_id":"q1","results":{"result_bytes":"","compression":"ZSTD","format":"arrow"}}`,
			wantID: "q1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFrame(FrameText, []byte(tt.frame))
			if err == nil {
				t.Fatal("DecodeFrame() error = nil")
			}
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("error %T is not a *DecodeError", err)
			}
			if de.ExecutionID != tt.wantID {
				t.Errorf("ExecutionID = %q, want %q", de.ExecutionID, tt.wantID)
			}
			if tt.sentinel != nil && !errors.Is(err, tt.sentinel) {
				t.Errorf("error %v does not wrap %v", err, tt.sentinel)
			}
		})
	}
}

func TestEncodeRequest(t *testing.T) {
	store, err := NewStore(StorageGeoJSON, true, false)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		req  Request
		want string
	}{
		{
			name: "execute",
			req:  &ExecuteSQLRequest{ExecutionID: "q1", Statement: "SELECT 1"},
			want: `{"kind":"execute_sql","execution_id":"q1","statement":"SELECT 1"}`,
		},
		{
			name: "execute with store",
			req:  &ExecuteSQLRequest{ExecutionID: "q1", Statement: "SELECT 1", Store: store},
			want: `{"kind":"execute_sql","execution_id":"q1","statement":"SELECT 1",` +
				`"store":{"format":"geojson","single":"true","generate_presigned_url":"false"}}`,
		},
		{
			name: "retrieve with defaults omitted",
			req:  &RetrieveResultsRequest{ExecutionID: "q1"},
			want: `{"kind":"retrieve_results","execution_id":"q1"}`,
		},
		{
			name: "retrieve",
			req:  &RetrieveResultsRequest{ExecutionID: "q1", Format: FormatArrow, Compression: CompressionLZ4, Geometry: GeometryWKB},
			want: `{"kind":"retrieve_results","execution_id":"q1","format":"arrow","compression":"lz4","geometry":"wkb"}`,
		},
		{
			name: "cancel",
			req:  &CancelRequest{ExecutionID: "q1"},
			want: `{"kind":"cancel","execution_id":"q1"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeRequest(tt.req)
			if err != nil {
				t.Fatalf("EncodeRequest() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("EncodeRequest() =\n%s\nwant\n%s", got, tt.want)
			}
			if strings.Contains(string(got), "null") {
				t.Errorf("EncodeRequest() emitted null: %s", got)
			}
		})
	}
}

func TestFrameTypeString(t *testing.T) {
	if FrameText.String() != "text" || FrameBinary.String() != "binary" {
		t.Errorf("got %s/%s", FrameText, FrameBinary)
	}
}

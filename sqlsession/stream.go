// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sqlsession

import (
	"fmt"
	"iter"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// ResultStream is a lazy, forward-only sequence of Arrow record batches
// decoded from an inline result payload. It is not safe for concurrent use.
//
// Callers must call Release (or fully range over Batches) to free the
// underlying buffers.
type ResultStream struct {
	reader  *ipc.Reader // nil for an empty payload
	schema  *arrow.Schema
	current arrow.RecordBatch
	err     error
	done    bool

	// Format, Geometry and GeoColumns echo what the server reported for
	// this payload.
	Format     DataFormat
	Geometry   GeometryRepresentation
	GeoColumns []string

	stats StreamStatistics
}

// DecodeResultBatch decodes a compressed Arrow IPC payload using the shared
// process allocator. A zero-length payload yields an empty stream.
func DecodeResultBatch(data []byte, codec DataCompression) (*ResultStream, error) {
	return decodeResults(data, codec, memory.DefaultAllocator)
}

func decodeResults(data []byte, codec DataCompression, mem memory.Allocator) (*ResultStream, error) {
	if _, err := ParseDataCompression(string(codec)); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return &ResultStream{schema: arrow.NewSchema(nil, nil), done: true}, nil
	}

	r, err := decompress(codec, data)
	if err != nil {
		return nil, err
	}
	reader, err := ipc.NewReader(r, ipc.WithAllocator(mem))
	if err != nil {
		return nil, fmt.Errorf("reading result IPC stream: %w", err)
	}
	return &ResultStream{reader: reader, schema: reader.Schema()}, nil
}

// Schema returns the Arrow schema of every batch in the stream.
func (s *ResultStream) Schema() *arrow.Schema { return s.schema }

// FieldNames returns the ordered column names.
func (s *ResultStream) FieldNames() []string {
	names := make([]string, s.schema.NumFields())
	for i, f := range s.schema.Fields() {
		names[i] = f.Name
	}
	return names
}

// Columns describes the result columns.
func (s *ResultStream) Columns() []Column {
	return describeColumns(s.schema, s.GeoColumns)
}

// Next advances to the next batch. It returns false at the end of the stream
// or on error; check Err afterwards. The batch from the previous call is
// released, so callers that keep a batch must Retain it.
func (s *ResultStream) Next() bool {
	if s.current != nil {
		s.current.Release()
		s.current = nil
	}
	if s.done {
		return false
	}
	if !s.reader.Next() {
		s.err = s.reader.Err()
		s.Release()
		return false
	}
	batch := s.reader.RecordBatch()
	batch.Retain()
	s.current = batch
	s.stats.record(batch)
	return true
}

// RecordBatch returns the current batch. It is valid until the next call to
// Next or Release.
func (s *ResultStream) RecordBatch() arrow.RecordBatch { return s.current }

// Err returns the first decoding error encountered, if any.
func (s *ResultStream) Err() error { return s.err }

// Stats returns what has been consumed so far.
func (s *ResultStream) Stats() StreamStatistics { return s.stats }

// Release frees all buffers held by the stream. It is idempotent and may be
// called before the stream is exhausted.
func (s *ResultStream) Release() {
	if s.current != nil {
		s.current.Release()
		s.current = nil
	}
	if s.reader != nil {
		s.reader.Release()
		s.reader = nil
	}
	s.done = true
}

// Batches returns a single-pass iterator over the remaining batches. The
// stream is released when iteration ends, including on early break. A
// decoding error is yielded once as the final element.
func (s *ResultStream) Batches() iter.Seq2[arrow.RecordBatch, error] {
	return func(yield func(arrow.RecordBatch, error) bool) {
		defer s.Release()
		for s.Next() {
			if !yield(s.current, nil) {
				return
			}
		}
		if err := s.Err(); err != nil {
			yield(nil, err)
		}
	}
}

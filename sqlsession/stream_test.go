// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sqlsession

import (
	"testing"

	"github.com/Query-farm/wherobots-sql/sqlsessiontest"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

func TestDecodeEmptyPayload(t *testing.T) {
	for _, codec := range []DataCompression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(string(codec), func(t *testing.T) {
			s, err := DecodeResultBatch(nil, codec)
			if err != nil {
				t.Fatalf("DecodeResultBatch() error = %v", err)
			}
			if s.Schema().NumFields() != 0 {
				t.Errorf("schema has %d fields", s.Schema().NumFields())
			}
			if s.Next() {
				t.Error("empty stream yielded a batch")
			}
			if s.Err() != nil {
				t.Errorf("Err() = %v", s.Err())
			}
			s.Release()
		})
	}
}

func TestDecodeResultBatchCodecs(t *testing.T) {
	for _, codec := range []string{"none", "lz4", "zstd"} {
		t.Run(codec, func(t *testing.T) {
			mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
			defer mem.AssertSize(t, 0)

			b1 := sqlsessiontest.Int64Batch(memory.DefaultAllocator, "n", 1, 2, 3)
			b2 := sqlsessiontest.Int64Batch(memory.DefaultAllocator, "n", 4, 5)
			payload, err := sqlsessiontest.ArrowPayload(codec, b1.Schema(), b1, b2)
			b1.Release()
			b2.Release()
			if err != nil {
				t.Fatal(err)
			}

			s, err := decodeResults(payload, DataCompression(codec), mem)
			if err != nil {
				t.Fatalf("decodeResults() error = %v", err)
			}
			if names := s.FieldNames(); len(names) != 1 || names[0] != "n" {
				t.Errorf("FieldNames() = %v", names)
			}

			var sum int64
			for batch, err := range s.Batches() {
				if err != nil {
					t.Fatalf("Batches() error = %v", err)
				}
				col := batch.Column(0).(*array.Int64)
				for i := 0; i < col.Len(); i++ {
					sum += col.Value(i)
				}
			}
			if sum != 15 {
				t.Errorf("sum = %d, want 15", sum)
			}
			if st := s.Stats(); st.Batches != 2 || st.Rows != 5 || st.Bytes == 0 {
				t.Errorf("Stats() = %+v", st)
			}
		})
	}
}

func TestResultStreamEarlyBreakReleases(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	batches := make([]arrow.RecordBatch, 3)
	for i := range batches {
		batches[i] = sqlsessiontest.Int64Batch(memory.DefaultAllocator, "n", int64(i))
	}
	payload, err := sqlsessiontest.ArrowPayload("zstd", batches[0].Schema(), batches...)
	for _, b := range batches {
		b.Release()
	}
	if err != nil {
		t.Fatal(err)
	}

	s, err := decodeResults(payload, CompressionZstd, mem)
	if err != nil {
		t.Fatal(err)
	}
	for range s.Batches() {
		break
	}
	if s.Next() {
		t.Error("released stream yielded another batch")
	}
	s.Release()
}

func TestResultStreamKeepsRetainedBatch(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	batch := sqlsessiontest.Int64Batch(memory.DefaultAllocator, "n", 7)
	payload, err := sqlsessiontest.ArrowPayload("none", batch.Schema(), batch)
	batch.Release()
	if err != nil {
		t.Fatal(err)
	}

	s, err := decodeResults(payload, CompressionNone, mem)
	if err != nil {
		t.Fatal(err)
	}
	if !s.Next() {
		t.Fatalf("Next() = false, err = %v", s.Err())
	}
	kept := s.RecordBatch()
	kept.Retain()
	s.Release()

	if got := kept.Column(0).(*array.Int64).Value(0); got != 7 {
		t.Errorf("value = %d", got)
	}
	kept.Release()
}

func TestDecodeResultBatchErrors(t *testing.T) {
	if _, err := DecodeResultBatch([]byte{1}, "gzip"); err == nil {
		t.Error("unknown codec accepted")
	}
	if _, err := DecodeResultBatch([]byte("not zstd"), CompressionZstd); err == nil {
		t.Error("corrupt zstd payload accepted")
	}
	if _, err := DecodeResultBatch([]byte("not arrow"), CompressionNone); err == nil {
		t.Error("non-Arrow payload accepted")
	}
}

func TestResultStreamColumns(t *testing.T) {
	batch := sqlsessiontest.PointsBatch(memory.DefaultAllocator, []int64{1, 2}, []string{"POINT (0 0)", "POINT (1 1)"})
	payload, err := sqlsessiontest.ArrowPayload("lz4", batch.Schema(), batch)
	batch.Release()
	if err != nil {
		t.Fatal(err)
	}

	s, err := DecodeResultBatch(payload, CompressionLZ4)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Release()
	s.GeoColumns = []string{"geom"}

	cols := s.Columns()
	want := []Column{
		{Name: "id", Type: "int"},
		{Name: "geom", Type: "string", Nullable: true, Geometry: true},
	}
	if len(cols) != len(want) {
		t.Fatalf("Columns() = %+v", cols)
	}
	for i := range want {
		if cols[i] != want[i] {
			t.Errorf("Columns()[%d] = %+v, want %+v", i, cols[i], want[i])
		}
	}
}

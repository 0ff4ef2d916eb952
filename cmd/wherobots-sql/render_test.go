// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"strings"
	"testing"
	"time"

	"github.com/Query-farm/wherobots-sql/sqlsession"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

func TestFormatCell(t *testing.T) {
	mem := memory.NewGoAllocator()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "s", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "f", Type: arrow.PrimitiveTypes.Float64},
		{Name: "b", Type: arrow.BinaryTypes.Binary},
		{Name: "ts", Type: &arrow.TimestampType{Unit: arrow.Millisecond}},
	}, nil)
	bldr := array.NewRecordBuilder(mem, schema)
	defer bldr.Release()
	bldr.Field(0).(*array.StringBuilder).AppendValues([]string{"a", ""}, []bool{true, false})
	bldr.Field(1).(*array.Float64Builder).AppendValues([]float64{1.5, 2}, nil)
	bldr.Field(2).(*array.BinaryBuilder).AppendValues([][]byte{{0x01, 0x02}, {}}, nil)
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	bldr.Field(3).(*array.TimestampBuilder).AppendValues([]arrow.Timestamp{arrow.Timestamp(ts.UnixMilli()), 0}, nil)
	batch := bldr.NewRecordBatch()
	defer batch.Release()

	tests := []struct {
		col, row int
		want     string
	}{
		{0, 0, "a"},
		{0, 1, "NULL"},
		{1, 0, "1.5"},
		{2, 0, `\x0102`},
		{3, 0, "2026-01-02T03:04:05Z"},
	}
	for _, tt := range tests {
		if got := formatCell(batch.Column(tt.col), tt.row); got != tt.want {
			t.Errorf("formatCell(%s, %d) = %q, want %q", schema.Field(tt.col).Name, tt.row, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short"); got != "short" {
		t.Errorf("truncate = %q", got)
	}
	got := truncate(strings.Repeat("x", 100))
	if len(got) != maxCellWidth || !strings.HasSuffix(got, "...") {
		t.Errorf("truncate = %q", got)
	}
	if got := oneLine("SELECT *\n  FROM t"); got != "SELECT * FROM t" {
		t.Errorf("oneLine = %q", got)
	}
}

func TestStatementOptions(t *testing.T) {
	f := queryFlags{download: true}
	if _, err := f.statementOptions(); err == nil {
		t.Error("--download without --store accepted")
	}
	f.store = string(sqlsession.StorageParquet)
	opts, err := f.statementOptions()
	if err != nil || len(opts) != 1 {
		t.Errorf("statementOptions() = %d options, %v", len(opts), err)
	}
}

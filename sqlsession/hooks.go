// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sqlsession

import (
	"context"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
)

// Outcome type string constants for QueryStatistics.Outcome.
const (
	OutcomeResults   = "results"
	OutcomeStored    = "stored"
	OutcomeCancelled = "cancelled"
	OutcomeError     = "error"
)

// QueryHook provides observability callpoints around statement execution.
// Implementations must be safe for concurrent use; statements on one
// connection execute concurrently.
type QueryHook interface {
	OnQueryStart(ctx context.Context, info QueryInfo) (context.Context, HookToken)
	OnQueryEnd(ctx context.Context, token HookToken, info QueryInfo, stats *QueryStatistics, err error)
}

// HookToken is an opaque value returned by OnQueryStart and passed back to
// OnQueryEnd. Only meaningful to the QueryHook that created it.
type HookToken interface{}

// QueryInfo carries statement metadata passed to hooks.
type QueryInfo struct {
	ExecutionID string
	Statement   string
	ChannelURL  string
	Runtime     Runtime
	Region      Region
	Stored      bool // a Store configuration was attached
}

// QueryStatistics describes how a statement resolved.
type QueryStatistics struct {
	Outcome      string // one of the Outcome* constants
	PayloadBytes int64  // compressed size of the inline result payload
	Compression  DataCompression
	Wait         time.Duration
}

// StreamStatistics holds counters for batches consumed from a ResultStream.
type StreamStatistics struct {
	Batches int64
	Rows    int64
	Bytes   int64
}

func (s *StreamStatistics) record(batch arrow.RecordBatch) {
	s.Batches++
	s.Rows += batch.NumRows()
	s.Bytes += batchBufferSize(batch)
}

// batchBufferSize returns the total top-level buffer size in bytes across all
// columns in a record batch.
func batchBufferSize(batch arrow.RecordBatch) int64 {
	var total int64
	for i := int64(0); i < batch.NumCols(); i++ {
		col := batch.Column(int(i))
		for _, buf := range col.Data().Buffers() {
			if buf != nil {
				total += int64(buf.Len())
			}
		}
	}
	return total
}

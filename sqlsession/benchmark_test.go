// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sqlsession

import (
	"encoding/json"
	"testing"

	"github.com/Query-farm/wherobots-sql/sqlsessiontest"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

func benchPayload(b *testing.B, codec string, rows, batches int) []byte {
	b.Helper()
	values := make([]int64, rows)
	for i := range values {
		values[i] = int64(i)
	}
	recs := make([]arrow.RecordBatch, batches)
	for i := range recs {
		recs[i] = sqlsessiontest.Int64Batch(memory.DefaultAllocator, "n", values...)
	}
	defer func() {
		for _, r := range recs {
			r.Release()
		}
	}()
	data, err := sqlsessiontest.ArrowPayload(codec, recs[0].Schema(), recs...)
	if err != nil {
		b.Fatal(err)
	}
	return data
}

func BenchmarkDecodeFrameStateUpdated(b *testing.B) {
	data := []byte(`{"kind":"state_updated","execution_id":"6f1c2a0e-8f7e-4a57-9d55-1b2b5e0b8d11","state":"succeeded"}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := DecodeFrame(FrameText, data); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDecodeFrameExecutionResult(b *testing.B) {
	payload := benchPayload(b, "zstd", 1024, 4)
	data, err := json.Marshal(sqlsessiontest.ExecutionResult("q1", "zstd", payload))
	if err != nil {
		b.Fatal(err)
	}
	b.SetBytes(int64(len(data)))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := DecodeFrame(FrameText, data); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDecodeResultBatch(b *testing.B) {
	for _, codec := range []string{"none", "lz4", "zstd"} {
		b.Run(codec, func(b *testing.B) {
			payload := benchPayload(b, codec, 4096, 8)
			b.SetBytes(int64(len(payload)))
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				s, err := DecodeResultBatch(payload, DataCompression(codec))
				if err != nil {
					b.Fatal(err)
				}
				for _, err := range s.Batches() {
					if err != nil {
						b.Fatal(err)
					}
				}
				s.Release()
			}
		})
	}
}

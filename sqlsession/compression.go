// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sqlsession

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// sharedZstd is a process-wide decoder used only through DecodeAll, which is
// safe for concurrent use. It is built on first use and never reconfigured.
var sharedZstd = sync.OnceValues(func() (*zstd.Decoder, error) {
	return zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
})

// decompress returns a reader over the decompressed payload.
func decompress(codec DataCompression, data []byte) (io.Reader, error) {
	switch codec {
	case CompressionNone:
		return bytes.NewReader(data), nil
	case CompressionLZ4:
		return lz4.NewReader(bytes.NewReader(data)), nil
	case CompressionZstd:
		dec, err := sharedZstd()
		if err != nil {
			return nil, fmt.Errorf("initializing zstd decoder: %w", err)
		}
		out, err := dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return bytes.NewReader(out), nil
	default:
		return nil, fmt.Errorf("unsupported compression codec %q", codec)
	}
}

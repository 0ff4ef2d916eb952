// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sqlsession

import (
	"log/slog"
	"net/http"
	"strings"
)

// sensitiveHeaders never reach log output.
var sensitiveHeaders = map[string]bool{
	"Authorization": true,
	"X-Api-Key":     true,
}

// maskHeaders returns a slog group value of h with credentials replaced.
func maskHeaders(h http.Header) slog.Value {
	attrs := make([]slog.Attr, 0, len(h))
	for k, v := range h {
		val := strings.Join(v, ",")
		if sensitiveHeaders[http.CanonicalHeaderKey(k)] {
			val = maskSecret(val)
		}
		attrs = append(attrs, slog.String(k, val))
	}
	return slog.GroupValue(attrs...)
}

// maskSecret keeps an auth scheme prefix such as "Bearer" and hides the rest.
func maskSecret(v string) string {
	if scheme, _, ok := strings.Cut(v, " "); ok {
		return scheme + " ***"
	}
	return "***"
}

// frameSummary is a short, loggable description of a frame payload.
func frameSummary(data []byte) string {
	const limit = 256
	if len(data) > limit {
		return string(data[:limit]) + "..."
	}
	return string(data)
}

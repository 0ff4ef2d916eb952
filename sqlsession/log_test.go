// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sqlsession

import (
	"net/http"
	"strings"
	"testing"
)

func TestMaskHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer secret-token")
	h.Set("X-API-Key", "secret-key")
	h.Set("User-Agent", "ua")

	got := map[string]string{}
	for _, a := range maskHeaders(h).Group() {
		got[a.Key] = a.Value.String()
	}

	if got["Authorization"] != "Bearer ***" {
		t.Errorf("Authorization = %q", got["Authorization"])
	}
	if got["X-Api-Key"] != "***" {
		t.Errorf("X-Api-Key = %q", got["X-Api-Key"])
	}
	if got["User-Agent"] != "ua" {
		t.Errorf("User-Agent = %q", got["User-Agent"])
	}
}

func TestFrameSummary(t *testing.T) {
	if got := frameSummary([]byte("short")); got != "short" {
		t.Errorf("frameSummary = %q", got)
	}
	long := strings.Repeat("x", 1000)
	got := frameSummary([]byte(long))
	if len(got) != 259 || !strings.HasSuffix(got, "...") {
		t.Errorf("frameSummary truncated to %d bytes", len(got))
	}
}

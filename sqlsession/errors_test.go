package sqlsession

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", queryError("q1", "boom", nil))

	if !errors.Is(err, ErrQuery) {
		t.Error("query error does not match ErrQuery")
	}
	if errors.Is(err, ErrTransport) {
		t.Error("query error matches ErrTransport")
	}
	if !errors.Is(err, &Error{}) {
		t.Error("empty-kind target does not match")
	}
	if !IsKind(err, KindQuery) || IsKind(err, KindTimeout) {
		t.Error("IsKind mismatch")
	}
}

func TestErrorUnwrap(t *testing.T) {
	err := newError(KindProvision, "waiting for session", context.DeadlineExceeded)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("cause is not reachable through Unwrap")
	}
	if !errors.Is(err, ErrProvision) {
		t.Error("error does not match its kind")
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{newError(KindConfig, "host is required", nil), "config: host is required"},
		{queryError("q1", "table not found", nil), "query: table not found (execution q1)"},
		{newError(KindConnect, "opening channel", errors.New("refused")), "connect: opening channel: refused"},
	}

	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

package steamerr

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorIsKindAndCause(t *testing.T) {
	err := Transport("query time", context.DeadlineExceeded)

	if !errors.Is(err, ErrTransport) {
		t.Error("errors.Is(err, ErrTransport) = false; want true")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("errors.Is(err, context.DeadlineExceeded) = false; want true")
	}
	if errors.Is(err, ErrProtocol) {
		t.Error("errors.Is(err, ErrProtocol) = true; want false")
	}
}

func TestErrorSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("accept confirmation: %w", NotFound("find confirmation", nil))

	if !errors.Is(err, ErrNotFound) {
		t.Error("errors.Is(wrapped, ErrNotFound) = false; want true")
	}

	var e *Error
	if !errors.As(err, &e) {
		t.Fatal("errors.As(wrapped, *Error) = false; want true")
	}
	if got, want := e.Op, "find confirmation"; got != want {
		t.Errorf("e.Op = %q; want %q", got, want)
	}
}

func TestErrorString(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"with cause", Protocolf("fetch", "unexpected %s", "body"), "fetch: protocol error: unexpected body"},
		{"without cause", Auth("login", nil), "login: auth error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q; want %q", got, tt.want)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{Transport("op", nil), true},
		{NotFound("op", nil), true},
		{Auth("op", nil), false},
		{Crypto("op", nil), false},
		{Protocol("op", nil), false},
		{errors.New("plain"), false},
	}

	for _, tt := range tests {
		if got := Retryable(tt.err); got != tt.want {
			t.Errorf("Retryable(%v) = %v; want %v", tt.err, got, tt.want)
		}
	}
}

package query

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/HyphaGroup/conduit/internal/transport"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ErrorUnknown},
		{"context canceled", context.Canceled, ErrorCancelled},
		{"wrapped cancel", fmt.Errorf("sending prompt: %w", context.Canceled), ErrorCancelled},
		{"deadline", context.DeadlineExceeded, ErrorTimeout},
		{"query timeout sentinel", errQueryTimeout, ErrorTimeout},
		{"transport timeout", transport.ErrRequestTimeout, ErrorTimeout},
		{"connection refused", errors.New("dial tcp 127.0.0.1:4096: connect: connection refused"), ErrorNetwork},
		{"no such host", errors.New("dial tcp: lookup nohost: no such host"), ErrorNetwork},
		{"broken pipe", errors.New("write: broken pipe"), ErrorNetwork},
		{"textual timeout", errors.New("request timed out waiting for response"), ErrorTimeout},
		{"server status", errors.New("server returned 500: internal"), ErrorServer},
		{"unknown", errors.New("something odd"), ErrorUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestUserMessage(t *testing.T) {
	msg := userMessage(ErrorNetwork, errors.New("connection refused"))
	if msg == "connection refused" {
		t.Error("network errors should be prefixed with a readable explanation")
	}
	plain := userMessage(ErrorUnknown, errors.New("odd"))
	if plain != "odd" {
		t.Errorf("unknown errors pass through, got %q", plain)
	}
}

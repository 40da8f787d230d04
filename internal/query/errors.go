package query

import (
	"context"
	"errors"
	"strings"

	"github.com/HyphaGroup/conduit/internal/transport"
)

// ErrorKind classifies a query failure for display and metrics.
type ErrorKind string

const (
	ErrorNetwork   ErrorKind = "network"
	ErrorTimeout   ErrorKind = "timeout"
	ErrorServer    ErrorKind = "server"
	ErrorCancelled ErrorKind = "cancelled"
	ErrorUnknown   ErrorKind = "unknown"
)

// errQueryTimeout is the cancellation cause attached to a query
// deadline, distinguishing it from a manual cancel.
var errQueryTimeout = errors.New("query timed out")

// Classify buckets an error into the failure taxonomy. The server
// reports low-level socket failures only through message text, so
// substring checks back up the sentinel comparisons.
func Classify(err error) ErrorKind {
	if err == nil {
		return ErrorUnknown
	}

	if errors.Is(err, context.Canceled) {
		return ErrorCancelled
	}
	if errors.Is(err, errQueryTimeout) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, transport.ErrRequestTimeout) {
		return ErrorTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "econnrefused"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "broken pipe"):
		return ErrorNetwork
	case strings.Contains(msg, "timed out"), strings.Contains(msg, "timeout"):
		return ErrorTimeout
	case strings.Contains(msg, "abort"), strings.Contains(msg, "cancel"):
		return ErrorCancelled
	case strings.Contains(msg, "server returned"):
		return ErrorServer
	}
	return ErrorUnknown
}

// userMessage renders an error for direct display.
func userMessage(kind ErrorKind, err error) string {
	switch kind {
	case ErrorNetwork:
		return "Could not reach the agent server: " + err.Error()
	case ErrorTimeout:
		return "The request timed out: " + err.Error()
	case ErrorServer:
		return "The agent server reported an error: " + err.Error()
	default:
		return err.Error()
	}
}

package errs

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Category classifies a lower-level I/O error for retry purposes.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryConnectivity
	CategoryTimeout
	CategoryAuth
	CategoryQuery
)

// Classify inspects err and guesses which Category it belongs to, based on
// the concrete net.Error interface when available and substring matching on
// the error text otherwise — store backends speak ClickHouse, Postgres,
// Neo4j, and S3 wire protocols, none of which expose a shared typed error,
// so text matching is the only backend-agnostic option.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CategoryTimeout
		}
		return CategoryConnectivity
	}

	s := strings.ToLower(err.Error())

	for _, p := range []string{
		"connection refused", "connection reset", "connection closed",
		"no such host", "dial tcp", "dial unix", "eof", "broken pipe",
		"network is unreachable", "no route to host", "i/o timeout",
		"pool is closed", "driver is closed", "neo4j is unavailable",
		"server shutdown", "client is closing",
	} {
		if strings.Contains(s, p) {
			return CategoryConnectivity
		}
	}

	for _, p := range []string{"timeout", "deadline exceeded", "context deadline", "timed out"} {
		if strings.Contains(s, p) {
			return CategoryTimeout
		}
	}

	for _, p := range []string{"unauthorized", "authentication failed", "invalid credentials", "access denied", "permission denied"} {
		if strings.Contains(s, p) {
			return CategoryAuth
		}
	}

	for _, p := range []string{"syntax error", "invalid query", "unknown column", "table not found", "unknown table", "invalid cypher"} {
		if strings.Contains(s, p) {
			return CategoryQuery
		}
	}

	return CategoryUnknown
}

// IsTransient reports whether err is worth retrying: connectivity and
// timeout categories are; context cancellation never is.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch Classify(err) {
	case CategoryConnectivity, CategoryTimeout:
		return true
	default:
		return false
	}
}

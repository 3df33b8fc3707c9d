package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// TransientError wraps an error that is safe to retry (e.g., 429, 5xx, network timeout).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// NotFoundError marks a request for an identifier the provider does not know.
// Retrying cannot succeed.
type NotFoundError struct {
	Err error
}

func (e *NotFoundError) Error() string {
	return e.Err.Error()
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

// NewNotFoundError wraps err as terminal.
func NewNotFoundError(err error) *NotFoundError {
	return &NotFoundError{Err: err}
}

// SchemaError reports a provider response missing a field the parser
// requires. The provider's shape changed; retrying returns the same payload.
type SchemaError struct {
	Field string
	Err   error
}

func (e *SchemaError) Error() string {
	return "missing field '" + e.Field + "': " + e.Err.Error()
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// NewSchemaError reports that field was absent from a provider response.
func NewSchemaError(field string, err error) *SchemaError {
	return &SchemaError{Field: field, Err: err}
}

// Class is the retry classification of an error.
type Class int

const (
	// ClassUnknown errors are retried like transient ones but logged louder.
	ClassUnknown Class = iota
	// ClassTransient errors are retried with backoff.
	ClassTransient
	// ClassTerminal errors end the call immediately with an empty result.
	ClassTerminal
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Classify buckets err for the retry loop.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	if IsTerminal(err) {
		return ClassTerminal
	}
	if IsTransient(err) {
		return ClassTransient
	}
	return ClassUnknown
}

// IsTerminal reports whether err signals a missing identifier or a missing
// schema key, neither of which a retry can fix.
func IsTerminal(err error) bool {
	if err == nil {
		return false
	}

	var nf *NotFoundError
	if errors.As(err, &nf) {
		return true
	}
	var se *SchemaError
	if errors.As(err, &se) {
		return true
	}

	msg := strings.ToLower(err.Error())
	terminalPatterns := []string{
		"not found",
		"不存在",
		"no data for symbol",
		"invalid symbol",
		"missing field 'date'",
		"keyerror: 'date'",
	}
	for _, p := range terminalPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, or if it matches common transient error patterns (network
// timeouts, connection resets, DNS failures).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"connection aborted",
		"remote end closed connection",
		"broken pipe",
		"temporary failure in name resolution",
		"tls handshake timeout",
		"i/o timeout",
		"timed out",
		"server closed idle connection",
		"unexpected eof",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

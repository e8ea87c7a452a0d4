package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// TransientError wraps an error that is safe to retry (e.g., 429, 5xx,
// network timeout). RetryAfter carries the server-requested wait from a
// Retry-After header, when present; the retry loop honors it in preference
// to the computed backoff.
type TransientError struct {
	Err        error
	StatusCode int
	RetryAfter time.Duration
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

// HTMLResponseError marks a non-JSON HTML response body: an intermediary
// (redirect, CDN challenge page) answered instead of the API. It is an
// infrastructure fault and always retryable, never parsed as domain data.
type HTMLResponseError struct {
	StatusCode int
	Excerpt    string
}

func (e *HTMLResponseError) Error() string {
	return fmt.Sprintf("non-JSON HTML response %d; probable redirect or intermediary", e.StatusCode)
}

// IsHTMLResponse reports whether the error chain contains an HTMLResponseError.
func IsHTMLResponse(err error) bool {
	var he *HTMLResponseError
	return errors.As(err, &he)
}

// DuplicateError is the CRM's "duplicated contacts" rejection on a create.
// When the rejection carries the existing contact's id the create is
// effectively idempotent and callers treat it as success.
type DuplicateError struct {
	ExistingID string
	Message    string
}

func (e *DuplicateError) Error() string {
	if e.ExistingID != "" {
		return fmt.Sprintf("duplicated contacts (existing id %s)", e.ExistingID)
	}
	return "duplicated contacts: " + e.Message
}

// AsDuplicate extracts a DuplicateError from the chain, if any.
func AsDuplicate(err error) (*DuplicateError, bool) {
	var de *DuplicateError
	ok := errors.As(err, &de)
	return de, ok
}

// RetryAfterHint returns the server-requested wait carried on a
// TransientError in the chain, or zero.
func RetryAfterHint(err error) time.Duration {
	var te *TransientError
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	return 0
}

// Postgres error codes that indicate a transient condition worth retrying:
// statement timeout / query cancel, serialization failure, deadlock.
var transientPgCodes = map[string]bool{
	"57014": true, // query_canceled (statement_timeout)
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"53300": true, // too_many_connections
	"08006": true, // connection_failure
	"08003": true, // connection_does_not_exist
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, an HTML-shaped response, a transient Postgres condition,
// or matches common transient network patterns.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if IsHTMLResponse(err) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && transientPgCodes[pgErr.Code] {
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

	// String-based heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
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
	case 408, // Request Timeout
		429, // Too Many Requests
		500, // Internal Server Error
		502, // Bad Gateway
		503, // Service Unavailable
		504: // Gateway Timeout
		return true
	default:
		return false
	}
}

package ports

import (
	"errors"
	"fmt"
	"net/http"
)

// TransportError reports a failed remote read. Status is zero for network
// level failures that never produced a response.
type TransportError struct {
	URL    string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("transport failure for %s: %v", e.URL, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("status=%d url=%s: %v", e.Status, e.URL, e.Err)
	}
	return fmt.Sprintf("status=%d url=%s", e.Status, e.URL)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IntegrityError is raised when downloaded content does not match its
// published SHA-256 digest after every retry.
type IntegrityError struct {
	URL      string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("sha256 mismatch for %s: expected %s, got %s", e.URL, e.Expected, e.Actual)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var transport *TransportError
	if errors.As(err, &transport) {
		return transport.Status
	}
	return 0
}

// IsTransport reports any remote read failure, with or without a status.
func IsTransport(err error) bool {
	var transport *TransportError
	return errors.As(err, &transport)
}

// IsNotFound covers 404 and the 499 "network disabled" signal.
func IsNotFound(err error) bool {
	status := StatusOf(err)
	return status == http.StatusNotFound || status == 499
}

// IsSystemic reports statuses that point at the repository itself rather
// than a single missing resource.
func IsSystemic(err error) bool {
	status := StatusOf(err)
	return status == http.StatusUnauthorized ||
		status == http.StatusForbidden ||
		status == http.StatusTooManyRequests ||
		status >= http.StatusInternalServerError
}

// IsIntegrity reports SHA-256 verification failures.
func IsIntegrity(err error) bool {
	var integrity *IntegrityError
	return errors.As(err, &integrity)
}

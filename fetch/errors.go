package fetch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"syscall"
)

var (
	// ErrTransient wraps network failures that survived every retry.
	ErrTransient = errors.New("fetch: transient network error")

	// ErrBlocked is returned when the URL validator rejects a target.
	ErrBlocked = errors.New("fetch: url blocked")
)

// StatusError is returned alongside a Response whose status is >= 400.
// Status failures are never retried.
type StatusError struct {
	Code    int
	URL     string
	Preview string // first bytes of the body, for diagnostics
}

func (e *StatusError) Error() string {
	if e.Preview == "" {
		return fmt.Sprintf("fetch: %s: http %d", e.URL, e.Code)
	}
	return fmt.Sprintf("fetch: %s: http %d: %s", e.URL, e.Code, e.Preview)
}

// Class is a coarse error category used for logging and suppression.
type Class string

const (
	ClassNone      Class = ""
	ClassTransient Class = "network_transient"
	ClassFatal     Class = "network_fatal"
	ClassCanceled  Class = "canceled"
	ClassBlocked   Class = "blocked"
	ClassUnknown   Class = "unknown"
)

// Classify maps an error returned by Fetcher.Do to a Class.
func Classify(err error) Class {
	var se *StatusError
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, context.Canceled):
		return ClassCanceled
	case errors.Is(err, ErrBlocked):
		return ClassBlocked
	case errors.As(err, &se):
		return ClassFatal
	case errors.Is(err, ErrTransient), isTransient(err):
		return ClassTransient
	}
	return ClassUnknown
}

// isTransient reports whether a transport error is worth retrying:
// timeouts, refused or reset connections, DNS failures, truncated reads
// and TLS handshake failures.
func isTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var recErr tls.RecordHeaderError
	if errors.As(err, &recErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		msg := strings.ToLower(urlErr.Err.Error())
		return strings.Contains(msg, "handshake") ||
			strings.Contains(msg, "connection reset") ||
			strings.Contains(msg, "server closed")
	}
	return false
}

package domain

import "errors"

// ErrorKind classifies failures so callers can tell retryable conditions from
// terminal ones without inspecting messages.
type ErrorKind string

const (
	KindNotYetAvailable    ErrorKind = "not_yet_available"
	KindDownloadFailed     ErrorKind = "download_failed"
	KindParseFailed        ErrorKind = "parse_failed"
	KindNoCycleAvailable   ErrorKind = "no_cycle_available"
	KindRegionUnsupported  ErrorKind = "region_unsupported"
	KindServiceUnavailable ErrorKind = "service_unavailable"
)

// Sentinels for errors.Is. An *Error matches the sentinel of its kind.
var (
	ErrNotYetAvailable    = &Error{Kind: KindNotYetAvailable}
	ErrDownloadFailed     = &Error{Kind: KindDownloadFailed}
	ErrParseFailed        = &Error{Kind: KindParseFailed}
	ErrNoCycleAvailable   = &Error{Kind: KindNoCycleAvailable}
	ErrRegionUnsupported  = &Error{Kind: KindRegionUnsupported}
	ErrServiceUnavailable = &Error{Kind: KindServiceUnavailable}
)

// Error carries a kind, the failing operation and the underlying cause.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// E builds an *Error.
func E(kind ErrorKind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotYetAvailable)
// works regardless of Op and cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// Retryable reports whether a later attempt may succeed.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindNotYetAvailable, KindDownloadFailed, KindServiceUnavailable:
		return true
	}
	return false
}

// KindOf extracts the kind of err, or "" when err carries none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsRetryable reports whether err is a retryable domain error.
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable()
}

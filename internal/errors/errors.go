package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Kind is the stable category of an error surfaced by the client runtime.
// Callers branch on Kind, never on raw transport errors.
type Kind int

const (
	// KindConfig - malformed endpoint or configuration
	KindConfig Kind = iota
	// KindConnection - transport-level failure (refused, reset, unreachable)
	KindConnection
	// KindAuthentication - credentials rejected by the server
	KindAuthentication
	// KindSessionInvalid - server reports the session expired or unknown
	KindSessionInvalid
	// KindTimeout - client-side deadline elapsed before the task settled
	KindTimeout
	// KindBufferFull - task evicted because the dispatch queue was at capacity
	KindBufferFull
	// KindCircuitOpen - call short-circuited by an open circuit breaker
	KindCircuitOpen
	// KindQuery - statement rejected by the database
	KindQuery
	// KindInternal - unexpected internal state
	KindInternal
)

// Severity represents how critical an error is
type Severity int

const (
	// SeverityLow - can continue with degraded functionality
	SeverityLow Severity = iota
	// SeverityMedium - should be addressed but not fatal
	SeverityMedium
	// SeverityHigh - significant issue, may impact functionality
	SeverityHigh
	// SeverityCritical - must be addressed, stops execution
	SeverityCritical
)

// Error is a structured error with a stable kind and optional context.
type Error struct {
	Kind     Kind
	Severity Severity
	Message  string
	Cause    error
	Context  map[string]any
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors of the same kind, so errors.Is sentinel checks keyed on
// Kind work across wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithContext adds a key/value pair to the error's context map.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// DetailedString renders the error with kind, severity and context for logs.
func (e *Error) DetailedString() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] [%s] %s", severityString(e.Severity), kindString(e.Kind), e.Message))
	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf(" (caused by: %v)", e.Cause))
	}
	for k, v := range e.Context {
		sb.WriteString(fmt.Sprintf(" %s=%v", k, v))
	}
	return sb.String()
}

func kindString(k Kind) string {
	switch k {
	case KindConfig:
		return "CONFIG"
	case KindConnection:
		return "CONNECTION"
	case KindAuthentication:
		return "AUTHENTICATION"
	case KindSessionInvalid:
		return "SESSION_INVALID"
	case KindTimeout:
		return "TIMEOUT"
	case KindBufferFull:
		return "BUFFER_FULL"
	case KindCircuitOpen:
		return "CIRCUIT_OPEN"
	case KindQuery:
		return "QUERY"
	case KindInternal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

func severityString(s Severity) string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// New creates a new error with the given kind, severity, and message
func New(kind Kind, severity Severity, message string) *Error {
	return &Error{Kind: kind, Severity: severity, Message: message}
}

// Wrap wraps an existing error; returns nil if err is nil so call sites can
// wrap unconditionally.
func Wrap(err error, kind Kind, severity Severity, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Severity: severity, Message: message, Cause: err}
}

// KindOf returns the kind of an error, unwrapping as needed.
// Non-structured errors report KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Convenience constructors for the taxonomy

// ConfigError creates a configuration error
func ConfigError(message string) *Error {
	return New(KindConfig, SeverityCritical, message)
}

// ConfigErrorf creates a configuration error with formatting
func ConfigErrorf(format string, args ...any) *Error {
	return New(KindConfig, SeverityCritical, fmt.Sprintf(format, args...))
}

// ConnectionError wraps a transport failure; err may be nil.
func ConnectionError(err error, message string) *Error {
	return &Error{Kind: KindConnection, Severity: SeverityHigh, Message: message, Cause: err}
}

// ConnectionErrorf wraps a transport failure with formatting
func ConnectionErrorf(err error, format string, args ...any) *Error {
	return ConnectionError(err, fmt.Sprintf(format, args...))
}

// AuthenticationError wraps a credential rejection; err may be nil.
func AuthenticationError(err error, message string) *Error {
	return &Error{Kind: KindAuthentication, Severity: SeverityCritical, Message: message, Cause: err}
}

// SessionInvalidError wraps a server-side session expiry/invalidation; err
// may be nil.
func SessionInvalidError(err error, message string) *Error {
	return &Error{Kind: KindSessionInvalid, Severity: SeverityMedium, Message: message, Cause: err}
}

// TimeoutError creates a client-side timeout error
func TimeoutError(message string) *Error {
	return New(KindTimeout, SeverityMedium, message)
}

// TimeoutErrorf creates a client-side timeout error with formatting
func TimeoutErrorf(format string, args ...any) *Error {
	return New(KindTimeout, SeverityMedium, fmt.Sprintf(format, args...))
}

// BufferFullError creates a queue-overflow eviction error
func BufferFullError(message string) *Error {
	return New(KindBufferFull, SeverityMedium, message)
}

// CircuitOpenError creates a short-circuit rejection error
func CircuitOpenError(message string) *Error {
	return New(KindCircuitOpen, SeverityMedium, message)
}

// QueryError wraps a statement rejected by the database; err may be nil.
func QueryError(err error, message string) *Error {
	return &Error{Kind: KindQuery, Severity: SeverityHigh, Message: message, Cause: err}
}

// QueryErrorf wraps a statement rejection with formatting
func QueryErrorf(err error, format string, args ...any) *Error {
	return QueryError(err, fmt.Sprintf(format, args...))
}

// InternalError creates an internal error
func InternalError(message string) *Error {
	return New(KindInternal, SeverityCritical, message)
}

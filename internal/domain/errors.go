package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorKind classifies errors raised by the routing core.
type ErrorKind string

const (
	// KindConfig marks a malformed rule file or registry entry.
	KindConfig ErrorKind = "config"
	// KindAuth marks an invalid credential or one that needs an interactive step.
	KindAuth ErrorKind = "auth"
	// KindTransport marks a failed send or forward call.
	KindTransport ErrorKind = "transport"
)

var (
	// ErrNeedsManualAuth is wrapped by auth errors for sessions that need a
	// login code or similar step this process cannot supply.
	ErrNeedsManualAuth = errors.New("needs manual authorization")
	// ErrStreamClosed is returned when the inbound message stream ends.
	ErrStreamClosed = errors.New("message stream closed")
)

// Error is a classified error with optional diagnostic context.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
	Context map[string]any
}

func (e *Error) Error() string {
	parts := []string{string(e.Kind), e.Message}
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		kv := make([]string, 0, len(keys))
		for _, k := range keys {
			kv = append(kv, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, strings.Join(kv, " "))
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// With adds a context key to the error and returns it.
func (e *Error) With(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// ConfigErrorf creates a config error.
func ConfigErrorf(format string, args ...any) *Error {
	return &Error{Kind: KindConfig, Message: fmt.Sprintf(format, args...)}
}

// WrapConfig wraps cause as a config error.
func WrapConfig(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindConfig, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// AuthError wraps cause as an auth error.
func AuthError(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindAuth, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// TransportError wraps a failed send to dest.
func TransportError(dest int64, cause error) *Error {
	e := &Error{Kind: KindTransport, Message: "delivery failed", Cause: cause}
	return e.With("dest", dest)
}

// KindOf returns the kind of the first classified error in err's chain, or ""
// when there is none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsConfig(err error) bool    { return KindOf(err) == KindConfig }
func IsAuth(err error) bool      { return KindOf(err) == KindAuth }
func IsTransport(err error) bool { return KindOf(err) == KindTransport }

// ValidationWarning flags a rule that loads but is suspicious, for example one
// that can never match.
type ValidationWarning struct {
	RuleIndex int
	Message   string
}

func (w ValidationWarning) String() string {
	return fmt.Sprintf("rule %d: %s", w.RuleIndex, w.Message)
}

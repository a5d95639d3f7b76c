// Package result defines the uniform envelope returned by every LMS operation.
// Operations never return Go errors to their callers; all outcomes, including
// failures, cross the component boundary as an Envelope.
package result

import (
	"errors"
	"fmt"
)

// FailureKind classifies a failed envelope.
type FailureKind string

const (
	// KindNone is the kind of every successful envelope.
	KindNone FailureKind = ""

	// KindValidation marks caller-supplied bad input detected before any network call.
	KindValidation FailureKind = "validation"

	// KindAuthentication marks a token endpoint that rejected or omitted the token.
	KindAuthentication FailureKind = "authentication"

	// KindTransport marks connection, timeout and non-2xx failures surfaced after retries.
	KindTransport FailureKind = "transport"

	// KindMalformedResponse marks a 2xx response whose body could not be decoded.
	KindMalformedResponse FailureKind = "malformed_response"

	// KindConfiguration marks invalid wiring such as a non-positive retry budget.
	KindConfiguration FailureKind = "configuration"
)

// unknownError replaces an empty failure message so a failed envelope always carries one.
const unknownError = "unknown error"

// Envelope is the success/failure wrapper.
// Success implies Error == "". Failure implies Data == nil and Error != "".
type Envelope struct {
	Success  bool           `json:"success"`
	Data     any            `json:"data"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Kind     FailureKind    `json:"kind,omitempty"`
}

// OK builds a successful envelope.
func OK(data any, metadata map[string]any) Envelope {
	return Envelope{
		Success:  true,
		Data:     data,
		Metadata: copyMetadata(metadata),
	}
}

// Fail builds a failed envelope of unspecified kind.
func Fail(message string, metadata map[string]any) Envelope {
	if message == "" {
		message = unknownError
	}
	return Envelope{
		Success:  false,
		Error:    message,
		Metadata: copyMetadata(metadata),
	}
}

// Failf builds a failed envelope of the given kind with a formatted message.
func Failf(kind FailureKind, format string, args ...any) Envelope {
	return Fail(fmt.Sprintf(format, args...), nil).WithKind(kind)
}

// WithKind returns a copy of a failed envelope tagged with kind.
// Successful envelopes are returned unchanged.
func (e Envelope) WithKind(kind FailureKind) Envelope {
	if e.Success {
		return e
	}
	e.Kind = kind
	return e
}

// WithMetadata returns a copy of e with key set in its metadata.
func (e Envelope) WithMetadata(key string, value any) Envelope {
	md := copyMetadata(e.Metadata)
	if md == nil {
		md = make(map[string]any, 1)
	}
	md[key] = value
	e.Metadata = md
	return e
}

// Prefixed returns a copy of a failed envelope whose error message is prefix+Error.
func (e Envelope) Prefixed(prefix string) Envelope {
	if e.Success {
		return e
	}
	e.Error = prefix + e.Error
	return e
}

// Err converts a failed envelope into an error, nil for success.
func (e Envelope) Err() error {
	if e.Success {
		return nil
	}
	return &Error{Kind: e.Kind, Message: e.Error}
}

// Is reports whether e failed with the given kind.
func (e Envelope) Is(kind FailureKind) bool {
	return !e.Success && e.Kind == kind
}

// Count returns the number of items carried by a list payload, or -1 when the
// payload is not a list.
func (e Envelope) Count() int {
	switch v := e.Data.(type) {
	case []any:
		return len(v)
	case []map[string]any:
		return len(v)
	default:
		return -1
	}
}

// Error is the error form of a failed envelope.
type Error struct {
	Kind    FailureKind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// KindOf extracts the failure kind from err, KindNone when err is not an envelope error.
func KindOf(err error) FailureKind {
	var envErr *Error
	if errors.As(err, &envErr) {
		return envErr.Kind
	}
	return KindNone
}

func copyMetadata(md map[string]any) map[string]any {
	if md == nil {
		return nil
	}
	out := make(map[string]any, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}

package core

import (
	"fmt"
	"net/url"
)

// Error is the canonical error for room-client failures.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    string    `json:"code,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	// ErrCredential covers token fetch failures and rejected credentials.
	ErrCredential ErrorType = "credential_error"
	// ErrPrecondition covers operations invoked in an invalid session state,
	// such as start/stop before an agent is discovered.
	ErrPrecondition ErrorType = "precondition_error"
	// ErrDecode covers per-message payload failures (invalid UTF-8).
	ErrDecode ErrorType = "decode_error"
	// ErrAPI covers errors reported by the room or token servers.
	ErrAPI ErrorType = "api_error"
)

// NewCredentialError creates a credential error.
func NewCredentialError(message string) *Error {
	return &Error{
		Type:    ErrCredential,
		Message: message,
	}
}

// NewPreconditionError creates a precondition error.
func NewPreconditionError(message string) *Error {
	return &Error{
		Type:    ErrPrecondition,
		Message: message,
	}
}

// NewDecodeError creates a decode error.
func NewDecodeError(message string) *Error {
	return &Error{
		Type:    ErrDecode,
		Message: message,
	}
}

// NewAPIError creates a generic API error.
func NewAPIError(message string) *Error {
	return &Error{
		Type:    ErrAPI,
		Message: message,
	}
}

// IsRetryable returns true if a new attempt may succeed without operator
// intervention. Credential and precondition errors are not retryable.
func (e *Error) IsRetryable() bool {
	return e.Type == ErrAPI
}

// TransportError represents network-level failures (DNS, timeouts,
// connection reset, TLS handshake, websocket dial) while talking to the
// token service or the room server.
//
// Use errors.As(err, &TransportError{}) to distinguish transport failures
// from canonical client errors (*core.Error).
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Op != "" && e.URL != "":
		return fmt.Sprintf("transport error during %s %s: %v", e.Op, redactURLUserInfo(e.URL), e.Err)
	case e.Op != "":
		return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("transport error: %v", e.Err)
	}
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func redactURLUserInfo(raw string) string {
	if raw == "" {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed == nil {
		return raw
	}
	parsed.User = nil
	return parsed.String()
}

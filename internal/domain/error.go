package domain

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeUnknownVenue            ErrorCode = "UNKNOWN_VENUE"
	CodeProviderNotConfigured   ErrorCode = "PROVIDER_NOT_CONFIGURED"
	CodeUnsupportedTool         ErrorCode = "UNSUPPORTED_TOOL"
	CodeProviderInvocationError ErrorCode = "PROVIDER_INVOCATION_FAILED"
	CodeNormalizerNotFound      ErrorCode = "NORMALIZER_NOT_FOUND"
	CodeNormalizationFailed     ErrorCode = "NORMALIZATION_FAILED"
	CodeInvalidArgument         ErrorCode = "INVALID_ARGUMENT"
	CodeUnavailable             ErrorCode = "UNAVAILABLE"
	CodeInternal                ErrorCode = "INTERNAL"
)

// Error is the typed failure carried across the routing and normalization
// pipeline. Validation codes (UNKNOWN_VENUE, PROVIDER_NOT_CONFIGURED,
// UNSUPPORTED_TOOL) are raised before any provider call; the remaining codes
// describe what went wrong after the call was attempted.
type Error struct {
	Code    ErrorCode
	Op      string
	Message string
	Cause   error
	Meta    map[string]string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if e.Cause != nil {
		if msg == "" {
			msg = e.Cause.Error()
		} else if cause := e.Cause.Error(); cause != msg {
			msg = msg + ": " + cause
		}
	}
	if e.Op == "" {
		if msg == "" {
			return string(e.Code)
		}
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
	if msg == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, msg)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func E(code ErrorCode, op, msg string, cause error) *Error {
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	return &Error{
		Code:    code,
		Op:      op,
		Message: msg,
		Cause:   cause,
	}
}

func Wrap(code ErrorCode, op string, err error) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		if existing.Op != "" || op == "" {
			return existing
		}
		return &Error{
			Code:    existing.Code,
			Op:      op,
			Message: existing.Message,
			Cause:   existing.Cause,
			Meta:    existing.Meta,
		}
	}
	return E(code, op, "", err)
}

// WithMeta attaches a key/value pair and returns the same error for chaining.
func (e *Error) WithMeta(key, value string) *Error {
	if e == nil {
		return nil
	}
	if e.Meta == nil {
		e.Meta = make(map[string]string)
	}
	e.Meta[key] = value
	return e
}

// CodeFrom extracts the error code, so the transport layer can map failures
// to machine-readable responses without inspecting error strings.
func CodeFrom(err error) (ErrorCode, bool) {
	if err == nil {
		return "", false
	}
	var domainErr *Error
	if errors.As(err, &domainErr) && domainErr.Code != "" {
		return domainErr.Code, true
	}
	return "", false
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	got, ok := CodeFrom(err)
	return ok && got == code
}

// Validation failure codes never reach the network; callers use this to tell
// a wasted round-trip apart from a bad request.
func IsValidationCode(code ErrorCode) bool {
	switch code {
	case CodeUnknownVenue, CodeProviderNotConfigured, CodeUnsupportedTool, CodeInvalidArgument:
		return true
	default:
		return false
	}
}

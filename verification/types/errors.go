package types

import (
	"errors"
	"fmt"
)

// Kinds of decoding failures. Use errors.Is to match a [*DecodeError] against them.
var (
	// ErrTruncated indicates the input ended before a fixed-size structure was complete.
	ErrTruncated = errors.New("truncated input")
	// ErrUnsupportedVersion indicates an unknown version, TEE type, or type tag.
	ErrUnsupportedVersion = errors.New("unsupported format")
	// ErrLengthMismatch indicates a declared length that does not match the data.
	ErrLengthMismatch = errors.New("length mismatch")
	// ErrInvalidChain indicates a malformed, empty or oversized certificate chain.
	ErrInvalidChain = errors.New("invalid certificate chain")
	// ErrMissingField indicates that a required field is absent.
	ErrMissingField = errors.New("missing field")
	// ErrInvalidValue indicates a well-formed field holding a value out of range.
	ErrInvalidValue = errors.New("invalid value")
)

// DecodeError is returned for malformed input.
type DecodeError struct {
	// Kind is one of the Err* sentinels of this package.
	Kind error
	// Field names the offending structure or field.
	Field string
	// Msg holds additional detail.
	Msg string
	// Err is the underlying cause, if any.
	Err error
}

func (e *DecodeError) Error() string {
	msg := e.Kind.Error()
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, msg)
	}
	if e.Msg != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the kind and the cause of the error.
func (e *DecodeError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func truncated(field string, need, got int) error {
	return &DecodeError{Kind: ErrTruncated, Field: field, Msg: fmt.Sprintf("requires at least %d bytes, got %d bytes", need, got)}
}

func lengthMismatch(field string, declared, remaining uint64) error {
	return &DecodeError{Kind: ErrLengthMismatch, Field: field, Msg: fmt.Sprintf("declared %d bytes, %d bytes left", declared, remaining)}
}

func unsupported(field string, format string, args ...any) error {
	return &DecodeError{Kind: ErrUnsupportedVersion, Field: field, Msg: fmt.Sprintf(format, args...)}
}

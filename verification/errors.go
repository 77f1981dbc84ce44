package verification

import (
	"errors"
	"fmt"
)

// Kinds of verification failures. Use errors.Is to match a [*VerifyError] against them.
var (
	// ErrUntrustedRoot indicates that the last certificate of the chain is not a trust anchor.
	ErrUntrustedRoot = errors.New("untrusted root certificate")
	// ErrChainBroken indicates a certificate that is not signed by the next certificate of the chain.
	ErrChainBroken = errors.New("certificate chain broken")
	// ErrBadSignature indicates a signature over evidence that does not verify.
	ErrBadSignature = errors.New("bad signature")
	// ErrRevoked indicates a certificate listed in a revocation list of its issuer.
	ErrRevoked = errors.New("certificate revoked")
	// ErrExpired indicates a certificate used outside of its validity period.
	ErrExpired = errors.New("certificate expired or not yet valid")
)

// VerifyError is returned if trust in a piece of evidence could not be established.
type VerifyError struct {
	// Kind is one of the Err* sentinels of this package.
	Kind error
	// Index is the position of the offending certificate in the chain, or -1.
	Index int
	// Field names the offending signature for ErrBadSignature.
	Field string
	// Err is the underlying cause, if any.
	Err error
}

func (e *VerifyError) Error() string {
	msg := e.Kind.Error()
	if e.Index >= 0 {
		msg = fmt.Sprintf("%s at certificate %d", msg, e.Index)
	}
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the kind and the cause of the error.
func (e *VerifyError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func chainError(kind error, index int, err error) error {
	return &VerifyError{Kind: kind, Index: index, Err: err}
}

func signatureError(field string, err error) error {
	return &VerifyError{Kind: ErrBadSignature, Index: -1, Field: field, Err: err}
}

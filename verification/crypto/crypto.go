// Package crypto implements the signature schemes used to verify TDX quotes and launch endorsements.
package crypto

import (
	"crypto"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
)

// ErrInvalidSignature is returned if a signature does not verify under the given key.
var ErrInvalidSignature = errors.New("invalid signature")

// SignatureVerifier verifies a signature over data using a public key.
type SignatureVerifier interface {
	Verify(publicKey crypto.PublicKey, data, signature []byte) error
}

// Scheme is a signature scheme implementing [SignatureVerifier].
type Scheme int

const (
	// ECDSAP256SHA256 is ECDSA on P-256 over SHA-256, with the signature encoded as raw r || s (64 bytes).
	// Intel uses it for quote and QE report signatures.
	ECDSAP256SHA256 Scheme = iota + 1
	// RSAPSSSHA256 is RSASSA-PSS over SHA-256 with a salt as long as the hash.
	// Google uses it to sign launch endorsements.
	RSAPSSSHA256
)

// String returns the name of the scheme.
func (s Scheme) String() string {
	switch s {
	case ECDSAP256SHA256:
		return "ECDSA-P256-SHA256"
	case RSAPSSSHA256:
		return "RSA-PSS-SHA256"
	default:
		return fmt.Sprintf("Scheme(%d)", int(s))
	}
}

// Verify verifies signature over data with publicKey.
func (s Scheme) Verify(publicKey crypto.PublicKey, data, signature []byte) error {
	switch s {
	case ECDSAP256SHA256:
		return VerifyECDSASignature(publicKey, data, signature)
	case RSAPSSSHA256:
		return VerifyRSAPSSSignature(publicKey, data, signature)
	default:
		return fmt.Errorf("unsupported signature scheme %s", s)
	}
}

// BuildECDSAPublicKey builds an ECDSA P-256 public key from its raw X || Y encoding.
// It does not check whether the point is on the curve; use [ParseECDSAPublicKey] for untrusted input.
func BuildECDSAPublicKey(rawPublicKey [64]byte) *ecdsa.PublicKey {
	key := new(ecdsa.PublicKey)
	key.Curve = elliptic.P256()

	// construct the key manually...
	key.X = new(big.Int).SetBytes(rawPublicKey[:32])
	key.Y = new(big.Int).SetBytes(rawPublicKey[32:64])

	return key
}

// ParseECDSAPublicKey builds an ECDSA P-256 public key from its raw X || Y encoding
// and checks that it is a valid point on the curve.
func ParseECDSAPublicKey(rawPublicKey [64]byte) (*ecdsa.PublicKey, error) {
	// Uncompressed SEC 1 encoding is 0x04 || X || Y.
	if _, err := ecdh.P256().NewPublicKey(append([]byte{0x04}, rawPublicKey[:]...)); err != nil {
		return nil, fmt.Errorf("invalid P-256 public key: %w", err)
	}
	return BuildECDSAPublicKey(rawPublicKey), nil
}

// VerifyECDSASignature verifies a raw r || s ECDSA signature over SHA-256(data).
func VerifyECDSASignature(publicKey crypto.PublicKey, data, signature []byte) error {
	signingKey, ok := publicKey.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("expected an ECDSA public key, got %T", publicKey)
	}
	if signingKey.Curve != elliptic.P256() {
		return fmt.Errorf("expected a P-256 key, got %s", signingKey.Curve.Params().Name)
	}
	if len(signature) != 64 {
		return fmt.Errorf("%w: expected 64 bytes but got %d bytes", ErrInvalidSignature, len(signature))
	}
	r := new(big.Int).SetBytes(signature[:32])
	s := new(big.Int).SetBytes(signature[32:64])

	toVerify := sha256.Sum256(data)
	if !ecdsa.Verify(signingKey, toVerify[:], r, s) {
		return fmt.Errorf("%w: ECDSA verification failed", ErrInvalidSignature)
	}
	return nil
}

// VerifyRSAPSSSignature verifies an RSASSA-PSS signature over SHA-256(data) with a salt as long as the hash.
func VerifyRSAPSSSignature(publicKey crypto.PublicKey, data, signature []byte) error {
	signingKey, ok := publicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("expected an RSA public key, got %T", publicKey)
	}

	toVerify := sha256.Sum256(data)
	if err := rsa.VerifyPSS(signingKey, crypto.SHA256, toVerify[:], signature, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash}); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	return nil
}

// Package signer verifies execution-plan signatures against a pinned RSA
// public key.
//
// Ported from muranoagent/execution_plan_queue.py's _verify_signature: the
// signed payload is the configured input queue name concatenated with the
// raw plan bytes, hashed with SHA-256 and checked with PKCS#1 v1.5. No
// third-party library in the retrieval pack implements RSA signature
// verification; crypto/rsa is the correct, idiomatic choice here and is
// named in DESIGN.md as a deliberate stdlib exception.
package signer

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// ErrMissingSignature is returned when a plan record carries no signature
// but a public key is configured, so verification cannot be skipped.
var ErrMissingSignature = errors.New("required signature was not found")

// ErrBadSignature is returned when the signature does not verify.
var ErrBadSignature = errors.New("signature verification failed")

// Verifier checks plan payloads against a pinned public key. A Verifier
// constructed with no key always succeeds (development mode, §4.B).
type Verifier struct {
	key        *rsa.PublicKey
	inputQueue string
}

// New loads a PEM-encoded RSA public key and binds it to inputQueue, the
// queue name mixed into every signed payload. An empty pemKey yields a
// Verifier that skips verification entirely.
func New(pemKey []byte, inputQueue string) (*Verifier, error) {
	if len(pemKey) == 0 {
		return &Verifier{inputQueue: inputQueue}, nil
	}

	block, _ := pem.Decode(pemKey)
	if block == nil {
		return nil, fmt.Errorf("engine_key: no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("engine_key: %w", err)
	}
	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("engine_key: not an RSA public key")
	}
	return &Verifier{key: rsaKey, inputQueue: inputQueue}, nil
}

// Enabled reports whether a key is configured; the plan queue uses this to
// decide whether to decode and verify a plan's stored signature at all.
func (v *Verifier) Enabled() bool { return v.key != nil }

// Verify checks signature against data, computing SHA-256 over
// inputQueue||data exactly as muranoagent does.
func (v *Verifier) Verify(data, signature []byte) error {
	if v.key == nil {
		return nil
	}
	if len(signature) == 0 {
		return ErrMissingSignature
	}

	h := sha256.New()
	h.Write([]byte(v.inputQueue))
	h.Write(data)
	digest := h.Sum(nil)

	if err := rsa.VerifyPKCS1v15(v.key, crypto.SHA256, digest, signature); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return nil
}

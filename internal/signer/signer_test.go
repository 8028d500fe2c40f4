package signer

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"testing"
)

func genKeyPair(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("marshal pubkey: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return priv, pemBytes
}

func sign(t *testing.T, priv *rsa.PrivateKey, queue string, data []byte) []byte {
	t.Helper()
	h := sha256.New()
	h.Write([]byte(queue))
	h.Write(data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, h.Sum(nil))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return sig
}

func TestVerifyOK(t *testing.T) {
	priv, pub := genKeyPair(t)
	v, err := New(pub, "input.queue")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	data := []byte(`{"FormatVersion":"2.1.0"}`)
	sig := sign(t, priv, "input.queue", data)
	if err := v.Verify(data, sig); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyWrongQueueName(t *testing.T) {
	priv, pub := genKeyPair(t)
	v, err := New(pub, "input.queue")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	data := []byte(`{"FormatVersion":"2.1.0"}`)
	sig := sign(t, priv, "other.queue", data)
	if err := v.Verify(data, sig); err == nil {
		t.Fatal("expected verification failure for mismatched queue name")
	}
}

func TestVerifyMissingSignature(t *testing.T) {
	_, pub := genKeyPair(t)
	v, err := New(pub, "input.queue")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := v.Verify([]byte("data"), nil); err != ErrMissingSignature {
		t.Fatalf("got %v, want ErrMissingSignature", err)
	}
}

func TestVerifyDevelopmentModeSkipsVerification(t *testing.T) {
	v, err := New(nil, "input.queue")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if v.Enabled() {
		t.Fatal("expected verifier without a key to report disabled")
	}
	if err := v.Verify([]byte("data"), nil); err != nil {
		t.Fatalf("Verify with no key configured should succeed: %v", err)
	}
}

// Package codec provides the agent's base64 helpers.
//
// The wire protocol carries plan bytes and signatures as base64 text inside
// JSON documents (see the pending-plan record in §3 of the design). Encoding
// accepts either a string (Encode) or raw bytes (EncodeBytes); decoding
// yields either text (Decode) or raw bytes (DecodeBytes). The plan queue and
// the artifact cache decode with DecodeBytes, since plan data, signatures
// and Base64 file bodies are handled as bytes.
package codec

import "encoding/base64"

// Encode base64-encodes s using standard RFC 4648 encoding.
func Encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// EncodeBytes base64-encodes raw bytes using standard RFC 4648 encoding.
func EncodeBytes(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// Decode base64-decodes s and returns the result as text.
func Decode(s string) (string, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeBytes base64-decodes s and returns the raw bytes.
func DecodeBytes(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

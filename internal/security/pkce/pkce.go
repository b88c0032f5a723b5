// Package pkce implementa RFC 7636 (Proof Key for Code Exchange) para el
// flujo authorization_code.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
)

// Method es el code_challenge_method que usamos siempre.
const Method = "S256"

// NewVerifier genera un code verifier: 32 bytes aleatorios en base64url sin
// padding.
func NewVerifier() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Challenge deriva el code challenge S256: sha256(verifier) en base64url sin
// padding.
func Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Package token holds the session's credential pair: the raw access/refresh
// token model, the structural JWT claims decode, and the Store that owns the
// current pair (persistence, change fan-out, refresh scheduling).
package token

import (
	"strings"
	"time"
)

// now is swappable in tests.
var now = time.Now

// refreshLeadSeconds: se refresca 5 segundos antes del exp nominal.
const refreshLeadSeconds = 5

// Token representa un par access/refresh emitido por el identity provider.
// ExpiresAt en epoch seconds; 0 significa sin expiración conocida.
type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresAt    int64  `json:"exp,omitempty"`
}

// Valid reporta si el token es usable: access token presente y no vencido.
func (t Token) Valid() bool {
	if t.AccessToken == "" {
		return false
	}
	if t.ExpiresAt == 0 {
		return true
	}
	return t.ExpiresAt > now().Unix()
}

// BearerHeader arma el valor del header Authorization ("Bearer <token>").
// Retorna "" si no hay access token.
func (t Token) BearerHeader() string {
	if t.AccessToken == "" {
		return ""
	}
	typ := t.TokenType
	if typ == "" {
		typ = "bearer"
	}
	return capitalize(typ) + " " + t.AccessToken
}

// NeedsRefresh reporta si hay un exp programable. Cualquier exp presente
// cuenta, incluso uno ya pasado: si arrancamos con un token vencido el timer
// dispara de inmediato (delay clampeado a cero en RefreshIn).
func (t Token) NeedsRefresh() bool {
	return t.ExpiresAt != 0
}

// RefreshIn retorna los segundos hasta el refresh programado:
// max(0, (exp - 5) - now).
func (t Token) RefreshIn() int64 {
	d := (t.ExpiresAt - refreshLeadSeconds) - now().Unix()
	if d < 0 {
		return 0
	}
	return d
}

// FromMap construye un Token desde un record genérico con forma de token
// (claims sueltos, blob persistido, respuesta de provider ya parseada).
// token_type defaultea a "bearer" si falta.
func FromMap(m map[string]any) Token {
	t := Token{
		AccessToken:  stringField(m, "access_token"),
		RefreshToken: stringField(m, "refresh_token"),
		TokenType:    stringField(m, "token_type"),
		ExpiresAt:    intField(m, "exp"),
	}
	if t.TokenType == "" {
		t.TokenType = "bearer"
	}
	return t
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func stringField(m map[string]any, k string) string {
	s, _ := m[k].(string)
	return s
}

func intField(m map[string]any, k string) int64 {
	switch v := m[k].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

package logger

import (
	"go.uber.org/zap"
)

// Campos estándar del dominio de sesión. Usar estos constructores en vez de
// zap.String directo para mantener nombres de campo consistentes.

// TenantID crea un campo para el ID del tenant (clínica).
func TenantID(v string) zap.Field {
	return zap.String("tenant_id", v)
}

// Subdomain crea un campo para el subdominio resuelto.
func Subdomain(v string) zap.Field {
	return zap.String("subdomain", v)
}

// UserID crea un campo para el ID del usuario.
func UserID(v string) zap.Field {
	return zap.String("user_id", v)
}

// Username crea un campo para el preferred_username.
func Username(v string) zap.Field {
	return zap.String("username", v)
}

// ClientID crea un campo para el client_id OAuth.
func ClientID(v string) zap.Field {
	return zap.String("client_id", v)
}

// GrantType crea un campo para el grant OAuth en curso.
func GrantType(v string) zap.Field {
	return zap.String("grant_type", v)
}

// Role crea un campo para un rol consultado.
func Role(v string) zap.Field {
	return zap.String("role", v)
}

// Email crea un campo para el email (enmascarar en prod).
func Email(v string) zap.Field {
	return zap.String("email", v)
}

// Component crea un campo para el componente/módulo.
func Component(v string) zap.Field {
	return zap.String("component", v)
}

// Op crea un campo para la operación actual.
func Op(v string) zap.Field {
	return zap.String("op", v)
}

// Err crea un campo para un error.
func Err(err error) zap.Field {
	return zap.Error(err)
}

// Status crea un campo para el status code HTTP del provider.
func Status(v int) zap.Field {
	return zap.Int("status", v)
}

// Count crea un campo para un conteo.
func Count(v int) zap.Field {
	return zap.Int("count", v)
}

// Key crea un campo genérico para una clave de storage.
func Key(v string) zap.Field {
	return zap.String("key", v)
}

// String crea un campo string genérico.
func String(key, v string) zap.Field {
	return zap.String(key, v)
}

// Int crea un campo int genérico.
func Int(key string, v int) zap.Field {
	return zap.Int(key, v)
}

// Bool crea un campo bool genérico.
func Bool(key string, v bool) zap.Field {
	return zap.Bool(key, v)
}

// Any crea un campo genérico para cualquier tipo.
func Any(key string, v any) zap.Field {
	return zap.Any(key, v)
}

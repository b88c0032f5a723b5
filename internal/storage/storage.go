// Package storage provee el key-value store local donde la sesión persiste
// su estado (blob del token, refresh token, id_token, verifier PKCE).
//
// Soporta:
//   - Memory (in-process, para desarrollo/testing)
//   - File (archivo JSON, el análogo a localStorage del browser)
//   - Redis (compartido, para despliegues BFF multi-instancia)
package storage

import (
	"context"
	"time"
)

// Client define las operaciones de storage.
type Client interface {
	// Get obtiene un valor. Retorna ErrNotFound si no existe.
	Get(ctx context.Context, key string) (string, error)

	// Set guarda un valor con TTL opcional. Si ttl es 0, no expira.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Remove elimina una key. No es error si no existe.
	Remove(ctx context.Context, key string) error

	// Close cierra el backend.
	Close() error
}

// Config configuración para crear un cliente de storage.
type Config struct {
	Driver   string // "memory" | "file" | "redis"
	Path     string // file: ruta del archivo JSON
	Host     string // redis
	Port     int    // redis
	Password string // redis
	DB       int    // redis
	Prefix   string // prefijo para todas las keys
}

// Errores de storage.
var (
	ErrNotFound = errNotFound{}
)

type errNotFound struct{}

func (e errNotFound) Error() string { return "storage: key not found" }

// IsNotFound verifica si el error es porque la key no existe.
func IsNotFound(err error) bool {
	_, ok := err.(errNotFound)
	return ok
}

// New crea un cliente de storage según la configuración.
func New(cfg Config) (Client, error) {
	switch cfg.Driver {
	case "redis":
		return NewRedis(cfg)
	case "file":
		return NewFile(cfg.Path, cfg.Prefix)
	case "memory", "":
		return NewMemory(cfg.Prefix), nil
	default:
		return NewMemory(cfg.Prefix), nil
	}
}

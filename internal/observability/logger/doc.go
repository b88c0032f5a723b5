// Package logger provides a singleton Zap logger with context-based scoping.
//
// # Design Decisions
//
//   - Singleton: una sola instancia global inicializada con Init().
//   - Context Scoping: cada flujo (login, refresh, callback) puede llevar un
//     logger "scoped" con campos propios (tenant_id, grant_type, etc.) sin
//     crear un nuevo core.
//   - Environments: "dev" usa consola con colores, "prod" usa JSON.
//   - Levels: debug, info, warn, error (configurable via LOG_LEVEL).
//
// # Usage
//
// Inicialización (una vez, en el composition root):
//
//	logger.Init(logger.Config{
//	    Env:   os.Getenv("APP_ENV"),   // "dev" o "prod"
//	    Level: os.Getenv("LOG_LEVEL"), // "debug", "info", "warn", "error"
//	})
//	defer logger.Sync()
//
// En services (con contexto):
//
//	log := logger.From(ctx)
//	log.Info("token refreshed", logger.TenantID(id))
//
// Sin contexto (fallback al singleton):
//
//	logger.L().Info("session core ready")
package logger

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Session-core Prometheus metrics. Defined in a standalone package so the
// oauth client and authz can both record without importing each other.

var (
	LoginTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "session_login_total",
		Help: "Logins por grant y resultado",
	}, []string{"grant", "outcome"})

	RefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "session_refresh_total",
		Help: "Intentos de refresh por resultado",
	}, []string{"outcome"})

	ForcedLogouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "session_forced_logouts_total",
		Help: "Logouts forzados por refresh fallido",
	})

	RoleCheckDenied = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "session_role_check_denied_total",
		Help: "Chequeos de rol tenant-scoped denegados",
	})

	GlobalRoleMisuse = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "session_global_role_misuse_total",
		Help: "Consultas a hasGlobalRole con un rol sin prefijo GLOBAL_",
	})
)

// Register registers the session metrics on the given registry (or default
// if nil). Re-registration is tolerated.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	collectors := []prometheus.Collector{
		LoginTotal, RefreshTotal, ForcedLogouts, RoleCheckDenied, GlobalRoleMisuse,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}

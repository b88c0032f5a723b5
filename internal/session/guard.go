package session

import "errors"

var errNoTenantAPI = errors.New("session: no tenant api client configured")

// Decision is the outcome of a route guard check.
type Decision int

const (
	// Allow lets navigation proceed.
	Allow Decision = iota
	// RedirectLogin means the session is unauthenticated.
	RedirectLogin
	// RedirectFallback means the session lacks the required roles.
	RedirectFallback
)

// RequireTenantRoles is the guard combinator for tenant-scoped routes: it
// reads one identity snapshot, redirects to login when unauthenticated,
// to the fallback route when none of the required roles is held in the
// active tenant, and allows otherwise. An empty list only requires
// authentication.
func (f *Facade) RequireTenantRoles(roles ...string) Decision {
	id := f.Identity()
	if !id.Authenticated || !f.Check() {
		return RedirectLogin
	}
	if len(roles) == 0 {
		return Allow
	}
	if f.policy.HasAnyRole(roles...) {
		return Allow
	}
	return RedirectFallback
}

// RequireGlobalRoles is the guard combinator for realm-wide admin routes.
// Only GLOBAL_-prefixed roles can ever satisfy it.
func (f *Facade) RequireGlobalRoles(roles ...string) Decision {
	id := f.Identity()
	if !id.Authenticated || !f.Check() {
		return RedirectLogin
	}
	if len(roles) == 0 {
		return Allow
	}
	for _, r := range roles {
		if f.policy.HasGlobalRole(r) {
			return Allow
		}
	}
	return RedirectFallback
}

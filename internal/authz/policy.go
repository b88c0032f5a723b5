// Package authz is the authorization decision point. It enforces strict
// separation between tenant-scoped roles and realm-wide roles:
//
//   - Tenant checks read ONLY Identity.UserTenantRoles[tenantID]. They never
//     consult realm roles, so a realm-wide entry can never grant access
//     inside a clinic it was not issued for.
//   - Global checks read ONLY realm roles carrying the GLOBAL_ prefix.
//
// Checks that cannot resolve a tenant return false/empty, never an error.
package authz

import (
	"strings"

	"github.com/SezarMAB/clinicx-session/internal/identity"
	"github.com/SezarMAB/clinicx-session/internal/metrics"
	"github.com/SezarMAB/clinicx-session/internal/observability/logger"
	"go.uber.org/zap"
)

// GlobalPrefix marks the realm roles that are authorization-relevant.
const GlobalPrefix = "GLOBAL_"

// rolePriority is the fixed order used by HighestRole.
var rolePriority = []string{"SUPER_ADMIN", "ADMIN", "DOCTOR", "STAFF", "VIEWER"}

// TenantSource supplies the fallback tenant id when the identity has no
// active tenant. Implemented by tenant.Resolver.
type TenantSource interface {
	CurrentTenantID() string
}

// Policy answers "does this user have role R in tenant T" and
// "does this user have global role R".
type Policy struct {
	ident   *identity.Holder
	tenants TenantSource
	log     *zap.Logger
}

// New builds a Policy. tenants may be nil; then only the identity's active
// tenant id is used.
func New(ident *identity.Holder, tenants TenantSource) *Policy {
	return &Policy{
		ident:   ident,
		tenants: tenants,
		log:     logger.Named("authz"),
	}
}

// resolveTenantID picks the tenant a check applies to: the identity's
// active tenant, else the resolver's current tenant, else "".
func (p *Policy) resolveTenantID(id identity.Identity) string {
	if id.ActiveTenantID != "" {
		return id.ActiveTenantID
	}
	if p.tenants != nil {
		return p.tenants.CurrentTenantID()
	}
	return ""
}

// TenantRoles returns the roles held in the given tenant. Empty when the
// tenant is unknown or the map has no entry.
func (p *Policy) TenantRoles(tenantID string) []string {
	if tenantID == "" {
		return nil
	}
	id := p.ident.Current()
	if id.UserTenantRoles == nil {
		return nil
	}
	return id.UserTenantRoles[tenantID]
}

// CurrentTenantRoles returns the roles for the resolved tenant.
func (p *Policy) CurrentTenantRoles() []string {
	id := p.ident.Current()
	return p.tenantRolesFor(id, p.resolveTenantID(id))
}

// HasRole reports whether the user holds role in the resolved tenant.
func (p *Policy) HasRole(role string) bool {
	id := p.ident.Current()
	ok := p.hasRoleIn(id, p.resolveTenantID(id), role)
	if !ok {
		metrics.RoleCheckDenied.Inc()
	}
	return ok
}

// HasRoleIn reports whether the user holds role in the given tenant.
func (p *Policy) HasRoleIn(tenantID, role string) bool {
	return p.hasRoleIn(p.ident.Current(), tenantID, role)
}

// HasAnyRole reports whether the user holds at least one of roles in the
// resolved tenant.
func (p *Policy) HasAnyRole(roles ...string) bool {
	id := p.ident.Current()
	tid := p.resolveTenantID(id)
	for _, r := range roles {
		if p.hasRoleIn(id, tid, r) {
			return true
		}
	}
	return false
}

// HasAllRoles reports whether the user holds every one of roles in the
// resolved tenant. An empty list is trivially satisfied.
func (p *Policy) HasAllRoles(roles ...string) bool {
	id := p.ident.Current()
	tid := p.resolveTenantID(id)
	for _, r := range roles {
		if !p.hasRoleIn(id, tid, r) {
			return false
		}
	}
	return true
}

// HighestRole returns the first of SUPER_ADMIN, ADMIN, DOCTOR, STAFF,
// VIEWER present in the resolved tenant's role list, or "" if none match.
func (p *Policy) HighestRole() string {
	id := p.ident.Current()
	return highestOf(p.tenantRolesFor(id, p.resolveTenantID(id)))
}

// HighestRoleIn is HighestRole for an explicit tenant.
func (p *Policy) HighestRoleIn(tenantID string) string {
	return highestOf(p.tenantRolesFor(p.ident.Current(), tenantID))
}

// HasGlobalRole reports whether the user holds the GLOBAL_-prefixed realm
// role. Asking for a non-prefixed role always returns false with a
// diagnostic: it must never silently fall back to a tenant check.
func (p *Policy) HasGlobalRole(role string) bool {
	if !strings.HasPrefix(role, GlobalPrefix) {
		p.log.Warn("hasGlobalRole called with non-global role; refusing",
			logger.Role(role))
		metrics.GlobalRoleMisuse.Inc()
		return false
	}
	for _, r := range p.ident.Current().RealmRoles {
		if r == role {
			return true
		}
	}
	return false
}

// GlobalRoles returns the GLOBAL_-prefixed realm roles the user holds.
func (p *Policy) GlobalRoles() []string {
	var out []string
	for _, r := range p.ident.Current().RealmRoles {
		if strings.HasPrefix(r, GlobalPrefix) {
			out = append(out, r)
		}
	}
	return out
}

// Convenience predicates: pure compositions of the checks above.

func (p *Policy) IsAdmin() bool  { return p.HasAnyRole("SUPER_ADMIN", "ADMIN") }
func (p *Policy) IsDoctor() bool { return p.HasRole("DOCTOR") }
func (p *Policy) IsStaff() bool  { return p.HasRole("STAFF") }

func (p *Policy) HasGlobalSupport() bool { return p.HasGlobalRole("GLOBAL_SUPPORT") }
func (p *Policy) HasGlobalAdmin() bool   { return p.HasGlobalRole("GLOBAL_ADMIN") }

func (p *Policy) tenantRolesFor(id identity.Identity, tenantID string) []string {
	if tenantID == "" || id.UserTenantRoles == nil {
		return nil
	}
	return id.UserTenantRoles[tenantID]
}

func (p *Policy) hasRoleIn(id identity.Identity, tenantID, role string) bool {
	for _, r := range p.tenantRolesFor(id, tenantID) {
		if r == role {
			return true
		}
	}
	return false
}

func highestOf(roles []string) string {
	for _, want := range rolePriority {
		for _, r := range roles {
			if r == want {
				return want
			}
		}
	}
	return ""
}

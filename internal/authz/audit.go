package authz

import (
	"sort"
	"strings"

	"github.com/SezarMAB/clinicx-session/internal/observability/logger"
)

// Audit is a debug snapshot of the authorization state. UnscopedRealmRoles
// and ResourceAccessClients are tripwires: the policy never uses them for
// any decision, but their presence signals drift from the isolation rules.
type Audit struct {
	TenantID    string
	TenantRoles []string
	GlobalRoles []string

	UnscopedRealmRoles    []string
	ResourceAccessClients []string
}

// AuditSnapshot enumerates the current tenant, its roles and the global
// roles, and flags any realm roles without the GLOBAL_ prefix. Logged at
// debug so support can spot token drift without changing behavior.
func (p *Policy) AuditSnapshot() Audit {
	id := p.ident.Current()
	tid := p.resolveTenantID(id)

	a := Audit{
		TenantID:    tid,
		TenantRoles: p.tenantRolesFor(id, tid),
		GlobalRoles: p.GlobalRoles(),
	}
	for _, r := range id.RealmRoles {
		if !strings.HasPrefix(r, GlobalPrefix) {
			a.UnscopedRealmRoles = append(a.UnscopedRealmRoles, r)
		}
	}
	for client := range id.ResourceAccess {
		a.ResourceAccessClients = append(a.ResourceAccessClients, client)
	}
	sort.Strings(a.ResourceAccessClients)

	if len(a.UnscopedRealmRoles) > 0 {
		p.log.Debug("realm roles without GLOBAL_ prefix present (ignored)",
			logger.Count(len(a.UnscopedRealmRoles)))
	}
	if len(a.ResourceAccessClients) > 0 {
		p.log.Debug("resource_access entries present (ignored)",
			logger.Count(len(a.ResourceAccessClients)))
	}
	return a
}

// Package identity models the session-scoped view of the authenticated
// principal and the merge rule applied after every token-issuing exchange.
package identity

import (
	"sync"

	"github.com/SezarMAB/clinicx-session/internal/token"
)

// Tenant is one clinic the principal can access, with the roles held there.
type Tenant struct {
	TenantID   string
	ClinicName string
	ClinicType string
	Roles      []string
}

// Identity is the current user as the rest of the application sees it.
//
// Roles carries the effective tenant roles for the active tenant, never
// realm roles. RealmRoles is kept raw and is read only to filter
// GLOBAL_-prefixed entries (see authz).
type Identity struct {
	Authenticated bool

	ID    string
	Name  string
	Email string

	Roles      []string
	RealmRoles []string

	// ResourceAccess is carried for auditability only; no authorization
	// decision reads it.
	ResourceAccess map[string][]string

	ActiveTenantID    string
	AccessibleTenants []Tenant
	UserTenantRoles   map[string][]string
}

// FromClaims derives an Identity from decoded JWT claims.
// The provider's JWT does not always carry the full tenant-role map; callers
// merge the result against the previous identity (see Merge).
func FromClaims(c token.Claims) Identity {
	id := Identity{
		Authenticated:   !c.Empty(),
		ID:              c.Subject,
		Name:            displayName(c),
		Email:           c.Email,
		RealmRoles:      c.RealmAccess.Roles,
		ActiveTenantID:  c.ActiveTenantID,
		UserTenantRoles: c.UserTenantRoles,
	}
	if len(c.ResourceAccess) > 0 {
		id.ResourceAccess = make(map[string][]string, len(c.ResourceAccess))
		for client, rs := range c.ResourceAccess {
			id.ResourceAccess[client] = rs.Roles
		}
	}
	if id.ActiveTenantID == "" {
		id.ActiveTenantID = c.TenantID
	}
	for _, ts := range c.AccessibleTenants {
		id.AccessibleTenants = append(id.AccessibleTenants, Tenant{
			TenantID:   ts.TenantID,
			ClinicName: ts.ClinicName,
			ClinicType: ts.ClinicType,
			Roles:      ts.Roles,
		})
	}
	if id.UserTenantRoles != nil && id.ActiveTenantID != "" {
		id.Roles = id.UserTenantRoles[id.ActiveTenantID]
	}
	return id
}

// Merge combines the previous in-memory identity with one freshly derived
// from new claims. The provider's JWT does not carry the full tenant-role
// map (it is fetched separately from the backend), so a refresh must not
// silently erase previously-fetched tenant authorization data:
//
//   - AccessibleTenants, UserTenantRoles and Roles survive from prev when
//     next lacks them.
//   - ActiveTenantID keeps the previous value if set, else next's.
func Merge(prev, next Identity) Identity {
	out := next

	if len(out.AccessibleTenants) == 0 {
		out.AccessibleTenants = prev.AccessibleTenants
	}
	if len(out.UserTenantRoles) == 0 {
		out.UserTenantRoles = prev.UserTenantRoles
	}
	if prev.ActiveTenantID != "" {
		out.ActiveTenantID = prev.ActiveTenantID
	}
	if len(out.UserTenantRoles) > 0 && out.ActiveTenantID != "" {
		out.Roles = out.UserTenantRoles[out.ActiveTenantID]
	}
	if len(out.Roles) == 0 {
		out.Roles = prev.Roles
	}
	return out
}

func displayName(c token.Claims) string {
	if c.Name != "" {
		return c.Name
	}
	if c.GivenName != "" || c.FamilyName != "" {
		switch {
		case c.GivenName == "":
			return c.FamilyName
		case c.FamilyName == "":
			return c.GivenName
		default:
			return c.GivenName + " " + c.FamilyName
		}
	}
	return c.PreferredUsername
}

// Holder owns the current Identity. Single writer, read-only snapshots out.
type Holder struct {
	mu  sync.RWMutex
	cur Identity
}

// NewHolder starts with an empty, unauthenticated identity.
func NewHolder() *Holder {
	return &Holder{}
}

// Current returns a snapshot of the identity.
func (h *Holder) Current() Identity {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cur
}

// Replace swaps the identity wholesale.
func (h *Holder) Replace(id Identity) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cur = id
}

// Update applies fn to the current identity under the write lock.
func (h *Holder) Update(fn func(Identity) Identity) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cur = fn(h.cur)
}

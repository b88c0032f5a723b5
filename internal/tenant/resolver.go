// Package tenant resolves the active clinic tenant from two independent
// sources (URL subdomain and JWT claims) and keeps it current as the token
// changes.
package tenant

import (
	"strings"
	"sync"

	"github.com/SezarMAB/clinicx-session/internal/observability/logger"
	"github.com/SezarMAB/clinicx-session/internal/token"
	"go.uber.org/zap"
)

// Context is the resolved association between the session and a clinic.
type Context struct {
	TenantID   string
	ClinicName string
	ClinicType string
	Subdomain  string
}

// placeholderClinicType stands in until a real fetch fills it.
const placeholderClinicType = "CLINIC"

// defaultReserved are subdomains that never identify a tenant.
var defaultReserved = []string{"www", "app", "api", "admin", "localhost"}

// Resolver derives the active Context. JWT-derived info overrides
// subdomain-derived info when the claims carry a tenant id or clinic name.
type Resolver struct {
	reserved []string
	log      *zap.Logger

	mu      sync.RWMutex
	cur     *Context
	lastErr string

	cancel func()
}

// NewResolver computes the subdomain context for hostname, overlays claims
// from the store's current token, and re-overlays on every token change.
// Call Close to stop watching the store.
func NewResolver(hostname string, store *token.Store, reserved []string) *Resolver {
	if len(reserved) == 0 {
		reserved = defaultReserved
	}
	r := &Resolver{
		reserved: reserved,
		log:      logger.Named("tenant.resolver"),
	}

	r.cur = r.fromSubdomain(hostname)

	if store != nil {
		if tok, ok := store.Current(); ok {
			r.applyClaims(token.DecodeClaims(tok.AccessToken))
		}
		ch, cancel := store.Subscribe()
		r.cancel = cancel
		go r.watch(ch)
	}
	return r
}

// Close stops the token-change watcher.
func (r *Resolver) Close() {
	if r.cancel != nil {
		r.cancel()
	}
}

// Current returns the active tenant context, if any.
func (r *Resolver) Current() (Context, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cur == nil {
		return Context{}, false
	}
	return *r.cur, true
}

// CurrentTenantID returns the active tenant id or "".
func (r *Resolver) CurrentTenantID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cur == nil {
		return ""
	}
	return r.cur.TenantID
}

// Set replaces the tenant context manually (e.g. post-login selection).
func (r *Resolver) Set(c Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cc := c
	r.cur = &cc
	r.log.Debug("tenant set", logger.TenantID(c.TenantID))
}

// Clear removes the tenant context.
func (r *Resolver) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cur = nil
}

// LastError returns the last decode error message, "" if none.
func (r *Resolver) LastError() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

// APIPath prefixes path with /tenants/{id} when a tenant is active and the
// path does not already embed a tenant segment.
func (r *Resolver) APIPath(path string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.cur == nil || r.cur.TenantID == "" {
		return path
	}
	if strings.Contains(path, "/tenants/") || strings.Contains(path, "/"+r.cur.TenantID+"/") {
		return path
	}
	return "/tenants/" + r.cur.TenantID + path
}

func (r *Resolver) watch(ch <-chan token.Snapshot) {
	for snap := range ch {
		if !snap.OK {
			continue
		}
		c := token.DecodeClaims(snap.Token.AccessToken)
		if c.Empty() && snap.Token.AccessToken != "" {
			// Token presente pero indecodificable: registrar y dejar el
			// contexto anterior intacto.
			r.mu.Lock()
			r.lastErr = "failed to decode tenant info from token"
			r.mu.Unlock()
			continue
		}
		r.applyClaims(c)
	}
}

// fromSubdomain derives a tenant context from the hostname, or nil when the
// host has fewer than 3 labels or sits on a reserved subdomain.
func (r *Resolver) fromSubdomain(hostname string) *Context {
	host := strings.ToLower(strings.TrimSpace(hostname))
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	parts := strings.Split(host, ".")
	if len(parts) < 3 {
		return nil
	}
	sub := parts[0]
	for _, res := range r.reserved {
		if strings.EqualFold(sub, res) {
			return nil
		}
	}
	return &Context{
		TenantID:   sub,
		ClinicName: displayName(sub),
		ClinicType: placeholderClinicType,
		Subdomain:  sub,
	}
}

// applyClaims overlays JWT-derived tenant info onto the current context.
// Decode problems only record lastErr; the previous context stays untouched.
func (r *Resolver) applyClaims(c token.Claims) {
	if c.Empty() {
		return
	}
	if c.TenantID == "" && c.ClinicName == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev := Context{}
	if r.cur != nil {
		prev = *r.cur
	}

	next := Context{
		TenantID:   firstNonEmpty(c.TenantID, prev.TenantID),
		ClinicName: firstNonEmpty(c.ClinicName, prev.ClinicName),
		ClinicType: firstNonEmpty(c.ClinicType, prev.ClinicType, placeholderClinicType),
		Subdomain:  firstNonEmpty(prev.Subdomain, c.TenantID),
	}
	r.cur = &next
	r.lastErr = ""
	r.log.Debug("tenant resolved from claims",
		logger.TenantID(next.TenantID), logger.Subdomain(next.Subdomain))
}

// displayName turns "dental-clinic" into "Dental Clinic".
func displayName(sub string) string {
	segs := strings.Split(sub, "-")
	for i, s := range segs {
		if s == "" {
			continue
		}
		segs[i] = strings.ToUpper(s[:1]) + s[1:]
	}
	return strings.Join(segs, " ")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

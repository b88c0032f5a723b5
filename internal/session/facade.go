// Package session composes the token store, tenant resolver, identity
// provider client and role policy into the single session API the rest of
// the application consumes.
package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/SezarMAB/clinicx-session/internal/authz"
	"github.com/SezarMAB/clinicx-session/internal/identity"
	"github.com/SezarMAB/clinicx-session/internal/oauth/keycloak"
	"github.com/SezarMAB/clinicx-session/internal/observability/logger"
	"github.com/SezarMAB/clinicx-session/internal/tenant"
	"github.com/SezarMAB/clinicx-session/internal/tenantapi"
	"github.com/SezarMAB/clinicx-session/internal/token"
)

// Deps are the collaborators, built in order: Store → Resolver → IdP client
// → Facade. Tenants is optional (nil skips the post-login tenant fetch).
type Deps struct {
	Store    *token.Store
	Identity *identity.Holder
	IdP      *keycloak.Client
	Resolver *tenant.Resolver
	Policy   *authz.Policy
	Tenants  *tenantapi.Client
}

// Facade is the session entry point.
type Facade struct {
	store    *token.Store
	ident    *identity.Holder
	idp      *keycloak.Client
	resolver *tenant.Resolver
	policy   *authz.Policy
	tenants  *tenantapi.Client
	log      *zap.Logger

	mu      sync.Mutex
	subs    map[uint64]chan identity.Identity
	nextSub uint64
	lastErr string

	stop     chan struct{}
	stopOnce sync.Once
}

// New wires the facade. It also hooks the IdP client's error signal so
// LastError reflects provider failures.
func New(deps Deps) *Facade {
	f := &Facade{
		store:    deps.Store,
		ident:    deps.Identity,
		idp:      deps.IdP,
		resolver: deps.Resolver,
		policy:   deps.Policy,
		tenants:  deps.Tenants,
		log:      logger.Named("session"),
		subs:     make(map[uint64]chan identity.Identity),
		stop:     make(chan struct{}),
	}
	if f.idp != nil {
		f.idp.SetNotify(f.notifyError)
	}
	return f
}

// Init performs the first identity resolution from whatever token was
// rehydrated, then starts watching the store. It returns once the first
// resolution is done, so callers can gate bootstrap on it.
func (f *Facade) Init(ctx context.Context) error {
	if tok, ok := f.store.Current(); ok {
		f.recompute(tok, true)
	} else {
		f.ident.Replace(identity.Identity{})
	}
	f.publish()

	ch, cancel := f.store.Subscribe()
	go f.watch(ch, cancel)

	f.log.Debug("session initialized", logger.Bool("authenticated", f.Check()))
	return nil
}

// Close stops the watch loop.
func (f *Facade) Close() {
	f.stopOnce.Do(func() { close(f.stop) })
}

// Check reports whether the current token is valid.
func (f *Facade) Check() bool {
	tok, ok := f.store.Current()
	return ok && tok.Valid()
}

// Identity returns a snapshot of the current identity.
func (f *Facade) Identity() identity.Identity {
	return f.ident.Current()
}

// Policy exposes the authorization decision point.
func (f *Facade) Policy() *authz.Policy {
	return f.policy
}

// Subscribe registers an identity observer. Hot multicast, no replay beyond
// an immediate push of the current state.
func (f *Facade) Subscribe() (<-chan identity.Identity, func()) {
	f.mu.Lock()
	id := f.nextSub
	f.nextSub++
	ch := make(chan identity.Identity, 8)
	f.subs[id] = ch
	f.mu.Unlock()

	// Push inicial con el estado actual.
	select {
	case ch <- f.ident.Current():
	default:
	}

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if c, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// LastError returns the session-visible error message ("" if none).
func (f *Facade) LastError() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

// Login delegates to the password grant and completes the identity with the
// backend tenant list on success.
func (f *Facade) Login(ctx context.Context, username, password string) (bool, error) {
	ok, err := f.idp.LoginWithPassword(ctx, username, password)
	if ok {
		f.afterLogin(ctx)
	}
	return ok, err
}

// LoginWithRedirect starts the authorization-code + PKCE flow.
func (f *Facade) LoginWithRedirect(ctx context.Context, redirectURI, state string) error {
	return f.idp.LoginWithRedirect(ctx, redirectURI, state)
}

// HandleCallback finishes the redirect flow.
func (f *Facade) HandleCallback(ctx context.Context, code, state string) bool {
	ok := f.idp.HandleAuthCallback(ctx, code, state)
	if ok {
		f.afterLogin(ctx)
	}
	return ok
}

// Refresh forces a token refresh.
func (f *Facade) Refresh(ctx context.Context) bool {
	return f.idp.RefreshToken(ctx)
}

// Logout tears the session down and navigates to the provider logout.
func (f *Facade) Logout(ctx context.Context, redirectURI string) {
	f.idp.Logout(ctx, redirectURI)
	if f.resolver != nil {
		f.resolver.Clear()
	}
}

// SwitchTenant asks the backend to change the active tenant, refreshes so
// the claims reflect it, and updates the local context.
func (f *Facade) SwitchTenant(ctx context.Context, tenantID string) error {
	if f.tenants == nil {
		return errNoTenantAPI
	}
	if err := f.tenants.Switch(ctx, tenantID); err != nil {
		return err
	}

	f.idp.RefreshToken(ctx)

	f.ident.Update(func(id identity.Identity) identity.Identity {
		id.ActiveTenantID = tenantID
		if id.UserTenantRoles != nil {
			id.Roles = id.UserTenantRoles[tenantID]
		}
		return id
	})
	if f.resolver != nil {
		for _, t := range f.ident.Current().AccessibleTenants {
			if t.TenantID == tenantID {
				f.resolver.Set(tenant.Context{
					TenantID:   t.TenantID,
					ClinicName: t.ClinicName,
					ClinicType: t.ClinicType,
					Subdomain:  t.TenantID,
				})
				break
			}
		}
	}
	f.publish()
	return nil
}

// afterLogin completes the identity with the backend tenant list. A failed
// fetch degrades (login still stands on whatever the claims carried).
func (f *Facade) afterLogin(ctx context.Context) {
	if f.tenants != nil {
		ts, err := f.tenants.MyTenants(ctx)
		if err != nil {
			f.log.Warn("tenant fetch failed, continuing with claims data", logger.Err(err))
		} else {
			f.ident.Update(func(id identity.Identity) identity.Identity {
				id.AccessibleTenants = ts
				if id.UserTenantRoles == nil {
					id.UserTenantRoles = make(map[string][]string, len(ts))
				}
				for _, t := range ts {
					if _, ok := id.UserTenantRoles[t.TenantID]; !ok && len(t.Roles) > 0 {
						id.UserTenantRoles[t.TenantID] = t.Roles
					}
				}
				return id
			})
		}
	}

	// Sin tenant activo: tomar el primero accesible.
	f.ident.Update(func(id identity.Identity) identity.Identity {
		if id.ActiveTenantID == "" && len(id.AccessibleTenants) > 0 {
			id.ActiveTenantID = id.AccessibleTenants[0].TenantID
		}
		if id.UserTenantRoles != nil && id.ActiveTenantID != "" {
			id.Roles = id.UserTenantRoles[id.ActiveTenantID]
		}
		return id
	})

	id := f.ident.Current()
	if f.resolver != nil && id.ActiveTenantID != "" {
		if _, ok := f.resolver.Current(); !ok {
			for _, t := range id.AccessibleTenants {
				if t.TenantID == id.ActiveTenantID {
					f.resolver.Set(tenant.Context{
						TenantID:   t.TenantID,
						ClinicName: t.ClinicName,
						ClinicType: t.ClinicType,
						Subdomain:  t.TenantID,
					})
					break
				}
			}
		}
	}
	f.publish()
}

// watch recomputes the identity on every store change and drives refreshes
// when the store's timer fires.
func (f *Facade) watch(ch <-chan token.Snapshot, cancel func()) {
	defer cancel()
	for {
		select {
		case snap, open := <-ch:
			if !open {
				return
			}
			if snap.OK {
				f.recompute(snap.Token, false)
			} else {
				f.ident.Replace(identity.Identity{})
			}
			f.publish()
		case <-f.store.RefreshDue():
			if f.idp != nil {
				go f.idp.RefreshToken(context.Background())
			}
		case <-f.stop:
			return
		}
	}
}

// recompute derives a fresh identity from the token claims and merges it
// over the previous one (the merge preserves fetched tenant data).
func (f *Facade) recompute(tok token.Token, rehydrating bool) {
	claims := token.DecodeClaims(tok.AccessToken)
	next := identity.FromClaims(claims)
	next.Authenticated = tok.AccessToken != ""
	f.ident.Replace(identity.Merge(f.ident.Current(), next))
	if rehydrating {
		f.log.Debug("identity rehydrated", logger.UserID(next.ID))
	}
}

func (f *Facade) publish() {
	id := f.ident.Current()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- id:
		default:
		}
	}
}

func (f *Facade) notifyError(msg string) {
	f.mu.Lock()
	f.lastErr = msg
	f.mu.Unlock()
}

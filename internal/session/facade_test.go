package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/SezarMAB/clinicx-session/internal/authz"
	"github.com/SezarMAB/clinicx-session/internal/identity"
	"github.com/SezarMAB/clinicx-session/internal/oauth/keycloak"
	"github.com/SezarMAB/clinicx-session/internal/storage"
	"github.com/SezarMAB/clinicx-session/internal/tenant"
	"github.com/SezarMAB/clinicx-session/internal/tenantapi"
	"github.com/SezarMAB/clinicx-session/internal/token"
)

type fixture struct {
	facade   *Facade
	store    *token.Store
	ident    *identity.Holder
	resolver *tenant.Resolver
	sess     storage.Client
}

type noNav struct{}

func (noNav) Navigate(string) {}

// newFixture wires a full session against fake IdP and tenant API servers.
// idp may be nil when the test never reaches the network.
func newFixture(t *testing.T, idp, api http.Handler) *fixture {
	t.Helper()

	issuer := "http://127.0.0.1:1/realms/clinicx"
	if idp != nil {
		srv := httptest.NewServer(idp)
		t.Cleanup(srv.Close)
		issuer = srv.URL + "/realms/clinicx"
	}

	sess := storage.NewMemory("test")
	store := token.NewStore(context.Background(), sess)
	t.Cleanup(store.Close)
	ident := identity.NewHolder()
	resolver := tenant.NewResolver("app.clinicx.com", store, nil)
	t.Cleanup(resolver.Close)
	policy := authz.New(ident, resolver)

	client := keycloak.New(keycloak.Config{
		IssuerURL:   issuer,
		ClientID:    "clinicx-spa",
		RedirectURI: "http://localhost:4200/callback",
	}, keycloak.Deps{
		Store:    store,
		Identity: ident,
		Storage:  sess,
		Nav:      noNav{},
	})

	var tenants *tenantapi.Client
	if api != nil {
		asrv := httptest.NewServer(api)
		t.Cleanup(asrv.Close)
		tenants = tenantapi.New(asrv.URL, store, nil)
	}

	f := New(Deps{
		Store:    store,
		Identity: ident,
		IdP:      client,
		Resolver: resolver,
		Policy:   policy,
		Tenants:  tenants,
	})
	if err := f.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(f.Close)

	return &fixture{facade: f, store: store, ident: ident, resolver: resolver, sess: sess}
}

func signedJWT(t *testing.T, payload map[string]any) string {
	t.Helper()
	hb, _ := json.Marshal(map[string]any{"alg": "none", "typ": "JWT"})
	pb, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	return base64.RawURLEncoding.EncodeToString(hb) + "." +
		base64.RawURLEncoding.EncodeToString(pb) + "." +
		base64.RawURLEncoding.EncodeToString([]byte("sig"))
}

func idpHandler(t *testing.T, access string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/protocol/openid-connect/token") {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  access,
			"token_type":    "Bearer",
			"expires_in":    300,
			"refresh_token": "rt-1",
		})
	})
}

func tenantAPIHandler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/tenants/my", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode([]map[string]string{
			{"tenant_id": "dental-1", "tenant_name": "Dental One", "role": "ADMIN", "specialty": "DENTAL"},
			{"tenant_id": "derm-2", "tenant_name": "Derm Two", "role": "DOCTOR", "specialty": "DERMATOLOGY"},
		})
	})
	mux.HandleFunc("/api/v1/tenants/switch", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func TestFacade_InitRehydrates(t *testing.T) {
	sess := storage.NewMemory("test")
	ctx := context.Background()

	access := signedJWT(t, map[string]any{
		"sub":       "u-1",
		"exp":       time.Now().Unix() + 300,
		"tenant_id": "dental-1",
	})
	seed := token.NewStore(ctx, sess)
	seed.Set(ctx, token.TokenData{AccessToken: access, ExpiresIn: 300})
	seed.Close()

	store := token.NewStore(ctx, sess)
	defer store.Close()
	ident := identity.NewHolder()
	f := New(Deps{Store: store, Identity: ident, Policy: authz.New(ident, nil)})
	if err := f.Init(ctx); err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if !f.Check() {
		t.Fatal("rehydrated session should check valid")
	}
	id := f.Identity()
	if !id.Authenticated || id.ID != "u-1" || id.ActiveTenantID != "dental-1" {
		t.Fatalf("identity: %+v", id)
	}
}

func TestFacade_LoginCompletesTenants(t *testing.T) {
	access := signedJWT(t, map[string]any{
		"sub": "u-1",
		"exp": time.Now().Unix() + 300,
	})
	fx := newFixture(t, idpHandler(t, access), tenantAPIHandler(t))
	ctx := context.Background()

	ok, err := fx.facade.Login(ctx, "jsmith", "s3cret")
	if err != nil || !ok {
		t.Fatalf("login: ok=%v err=%v", ok, err)
	}

	id := fx.facade.Identity()
	if len(id.AccessibleTenants) != 2 {
		t.Fatalf("accessible tenants: %+v", id.AccessibleTenants)
	}
	// sin active tenant en claims: el primero accesible pasa a activo
	if id.ActiveTenantID != "dental-1" {
		t.Fatalf("active tenant: %q", id.ActiveTenantID)
	}
	if len(id.Roles) != 1 || id.Roles[0] != "ADMIN" {
		t.Fatalf("effective roles: %v", id.Roles)
	}
	if fx.resolver.CurrentTenantID() != "dental-1" {
		t.Fatalf("resolver: %q", fx.resolver.CurrentTenantID())
	}
}

func TestFacade_LoginFailureSetsError(t *testing.T) {
	fx := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error_description": "Invalid user credentials"})
	}), nil)

	ok, err := fx.facade.Login(context.Background(), "jsmith", "bad")
	if ok || err == nil {
		t.Fatalf("expected failure, ok=%v err=%v", ok, err)
	}
	// la señal de error del IdP se refleja en la facade
	if fx.facade.LastError() != "Invalid user credentials" {
		t.Fatalf("LastError()=%q", fx.facade.LastError())
	}
	if fx.facade.Check() {
		t.Fatal("failed login must not leave a valid session")
	}
}

func TestFacade_DegradedTenantFetch(t *testing.T) {
	access := signedJWT(t, map[string]any{
		"sub":       "u-1",
		"exp":       time.Now().Unix() + 300,
		"tenant_id": "dental-1",
	})
	// la API de tenants falla: el login sigue en pie con lo del claim
	fx := newFixture(t, idpHandler(t, access), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	ok, err := fx.facade.Login(context.Background(), "jsmith", "s3cret")
	if err != nil || !ok {
		t.Fatalf("login should degrade, ok=%v err=%v", ok, err)
	}
	id := fx.facade.Identity()
	if !id.Authenticated || id.ActiveTenantID != "dental-1" {
		t.Fatalf("identity: %+v", id)
	}
}

func TestFacade_SubscribeAndLogout(t *testing.T) {
	access := signedJWT(t, map[string]any{"sub": "u-1", "exp": time.Now().Unix() + 300})
	fx := newFixture(t, idpHandler(t, access), nil)
	ctx := context.Background()

	ch, cancel := fx.facade.Subscribe()
	defer cancel()

	// push inmediato del estado actual
	first := <-ch
	if first.Authenticated {
		t.Fatal("initial state should be unauthenticated")
	}

	if ok, err := fx.facade.Login(ctx, "jsmith", "s3cret"); !ok || err != nil {
		t.Fatalf("login: %v %v", ok, err)
	}
	got := drainUntil(t, ch, func(id identity.Identity) bool { return id.Authenticated })
	if got.ID != "u-1" {
		t.Fatalf("published identity: %+v", got)
	}

	fx.facade.Logout(ctx, "")
	drainUntil(t, ch, func(id identity.Identity) bool { return !id.Authenticated })

	if fx.facade.Check() {
		t.Fatal("session should be torn down")
	}
	if _, ok := fx.resolver.Current(); ok {
		t.Fatal("resolver should be cleared on logout")
	}
}

func TestFacade_SwitchTenant(t *testing.T) {
	access := signedJWT(t, map[string]any{"sub": "u-1", "exp": time.Now().Unix() + 300})
	fx := newFixture(t, idpHandler(t, access), tenantAPIHandler(t))
	ctx := context.Background()

	if ok, err := fx.facade.Login(ctx, "jsmith", "s3cret"); !ok || err != nil {
		t.Fatalf("login: %v %v", ok, err)
	}

	if err := fx.facade.SwitchTenant(ctx, "derm-2"); err != nil {
		t.Fatal(err)
	}

	id := fx.facade.Identity()
	if id.ActiveTenantID != "derm-2" {
		t.Fatalf("active tenant: %q", id.ActiveTenantID)
	}
	if len(id.Roles) != 1 || id.Roles[0] != "DOCTOR" {
		t.Fatalf("roles after switch: %v", id.Roles)
	}
	if fx.resolver.CurrentTenantID() != "derm-2" {
		t.Fatalf("resolver: %q", fx.resolver.CurrentTenantID())
	}
}

func TestFacade_SwitchTenantWithoutAPI(t *testing.T) {
	fx := newFixture(t, nil, nil)
	if err := fx.facade.SwitchTenant(context.Background(), "derm-2"); err == nil {
		t.Fatal("switch without tenant api must fail")
	}
}

func drainUntil(t *testing.T, ch <-chan identity.Identity, cond func(identity.Identity) bool) identity.Identity {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case id := <-ch:
			if cond(id) {
				return id
			}
		case <-deadline:
			t.Fatal("expected identity state never published")
			return identity.Identity{}
		}
	}
}

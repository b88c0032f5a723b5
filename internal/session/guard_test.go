package session

import (
	"context"
	"testing"
	"time"

	"github.com/SezarMAB/clinicx-session/internal/authz"
	"github.com/SezarMAB/clinicx-session/internal/identity"
	"github.com/SezarMAB/clinicx-session/internal/storage"
	"github.com/SezarMAB/clinicx-session/internal/token"
)

// guardFixture wires just enough session for guard checks: a store with a
// valid (or absent) token and a hand-rolled identity.
func guardFixture(t *testing.T, id identity.Identity, withToken bool) *Facade {
	t.Helper()
	ctx := context.Background()

	store := token.NewStore(ctx, storage.NewMemory("test"))
	t.Cleanup(store.Close)
	if withToken {
		store.Set(ctx, token.TokenData{AccessToken: "at", ExpiresIn: 300})
	}

	holder := identity.NewHolder()
	holder.Replace(id)

	f := New(Deps{
		Store:    store,
		Identity: holder,
		Policy:   authz.New(holder, nil),
	})
	if err := f.Init(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(f.Close)

	// Init recomputes from the token; restore the hand-rolled identity.
	holder.Replace(id)
	return f
}

func TestRequireTenantRoles(t *testing.T) {
	authed := identity.Identity{
		Authenticated:  true,
		ActiveTenantID: "dental-1",
		UserTenantRoles: map[string][]string{
			"dental-1": {"DOCTOR"},
		},
	}

	cases := []struct {
		name      string
		id        identity.Identity
		withToken bool
		roles     []string
		want      Decision
	}{
		{"unauthenticated", identity.Identity{}, false, []string{"DOCTOR"}, RedirectLogin},
		{"authenticated but token gone", authed, false, []string{"DOCTOR"}, RedirectLogin},
		{"role held", authed, true, []string{"DOCTOR"}, Allow},
		{"any-of semantics", authed, true, []string{"ADMIN", "DOCTOR"}, Allow},
		{"role missing", authed, true, []string{"ADMIN"}, RedirectFallback},
		{"empty list requires auth only", authed, true, nil, Allow},
	}
	for _, tc := range cases {
		f := guardFixture(t, tc.id, tc.withToken)
		if got := f.RequireTenantRoles(tc.roles...); got != tc.want {
			t.Errorf("%s: decision=%v want %v", tc.name, got, tc.want)
		}
	}
}

func TestRequireTenantRoles_ExpiredToken(t *testing.T) {
	ctx := context.Background()
	store := token.NewStore(ctx, storage.NewMemory("test"))
	defer store.Close()
	store.Set(ctx, token.TokenData{AccessToken: "at", ExpiresAt: time.Now().Unix() - 10})

	holder := identity.NewHolder()
	f := New(Deps{Store: store, Identity: holder, Policy: authz.New(holder, nil)})
	if err := f.Init(ctx); err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	holder.Replace(identity.Identity{Authenticated: true})

	if got := f.RequireTenantRoles(); got != RedirectLogin {
		t.Fatalf("expired token: decision=%v want RedirectLogin", got)
	}
}

func TestRequireGlobalRoles(t *testing.T) {
	support := identity.Identity{
		Authenticated: true,
		RealmRoles:    []string{"GLOBAL_SUPPORT", "ADMIN"},
	}

	cases := []struct {
		name  string
		roles []string
		want  Decision
	}{
		{"global role held", []string{"GLOBAL_SUPPORT"}, Allow},
		{"any-of semantics", []string{"GLOBAL_ADMIN", "GLOBAL_SUPPORT"}, Allow},
		{"global role missing", []string{"GLOBAL_ADMIN"}, RedirectFallback},
		// un rol de realm sin prefijo nunca satisface el guard global
		{"non-prefixed refused", []string{"ADMIN"}, RedirectFallback},
		{"empty list requires auth only", nil, Allow},
	}
	for _, tc := range cases {
		f := guardFixture(t, support, true)
		if got := f.RequireGlobalRoles(tc.roles...); got != tc.want {
			t.Errorf("%s: decision=%v want %v", tc.name, got, tc.want)
		}
	}

	f := guardFixture(t, identity.Identity{}, false)
	if got := f.RequireGlobalRoles("GLOBAL_SUPPORT"); got != RedirectLogin {
		t.Fatalf("unauthenticated: decision=%v want RedirectLogin", got)
	}
}

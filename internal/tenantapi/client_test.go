package tenantapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/SezarMAB/clinicx-session/internal/identity"
	"github.com/SezarMAB/clinicx-session/internal/storage"
	"github.com/SezarMAB/clinicx-session/internal/token"
)

func storeWithToken(t *testing.T) *token.Store {
	t.Helper()
	s := token.NewStore(context.Background(), storage.NewMemory("test"))
	t.Cleanup(s.Close)
	s.Set(context.Background(), token.TokenData{AccessToken: "at-1", ExpiresIn: 300})
	return s
}

func TestMyTenants(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/tenants/my", r.URL.Path)
		require.Equal(t, "Bearer at-1", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode([]map[string]string{
			{"tenant_id": "dental-1", "tenant_name": "Dental One", "role": "ADMIN", "specialty": "DENTAL"},
			{"tenant_id": "derm-2", "tenant_name": "Derm Two", "specialty": "DERMATOLOGY"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, storeWithToken(t), nil)
	ts, err := c.MyTenants(context.Background())
	require.NoError(t, err)
	require.Equal(t, []identity.Tenant{
		{TenantID: "dental-1", ClinicName: "Dental One", ClinicType: "DENTAL", Roles: []string{"ADMIN"}},
		{TenantID: "derm-2", ClinicName: "Derm Two", ClinicType: "DERMATOLOGY"},
	}, ts)
}

func TestSwitch(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/tenants/switch", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, storeWithToken(t), nil)
	require.NoError(t, c.Switch(context.Background(), "derm-2"))
	require.Equal(t, map[string]string{"tenant_id": "derm-2"}, gotBody)
}

func TestErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(srv.URL, storeWithToken(t), nil)
	_, err := c.MyTenants(context.Background())
	require.ErrorContains(t, err, "403")
	require.ErrorContains(t, c.Switch(context.Background(), "x"), "403")

	// sin token no se llama a la red
	empty := token.NewStore(context.Background(), storage.NewMemory("test"))
	defer empty.Close()
	c = New(srv.URL, empty, nil)
	_, err = c.MyTenants(context.Background())
	require.ErrorContains(t, err, "no current token")
}

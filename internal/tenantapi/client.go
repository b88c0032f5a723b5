// Package tenantapi is the thin client for the backend tenant endpoints:
// listing the tenants the current user can access and switching the active
// one. The JWT does not carry the full tenant-role map, so this fetch is
// what completes the Identity after login.
package tenantapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/SezarMAB/clinicx-session/internal/identity"
	"github.com/SezarMAB/clinicx-session/internal/observability/logger"
	"github.com/SezarMAB/clinicx-session/internal/token"
)

// Client talks to the ClinicX backend tenant API with the session's bearer.
type Client struct {
	baseURL string
	store   *token.Store
	http    *http.Client
	log     *zap.Logger
}

// New creates the tenant API client. httpClient may be nil.
func New(baseURL string, store *token.Store, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		store:   store,
		http:    httpClient,
		log:     logger.Named("tenantapi"),
	}
}

// myTenantEntry is the backend's shape for one accessible tenant.
type myTenantEntry struct {
	TenantID   string `json:"tenant_id"`
	TenantName string `json:"tenant_name"`
	Role       string `json:"role"`
	Specialty  string `json:"specialty"`
}

// MyTenants fetches the tenants the current user can access.
func (c *Client) MyTenants(ctx context.Context) ([]identity.Tenant, error) {
	var entries []myTenantEntry
	if err := c.get(ctx, "/api/v1/tenants/my", &entries); err != nil {
		return nil, err
	}

	out := make([]identity.Tenant, 0, len(entries))
	for _, e := range entries {
		t := identity.Tenant{
			TenantID:   e.TenantID,
			ClinicName: e.TenantName,
			ClinicType: e.Specialty,
		}
		if e.Role != "" {
			t.Roles = []string{e.Role}
		}
		out = append(out, t)
	}
	return out, nil
}

// Switch asks the backend to make tenantID the active tenant. The caller is
// expected to refresh afterwards so the new claims reflect the switch.
func (c *Client) Switch(ctx context.Context, tenantID string) error {
	body, _ := json.Marshal(map[string]string{"tenant_id": tenantID})
	req, err := http.NewRequestWithContext(ctx, "POST",
		c.baseURL+"/api/v1/tenants/switch", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.authorize(req); err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("tenant switch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("tenant switch http %d", resp.StatusCode)
	}
	c.log.Debug("tenant switched", logger.TenantID(tenantID))
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if err := c.authorize(req); err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("tenant api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("tenant api http %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) authorize(req *http.Request) error {
	cur, ok := c.store.Current()
	if !ok || cur.BearerHeader() == "" {
		return fmt.Errorf("tenant api: no current token")
	}
	req.Header.Set("Authorization", cur.BearerHeader())
	return nil
}

// Package bootstrap is the composition root: it builds the session core
// from configuration in the defined order (token store → tenant resolver →
// identity provider client → session facade), with no ambient globals.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"

	"github.com/SezarMAB/clinicx-session/internal/authz"
	"github.com/SezarMAB/clinicx-session/internal/config"
	"github.com/SezarMAB/clinicx-session/internal/identity"
	"github.com/SezarMAB/clinicx-session/internal/metrics"
	"github.com/SezarMAB/clinicx-session/internal/oauth/keycloak"
	"github.com/SezarMAB/clinicx-session/internal/observability/logger"
	"github.com/SezarMAB/clinicx-session/internal/session"
	"github.com/SezarMAB/clinicx-session/internal/storage"
	"github.com/SezarMAB/clinicx-session/internal/tenant"
	"github.com/SezarMAB/clinicx-session/internal/tenantapi"
	"github.com/SezarMAB/clinicx-session/internal/token"
)

// Options tweak what Build wires beyond the config file.
type Options struct {
	// Nav materializes browser redirects. Required for the redirect flows;
	// a nil Nav limits the session to the password grant.
	Nav keycloak.Navigator

	// HTTP overrides the outbound client (tests).
	HTTP *http.Client
}

// Core is the assembled session core.
type Core struct {
	Facade   *session.Facade
	Store    *token.Store
	Resolver *tenant.Resolver
	Policy   *authz.Policy
	IdP      *keycloak.Client

	store storage.Client
}

// Build assembles the core from cfg. Call Close when done.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*Core, error) {
	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       cfg.App.LogLevel,
		ServiceName: "clinicx-session",
	})

	if err := metrics.Register(nil); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	st, err := storage.New(storage.Config{
		Driver:   cfg.Storage.Driver,
		Path:     cfg.Storage.Path,
		Host:     cfg.Storage.Host,
		Port:     cfg.Storage.Port,
		Password: cfg.Storage.Password,
		DB:       cfg.Storage.DB,
		Prefix:   cfg.Storage.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	tokenStore := token.NewStore(ctx, st)
	holder := identity.NewHolder()
	resolver := tenant.NewResolver(cfg.Tenant.Hostname, tokenStore, cfg.Tenant.ReservedSubdomains)
	policy := authz.New(holder, resolver)

	idp := keycloak.New(keycloak.Config{
		IssuerURL:   cfg.Auth.IssuerURL,
		ClientID:    cfg.Auth.ClientID,
		RedirectURI: cfg.Auth.RedirectURI,
		Scopes:      cfg.Auth.Scopes,
	}, keycloak.Deps{
		Store:    tokenStore,
		Identity: holder,
		Storage:  st,
		Nav:      opts.Nav,
		HTTP:     opts.HTTP,
	})

	var tenants *tenantapi.Client
	if cfg.Tenant.APIBaseURL != "" {
		tenants = tenantapi.New(cfg.Tenant.APIBaseURL, tokenStore, opts.HTTP)
	}

	facade := session.New(session.Deps{
		Store:    tokenStore,
		Identity: holder,
		IdP:      idp,
		Resolver: resolver,
		Policy:   policy,
		Tenants:  tenants,
	})
	if err := facade.Init(ctx); err != nil {
		return nil, err
	}

	if cfg.Auth.RefreshBufferSeconds > 0 {
		idp.SetupAutoRefresh(cfg.Auth.RefreshBufferSeconds)
	}

	return &Core{
		Facade:   facade,
		Store:    tokenStore,
		Resolver: resolver,
		Policy:   policy,
		IdP:      idp,
		store:    st,
	}, nil
}

// Close releases the watchers, timers and the storage backend.
func (c *Core) Close() {
	c.Facade.Close()
	c.Resolver.Close()
	c.Store.Close()
	_ = c.store.Close()
}

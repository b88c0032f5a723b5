// Package keycloak implementa los intercambios OAuth2/OIDC contra el
// identity provider: password grant, authorization_code + PKCE, refresh,
// logout y userinfo. Es la frontera de red del núcleo de sesión; traduce
// las respuestas del provider a las formas Token/Identity de la sesión.
package keycloak

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/SezarMAB/clinicx-session/internal/identity"
	"github.com/SezarMAB/clinicx-session/internal/observability/logger"
	"github.com/SezarMAB/clinicx-session/internal/storage"
	"github.com/SezarMAB/clinicx-session/internal/token"
)

// defaultScopes es el scope fijo de todos los flujos.
var defaultScopes = []string{"openid", "profile", "email"}

// Claves session-scoped para el estado intermedio del flujo de redirect.
const (
	keyPKCEVerifier = "oauth:pkce_verifier"
	keyState        = "oauth:state"

	// El verifier/state no deberían sobrevivir más que un intento de login.
	flowStateTTL = 10 * time.Minute
)

// Navigator es el colaborador que materializa las redirecciones de browser
// (login con redirect, logout). Fuera del core; la UI lo implementa.
type Navigator interface {
	Navigate(url string)
}

// Config identifica la app ante el provider.
type Config struct {
	// IssuerURL es el issuer completo, ej:
	// https://auth.clickx.com/realms/clinicx
	IssuerURL string

	ClientID    string
	RedirectURI string

	// Scopes defaultea a "openid profile email".
	Scopes []string
}

// Deps son los colaboradores inyectados. Orden de construcción:
// Store → Resolver → Client → Facade (composition root).
type Deps struct {
	Store    *token.Store
	Identity *identity.Holder
	Storage  storage.Client
	Nav      Navigator

	// HTTP permite inyectar un cliente para tests; default timeout 10s.
	HTTP *http.Client

	// Notify recibe los mensajes de error legibles (señal de error de la
	// sesión). Opcional.
	Notify func(msg string)
}

// Client realiza los intercambios contra el provider.
type Client struct {
	cfg   Config
	store *token.Store
	ident *identity.Holder
	sess  storage.Client
	nav   Navigator
	http  *http.Client
	log   *zap.Logger

	notify func(msg string)

	// sf colapsa refreshes concurrentes en un solo intercambio.
	sf singleflight.Group

	mu           sync.Mutex
	lastErr      string
	refreshTimer *time.Timer
}

// New crea el cliente del provider.
func New(cfg Config, deps Deps) *Client {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = defaultScopes
	}
	hc := deps.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		cfg:    cfg,
		store:  deps.Store,
		ident:  deps.Identity,
		sess:   deps.Storage,
		nav:    deps.Nav,
		http:   hc,
		log:    logger.Named("oauth.keycloak"),
		notify: deps.Notify,
	}
}

// Endpoints derivados del issuer (layout estándar de Keycloak).

func (c *Client) tokenEndpoint() string {
	return strings.TrimRight(c.cfg.IssuerURL, "/") + "/protocol/openid-connect/token"
}

func (c *Client) authEndpoint() string {
	return strings.TrimRight(c.cfg.IssuerURL, "/") + "/protocol/openid-connect/auth"
}

func (c *Client) logoutEndpoint() string {
	return strings.TrimRight(c.cfg.IssuerURL, "/") + "/protocol/openid-connect/logout"
}

func (c *Client) userinfoEndpoint() string {
	return strings.TrimRight(c.cfg.IssuerURL, "/") + "/protocol/openid-connect/userinfo"
}

// tokenResponse es la respuesta JSON del token endpoint.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshToken     string `json:"refresh_token"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
	IDToken          string `json:"id_token"`
	Scope            string `json:"scope"`
	SessionState     string `json:"session_state"`
	NotBeforePolicy  int64  `json:"not-before-policy"`
}

// exchange hace el POST form-encoded al token endpoint. En non-2xx decodifica
// {error,error_description} y arma un error legible.
func (c *Client) exchange(ctx context.Context, form url.Values) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.tokenEndpoint(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var b struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&b)
		msg := b.ErrorDescription
		if msg == "" {
			msg = b.Error
		}
		if msg == "" {
			msg = fmt.Sprintf("token http %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("%s", msg)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("token response decode: %w", err)
	}
	return &tr, nil
}

// applyToken guarda el token en el Store y recalcula la Identity con la
// regla de merge: un refresh cuyo JWT no trae accessible_tenants /
// user_tenant_roles no debe borrar lo ya fetcheado.
func (c *Client) applyToken(ctx context.Context, tr *tokenResponse) {
	c.store.Set(ctx, token.TokenData{
		AccessToken:  tr.AccessToken,
		TokenType:    tr.TokenType,
		ExpiresIn:    tr.ExpiresIn,
		RefreshToken: tr.RefreshToken,
		IDToken:      tr.IDToken,
	})

	claims := token.DecodeClaims(tr.AccessToken)
	next := identity.FromClaims(claims)
	next.Authenticated = true

	prev := c.ident.Current()
	c.ident.Replace(identity.Merge(prev, next))
}

// SetNotify engancha (o reemplaza) el receptor de la señal de error.
// La facade lo usa para reflejar fallas del provider en su propio estado.
func (c *Client) SetNotify(fn func(msg string)) {
	c.mu.Lock()
	c.notify = fn
	c.mu.Unlock()
}

// setErr registra el último error legible y lo publica por Notify.
func (c *Client) setErr(msg string) {
	c.mu.Lock()
	c.lastErr = msg
	fn := c.notify
	c.mu.Unlock()
	if fn != nil && msg != "" {
		fn(msg)
	}
}

// LastError retorna el último mensaje de error legible ("" si no hubo).
func (c *Client) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

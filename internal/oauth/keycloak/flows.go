package keycloak

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/SezarMAB/clinicx-session/internal/identity"
	"github.com/SezarMAB/clinicx-session/internal/metrics"
	"github.com/SezarMAB/clinicx-session/internal/observability/logger"
	"github.com/SezarMAB/clinicx-session/internal/security/pkce"
	"github.com/SezarMAB/clinicx-session/internal/token"
	"github.com/SezarMAB/clinicx-session/internal/util"
)

// LoginWithPassword hace el grant_type=password. A diferencia de los otros
// flujos, acá el error del provider se re-lanza al caller: la UI del form de
// login reacciona por llamada, no solo por la señal de error.
func (c *Client) LoginWithPassword(ctx context.Context, username, password string) (bool, error) {
	log := logger.From(ctx).With(
		logger.Component("oauth.keycloak"),
		logger.Op("LoginWithPassword"),
		logger.GrantType("password"),
	)

	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("username", username)
	form.Set("password", password)
	form.Set("scope", strings.Join(c.cfg.Scopes, " "))

	tr, err := c.exchange(ctx, form)
	if err != nil {
		msg := err.Error()
		c.setErr(msg)
		metrics.LoginTotal.WithLabelValues("password", "failure").Inc()
		log.Warn("password login failed", logger.Err(err))
		return false, fmt.Errorf("login failed: %w", err)
	}

	c.applyToken(ctx, tr)
	c.setErr("")
	metrics.LoginTotal.WithLabelValues("password", "success").Inc()
	log.Info("password login ok", logger.Username(username))
	return true, nil
}

// LoginWithRedirect arranca el flujo authorization_code + PKCE: genera
// verifier/challenge, persiste verifier y state en storage session-scoped y
// navega el browser al authorization endpoint. No retorna resultado directo;
// el resultado llega por HandleAuthCallback.
func (c *Client) LoginWithRedirect(ctx context.Context, redirectURI, state string) error {
	log := logger.From(ctx).With(
		logger.Component("oauth.keycloak"),
		logger.Op("LoginWithRedirect"),
	)

	verifier, err := pkce.NewVerifier()
	if err != nil {
		c.setErr("could not generate PKCE verifier")
		return fmt.Errorf("pkce verifier: %w", err)
	}

	if state == "" {
		state = uuid.NewString()
	}
	if redirectURI == "" {
		redirectURI = c.cfg.RedirectURI
	}

	if err := c.sess.Set(ctx, keyPKCEVerifier, verifier, flowStateTTL); err != nil {
		c.setErr("could not persist PKCE verifier")
		return fmt.Errorf("persist verifier: %w", err)
	}
	if err := c.sess.Set(ctx, keyState, state, flowStateTTL); err != nil {
		c.setErr("could not persist state")
		return fmt.Errorf("persist state: %w", err)
	}

	u, err := url.Parse(c.authEndpoint())
	if err != nil {
		return fmt.Errorf("auth endpoint: %w", err)
	}
	q := u.Query()
	q.Set("client_id", c.cfg.ClientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("response_type", "code")
	q.Set("scope", strings.Join(c.cfg.Scopes, " "))
	q.Set("state", state)
	q.Set("code_challenge", pkce.Challenge(verifier))
	q.Set("code_challenge_method", pkce.Method)
	u.RawQuery = q.Encode()

	log.Debug("redirecting to authorization endpoint")
	c.nav.Navigate(u.String())
	return nil
}

// HandleAuthCallback procesa el retorno del authorization endpoint.
// State mismatch y verifier ausente son fallas locales duras: mensaje
// distintivo y cero llamadas de red. Fallas del intercambio se tragan a
// false + señal de error (no se re-lanzan).
func (c *Client) HandleAuthCallback(ctx context.Context, code, state string) bool {
	log := logger.From(ctx).With(
		logger.Component("oauth.keycloak"),
		logger.Op("HandleAuthCallback"),
		logger.GrantType("authorization_code"),
	)

	if state != "" {
		stored, err := c.sess.Get(ctx, keyState)
		if err != nil || stored != state {
			c.setErr("Invalid state parameter")
			metrics.LoginTotal.WithLabelValues("authorization_code", "failure").Inc()
			log.Warn("state mismatch on callback")
			return false
		}
	}

	verifier, err := c.sess.Get(ctx, keyPKCEVerifier)
	if err != nil || verifier == "" {
		c.setErr("Missing PKCE verifier")
		metrics.LoginTotal.WithLabelValues("authorization_code", "failure").Inc()
		log.Warn("pkce verifier missing on callback")
		return false
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("code", code)
	form.Set("redirect_uri", c.cfg.RedirectURI)
	form.Set("code_verifier", verifier)

	tr, err := c.exchange(ctx, form)
	if err != nil {
		c.setErr(err.Error())
		metrics.LoginTotal.WithLabelValues("authorization_code", "failure").Inc()
		log.Warn("code exchange failed", logger.Err(err))
		return false
	}

	// Entradas de un solo uso: limpiar apenas el intercambio cierra bien.
	_ = c.sess.Remove(ctx, keyPKCEVerifier)
	_ = c.sess.Remove(ctx, keyState)

	c.applyToken(ctx, tr)
	c.setErr("")
	metrics.LoginTotal.WithLabelValues("authorization_code", "success").Inc()
	log.Info("authorization code login ok")
	return true
}

// RefreshToken hace el grant_type=refresh_token. Single-flight: llamadas
// concurrentes colapsan en un intercambio y comparten el resultado, así una
// ráfaga de 401 simultáneos no genera una tormenta de refreshes.
//
// Un refresh fallido es terminal: señal de error + logout forzado
// (fail-closed), no retry.
func (c *Client) RefreshToken(ctx context.Context) bool {
	v, _, _ := c.sf.Do("refresh", func() (any, error) {
		return c.doRefresh(ctx), nil
	})
	ok, _ := v.(bool)
	return ok
}

func (c *Client) doRefresh(ctx context.Context) bool {
	log := logger.From(ctx).With(
		logger.Component("oauth.keycloak"),
		logger.Op("RefreshToken"),
		logger.GrantType("refresh_token"),
	)

	cur, has := c.store.Current()
	if !has || cur.RefreshToken == "" {
		log.Debug("no refresh token available")
		return false
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("refresh_token", cur.RefreshToken)

	tr, err := c.exchange(ctx, form)
	if err != nil {
		c.setErr(err.Error())
		metrics.RefreshTotal.WithLabelValues("failure").Inc()
		metrics.ForcedLogouts.Inc()
		log.Warn("refresh failed, forcing logout", logger.Err(err))
		c.Logout(ctx, "")
		return false
	}

	c.applyToken(ctx, tr)
	c.setErr("")
	metrics.RefreshTotal.WithLabelValues("success").Inc()
	log.Debug("token refreshed")
	return true
}

// SetupAutoRefresh lee el exp del token actual y arma un timer one-shot que
// refresca bufferSeconds antes del vencimiento. Convive con el timer propio
// del Store: el single-flight de RefreshToken absorbe el disparo duplicado.
func (c *Client) SetupAutoRefresh(bufferSeconds int64) {
	cur, has := c.store.Current()
	if !has {
		return
	}
	claims := token.DecodeClaims(cur.AccessToken)
	if claims.Exp == 0 {
		return
	}

	delay := claims.Exp - time.Now().Unix() - bufferSeconds
	if delay <= 0 {
		return
	}

	c.mu.Lock()
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
	}
	c.refreshTimer = time.AfterFunc(time.Duration(delay)*time.Second, func() {
		c.RefreshToken(context.Background())
	})
	c.mu.Unlock()
}

// Logout limpia el estado local de forma síncrona y navega el browser al
// logout endpoint del provider. Es fire-and-forget: no hay camino de
// "logout fallido" porque es una navegación, no una llamada esperada.
func (c *Client) Logout(ctx context.Context, redirectURI string) {
	log := logger.From(ctx).With(
		logger.Component("oauth.keycloak"),
		logger.Op("Logout"),
	)

	idToken := c.store.IDToken()
	c.store.Clear(ctx)
	c.ident.Replace(identity.Identity{})

	c.mu.Lock()
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
	c.mu.Unlock()

	u, err := url.Parse(c.logoutEndpoint())
	if err != nil {
		log.Warn("bad logout endpoint", logger.Err(err))
		return
	}
	q := u.Query()
	q.Set("client_id", c.cfg.ClientID)
	if redirectURI != "" {
		q.Set("post_logout_redirect_uri", redirectURI)
	}
	if idToken != "" {
		q.Set("id_token_hint", idToken)
	}
	u.RawQuery = q.Encode()

	log.Info("logged out")
	if c.nav != nil {
		c.nav.Navigate(u.String())
	}
}

// userinfoResponse es el subset del userinfo endpoint que mapeamos.
type userinfoResponse struct {
	Sub               string `json:"sub"`
	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
	Name              string `json:"name"`
	GivenName         string `json:"given_name"`
	FamilyName        string `json:"family_name"`
	TenantID          string `json:"tenant_id"`
	ClinicName        string `json:"clinic_name"`
	ClinicType        string `json:"clinic_type"`
}

// UserInfo consulta el userinfo endpoint con el bearer actual y mapea la
// respuesta al shape de Identity. En falla setea la señal de error y
// re-lanza.
func (c *Client) UserInfo(ctx context.Context) (identity.Identity, error) {
	log := logger.From(ctx).With(
		logger.Component("oauth.keycloak"),
		logger.Op("UserInfo"),
	)

	cur, has := c.store.Current()
	if !has || cur.BearerHeader() == "" {
		c.setErr("not authenticated")
		return identity.Identity{}, fmt.Errorf("userinfo: no current token")
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.userinfoEndpoint(), nil)
	if err != nil {
		return identity.Identity{}, err
	}
	req.Header.Set("Authorization", cur.BearerHeader())

	resp, err := c.http.Do(req)
	if err != nil {
		c.setErr("userinfo endpoint unreachable")
		return identity.Identity{}, fmt.Errorf("userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg := fmt.Sprintf("userinfo http %d", resp.StatusCode)
		c.setErr(msg)
		return identity.Identity{}, fmt.Errorf("%s", msg)
	}

	var ui userinfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&ui); err != nil {
		c.setErr("userinfo decode failed")
		return identity.Identity{}, fmt.Errorf("userinfo decode: %w", err)
	}

	name := ui.Name
	if name == "" {
		name = strings.TrimSpace(ui.GivenName + " " + ui.FamilyName)
	}
	if name == "" {
		name = ui.PreferredUsername
	}

	log.Debug("userinfo fetched", logger.Email(util.MaskEmail(ui.Email)))
	return identity.Identity{
		Authenticated:  true,
		ID:             ui.Sub,
		Name:           name,
		Email:          ui.Email,
		ActiveTenantID: ui.TenantID,
	}, nil
}

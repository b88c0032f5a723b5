package token

import (
	"encoding/json"
	"strings"
	"sync"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	"github.com/SezarMAB/clinicx-session/internal/observability/logger"
)

// TenantSummary es la entrada de accessible_tenants: una clínica a la que el
// usuario tiene acceso, con los roles que tiene en ella.
type TenantSummary struct {
	TenantID   string   `json:"tenant_id"`
	ClinicName string   `json:"clinic_name"`
	ClinicType string   `json:"clinic_type"`
	Roles      []string `json:"roles,omitempty"`
}

// TenantList soporta las dos codificaciones que emite el provider para
// accessible_tenants: array JSON de objetos, o un string delimitado
// "id:nombre:tipo,id:nombre:tipo" (legacy mappers de Keycloak).
type TenantList []TenantSummary

func (tl *TenantList) UnmarshalJSON(data []byte) error {
	// Forma normal: array de objetos
	var arr []TenantSummary
	if err := json.Unmarshal(data, &arr); err == nil {
		*tl = arr
		return nil
	}

	// Forma legacy: string delimitado
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Forma desconocida: tratar como vacío, no como error fatal
		*tl = nil
		return nil
	}
	var out []TenantSummary
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		ts := TenantSummary{TenantID: fields[0]}
		if len(fields) > 1 {
			ts.ClinicName = fields[1]
		}
		if len(fields) > 2 {
			ts.ClinicType = fields[2]
		}
		if len(fields) > 3 && fields[3] != "" {
			ts.Roles = strings.Split(fields[3], "|")
		}
		out = append(out, ts)
	}
	*tl = out
	return nil
}

// RoleSet es el shape {"roles": [...]} que usa Keycloak en realm_access y
// resource_access.
type RoleSet struct {
	Roles []string `json:"roles"`
}

// Claims es el payload decodificado del access token JWT. Decodificado
// estructuralmente, no verificado criptográficamente: la verificación de
// firma es responsabilidad del backend, no de este cliente.
type Claims struct {
	Subject           string              `json:"sub"`
	PreferredUsername string              `json:"preferred_username"`
	Email             string              `json:"email"`
	Name              string              `json:"name"`
	GivenName         string              `json:"given_name"`
	FamilyName        string              `json:"family_name"`
	Exp               int64               `json:"exp"`
	TenantID          string              `json:"tenant_id"`
	ClinicName        string              `json:"clinic_name"`
	ClinicType        string              `json:"clinic_type"`
	RealmAccess       RoleSet             `json:"realm_access"`
	ResourceAccess    map[string]RoleSet  `json:"resource_access"`
	ActiveTenantID    string              `json:"active_tenant_id"`
	AccessibleTenants TenantList          `json:"accessible_tenants"`
	UserTenantRoles   map[string][]string `json:"user_tenant_roles"`
}

// Empty reporta si las claims no traen nada identificable.
func (c Claims) Empty() bool {
	return c.Subject == "" && c.PreferredUsername == "" && c.Email == "" &&
		c.TenantID == "" && c.Exp == 0
}

// DecodeClaims decodifica el payload del JWT de forma estructural.
// Cualquier falla (cantidad de segmentos, base64 inválido, JSON inválido,
// typ desconocido) retorna claims vacías y loguea; nunca propaga error.
func DecodeClaims(raw string) Claims {
	log := logger.Named("token.claims")

	if strings.TrimSpace(raw) == "" {
		return Claims{}
	}

	parser := jwtv5.NewParser()
	tok, _, err := parser.ParseUnverified(raw, jwtv5.MapClaims{})
	if err != nil {
		log.Debug("jwt decode failed", logger.Err(err))
		return Claims{}
	}

	typ, _ := tok.Header["typ"].(string)
	if !typeOK(typ) {
		log.Debug("unexpected jwt typ", logger.String("typ", typ))
		return Claims{}
	}

	mc, ok := tok.Claims.(jwtv5.MapClaims)
	if !ok {
		log.Debug("unexpected claims type")
		return Claims{}
	}

	// MapClaims → struct via re-marshal; shapes raros caen en el decoder
	// tolerante de TenantList.
	buf, err := json.Marshal(mc)
	if err != nil {
		log.Debug("claims marshal failed", logger.Err(err))
		return Claims{}
	}
	var c Claims
	if err := json.Unmarshal(buf, &c); err != nil {
		log.Debug("claims unmarshal failed", logger.Err(err))
		return Claims{}
	}
	return c
}

// typeOK acepta typ que contenga "JWT" (case-insensitive) o sea "BEARER".
// Un typ vacío también pasa: varios providers no lo emiten.
func typeOK(typ string) bool {
	if typ == "" {
		return true
	}
	up := strings.ToUpper(typ)
	return strings.Contains(up, "JWT") || up == "BEARER"
}

// JWT envuelve un Token cuyo access token es un JWT, con decode perezoso y
// cacheado de las claims.
type JWT struct {
	Token

	once   sync.Once
	claims Claims
}

// NewJWT crea el wrapper JWT sobre un token.
func NewJWT(t Token) *JWT {
	return &JWT{Token: t}
}

// Claims retorna las claims decodificadas (decode una sola vez).
func (j *JWT) Claims() Claims {
	j.once.Do(func() {
		j.claims = DecodeClaims(j.AccessToken)
	})
	return j.claims
}

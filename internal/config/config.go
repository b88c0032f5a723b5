// Package config carga la configuración del núcleo de sesión desde YAML,
// con overrides por variables de entorno para los valores sensibles.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Bloque app (opcional en YAML). Si no está, quedan los defaults.
	App struct {
		// dev | prod
		Env      string `yaml:"env"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"app"`

	Auth struct {
		// IssuerURL completo, ej: https://auth.clickx.com/realms/clinicx
		IssuerURL   string   `yaml:"issuer_url"`
		ClientID    string   `yaml:"client_id"`
		RedirectURI string   `yaml:"redirect_uri"`
		Scopes      []string `yaml:"scopes"`

		// Buffer del auto-refresh del cliente (segundos antes del exp).
		RefreshBufferSeconds int64 `yaml:"refresh_buffer_seconds"`
	} `yaml:"auth"`

	Tenant struct {
		// Hostname desde el que se resuelve el subdominio.
		Hostname string `yaml:"hostname"`
		// Subdominios que nunca identifican un tenant.
		ReservedSubdomains []string `yaml:"reserved_subdomains"`
		// Base URL del backend de tenants.
		APIBaseURL string `yaml:"api_base_url"`
	} `yaml:"tenant"`

	Storage struct {
		Driver   string `yaml:"driver"` // memory | file | redis
		Path     string `yaml:"path"`   // file
		Host     string `yaml:"host"`   // redis
		Port     int    `yaml:"port"`   // redis
		DB       int    `yaml:"db"`     // redis
		Prefix   string `yaml:"prefix"`
		Password string `yaml:"-"` // solo por env: STORAGE_PASSWORD
	} `yaml:"storage"`

	Callback struct {
		// Addr del listener loopback del flujo de redirect ("" lo desactiva).
		Addr string `yaml:"addr"`
		Path string `yaml:"path"`
	} `yaml:"callback"`
}

// LoadEnv carga .env (y .env.dev como override) si existen. Best-effort.
func LoadEnv() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.dev")
}

// Load lee el YAML de path (path vacío = solo defaults + env) y aplica
// defaults y overrides de entorno.
func Load(path string) (*Config, error) {
	var c Config

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, err
		}
	}

	// sane defaults
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if len(c.Auth.Scopes) == 0 {
		c.Auth.Scopes = []string{"openid", "profile", "email"}
	}
	if c.Auth.RefreshBufferSeconds == 0 {
		c.Auth.RefreshBufferSeconds = 60
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Callback.Path == "" {
		c.Callback.Path = "/callback"
	}

	// env overrides (secretos y deployment-specific)
	if v := os.Getenv("AUTH_ISSUER_URL"); v != "" {
		c.Auth.IssuerURL = v
	}
	if v := os.Getenv("AUTH_CLIENT_ID"); v != "" {
		c.Auth.ClientID = v
	}
	if v := os.Getenv("AUTH_REDIRECT_URI"); v != "" {
		c.Auth.RedirectURI = v
	}
	if v := os.Getenv("TENANT_HOSTNAME"); v != "" {
		c.Tenant.Hostname = v
	}
	if v := os.Getenv("TENANT_API_BASE_URL"); v != "" {
		c.Tenant.APIBaseURL = v
	}
	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("STORAGE_PASSWORD"); v != "" {
		c.Storage.Password = v
	}
	if v := os.Getenv("STORAGE_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("STORAGE_PORT: %w", err)
		}
		c.Storage.Port = p
	}

	// validaciones mínimas
	if c.Auth.IssuerURL != "" && !strings.HasPrefix(c.Auth.IssuerURL, "http") {
		return nil, fmt.Errorf("auth.issuer_url must be an http(s) URL")
	}

	return &c, nil
}

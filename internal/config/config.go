// Package config loads the gateway's immutable configuration: a config.yaml
// file when present, overridden by SENDGATE_-prefixed environment variables.
// Secrets may be written as ${VAR} references resolved at load time. The
// returned struct is built once at startup and never mutated.
package config

import (
	"os"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Upstream  UpstreamConfig  `koanf:"upstream"`
	Auth      AuthConfig      `koanf:"auth"`
	Admin     AdminConfig     `koanf:"admin"`
	KeyStore  KeyStoreConfig  `koanf:"keystore"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	Webhooks  WebhookConfig   `koanf:"webhooks"`
	Audit     AuditConfig     `koanf:"audit"`
}

type ServerConfig struct {
	Port           int `koanf:"port"`
	TimeoutSeconds int `koanf:"timeout_seconds"`
}

// UpstreamConfig names the dispatch API admitted requests are forwarded to.
// An empty URL selects the built-in accepted stub.
type UpstreamConfig struct {
	URL string `koanf:"url"`
}

type AuthConfig struct {
	// APISecret is the deployment-wide shared secret for the API layer.
	APISecret string `koanf:"api_secret"`
	// HealthPaths are exempt from authentication.
	HealthPaths []string `koanf:"health_paths"`
}

type AdminConfig struct {
	Users             []AdminUser `koanf:"users"`
	SessionTTLMinutes int         `koanf:"session_ttl_minutes"`
	IPPinning         bool        `koanf:"ip_pinning"`
	LoginPath         string      `koanf:"login_path"`
}

type AdminUser struct {
	Email        string `koanf:"email"`
	PasswordHash string `koanf:"password_hash"`
	IsAdmin      bool   `koanf:"is_admin"`
}

type KeyStoreConfig struct {
	// Addr is the Redis target; empty selects the in-process store.
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	// Prefix namespaces every key the gateway writes.
	Prefix string `koanf:"prefix"`
}

type RateLimitConfig struct {
	Send     WindowConfig   `koanf:"send"`
	Webhook  WindowConfig   `koanf:"webhook"`
	Admin    WindowConfig   `koanf:"admin"`
	Health   WindowConfig   `koanf:"health"`
	Default  WindowConfig   `koanf:"default"`
	Advisory AdvisoryConfig `koanf:"advisory"`
}

type WindowConfig struct {
	MaxAttempts  int `koanf:"max_attempts"`
	DecaySeconds int `koanf:"decay_seconds"`
}

type AdvisoryConfig struct {
	PerMinute int `koanf:"per_minute"`
	PerHour   int `koanf:"per_hour"`
}

type WebhookConfig struct {
	TwilioAuthToken string `koanf:"twilio_auth_token"`
	WhatsAppSecret  string `koanf:"whatsapp_secret"`
	SendGridSecret  string `koanf:"sendgrid_secret"`
	MailgunKey      string `koanf:"mailgun_key"`
}

type AuditConfig struct {
	Verbose    bool   `koanf:"verbose"`
	MaxBody    int    `koanf:"max_body"`
	SQLitePath string `koanf:"sqlite_path"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads config.yaml (optional) and the environment, applies defaults,
// and resolves ${VAR} secret references.
func Load() (*Config, error) {
	return LoadFile("config.yaml")
}

// LoadFile is Load with an explicit file path, for tests.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// Missing file is fine, env vars carry the config.
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := k.Load(env.Provider("SENDGATE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "SENDGATE_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	applyDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Auth.APISecret = substituteEnvVars(cfg.Auth.APISecret)
	cfg.KeyStore.Password = substituteEnvVars(cfg.KeyStore.Password)
	cfg.Webhooks.TwilioAuthToken = substituteEnvVars(cfg.Webhooks.TwilioAuthToken)
	cfg.Webhooks.WhatsAppSecret = substituteEnvVars(cfg.Webhooks.WhatsAppSecret)
	cfg.Webhooks.SendGridSecret = substituteEnvVars(cfg.Webhooks.SendGridSecret)
	cfg.Webhooks.MailgunKey = substituteEnvVars(cfg.Webhooks.MailgunKey)

	return &cfg, nil
}

func applyDefaults(k *koanf.Koanf) {
	defaults := map[string]any{
		"server.port":                     8080,
		"server.timeout_seconds":          30,
		"auth.health_paths":               []string{"/health", "/live"},
		"admin.session_ttl_minutes":       480,
		"admin.ip_pinning":                true,
		"admin.login_path":                "/admin/login",
		"keystore.prefix":                 "sendgate",
		"ratelimit.send.max_attempts":     30,
		"ratelimit.send.decay_seconds":    60,
		"ratelimit.webhook.max_attempts":  300,
		"ratelimit.webhook.decay_seconds": 60,
		"ratelimit.admin.max_attempts":    60,
		"ratelimit.admin.decay_seconds":   60,
		"ratelimit.health.max_attempts":   1000,
		"ratelimit.health.decay_seconds":  60,
		"ratelimit.default.max_attempts":  60,
		"ratelimit.default.decay_seconds": 60,
		"ratelimit.advisory.per_minute":   60,
		"ratelimit.advisory.per_hour":     1000,
		"audit.max_body":                  4096,
	}
	for key, val := range defaults {
		if !k.Exists(key) {
			_ = k.Set(key, val)
		}
	}
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	origPort := os.Getenv("SENDGATE_SERVER__PORT")
	defer func() {
		if origPort != "" {
			os.Setenv("SENDGATE_SERVER__PORT", origPort)
		} else {
			os.Unsetenv("SENDGATE_SERVER__PORT")
		}
	}()

	t.Run("defaults", func(t *testing.T) {
		os.Unsetenv("SENDGATE_SERVER__PORT")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if cfg.Server.Port != 8080 {
			t.Errorf("port = %v, want 8080", cfg.Server.Port)
		}
		if !cfg.Admin.IPPinning {
			t.Error("ip pinning should default on")
		}
		if cfg.Admin.SessionTTLMinutes != 480 {
			t.Errorf("session ttl = %v, want 480", cfg.Admin.SessionTTLMinutes)
		}
		if cfg.RateLimit.Send.MaxAttempts != 30 || cfg.RateLimit.Health.MaxAttempts != 1000 {
			t.Errorf("rate limit defaults = %+v", cfg.RateLimit)
		}
		if cfg.KeyStore.Prefix != "sendgate" {
			t.Errorf("prefix = %q, want sendgate", cfg.KeyStore.Prefix)
		}
	})

	t.Run("env var override", func(t *testing.T) {
		os.Setenv("SENDGATE_SERVER__PORT", "9000")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if cfg.Server.Port != 9000 {
			t.Errorf("port = %v, want 9000", cfg.Server.Port)
		}
	})
}

func TestLoadFile(t *testing.T) {
	os.Setenv("TEST_TWILIO_TOKEN", "tok-from-env")
	defer os.Unsetenv("TEST_TWILIO_TOKEN")

	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  port: 9443
auth:
  api_secret: static-secret
admin:
  ip_pinning: false
  users:
    - email: ops@example.com
      password_hash: abc123
      is_admin: true
ratelimit:
  send:
    max_attempts: 5
    decay_seconds: 10
webhooks:
  twilio_auth_token: ${TEST_TWILIO_TOKEN}
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.Server.Port != 9443 {
		t.Errorf("port = %v, want 9443", cfg.Server.Port)
	}
	if cfg.Admin.IPPinning {
		t.Error("ip pinning explicitly disabled but still on")
	}
	if len(cfg.Admin.Users) != 1 || cfg.Admin.Users[0].Email != "ops@example.com" {
		t.Errorf("admin users = %+v", cfg.Admin.Users)
	}
	if cfg.RateLimit.Send.MaxAttempts != 5 {
		t.Errorf("send max attempts = %v, want 5", cfg.RateLimit.Send.MaxAttempts)
	}
	// Unlisted classes keep defaults.
	if cfg.RateLimit.Admin.MaxAttempts != 60 {
		t.Errorf("admin max attempts = %v, want default 60", cfg.RateLimit.Admin.MaxAttempts)
	}
	if cfg.Webhooks.TwilioAuthToken != "tok-from-env" {
		t.Errorf("twilio token = %q, want env substitution", cfg.Webhooks.TwilioAuthToken)
	}
}

func TestSubstituteEnvVars(t *testing.T) {
	os.Setenv("TEST_VAR", "test-value")
	defer os.Unsetenv("TEST_VAR")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple substitution", "${TEST_VAR}", "test-value"},
		{"substitution in string", "prefix-${TEST_VAR}-suffix", "prefix-test-value-suffix"},
		{"no substitution", "plain-string", "plain-string"},
		{"undefined var", "${UNDEFINED_VAR}", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := substituteEnvVars(tt.input); got != tt.want {
				t.Errorf("substituteEnvVars() = %v, want %v", got, tt.want)
			}
		})
	}
}

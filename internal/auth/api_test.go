package auth

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sendgate/sendgate/internal/gate"
)

func testAuthenticator(secret string) *APIAuthenticator {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewAPIAuthenticator(secret, []string{"/health", "/live"}, logger)
}

func TestAdmitMissingToken(t *testing.T) {
	a := testAuthenticator("s3cret-s3cret-s3cret")

	tests := []struct {
		name    string
		headers map[string]string
	}{
		{"no headers at all", nil},
		{"unrelated headers", map[string]string{"X-Api-Version": "2"}},
		{"basic auth is not a bearer token", map[string]string{"Authorization": "Basic Zm9vOmJhcg=="}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/v1/send/sms", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			_, rj := a.Admit(r)
			if rj == nil || rj.Reason != gate.ReasonMissingCredential {
				t.Fatalf("Admit() rejection = %+v, want MissingCredential", rj)
			}
			if rj.Status != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rj.Status)
			}
		})
	}
}

func TestAdmitTokenComparison(t *testing.T) {
	a := testAuthenticator("correct-secret")

	tests := []struct {
		name   string
		header string
		wantOK bool
	}{
		{"exact match", "Bearer correct-secret", true},
		{"lowercase scheme", "bearer correct-secret", true},
		{"wrong token", "Bearer wrong-secret", false},
		{"prefix of secret", "Bearer correct-secre", false},
		{"secret plus suffix", "Bearer correct-secretX", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/v1/send/sms", nil)
			r.Header.Set("Authorization", tt.header)
			admitted, rj := a.Admit(r)
			if tt.wantOK {
				if rj != nil {
					t.Fatalf("Admit() rejection = %+v, want admit", rj)
				}
				if got := Identity(admitted.Context()); got != "correct-secret" {
					t.Fatalf("Identity() = %q, want validated token", got)
				}
				return
			}
			if rj == nil || rj.Reason != gate.ReasonInvalidCredential {
				t.Fatalf("Admit() rejection = %+v, want InvalidCredential", rj)
			}
		})
	}
}

func TestAdmitHealthExempt(t *testing.T) {
	a := testAuthenticator("s3cret")

	for _, path := range []string{"/health", "/live"} {
		r := httptest.NewRequest("GET", path, nil)
		if _, rj := a.Admit(r); rj != nil {
			t.Fatalf("Admit(%s) rejection = %+v, want exempt", path, rj)
		}
	}
}

func TestAdmitUnconfiguredSecretFailsClosed(t *testing.T) {
	a := testAuthenticator("")

	r := httptest.NewRequest("POST", "/v1/send/sms", nil)
	r.Header.Set("Authorization", "Bearer anything")
	_, rj := a.Admit(r)
	if rj == nil || rj.Status != http.StatusUnauthorized {
		t.Fatalf("Admit() with no secret = %+v, want 401", rj)
	}
}

func TestValidKeyFormat(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"abcdefghijklmnopqrstuvwxyz012345", true},
		{"ABC-def_123-ABC-def_123-ABC-def_123", true},
		{"short-key", false},
		{"abcdefghijklmnopqrstuvwxyz01234", false}, // 31 chars
		{"abcdefghijklmnopqrstuvwxyz0123!5", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidKeyFormat(tt.key); got != tt.want {
			t.Errorf("ValidKeyFormat(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestHashIdentity(t *testing.T) {
	id := HashIdentity("some-project-api-key-0123456789abc")
	if len(id) != 16 {
		t.Fatalf("HashIdentity() length = %d, want 16", len(id))
	}
	if id == HashIdentity("other-project-api-key-0123456789a") {
		t.Fatal("distinct keys hashed to the same identity")
	}
	if id != HashIdentity("some-project-api-key-0123456789abc") {
		t.Fatal("HashIdentity() is not deterministic")
	}
}

func TestGenerateKeyMatchesFormat(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	if !ValidKeyFormat(key) {
		t.Fatalf("GenerateKey() = %q, fails ValidKeyFormat", key)
	}
}

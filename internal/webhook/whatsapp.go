package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sendgate/sendgate/internal/gate"
)

// WhatsAppVerifier checks the Meta-style X-Hub-Signature-256 header:
// "sha256=" + hex(HMAC-SHA256(appSecret, raw body)). No timestamp in the
// scheme.
type WhatsAppVerifier struct {
	Secret string
	logger *slog.Logger
}

func (v *WhatsAppVerifier) Provider() Provider { return ProviderWhatsApp }

func (v *WhatsAppVerifier) Verify(r *http.Request) *gate.Rejection {
	declared := r.Header.Get("X-Hub-Signature-256")
	if declared == "" {
		return missingData("missing X-Hub-Signature-256 header")
	}
	declared = strings.TrimPrefix(declared, "sha256=")

	raw, err := readBody(r)
	if err != nil {
		return missingData("unreadable request body")
	}

	expected := WhatsAppSignature(v.Secret, raw)
	if subtle.ConstantTimeCompare([]byte(declared), []byte(expected)) != 1 {
		v.logger.Warn("whatsapp signature mismatch",
			slog.String("declared", declared),
			slog.String("path", r.URL.Path),
		)
		return invalidSignature("signature does not match payload")
	}
	return nil
}

// WhatsAppSignature computes the hex HMAC-SHA256 of the raw body.
func WhatsAppSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

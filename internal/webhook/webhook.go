// Package webhook validates inbound provider callbacks before they reach
// the dispatch handler. Each provider has its own HMAC scheme and, where the
// scheme defines a timestamp, its own replay window. Verification is pure:
// nothing is persisted, the request is forwarded unmodified on success.
package webhook

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sendgate/sendgate/internal/gate"
)

// Provider identifies an inbound callback source.
type Provider int

const (
	ProviderUnknown Provider = iota
	ProviderTwilio
	ProviderWhatsApp
	ProviderSendGrid
	ProviderMailgun
)

func (p Provider) String() string {
	switch p {
	case ProviderTwilio:
		return "twilio"
	case ProviderWhatsApp:
		return "whatsapp"
	case ProviderSendGrid:
		return "sendgrid"
	case ProviderMailgun:
		return "mailgun"
	}
	return "unknown"
}

// routingTable maps path substrings to providers. Order matters: whatsapp
// is checked before twilio because WhatsApp callbacks ride Twilio-style
// paths in some deployments.
var routingTable = []struct {
	substr   string
	provider Provider
}{
	{"whatsapp", ProviderWhatsApp},
	{"twilio", ProviderTwilio},
	{"sendgrid", ProviderSendGrid},
	{"mailgun", ProviderMailgun},
}

// Resolve returns the provider owning the path, or ProviderUnknown.
func Resolve(path string) Provider {
	lower := strings.ToLower(path)
	for _, route := range routingTable {
		if strings.Contains(lower, route.substr) {
			return route.provider
		}
	}
	return ProviderUnknown
}

// Verifier validates one provider's signature scheme.
type Verifier interface {
	Provider() Provider
	Verify(r *http.Request) *gate.Rejection
}

// Secrets holds the per-provider signing secrets from configuration.
type Secrets struct {
	TwilioAuthToken string
	WhatsAppSecret  string
	SendGridSecret  string
	MailgunKey      string
}

// Stage dispatches requests to the verifier for their provider. Paths not
// matching any known provider proceed without verification; that
// default-allow for unrecognized sources is documented behavior, not a gap
// this stage closes.
type Stage struct {
	verifiers map[Provider]Verifier
	logger    *slog.Logger
}

var _ gate.Stage = (*Stage)(nil)

// NewStage builds the dispatch stage with one verifier per configured
// provider. A provider with no secret gets no verifier at all: an empty-key
// HMAC is computable by anyone, so checking against it would dress
// pass-through up as verification. Such paths fall through unverified like
// unknown ones, and the gap is logged at startup.
func NewStage(secrets Secrets, logger *slog.Logger) *Stage {
	m := make(map[Provider]Verifier, 4)
	add := func(secret string, v Verifier) {
		if secret == "" {
			logger.Warn("webhook verifier disabled, no secret configured",
				slog.String("provider", v.Provider().String()))
			return
		}
		m[v.Provider()] = v
	}
	add(secrets.TwilioAuthToken, &TwilioVerifier{AuthToken: secrets.TwilioAuthToken, logger: logger})
	add(secrets.WhatsAppSecret, &WhatsAppVerifier{Secret: secrets.WhatsAppSecret, logger: logger})
	add(secrets.SendGridSecret, &SendGridVerifier{Secret: secrets.SendGridSecret, logger: logger})
	add(secrets.MailgunKey, &MailgunVerifier{Key: secrets.MailgunKey, logger: logger})
	return &Stage{verifiers: m, logger: logger}
}

func (s *Stage) Name() string { return "webhook-verify" }

func (s *Stage) Admit(r *http.Request) (*http.Request, *gate.Rejection) {
	provider := Resolve(r.URL.Path)
	v, ok := s.verifiers[provider]
	if !ok {
		s.logger.Debug("no verifier for webhook path, passing through",
			slog.String("path", r.URL.Path))
		return r, nil
	}
	if rj := v.Verify(r); rj != nil {
		return nil, rj
	}
	return r, nil
}

// readBody consumes the request body and restores it so the downstream
// handler sees the original bytes.
func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))
	return raw, nil
}

// requestURL reconstructs the externally visible URL the provider signed.
func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func missingData(msg string) *gate.Rejection {
	return &gate.Rejection{
		Status:  http.StatusBadRequest,
		Reason:  gate.ReasonMissingSignatureData,
		Message: msg,
	}
}

func invalidSignature(msg string) *gate.Rejection {
	return &gate.Rejection{
		Status:  http.StatusForbidden,
		Reason:  gate.ReasonInvalidSignature,
		Message: msg,
	}
}

func timestampTooOld(msg string) *gate.Rejection {
	return &gate.Rejection{
		Status:  http.StatusBadRequest,
		Reason:  gate.ReasonTimestampTooOld,
		Message: msg,
	}
}

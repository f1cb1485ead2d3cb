package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sendgate/sendgate/internal/gate"
)

// MailgunReplayWindow is the maximum accepted age of a signed event.
const MailgunReplayWindow = 900 * time.Second

// MailgunVerifier checks the body fields timestamp, token, and signature:
// signature = hex(HMAC-SHA256(apiKey, timestamp + token)). Events arrive as
// form posts or as JSON with a nested "signature" object.
type MailgunVerifier struct {
	Key    string
	logger *slog.Logger

	now func() time.Time
}

func (v *MailgunVerifier) Provider() Provider { return ProviderMailgun }

func (v *MailgunVerifier) Verify(r *http.Request) *gate.Rejection {
	raw, err := readBody(r)
	if err != nil {
		return missingData("unreadable request body")
	}

	ts, token, declared := mailgunFields(r, raw)
	if ts == "" || token == "" || declared == "" {
		return missingData("missing timestamp, token, or signature field")
	}

	tsInt, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return missingData("malformed timestamp field")
	}

	nowFn := v.now
	if nowFn == nil {
		nowFn = time.Now
	}
	age := nowFn().Unix() - tsInt
	if age < 0 {
		age = -age
	}
	if time.Duration(age)*time.Second > MailgunReplayWindow {
		return timestampTooOld("signed timestamp outside replay window")
	}

	expected := MailgunSignature(v.Key, ts, token)
	if subtle.ConstantTimeCompare([]byte(declared), []byte(expected)) != 1 {
		v.logger.Warn("mailgun signature mismatch",
			slog.String("declared", declared),
			slog.String("path", r.URL.Path),
		)
		return invalidSignature("signature does not match payload")
	}
	return nil
}

// mailgunFields pulls the signature triple from a form or JSON body.
func mailgunFields(r *http.Request, raw []byte) (timestamp, token, signature string) {
	ct := r.Header.Get("Content-Type")
	if strings.Contains(ct, "application/json") {
		var payload struct {
			Signature struct {
				Timestamp string `json:"timestamp"`
				Token     string `json:"token"`
				Signature string `json:"signature"`
			} `json:"signature"`
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return "", "", ""
		}
		s := payload.Signature
		return s.Timestamp, s.Token, s.Signature
	}

	form, err := url.ParseQuery(string(raw))
	if err != nil {
		return "", "", ""
	}
	return form.Get("timestamp"), form.Get("token"), form.Get("signature")
}

// MailgunSignature computes hex(HMAC-SHA256(key, timestamp + token)).
func MailgunSignature(key, timestamp, token string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(timestamp))
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

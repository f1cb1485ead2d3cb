package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sendgate/sendgate/internal/gate"
)

// SendGridReplayWindow is the maximum accepted age of a signed event batch.
const SendGridReplayWindow = 600 * time.Second

// SendGridVerifier checks X-Sendgrid-Signature: hex(HMAC-SHA256(secret,
// timestamp + raw body)) with the unix timestamp in X-Sendgrid-Timestamp.
type SendGridVerifier struct {
	Secret string
	logger *slog.Logger

	// now overrides the clock in tests.
	now func() time.Time
}

func (v *SendGridVerifier) Provider() Provider { return ProviderSendGrid }

func (v *SendGridVerifier) Verify(r *http.Request) *gate.Rejection {
	declared := r.Header.Get("X-Sendgrid-Signature")
	tsHeader := r.Header.Get("X-Sendgrid-Timestamp")
	if declared == "" || tsHeader == "" {
		return missingData("missing X-Sendgrid-Signature or X-Sendgrid-Timestamp header")
	}

	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return missingData("malformed timestamp header")
	}

	nowFn := v.now
	if nowFn == nil {
		nowFn = time.Now
	}
	age := nowFn().Unix() - ts
	if age < 0 {
		age = -age
	}
	if time.Duration(age)*time.Second > SendGridReplayWindow {
		return timestampTooOld("signed timestamp outside replay window")
	}

	raw, err := readBody(r)
	if err != nil {
		return missingData("unreadable request body")
	}

	expected := SendGridSignature(v.Secret, tsHeader, raw)
	if subtle.ConstantTimeCompare([]byte(declared), []byte(expected)) != 1 {
		v.logger.Warn("sendgrid signature mismatch",
			slog.String("declared", declared),
			slog.String("path", r.URL.Path),
		)
		return invalidSignature("signature does not match payload")
	}
	return nil
}

// SendGridSignature computes hex(HMAC-SHA256(secret, timestamp + body)).
func SendGridSignature(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Package audit records redacted request/response envelopes around the
// admission pipeline. It is side-effect only: nothing here influences an
// admission decision, and every internal failure is swallowed.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// Placeholder replaces redacted values.
	Placeholder = "[REDACTED]"

	defaultMaxBody = 4096
	maxCapture     = 1 << 20
)

// sensitiveHeaders are redacted from captured headers.
var sensitiveHeaders = map[string]struct{}{
	"authorization":       {},
	"cookie":              {},
	"set-cookie":          {},
	"x-api-key":           {},
	"x-twilio-signature":  {},
	"proxy-authorization": {},
}

// sensitiveFields are redacted from captured bodies and query strings,
// recursively through nested objects and arrays.
var sensitiveFields = map[string]struct{}{
	"password":      {},
	"token":         {},
	"secret":        {},
	"api_key":       {},
	"api_secret":    {},
	"auth_token":    {},
	"authorization": {},
	"credential":    {},
}

// Record is one audited request span.
type Record struct {
	RequestID   string         `json:"request_id"`
	Timestamp   time.Time      `json:"timestamp"`
	Method      string         `json:"method"`
	Path        string         `json:"path"`
	FullURL     string         `json:"full_url"`
	SourceIP    string         `json:"source_ip"`
	UserAgent   string         `json:"user_agent"`
	Identity    string         `json:"identity,omitempty"`
	Headers     map[string]string `json:"headers"`
	Query       map[string]string `json:"query,omitempty"`
	Body        any            `json:"body,omitempty"`
	StatusCode  int            `json:"status_code"`
	LatencyMs   int64          `json:"latency_ms"`
	ContentType string         `json:"content_type,omitempty"`
	ContentLen  int            `json:"content_length"`
	RespBody    string         `json:"response_body,omitempty"`
}

// Sink receives completed audit records. Write failures are logged and
// dropped, never propagated.
type Sink interface {
	WriteRecord(ctx context.Context, rec *Record) error
}

// Logger wraps handlers with audit capture.
type Logger struct {
	logger  *slog.Logger
	sink    Sink // optional
	verbose bool
	maxBody int
}

// Options configures the audit logger.
type Options struct {
	// Verbose captures response bodies for successful requests too.
	Verbose bool
	// MaxBody truncates captured response bodies; 0 means the default.
	MaxBody int
	// Sink, when set, additionally receives each record.
	Sink Sink
}

// NewLogger builds an audit logger emitting to slog and the optional sink.
func NewLogger(logger *slog.Logger, opts Options) *Logger {
	if opts.MaxBody <= 0 {
		opts.MaxBody = defaultMaxBody
	}
	return &Logger{logger: logger, sink: opts.Sink, verbose: opts.Verbose, maxBody: opts.MaxBody}
}

// requestIDKey is the context key for the correlation identifier.
type requestIDKey struct{}

// RequestID returns the correlation identifier assigned by the middleware.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// Middleware wraps next with audit capture. The span covers the whole
// admission pipeline and the downstream handler.
func (l *Logger) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		w.Header().Set("X-Request-ID", requestID)
		r = r.WithContext(ctx)

		rec := l.captureRequest(requestID, r)

		cw := &captureWriter{ResponseWriter: w, status: http.StatusOK, limit: l.maxBody}
		start := time.Now()
		next.ServeHTTP(cw, r)

		l.finish(ctx, rec, cw, time.Since(start))
	})
}

// captureRequest builds the pre-dispatch half of the record. Failures leave
// fields empty rather than aborting the request.
func (l *Logger) captureRequest(requestID string, r *http.Request) *Record {
	defer func() { _ = recover() }()

	rec := &Record{
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Method:    r.Method,
		Path:      r.URL.Path,
		FullURL:   r.URL.String(),
		SourceIP:  r.RemoteAddr,
		UserAgent: r.UserAgent(),
		Headers:   redactHeaders(r.Header),
		Query:     redactQuery(r.URL.Query()),
	}
	rec.Body = l.captureBody(r)
	return rec
}

func (l *Logger) captureBody(r *http.Request) any {
	if r.Body == nil {
		return nil
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxCapture))
	if err != nil {
		return nil
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))
	if len(raw) == 0 {
		return nil
	}

	ct := r.Header.Get("Content-Type")
	switch {
	case strings.Contains(ct, "application/json"):
		var parsed any
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return Placeholder
		}
		return RedactValue(parsed)
	case strings.Contains(ct, "application/x-www-form-urlencoded"):
		values, err := url.ParseQuery(string(raw))
		if err != nil {
			return Placeholder
		}
		return redactQuery(values)
	default:
		if len(raw) > l.maxBody {
			raw = raw[:l.maxBody]
		}
		return string(raw)
	}
}

// finish fills the post-dispatch half and emits the record. Never raises.
func (l *Logger) finish(ctx context.Context, rec *Record, cw *captureWriter, elapsed time.Duration) {
	defer func() {
		if p := recover(); p != nil {
			l.logger.Error("audit logger recovered", slog.Any("panic", p))
		}
	}()

	rec.StatusCode = cw.status
	rec.LatencyMs = elapsed.Milliseconds()
	rec.ContentType = cw.Header().Get("Content-Type")
	rec.ContentLen = cw.written
	if l.verbose || cw.status >= 400 {
		rec.RespBody = cw.body.String()
	}

	level := slog.LevelInfo
	switch {
	case rec.StatusCode >= 500:
		level = slog.LevelError
	case rec.StatusCode >= 400:
		level = slog.LevelWarn
	}

	l.logger.LogAttrs(ctx, level, "request audited",
		slog.String("request_id", rec.RequestID),
		slog.String("method", rec.Method),
		slog.String("path", rec.Path),
		slog.String("source_ip", rec.SourceIP),
		slog.Int("status", rec.StatusCode),
		slog.Int64("latency_ms", rec.LatencyMs),
	)

	if l.sink != nil {
		if err := l.sink.WriteRecord(ctx, rec); err != nil {
			l.logger.Error("audit sink write failed", slog.String("error", err.Error()))
		}
	}
}

func redactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, vals := range h {
		if len(vals) == 0 {
			continue
		}
		if _, sensitive := sensitiveHeaders[strings.ToLower(name)]; sensitive {
			out[name] = Placeholder
		} else {
			out[name] = vals[0]
		}
	}
	return out
}

func redactQuery(values url.Values) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for name := range values {
		if _, sensitive := sensitiveFields[strings.ToLower(name)]; sensitive {
			out[name] = Placeholder
		} else {
			out[name] = values.Get(name)
		}
	}
	return out
}

// RedactValue walks a decoded JSON value and replaces sensitive field
// values at any depth.
func RedactValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, val := range typed {
			if _, sensitive := sensitiveFields[strings.ToLower(k)]; sensitive {
				out[k] = Placeholder
			} else {
				out[k] = RedactValue(val)
			}
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, val := range typed {
			out[i] = RedactValue(val)
		}
		return out
	default:
		return v
	}
}

// captureWriter records status and a bounded copy of the response body.
type captureWriter struct {
	http.ResponseWriter
	status  int
	written int
	limit   int
	body    bytes.Buffer
}

func (cw *captureWriter) WriteHeader(code int) {
	cw.status = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	if cw.body.Len() < cw.limit {
		room := cw.limit - cw.body.Len()
		if room > len(b) {
			room = len(b)
		}
		cw.body.Write(b[:room])
	}
	cw.written += len(b)
	return cw.ResponseWriter.Write(b)
}

// Flush forwards Flush when the underlying writer supports it.
func (cw *captureWriter) Flush() {
	if f, ok := cw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

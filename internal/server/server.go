// Package server assembles the admission gateway: the chi router, the
// ordered pipelines per request class, and the downstream dispatch target.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sendgate/sendgate/internal/auth"
	"github.com/sendgate/sendgate/internal/config"
	"github.com/sendgate/sendgate/internal/gate"
	"github.com/sendgate/sendgate/internal/keystore"
	"github.com/sendgate/sendgate/internal/ratelimit"
	"github.com/sendgate/sendgate/internal/session"
	"github.com/sendgate/sendgate/internal/webhook"
)

// Server is the assembled gateway.
type Server struct {
	Router   *chi.Mux
	Port     int
	logger   *slog.Logger
	sessions *session.Manager
	login    string
	httpSrv  *http.Server
}

// Options carries the assembled collaborators main cannot express in
// config alone.
type Options struct {
	Store keystore.Store
	// Audit is the audit middleware, pre-built so main decides the sink.
	Audit func(http.Handler) http.Handler
	// Downstream overrides the upstream proxy/stub, used by tests.
	Downstream http.Handler
}

// New wires the gateway from configuration.
func New(cfg *config.Config, opts Options, logger *slog.Logger) (*Server, error) {
	prefix := cfg.KeyStore.Prefix

	apiAuth := auth.NewAPIAuthenticator(cfg.Auth.APISecret, cfg.Auth.HealthPaths, logger)

	sessions := session.NewManager(opts.Store, session.Options{
		Users:     adminUsers(cfg.Admin.Users),
		KeyPrefix: prefix,
		TTL:       time.Duration(cfg.Admin.SessionTTLMinutes) * time.Minute,
		PinIP:     cfg.Admin.IPPinning,
	}, logger)
	sessionStage := &session.Stage{Manager: sessions, LoginPath: cfg.Admin.LoginPath}

	limiter := ratelimit.NewFixedWindow(opts.Store, prefix+":rl", map[string]ratelimit.Limit{
		ratelimit.ClassSend:    windowLimit(cfg.RateLimit.Send),
		ratelimit.ClassWebhook: windowLimit(cfg.RateLimit.Webhook),
		ratelimit.ClassAdmin:   windowLimit(cfg.RateLimit.Admin),
		ratelimit.ClassHealth:  windowLimit(cfg.RateLimit.Health),
	}, windowLimit(cfg.RateLimit.Default), logger)
	advisory := ratelimit.NewAdvisory(cfg.RateLimit.Advisory.PerMinute, cfg.RateLimit.Advisory.PerHour)

	webhookStage := webhook.NewStage(webhook.Secrets{
		TwilioAuthToken: cfg.Webhooks.TwilioAuthToken,
		WhatsAppSecret:  cfg.Webhooks.WhatsAppSecret,
		SendGridSecret:  cfg.Webhooks.SendGridSecret,
		MailgunKey:      cfg.Webhooks.MailgunKey,
	}, logger)

	downstream := opts.Downstream
	if downstream == nil {
		var err error
		downstream, err = newDownstream(cfg.Upstream.URL, logger)
		if err != nil {
			return nil, err
		}
	}

	s := &Server{
		Router:   chi.NewRouter(),
		Port:     cfg.Server.Port,
		logger:   logger,
		sessions: sessions,
		login:    cfg.Admin.LoginPath,
	}

	r := s.Router
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "sendgate")
	})
	if opts.Audit != nil {
		r.Use(opts.Audit)
	}
	r.Use(TimeoutMiddleware(time.Duration(cfg.Server.TimeoutSeconds) * time.Second))
	r.Use(middleware.Recoverer)

	limitStage := func(class string) gate.Stage {
		return &ratelimit.Stage{Limiter: limiter, Advisory: advisory, Class: class}
	}

	// Health endpoints: no auth, generous ceiling.
	healthPipe := gate.NewPipeline(logger, limitStage(ratelimit.ClassHealth))
	healthHandler := RateLimitHeaderMiddleware(healthPipe.Handler(http.HandlerFunc(handleHealth)))
	r.Method(http.MethodGet, "/health", healthHandler)
	r.Method(http.MethodGet, "/live", healthHandler)

	// API surface: shared-secret auth then the tight send budget.
	apiPipe := gate.NewPipeline(logger, apiAuth, limitStage(ratelimit.ClassSend))
	r.Handle("/v1/*", RateLimitHeaderMiddleware(apiPipe.Handler(downstream)))

	// Webhook receivers: provider signature check then the webhook budget.
	// The signature is the authentication; no bearer token is expected.
	webhookPipe := gate.NewPipeline(logger, webhookStage, limitStage(ratelimit.ClassWebhook))
	r.Handle("/webhooks/*", RateLimitHeaderMiddleware(webhookPipe.Handler(downstream)))

	// Admin surface: login/logout are credential exchanges guarded only by
	// the admin budget; everything else requires a live session.
	loginPipe := gate.NewPipeline(logger, limitStage(ratelimit.ClassAdmin))
	r.Method(http.MethodPost, "/admin/login", RateLimitHeaderMiddleware(loginPipe.Handler(http.HandlerFunc(s.handleLogin))))
	r.Method(http.MethodPost, "/admin/logout", RateLimitHeaderMiddleware(loginPipe.Handler(http.HandlerFunc(s.handleLogout))))

	adminPipe := gate.NewPipeline(logger, sessionStage, limitStage(ratelimit.ClassAdmin))
	r.Method(http.MethodGet, "/admin/me", RateLimitHeaderMiddleware(adminPipe.Handler(http.HandlerFunc(s.handleMe))))
	r.Handle("/admin/*", RateLimitHeaderMiddleware(adminPipe.Handler(downstream)))

	return s, nil
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.Port),
		Handler: s.Router,
	}
	s.logger.Info("starting server", slog.Int("port", s.Port))
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// newDownstream builds the dispatch target: a reverse proxy when an
// upstream is configured, otherwise the accepted stub.
func newDownstream(upstream string, logger *slog.Logger) (http.Handler, error) {
	if upstream == "" {
		logger.Warn("no upstream configured, admitted requests answered by the built-in stub")
		return http.HandlerFunc(handleAccepted), nil
	}
	target, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("parsing upstream url: %w", err)
	}
	return httputil.NewSingleHostReverseProxy(target), nil
}

func adminUsers(users []config.AdminUser) []session.User {
	out := make([]session.User, len(users))
	for i, u := range users {
		out[i] = session.User{Email: u.Email, PasswordHash: u.PasswordHash, IsAdmin: u.IsAdmin}
	}
	return out
}

func windowLimit(w config.WindowConfig) ratelimit.Limit {
	return ratelimit.Limit{
		MaxAttempts: w.MaxAttempts,
		Decay:       time.Duration(w.DecaySeconds) * time.Second,
	}
}

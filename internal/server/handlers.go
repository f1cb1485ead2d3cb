package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sendgate/sendgate/internal/audit"
	"github.com/sendgate/sendgate/internal/gate"
	"github.com/sendgate/sendgate/internal/session"
	"github.com/sendgate/sendgate/internal/token"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAccepted is the built-in dispatch stub used when no upstream is
// configured. Reaching it means the request cleared every admission stage.
func handleAccepted(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":     "accepted",
		"request_id": audit.RequestID(r.Context()),
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// handleLogin exchanges operator credentials for a session token. The token
// comes back both in the body and as the admin cookie for browser clients.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	ct := r.Header.Get("Content-Type")
	if strings.Contains(ct, "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":   "invalid_request",
				"message": "malformed login body",
			})
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":   "invalid_request",
				"message": "malformed login body",
			})
			return
		}
		req.Email = r.PostFormValue("email")
		req.Password = r.PostFormValue("password")
	}

	ip := session.ClientIP(r)
	tok, err := s.sessions.Login(r.Context(), req.Email, req.Password, ip)
	switch {
	case errors.Is(err, session.ErrNotAdmin):
		writeJSON(w, http.StatusForbidden, map[string]string{
			"error":   string(gate.ReasonInsufficientPrivileges),
			"message": "user does not have admin privileges",
		})
		return
	case errors.Is(err, session.ErrBadCredentials):
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error":   string(gate.ReasonInvalidCredential),
			"message": "invalid email or password",
		})
		return
	case err != nil:
		s.logger.Error("login failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error":   string(gate.ReasonBackendUnavailable),
			"message": "session store unavailable",
		})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     token.CookieName,
		Value:    tok,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"token": tok})
}

// handleLogout invalidates the session immediately. Logging out an already
// dead session still succeeds.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	tok := token.Extract(r)
	if tok != "" {
		if err := s.sessions.Logout(r.Context(), tok); err != nil {
			s.logger.Error("logout failed", slog.String("error", err.Error()))
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:   token.CookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// handleMe reports the authenticated session, mostly for dashboards and
// smoke checks.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	rec := session.FromContext(r.Context())
	if rec == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error":   string(gate.ReasonInvalidOrExpiredSession),
			"message": "no session",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"email":         rec.Email,
		"ip":            rec.IP,
		"created_at":    rec.CreatedAt,
		"last_activity": rec.LastActivity,
	})
}

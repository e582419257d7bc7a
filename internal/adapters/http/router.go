package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/KipK/ha-entity-explorer/internal/application"
	"github.com/KipK/ha-entity-explorer/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/sirupsen/logrus"
)

const sessionCookieName = "hae_session"

type contextKey string

const (
	identityKey  contextKey = "identity"
	requestIDKey contextKey = "request_id"
)

type Options struct {
	Explorer *application.Explorer
	Auth     *application.AuthService
	Log      logrus.FieldLogger

	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	// AccessLog receives one combined log line per request when set.
	AccessLog io.Writer
	// TrustProxy makes X-Forwarded-For and X-Forwarded-Proto authoritative
	// for the client address.
	TrustProxy    bool
	SecureCookies bool
}

type Handler struct {
	explorer *application.Explorer
	auth     *application.AuthService
	log      logrus.FieldLogger
	secure   bool
}

func NewRouter(opts Options) http.Handler {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	h := &Handler{explorer: opts.Explorer, auth: opts.Auth, log: log, secure: opts.SecureCookies}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestID)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)

	r.Route("/api", func(api chi.Router) {
		api.Get("/config", h.handleConfig)
		api.Post("/auth/login", h.handleAPILogin)
		api.With(h.requireAuthAPI).Post("/auth/logout", h.handleAPILogout)
		api.With(h.requireAuthAPI).Get("/auth/whoami", h.handleAPIWhoAmI)

		api.Group(func(data chi.Router) {
			data.Use(h.requireAuthAPI)
			data.Get("/entities", h.handleListEntities)
			data.Get("/history/{entity_id}", h.handleHistory)
			data.Get("/attribute-history/{entity_id}", h.handleAttributeHistory)
			data.Get("/history-range/{entity_id}", h.handleHistoryRange)
			data.Get("/details/{entity_id}", h.handleDetails)
			data.Get("/export/entity/{entity_id}", h.handleExportEntity)
			data.Get("/export/attribute/{entity_id}", h.handleExportAttribute)
		})
	})

	var handler http.Handler = r
	if opts.AccessLog != nil {
		handler = handlers.CombinedLoggingHandler(opts.AccessLog, handler)
	}
	if opts.TrustProxy {
		handler = handlers.ProxyHeaders(handler)
	}
	return handler
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleLogin accepts a form post or a JSON body and answers with a redirect
// for forms and JSON otherwise.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	isJSON := strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
	var req loginRequest
	if isJSON {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}
		req.Username = r.Form.Get("username")
		req.Password = r.Form.Get("password")
	}

	status, body, token := h.login(r, req)
	if token != "" {
		h.setSessionCookie(w, token)
	}
	if !isJSON && status == http.StatusOK {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	writeJSON(w, status, body)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(sessionCookieName)
	if err == nil && c.Value != "" {
		_ = h.auth.LogoutSession(r.Context(), c.Value)
	}
	h.clearSessionCookie(w)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) handleAPILogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	status, body, token := h.login(r, req)
	if token != "" {
		h.setSessionCookie(w, token)
		body["token"] = token
	}
	writeJSON(w, status, body)
}

func (h *Handler) login(r *http.Request, req loginRequest) (int, map[string]any, string) {
	ctx := r.Context()
	enabled, err := h.auth.AuthEnabled(ctx)
	if err != nil {
		return http.StatusInternalServerError, map[string]any{"error": err.Error()}, ""
	}
	if !enabled {
		return http.StatusOK, map[string]any{"auth": "disabled"}, ""
	}

	addr := clientIP(r)
	outcome, u, token, err := h.auth.LoginWithSession(ctx, addr, req.Username, req.Password, application.SessionTTL)
	if err != nil {
		h.log.WithError(err).WithField("remote_addr", addr).Error("login failed")
		return http.StatusInternalServerError, map[string]any{"error": "login failed"}, ""
	}
	switch outcome {
	case domain.LoginBanned:
		return http.StatusForbidden, map[string]any{"error": "too many failed attempts, this address is banned"}, ""
	case domain.LoginBadCredentials:
		return http.StatusUnauthorized, map[string]any{"error": "invalid credentials"}, ""
	}
	return http.StatusOK, map[string]any{"user_id": u.ID, "username": u.Username}, token
}

func (h *Handler) handleAPILogout(w http.ResponseWriter, r *http.Request) {
	if token := bearerToken(r); token != "" {
		_ = h.auth.LogoutSession(r.Context(), token)
	}
	if c, err := r.Cookie(sessionCookieName); err == nil && c.Value != "" {
		_ = h.auth.LogoutSession(r.Context(), c.Value)
		h.clearSessionCookie(w)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleAPIWhoAmI(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"auth": "disabled"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": identity.User.ID, "username": identity.User.Username})
}

// requireAuthAPI lets every request through while no account exists.
func (h *Handler) requireAuthAPI(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		enabled, err := h.auth.AuthEnabled(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		if !enabled {
			next.ServeHTTP(w, r)
			return
		}
		identity, ok := h.authenticateRequest(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, identity)))
	})
}

func (h *Handler) authenticateRequest(r *http.Request) (domain.Identity, bool) {
	if token := bearerToken(r); token != "" {
		identity, err := h.auth.AuthenticateSession(r.Context(), token)
		if err == nil {
			return identity, true
		}
	}

	c, err := r.Cookie(sessionCookieName)
	if err == nil && strings.TrimSpace(c.Value) != "" {
		identity, authErr := h.auth.AuthenticateSession(r.Context(), c.Value)
		if authErr == nil {
			return identity, true
		}
	}

	return domain.Identity{}, false
}

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}

func identityFromContext(ctx context.Context) (domain.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(domain.Identity)
	return identity, ok
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.secure,
		MaxAge:   int(application.SessionTTL / time.Second),
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// clientIP is the host part of RemoteAddr, which ProxyHeaders has already
// rewritten when the proxy is trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	entry := h.log.WithError(err).WithFields(logrus.Fields{
		"path":       r.URL.Path,
		"request_id": requestIDFrom(r.Context()),
	})
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrMalformedInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrRemoteAuth):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrNoData):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRemoteUnavailable):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

package httphandler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/ericfisherdev/ghconnector/internal/application"
	"github.com/ericfisherdev/ghconnector/internal/domain/model"
	"github.com/ericfisherdev/ghconnector/internal/domain/port/driven"
)

// Handler is the HTTP driving adapter that serves the JSON API and the
// cluster login flow.
type Handler struct {
	users      *application.UserService
	apps       *application.AppService
	tokens     *application.ServiceAccountTokenProvisioner
	states     *application.StateCache
	identities driven.IdentityProvider
	sessions   *SessionManager
	oauth      *oauth2.Config
	webURL     string
	logger     *slog.Logger
	now        func() time.Time
}

// NewHandler creates a Handler with all required dependencies. oauth holds
// the cluster OAuth client; webURL is the GitHub web root used for App links.
func NewHandler(
	users *application.UserService,
	apps *application.AppService,
	tokens *application.ServiceAccountTokenProvisioner,
	states *application.StateCache,
	identities driven.IdentityProvider,
	sessions *SessionManager,
	oauth *oauth2.Config,
	webURL string,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		users:      users,
		apps:       apps,
		tokens:     tokens,
		states:     states,
		identities: identities,
		sessions:   sessions,
		oauth:      oauth,
		webURL:     webURL,
		logger:     logger,
		now:        time.Now,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware. The login endpoints are limited to
// authRate requests per second per client.
func NewServeMux(h *Handler, authRate float64, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	limiter := newRateLimiter(authRate, logger)

	mux.HandleFunc("GET /api/v1/health", h.Health)

	mux.Handle("GET /auth/login", limiter.limit(h.Login))
	mux.Handle("GET /auth/callback", limiter.limit(h.Callback))
	mux.Handle("POST /auth/logout", limiter.limit(h.Logout))

	mux.Handle("GET /api/v1/user", h.requireSession(h.GetUser))
	mux.Handle("POST /api/v1/user/github", h.requireSession(h.LinkGitHub))
	mux.Handle("DELETE /api/v1/user/github", h.requireSession(h.UnlinkGitHub))
	mux.Handle("PUT /api/v1/user/installation", h.requireSession(h.SetInstallation))
	mux.Handle("DELETE /api/v1/user/installation", h.requireSession(h.RemoveInstallation))
	mux.Handle("GET /api/v1/user/installation/repositories", h.requireSession(h.ListInstallationRepositories))
	mux.Handle("GET /api/v1/user/registries", h.requireSession(h.ListImageRegistries))
	mux.Handle("POST /api/v1/user/registries", h.requireSession(h.AddImageRegistry))
	mux.Handle("DELETE /api/v1/user/registries/{id}", h.requireSession(h.RemoveImageRegistry))

	mux.Handle("POST /api/v1/apps/manifest", h.requireSession(h.CreateApp))
	mux.Handle("GET /api/v1/apps", h.requireSession(h.ListApps))
	mux.Handle("GET /api/v1/apps/{id}", h.requireSession(h.GetApp))
	mux.Handle("DELETE /api/v1/apps/{id}", h.requireSession(h.DeleteApp))

	mux.Handle("POST /api/v1/serviceaccount-tokens", h.requireSession(h.ProvisionToken))
	mux.Handle("GET /api/v1/serviceaccount-tokens", h.requireSession(h.ListTokens))

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   h.now().UTC().Format(time.RFC3339),
	})
}

// Login starts the cluster OAuth flow: it ensures the browser has a session,
// issues a state token for it, and redirects to the authorization server.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Load(r)
	if err != nil {
		sess = h.sessions.New()
	}
	if err := h.sessions.Save(w, sess); err != nil {
		h.logger.Error("failed to save session", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	state := h.states.Issue(sess.ID)
	http.Redirect(w, r, h.oauth.AuthCodeURL(state), http.StatusFound)
}

// Callback completes the cluster OAuth flow and logs the user in.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Load(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing session")
		return
	}

	query := r.URL.Query()
	if !h.states.Validate(sess.ID, query.Get("state")) {
		writeError(w, http.StatusBadRequest, "invalid or expired state")
		return
	}
	code := query.Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing authorization code")
		return
	}

	token, err := h.oauth.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Warn("oauth code exchange failed", "error", err)
		writeError(w, http.StatusUnauthorized, "authorization failed")
		return
	}

	identity, err := h.identities.LookupUser(r.Context(), token.AccessToken)
	if err != nil {
		h.logger.Warn("cluster identity lookup failed", "error", err)
		writeError(w, http.StatusUnauthorized, "authorization failed")
		return
	}

	issuedAt := h.now().UTC()
	user, err := h.users.LoadOrCreate(r.Context(), identity, model.OAuthToken{
		AccessToken: token.AccessToken,
		IssuedAt:    issuedAt,
		ExpiresAt:   token.Expiry.UTC(),
	})
	if err != nil {
		writeServiceError(w, h.logger, err, "login")
		return
	}

	sess.User = toSessionUser(user)
	if err := h.sessions.Save(w, sess); err != nil {
		h.logger.Error("failed to save session", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("user logged in", "uid", user.UID, "admin", user.IsAdmin)
	http.Redirect(w, r, "/", http.StatusFound)
}

// Logout clears the session cookie.
func (h *Handler) Logout(w http.ResponseWriter, _ *http.Request) {
	h.sessions.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

// refreshSession rewrites the session cookie after a change to the user's
// session form.
func (h *Handler) refreshSession(w http.ResponseWriter, r *http.Request, u *model.User) {
	sess := sessionFrom(r.Context())
	if sess == nil {
		return
	}
	sess.User = toSessionUser(u)
	if err := h.sessions.Save(w, sess); err != nil {
		h.logger.Warn("failed to refresh session", "uid", u.UID, "error", err)
	}
}

// decodeJSON decodes the request body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

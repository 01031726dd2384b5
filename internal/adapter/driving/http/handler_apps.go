package httphandler

import (
	"net/http"
	"slices"
	"strconv"

	"k8s.io/apimachinery/pkg/util/validation"

	"github.com/ericfisherdev/ghconnector/internal/application"
	"github.com/ericfisherdev/ghconnector/internal/domain/model"
)

// CreateApp completes the GitHub App manifest flow for the logged-in user.
func (h *Handler) CreateApp(w http.ResponseWriter, r *http.Request) {
	var req CreateAppRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	app, err := h.users.CreateApp(r.Context(), userFrom(r.Context()), req.Code)
	if err != nil {
		writeServiceError(w, h.logger, err, "create app")
		return
	}

	writeJSON(w, http.StatusCreated, toAppResponse(app, h.webURL))
}

// ListApps returns every registered GitHub App.
func (h *Handler) ListApps(w http.ResponseWriter, r *http.Request) {
	apps, err := h.apps.LoadAll(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "list apps")
		return
	}

	resp := make([]AppResponse, 0, len(apps))
	for _, app := range apps {
		resp = append(resp, toAppResponse(app, h.webURL))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetApp returns a single GitHub App by ID.
func (h *Handler) GetApp(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	app, err := h.apps.Load(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "get app")
		return
	}
	if app == nil {
		writeError(w, http.StatusNotFound, "github app not found")
		return
	}

	writeJSON(w, http.StatusOK, toAppResponse(app, h.webURL))
}

// DeleteApp deletes a GitHub App owned by the logged-in user.
func (h *Handler) DeleteApp(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.users.DeleteApp(r.Context(), userFrom(r.Context()), id); err != nil {
		writeServiceError(w, h.logger, err, "delete app")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ProvisionToken returns a service-account token for a repository the
// user's installation can access.
func (h *Handler) ProvisionToken(w http.ResponseWriter, r *http.Request) {
	var req ProvisionTokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RepositoryID <= 0 {
		writeError(w, http.StatusBadRequest, "repository_id is required")
		return
	}
	if errs := validation.IsDNS1123Subdomain(req.ServiceAccount); len(errs) > 0 {
		writeError(w, http.StatusBadRequest, "invalid service_account")
		return
	}

	user := userFrom(r.Context())
	repos, err := h.users.InstallationRepositories(r.Context(), user)
	if err != nil {
		writeServiceError(w, h.logger, err, "provision token")
		return
	}
	if !slices.ContainsFunc(repos, func(repo model.Repository) bool { return repo.ID == req.RepositoryID }) {
		writeError(w, http.StatusNotFound, "repository not accessible to installation")
		return
	}

	token, err := h.tokens.Provision(r.Context(), application.TokenRequest{
		RepositoryID:       req.RepositoryID,
		ServiceAccountName: req.ServiceAccount,
		AppID:              user.Installation.AppID(),
		UserUID:            user.UID,
	})
	if err != nil {
		writeServiceError(w, h.logger, err, "provision token")
		return
	}

	writeJSON(w, http.StatusCreated, toTokenResponse(*token, true))
}

// ListTokens lists the provisioned tokens of a repository, without their values.
func (h *Handler) ListTokens(w http.ResponseWriter, r *http.Request) {
	repoID, err := strconv.ParseInt(r.URL.Query().Get("repository_id"), 10, 64)
	if err != nil || repoID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid repository_id")
		return
	}

	tokens, err := h.tokens.ListForRepository(r.Context(), repoID)
	if err != nil {
		writeServiceError(w, h.logger, err, "list tokens")
		return
	}

	resp := make([]ServiceAccountTokenResponse, 0, len(tokens))
	for _, t := range tokens {
		resp = append(resp, toTokenResponse(t, false))
	}
	writeJSON(w, http.StatusOK, resp)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid app id")
		return 0, false
	}
	return id, true
}

package httphandler

import (
	"net/http"
	"strings"

	"github.com/ericfisherdev/ghconnector/internal/domain/model"
)

// GetUser returns the logged-in user.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toUserResponse(userFrom(r.Context())))
}

// LinkGitHub links a GitHub account using an OAuth code issued for an App.
func (h *Handler) LinkGitHub(w http.ResponseWriter, r *http.Request) {
	var req LinkGitHubRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.AppID <= 0 || req.Code == "" {
		writeError(w, http.StatusBadRequest, "app_id and code are required")
		return
	}

	user, err := h.users.LinkGitHub(r.Context(), userFrom(r.Context()), req.AppID, req.Code)
	if err != nil {
		writeServiceError(w, h.logger, err, "link github")
		return
	}

	h.refreshSession(w, r, user)
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// UnlinkGitHub forgets the linked GitHub account.
func (h *Handler) UnlinkGitHub(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.UnlinkGitHub(r.Context(), userFrom(r.Context()))
	if err != nil {
		writeServiceError(w, h.logger, err, "unlink github")
		return
	}

	h.refreshSession(w, r, user)
	w.WriteHeader(http.StatusNoContent)
}

// SetInstallation records the App installation of the user.
func (h *Handler) SetInstallation(w http.ResponseWriter, r *http.Request) {
	var req SetInstallationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.AppID <= 0 || req.InstallationID <= 0 || req.Code == "" {
		writeError(w, http.StatusBadRequest, "app_id, installation_id and code are required")
		return
	}

	user, err := h.users.SetInstallation(r.Context(), userFrom(r.Context()), req.AppID, req.InstallationID, req.Code)
	if err != nil {
		writeServiceError(w, h.logger, err, "set installation")
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// RemoveInstallation clears the App installation of the user.
func (h *Handler) RemoveInstallation(w http.ResponseWriter, r *http.Request) {
	if _, err := h.users.RemoveInstallation(r.Context(), userFrom(r.Context())); err != nil {
		writeServiceError(w, h.logger, err, "remove installation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListInstallationRepositories lists the repositories the user's installation can access.
func (h *Handler) ListInstallationRepositories(w http.ResponseWriter, r *http.Request) {
	repos, err := h.users.InstallationRepositories(r.Context(), userFrom(r.Context()))
	if err != nil {
		writeServiceError(w, h.logger, err, "list installation repositories")
		return
	}

	resp := make([]RepositoryResponse, 0, len(repos))
	for _, repo := range repos {
		resp = append(resp, toRepositoryResponse(repo))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListImageRegistries returns the user's image registries.
func (h *Handler) ListImageRegistries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toImageRegistryResponses(userFrom(r.Context()).ImageRegistries))
}

// AddImageRegistry adds an image registry to the user.
func (h *Handler) AddImageRegistry(w http.ResponseWriter, r *http.Request) {
	var req AddImageRegistryRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	req.Hostname = strings.TrimSpace(req.Hostname)
	req.Namespace = strings.Trim(strings.TrimSpace(req.Namespace), "/")
	if req.Hostname == "" || req.Namespace == "" {
		writeError(w, http.StatusBadRequest, "hostname and namespace are required")
		return
	}
	if strings.ContainsAny(req.Hostname, "/ ") {
		writeError(w, http.StatusBadRequest, "invalid hostname")
		return
	}

	added, err := h.users.AddImageRegistry(r.Context(), userFrom(r.Context()), model.ImageRegistry{
		Hostname:         req.Hostname,
		Namespace:        req.Namespace,
		Username:         req.Username,
		Password:         req.Password,
		UsePlatformToken: req.UsePlatformToken,
	})
	if err != nil {
		writeServiceError(w, h.logger, err, "add image registry")
		return
	}

	writeJSON(w, http.StatusCreated, toImageRegistryResponse(added))
}

// RemoveImageRegistry removes an image registry from the user.
func (h *Handler) RemoveImageRegistry(w http.ResponseWriter, r *http.Request) {
	if err := h.users.RemoveImageRegistry(r.Context(), userFrom(r.Context()), r.PathValue("id")); err != nil {
		writeServiceError(w, h.logger, err, "remove image registry")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

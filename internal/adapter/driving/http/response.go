package httphandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ericfisherdev/ghconnector/internal/application"
	"github.com/ericfisherdev/ghconnector/internal/domain/model"
	"github.com/ericfisherdev/ghconnector/internal/domain/port/driven"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeServiceError maps an application error onto a status code. Only
// unexpected failures are logged.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error, op string) {
	switch {
	case errors.Is(err, application.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "permission denied")
	case errors.Is(err, application.ErrAppNotFound):
		writeError(w, http.StatusNotFound, "github app not found")
	case errors.Is(err, driven.ErrInstallationNotFound):
		writeError(w, http.StatusNotFound, "installation not found")
	case errors.Is(err, model.ErrRegistryNotFound):
		writeError(w, http.StatusNotFound, "image registry not found")
	case errors.Is(err, application.ErrGitHubNotLinked):
		writeError(w, http.StatusBadRequest, "no github account linked")
	case errors.Is(err, application.ErrNoInstallation):
		writeError(w, http.StatusBadRequest, "no github app installed")
	case errors.Is(err, application.ErrProvisioningTimeout):
		writeError(w, http.StatusGatewayTimeout, "service account token was not issued in time")
	default:
		logger.Error("request failed", "op", op, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// GitHubIdentityResponse is the linked GitHub account of a user.
type GitHubIdentityResponse struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Type  string `json:"type"`
}

// InstallationResponse is the JSON representation of a user's App installation.
type InstallationResponse struct {
	ID           int64  `json:"id"`
	AppID        int64  `json:"app_id"`
	AppSlug      string `json:"app_slug"`
	AccountLogin string `json:"account_login"`
	AccountType  string `json:"account_type"`
}

// ImageRegistryResponse is an image registry without its stored password.
type ImageRegistryResponse struct {
	ID               string `json:"id"`
	Hostname         string `json:"hostname"`
	Namespace        string `json:"namespace"`
	FullPath         string `json:"full_path"`
	Username         string `json:"username"`
	HasPassword      bool   `json:"has_password"`
	UsePlatformToken bool   `json:"use_platform_token"`
}

// UserResponse is the JSON representation of the logged-in user.
type UserResponse struct {
	UID             string                  `json:"uid"`
	Name            string                  `json:"name"`
	IsAdmin         bool                    `json:"is_admin"`
	GitHub          *GitHubIdentityResponse `json:"github"`
	Installation    *InstallationResponse   `json:"installation"`
	OwnsAppID       int64                   `json:"owns_app_id,omitempty"`
	ImageRegistries []ImageRegistryResponse `json:"image_registries"`
}

// AppResponse is a GitHub App without its credentials.
type AppResponse struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Slug       string `json:"slug"`
	OwnerLogin string `json:"owner_login"`
	HTMLURL    string `json:"html_url"`
	InstallURL string `json:"install_url"`
	CreatedAt  string `json:"created_at"`
}

// RepositoryResponse is a repository visible to an installation.
type RepositoryResponse struct {
	ID            int64  `json:"id"`
	FullName      string `json:"full_name"`
	Private       bool   `json:"private"`
	DefaultBranch string `json:"default_branch"`
}

// ServiceAccountTokenResponse describes a provisioned token. Token is only
// set in the response that provisions it.
type ServiceAccountTokenResponse struct {
	SecretName     string `json:"secret_name"`
	ServiceAccount string `json:"service_account"`
	Namespace      string `json:"namespace"`
	RepositoryID   int64  `json:"repository_id"`
	Token          string `json:"token,omitempty"`
}

// LinkGitHubRequest is the JSON body for linking a GitHub account.
type LinkGitHubRequest struct {
	AppID int64  `json:"app_id"`
	Code  string `json:"code"`
}

// SetInstallationRequest is the JSON body for recording an App installation.
type SetInstallationRequest struct {
	AppID          int64  `json:"app_id"`
	InstallationID int64  `json:"installation_id"`
	Code           string `json:"code"`
}

// AddImageRegistryRequest is the JSON body for adding an image registry.
type AddImageRegistryRequest struct {
	Hostname         string `json:"hostname"`
	Namespace        string `json:"namespace"`
	Username         string `json:"username"`
	Password         string `json:"password"`
	UsePlatformToken bool   `json:"use_platform_token"`
}

// CreateAppRequest is the JSON body carrying a manifest-flow code.
type CreateAppRequest struct {
	Code string `json:"code"`
}

// ProvisionTokenRequest is the JSON body for provisioning a service-account token.
type ProvisionTokenRequest struct {
	RepositoryID   int64  `json:"repository_id"`
	ServiceAccount string `json:"service_account"`
}

func toUserResponse(u *model.User) UserResponse {
	resp := UserResponse{
		UID:             u.UID,
		Name:            u.Name,
		IsAdmin:         u.IsAdmin,
		OwnsAppID:       u.OwnsAppID,
		ImageRegistries: toImageRegistryResponses(u.ImageRegistries),
	}
	if u.GitHub != nil {
		resp.GitHub = &GitHubIdentityResponse{ID: u.GitHub.ID, Login: u.GitHub.Login, Type: u.GitHub.Type}
	}
	if inst := u.Installation; inst != nil && inst.App != nil {
		resp.Installation = &InstallationResponse{
			ID:           inst.ID,
			AppID:        inst.App.ID,
			AppSlug:      inst.App.Slug,
			AccountLogin: inst.Account.Login,
			AccountType:  inst.Account.Type,
		}
	}
	return resp
}

func toImageRegistryResponse(r model.ImageRegistry) ImageRegistryResponse {
	return ImageRegistryResponse{
		ID:               r.ID,
		Hostname:         r.Hostname,
		Namespace:        r.Namespace,
		FullPath:         r.FullPath(),
		Username:         r.Username,
		HasPassword:      r.Password != "",
		UsePlatformToken: r.UsePlatformToken,
	}
}

func toImageRegistryResponses(list model.ImageRegistryList) []ImageRegistryResponse {
	resp := make([]ImageRegistryResponse, 0, len(list))
	for _, r := range list {
		resp = append(resp, toImageRegistryResponse(r))
	}
	return resp
}

func toAppResponse(app *model.GitHubApp, webURL string) AppResponse {
	return AppResponse{
		ID:         app.ID,
		Name:       app.Name,
		Slug:       app.Slug,
		OwnerLogin: app.OwnerLogin,
		HTMLURL:    app.HTMLURL(webURL),
		InstallURL: app.InstallURL(webURL),
		CreatedAt:  app.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toRepositoryResponse(r model.Repository) RepositoryResponse {
	return RepositoryResponse{
		ID:            r.ID,
		FullName:      r.FullName,
		Private:       r.Private,
		DefaultBranch: r.DefaultBranch,
	}
}

func toTokenResponse(t model.ServiceAccountToken, withToken bool) ServiceAccountTokenResponse {
	resp := ServiceAccountTokenResponse{
		SecretName:     t.SecretName,
		ServiceAccount: t.ServiceAccountName,
		Namespace:      t.Namespace,
		RepositoryID:   t.RepositoryID,
	}
	if withToken {
		resp.Token = t.Token
	}
	return resp
}

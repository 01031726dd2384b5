// Package github implements the GitHubClient port using the go-github library.
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"
	"golang.org/x/oauth2"
	oauth2github "golang.org/x/oauth2/github"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"

	"github.com/ericfisherdev/ghconnector/internal/domain/model"
	"github.com/ericfisherdev/ghconnector/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.GitHubClient = (*Client)(nil)

const defaultAPIURL = "https://api.github.com/"

// Client implements the driven.GitHubClient port. It holds no credentials of
// its own: each call authenticates as the App, the installation, or the user
// it acts for.
type Client struct {
	httpClient  *http.Client // Shared transport stack; wrapped per call with App or installation auth.
	oauthClient *http.Client // Used only for OAuth code exchange, never cached.
	baseURL     *url.URL
	webURL      string
}

// NewClient creates a GitHub API client with the following transport stack:
//  1. httpcache (ETag-based conditional request caching)
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  3. per-call auth: ghinstallation App/installation transports or a user token
//
// apiURL and webURL may be empty for github.com.
func NewClient(apiURL, webURL string) (*Client, error) {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)

	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	return NewClientWithHTTPClient(rateLimitClient, http.DefaultClient, apiURL, webURL)
}

// NewClientWithHTTPClient creates a Client with custom http.Clients and URLs.
// This constructor is intended for testing, allowing injection of an httptest server.
func NewClientWithHTTPClient(httpClient, oauthClient *http.Client, apiURL, webURL string) (*Client, error) {
	if !strings.HasSuffix(apiURL, "/") {
		apiURL += "/"
	}
	u, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if webURL == "" {
		webURL = model.DefaultGitHubWebURL
	}

	return &Client{
		httpClient:  httpClient,
		oauthClient: oauthClient,
		baseURL:     u,
		webURL:      strings.TrimSuffix(webURL, "/"),
	}, nil
}

// WebURL returns the GitHub web root used for App pages and OAuth.
func (c *Client) WebURL() string {
	return c.webURL
}

// CompleteAppManifest converts a manifest-flow code into the App GitHub created.
func (c *Client) CompleteAppManifest(ctx context.Context, code string) (*model.GitHubApp, error) {
	cfg, resp, err := c.rest(c.httpClient).Apps.CompleteAppManifest(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("completing app manifest: %w", err)
	}

	logRateLimit(resp, "app-manifests/conversions")

	return mapAppConfig(cfg), nil
}

// ExchangeUserCode trades a GitHub OAuth code, issued for app's client ID,
// for a user access token.
func (c *Client) ExchangeUserCode(ctx context.Context, app *model.GitHubApp, code string) (string, error) {
	conf := &oauth2.Config{
		ClientID:     app.ClientID,
		ClientSecret: app.ClientSecret,
		Endpoint:     c.oauthEndpoint(),
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.oauthClient)
	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("exchanging github oauth code for app %d: %w", app.ID, err)
	}
	return tok.AccessToken, nil
}

// GetUser returns the identity of the GitHub user owning userToken.
func (c *Client) GetUser(ctx context.Context, userToken string) (*model.GitHubIdentity, error) {
	user, resp, err := c.rest(c.httpClient).WithAuthToken(userToken).Users.Get(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("fetching authenticated github user: %w", err)
	}

	logRateLimit(resp, "user")

	return &model.GitHubIdentity{
		ID:    user.GetID(),
		Login: user.GetLogin(),
		Type:  user.GetType(),
	}, nil
}

// GetInstallation authenticates as app (JWT) and fetches one installation.
func (c *Client) GetInstallation(ctx context.Context, app *model.GitHubApp, installationID int64) (*model.InstallationAccount, error) {
	atr, err := ghinstallation.NewAppsTransport(c.transport(), app.ID, []byte(app.PrivateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("creating app transport for app %d: %w", app.ID, err)
	}
	atr.BaseURL = c.apiRoot()

	inst, resp, err := c.rest(&http.Client{Transport: atr}).Apps.GetInstallation(ctx, installationID)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("installation %d of app %d: %w", installationID, app.ID, driven.ErrInstallationNotFound)
		}
		return nil, fmt.Errorf("fetching installation %d of app %d: %w", installationID, app.ID, err)
	}

	logRateLimit(resp, "app/installations")

	account := inst.GetAccount()
	return &model.InstallationAccount{
		ID:    account.GetID(),
		Login: account.GetLogin(),
		Type:  account.GetType(),
	}, nil
}

// ListUserInstallations lists the installations the user owning userToken
// can reach, across all pages.
func (c *Client) ListUserInstallations(ctx context.Context, userToken string) ([]model.AccessibleInstallation, error) {
	client := c.rest(c.httpClient).WithAuthToken(userToken)
	opts := &gh.ListOptions{PerPage: 100}
	var out []model.AccessibleInstallation

	for {
		list, resp, err := client.Apps.ListUserInstallations(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("listing installations of github user (page %d): %w", opts.Page, err)
		}

		logRateLimit(resp, "user/installations")

		for _, inst := range list {
			account := inst.GetAccount()
			out = append(out, model.AccessibleInstallation{
				ID:    inst.GetID(),
				AppID: inst.GetAppID(),
				Account: model.InstallationAccount{
					ID:    account.GetID(),
					Login: account.GetLogin(),
					Type:  account.GetType(),
				},
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return out, nil
}

// ListInstallationRepositories lists every repository the installation can
// access. It handles pagination automatically.
func (c *Client) ListInstallationRepositories(ctx context.Context, app *model.GitHubApp, installationID int64) ([]model.Repository, error) {
	itr, err := ghinstallation.New(c.transport(), app.ID, installationID, []byte(app.PrivateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("creating installation transport for %d: %w", installationID, err)
	}
	itr.BaseURL = c.apiRoot()

	client := c.rest(&http.Client{Transport: itr})
	opts := &gh.ListOptions{PerPage: 100}
	repos := []model.Repository{}

	for {
		list, resp, err := client.Apps.ListRepos(ctx, opts)
		if err != nil {
			var transportErr *ghinstallation.HTTPError
			if errors.As(err, &transportErr) && transportErr.Response != nil &&
				transportErr.Response.StatusCode == http.StatusNotFound {
				return nil, fmt.Errorf("installation %d: %w", installationID, driven.ErrInstallationNotFound)
			}
			return nil, fmt.Errorf("listing repositories of installation %d (page %d): %w", installationID, opts.Page, err)
		}

		logRateLimit(resp, "installation/repositories")

		for _, r := range list.Repositories {
			repos = append(repos, mapRepository(r))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return repos, nil
}

// rest builds a go-github client over hc, pointed at the configured API root.
func (c *Client) rest(hc *http.Client) *gh.Client {
	client := gh.NewClient(hc)
	base := *c.baseURL
	client.BaseURL = &base
	return client
}

// transport is the round tripper App and installation auth wrap.
func (c *Client) transport() http.RoundTripper {
	if c.httpClient.Transport == nil {
		return http.DefaultTransport
	}
	return c.httpClient.Transport
}

func (c *Client) apiRoot() string {
	return strings.TrimSuffix(c.baseURL.String(), "/")
}

func (c *Client) oauthEndpoint() oauth2.Endpoint {
	if c.webURL == model.DefaultGitHubWebURL {
		return oauth2github.Endpoint
	}
	return oauth2.Endpoint{
		AuthURL:  c.webURL + "/login/oauth/authorize",
		TokenURL: c.webURL + "/login/oauth/access_token",
	}
}

func mapAppConfig(cfg *gh.AppConfig) *model.GitHubApp {
	owner := cfg.GetOwner()
	return &model.GitHubApp{
		ID:            cfg.GetID(),
		Name:          cfg.GetName(),
		Slug:          cfg.GetSlug(),
		OwnerID:       owner.GetID(),
		OwnerLogin:    owner.GetLogin(),
		ClientID:      cfg.GetClientID(),
		ClientSecret:  cfg.GetClientSecret(),
		PrivateKeyPEM: cfg.GetPEM(),
		WebhookSecret: cfg.GetWebhookSecret(),
		CreatedAt:     cfg.GetCreatedAt().Time.UTC(),
	}
}

func mapRepository(r *gh.Repository) model.Repository {
	return model.Repository{
		ID:            r.GetID(),
		FullName:      r.GetFullName(),
		Owner:         r.GetOwner().GetLogin(),
		Name:          r.GetName(),
		Private:       r.GetPrivate(),
		DefaultBranch: r.GetDefaultBranch(),
	}
}

func logRateLimit(resp *gh.Response, endpoint string) {
	if resp == nil {
		return
	}

	slog.Debug("github api call",
		"endpoint", endpoint,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Limit > 0 && resp.Rate.Remaining < 100 {
		slog.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}

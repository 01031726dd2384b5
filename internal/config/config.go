// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// MinSessionSecretLength is the shortest accepted GHCONNECTOR_SESSION_SECRET.
const MinSessionSecretLength = 32

// DefaultListenAddr is used when GHCONNECTOR_LISTEN_ADDR is unset.
const DefaultListenAddr = "127.0.0.1:8080"

// namespaceFile is where the pod's own namespace is mounted in-cluster.
var namespaceFile = "/var/run/secrets/kubernetes.io/serviceaccount/namespace"

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr   string
	Namespace    string
	Kubeconfig   string // Empty means in-cluster configuration.
	SecretPrefix string

	SessionSecret []byte
	SecureCookies bool
	AuthRateLimit float64

	OAuthClientID     string
	OAuthClientSecret string
	OAuthAuthorizeURL string
	OAuthTokenURL     string
	OAuthRedirectURL  string

	GitHubAPIURL string // Empty means api.github.com.
	GitHubWebURL string

	AdminGroup string
}

// Load reads configuration from environment variables and returns a validated Config.
// Required: GHCONNECTOR_SESSION_SECRET (at least 32 bytes) and the cluster OAuth
// client GHCONNECTOR_OAUTH_{CLIENT_ID,CLIENT_SECRET,AUTHORIZE_URL,TOKEN_URL,REDIRECT_URL}.
// Optional variables with defaults: GHCONNECTOR_LISTEN_ADDR (127.0.0.1:8080),
// GHCONNECTOR_NAMESPACE (the pod namespace, else "default"), GHCONNECTOR_SECRET_PREFIX
// (ghconnector), GHCONNECTOR_ADMIN_GROUP (cluster-admins), GHCONNECTOR_SECURE_COOKIES
// (true), GHCONNECTOR_RATE_LIMIT (5), GHCONNECTOR_GITHUB_WEB_URL (https://github.com).
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:    ListenAddr(),
		Namespace:     envOr("GHCONNECTOR_NAMESPACE", podNamespace()),
		Kubeconfig:    os.Getenv("GHCONNECTOR_KUBECONFIG"),
		SecretPrefix:  envOr("GHCONNECTOR_SECRET_PREFIX", "ghconnector"),
		SecureCookies: true,
		AuthRateLimit: 5,
		GitHubAPIURL:  os.Getenv("GHCONNECTOR_GITHUB_API_URL"),
		GitHubWebURL:  envOr("GHCONNECTOR_GITHUB_WEB_URL", "https://github.com"),
		AdminGroup:    envOr("GHCONNECTOR_ADMIN_GROUP", "cluster-admins"),
	}

	secret := os.Getenv("GHCONNECTOR_SESSION_SECRET")
	if len(secret) < MinSessionSecretLength {
		return nil, fmt.Errorf("GHCONNECTOR_SESSION_SECRET must be at least %d bytes, got %d", MinSessionSecretLength, len(secret))
	}
	cfg.SessionSecret = []byte(secret)

	if v, ok := os.LookupEnv("GHCONNECTOR_SECURE_COOKIES"); ok {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("GHCONNECTOR_SECURE_COOKIES has invalid boolean %q: %w", v, err)
		}
		cfg.SecureCookies = parsed
	}

	if v, ok := os.LookupEnv("GHCONNECTOR_RATE_LIMIT"); ok {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("GHCONNECTOR_RATE_LIMIT has invalid number %q: %w", v, err)
		}
		if parsed <= 0 {
			return nil, fmt.Errorf("GHCONNECTOR_RATE_LIMIT must be positive, got %q", v)
		}
		cfg.AuthRateLimit = parsed
	}

	var err error
	if cfg.OAuthClientID, err = required("GHCONNECTOR_OAUTH_CLIENT_ID"); err != nil {
		return nil, err
	}
	if cfg.OAuthClientSecret, err = required("GHCONNECTOR_OAUTH_CLIENT_SECRET"); err != nil {
		return nil, err
	}
	if cfg.OAuthAuthorizeURL, err = requiredURL("GHCONNECTOR_OAUTH_AUTHORIZE_URL"); err != nil {
		return nil, err
	}
	if cfg.OAuthTokenURL, err = requiredURL("GHCONNECTOR_OAUTH_TOKEN_URL"); err != nil {
		return nil, err
	}
	if cfg.OAuthRedirectURL, err = requiredURL("GHCONNECTOR_OAUTH_REDIRECT_URL"); err != nil {
		return nil, err
	}

	if cfg.GitHubAPIURL != "" {
		if err := validateURL("GHCONNECTOR_GITHUB_API_URL", cfg.GitHubAPIURL); err != nil {
			return nil, err
		}
	}
	if err := validateURL("GHCONNECTOR_GITHUB_WEB_URL", cfg.GitHubWebURL); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ListenAddr returns the configured listen address on its own, without
// requiring the rest of the configuration to be present.
func ListenAddr() string {
	return envOr("GHCONNECTOR_LISTEN_ADDR", DefaultListenAddr)
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func required(key string) (string, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

func requiredURL(key string) (string, error) {
	v, err := required(key)
	if err != nil {
		return "", err
	}
	return v, validateURL(key, v)
}

func validateURL(key, v string) error {
	u, err := url.Parse(v)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s has invalid URL %q", key, v)
	}
	return nil
}

// podNamespace returns the namespace of the running pod, or "default"
// outside a cluster.
func podNamespace() string {
	data, err := os.ReadFile(namespaceFile)
	if err != nil {
		return "default"
	}
	if ns := strings.TrimSpace(string(data)); ns != "" {
		return ns
	}
	return "default"
}

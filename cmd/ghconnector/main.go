package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/oauth2"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	githubadapter "github.com/ericfisherdev/ghconnector/internal/adapter/driven/github"
	"github.com/ericfisherdev/ghconnector/internal/adapter/driven/kube"
	httphandler "github.com/ericfisherdev/ghconnector/internal/adapter/driving/http"
	"github.com/ericfisherdev/ghconnector/internal/application"
	"github.com/ericfisherdev/ghconnector/internal/config"
	"github.com/ericfisherdev/ghconnector/internal/domain/model"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on missing required env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"namespace", cfg.Namespace,
		"secret_prefix", cfg.SecretPrefix,
		"admin_group", cfg.AdminGroup,
		"in_cluster", cfg.Kubeconfig == "",
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Connect to the cluster.
	restConfig, err := kube.NewConfig(cfg.Kubeconfig)
	if err != nil {
		return err
	}
	clientset, err := kube.NewClientset(restConfig)
	if err != nil {
		return err
	}

	// 4. Wire adapters.
	store := kube.NewSecretStore(clientset, cfg.Namespace, slog.Default())
	identities := kube.NewIdentityResolver(restConfig, slog.Default())

	ghClient, err := githubadapter.NewClient(cfg.GitHubAPIURL, cfg.GitHubWebURL)
	if err != nil {
		return err
	}

	// 5. Create application services. The caches live for the process.
	names := application.NewSecretNamer(cfg.SecretPrefix)
	apps := application.NewAppService(store, ghClient,
		application.NewEntityCache[int64, *model.GitHubApp](), names, slog.Default())
	users := application.NewUserService(store, ghClient, apps,
		application.NewEntityCache[string, *model.User](), names, cfg.AdminGroup, slog.Default())
	tokens := application.NewServiceAccountTokenProvisioner(store, names, application.TokenPollInterval, slog.Default())

	// 6. Create the session layer and the cluster OAuth client.
	sessions, err := httphandler.NewSessionManager(cfg.SessionSecret, httphandler.DefaultSessionTTL, cfg.SecureCookies)
	if err != nil {
		return err
	}
	oauthConfig := &oauth2.Config{
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  cfg.OAuthAuthorizeURL,
			TokenURL: cfg.OAuthTokenURL,
		},
		RedirectURL: cfg.OAuthRedirectURL,
		Scopes:      []string{"user:info", "user:check-access"},
	}

	// 7. Create HTTP handler.
	apiHandler := httphandler.NewHandler(users, apps, tokens, application.NewStateCache(),
		identities, sessions, oauthConfig, ghClient.WebURL(), slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandler.NewServeMux(apiHandler, cfg.AuthRateLimit, slog.Default()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			stop()
		}
	}()

	slog.Info("ghconnector started", "listen_addr", cfg.ListenAddr, "namespace", store.Namespace())

	// 8. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	// 9. Graceful shutdown with 10s timeout for in-flight requests.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

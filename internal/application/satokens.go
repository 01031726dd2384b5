package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ericfisherdev/ghconnector/internal/domain/model"
	"github.com/ericfisherdev/ghconnector/internal/domain/port/driven"
)

const (
	// TokenPollInterval is the wait between two checks of a new token Secret.
	TokenPollInterval = 500 * time.Millisecond

	// TokenPollAttempts bounds how often a new token Secret is checked.
	TokenPollAttempts = 10

	serviceAccountTokenType      = "kubernetes.io/service-account-token"
	serviceAccountNameAnnotation = "kubernetes.io/service-account.name"
	tokenKey                     = "token"
	namespaceKey                 = "namespace"
)

var errTokenPending = errors.New("token not populated yet")

// TokenRequest names the service account a token is wanted for and the
// repository and actors it is provisioned on behalf of.
type TokenRequest struct {
	RepositoryID       int64
	ServiceAccountName string
	AppID              int64
	UserUID            string
}

// ServiceAccountTokenProvisioner obtains service-account bearer tokens,
// one per repository, from Secrets the cluster populates asynchronously.
type ServiceAccountTokenProvisioner struct {
	store        driven.SecretStore
	names        SecretNamer
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewServiceAccountTokenProvisioner creates a provisioner that checks new
// Secrets every pollInterval, at most TokenPollAttempts times.
func NewServiceAccountTokenProvisioner(store driven.SecretStore, names SecretNamer, pollInterval time.Duration, logger *slog.Logger) *ServiceAccountTokenProvisioner {
	if pollInterval <= 0 {
		pollInterval = TokenPollInterval
	}
	return &ServiceAccountTokenProvisioner{
		store:        store,
		names:        names,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Provision returns the token for req.RepositoryID, reusing an existing
// populated Secret for that repository or creating a new one and waiting
// for the cluster to fill it in.
func (p *ServiceAccountTokenProvisioner) Provision(ctx context.Context, req TokenRequest) (*model.ServiceAccountToken, error) {
	name := p.names.SAToken(req.RepositoryID)
	repoLabel := strconv.FormatInt(req.RepositoryID, 10)

	existing, err := p.store.Load(ctx, name)
	if err != nil && !errors.Is(err, driven.ErrCorruptSecret) {
		return nil, fmt.Errorf("loading token secret %q: %w", name, err)
	}
	if existing != nil && existing.Labels[LabelRepositoryID] == repoLabel && existing.Data[tokenKey] != "" {
		p.logger.Debug("reusing service account token", "name", name, "repository_id", req.RepositoryID)
		return toServiceAccountToken(existing)
	}

	labels := map[string]string{
		LabelSubtype:      SubtypeSAToken,
		LabelRepositoryID: repoLabel,
	}
	if req.AppID != 0 {
		labels[LabelCreatedByApp] = strconv.FormatInt(req.AppID, 10)
	}
	if req.UserUID != "" {
		labels[LabelCreatedByUser] = req.UserUID
	}

	err = p.store.Create(ctx, name, nil, driven.CreateOptions{
		Type:        serviceAccountTokenType,
		Labels:      labels,
		Annotations: map[string]string{serviceAccountNameAnnotation: req.ServiceAccountName},
	})
	if err != nil {
		return nil, fmt.Errorf("creating token secret %q: %w", name, err)
	}

	secret, err := p.waitForToken(ctx, name)
	if err != nil {
		return nil, err
	}

	p.logger.Info("service account token provisioned",
		"name", name,
		"service_account", req.ServiceAccountName,
		"repository_id", req.RepositoryID,
	)
	return toServiceAccountToken(secret)
}

// waitForToken reloads the Secret until its token field is set, up to
// TokenPollAttempts times spaced pollInterval apart.
func (p *ServiceAccountTokenProvisioner) waitForToken(ctx context.Context, name string) (*model.Secret, error) {
	var (
		attempts  int
		populated *model.Secret
	)

	check := func() error {
		attempts++
		secret, err := p.store.Load(ctx, name)
		if errors.Is(err, driven.ErrCorruptSecret) {
			return errTokenPending
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		if secret == nil || secret.Data[tokenKey] == "" {
			return errTokenPending
		}
		populated = secret
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.pollInterval), TokenPollAttempts-1),
		ctx,
	)

	err := backoff.Retry(check, policy)
	switch {
	case err == nil:
		return populated, nil
	case errors.Is(err, errTokenPending):
		return nil, fmt.Errorf("secret %q after %d attempts: %w", name, attempts, ErrProvisioningTimeout)
	default:
		return nil, fmt.Errorf("waiting for token secret %q: %w", name, err)
	}
}

// ListForRepository returns the populated token Secrets provisioned for a repository.
func (p *ServiceAccountTokenProvisioner) ListForRepository(ctx context.Context, repositoryID int64) ([]model.ServiceAccountToken, error) {
	secrets, err := p.store.List(ctx, map[string]string{
		LabelSubtype:      SubtypeSAToken,
		LabelRepositoryID: strconv.FormatInt(repositoryID, 10),
	})
	if err != nil {
		return nil, fmt.Errorf("listing token secrets of repository %d: %w", repositoryID, err)
	}

	tokens := make([]model.ServiceAccountToken, 0, len(secrets))
	for i := range secrets {
		token, err := toServiceAccountToken(&secrets[i])
		if err != nil {
			p.logger.Debug("skipping unusable token secret", "name", secrets[i].Name, "error", err)
			continue
		}
		tokens = append(tokens, *token)
	}
	return tokens, nil
}

func toServiceAccountToken(s *model.Secret) (*model.ServiceAccountToken, error) {
	var missing string
	switch {
	case s.Name == "":
		missing = "name"
	case s.Data[tokenKey] == "":
		missing = tokenKey
	case s.Data[namespaceKey] == "":
		missing = namespaceKey
	case s.Annotations[serviceAccountNameAnnotation] == "":
		missing = serviceAccountNameAnnotation
	}
	if missing != "" {
		return nil, fmt.Errorf("secret %q has no %s: %w", s.Name, missing, ErrMalformedSecret)
	}

	repoID, _ := strconv.ParseInt(s.Labels[LabelRepositoryID], 10, 64)
	appID, _ := strconv.ParseInt(s.Labels[LabelCreatedByApp], 10, 64)

	return &model.ServiceAccountToken{
		SecretName:         s.Name,
		ServiceAccountName: s.Annotations[serviceAccountNameAnnotation],
		Namespace:          s.Data[namespaceKey],
		Token:              s.Data[tokenKey],
		RepositoryID:       repoID,
		CreatedByAppID:     appID,
		CreatedByUserUID:   s.Labels[LabelCreatedByUser],
	}, nil
}

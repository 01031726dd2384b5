package kube

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"

	"github.com/ericfisherdev/ghconnector/internal/domain/model"
	"github.com/ericfisherdev/ghconnector/internal/domain/port/driven"
)

// ErrInvalidToken is returned when the cluster rejects the bearer token.
var ErrInvalidToken = errors.New("cluster rejected access token")

// Compile-time interface satisfaction check.
var _ driven.IdentityProvider = (*IdentityResolver)(nil)

var usersGVR = schema.GroupVersionResource{Group: "user.openshift.io", Version: "v1", Resource: "users"}

// DynamicClientFunc builds a dynamic client that authenticates with token.
type DynamicClientFunc func(token string) (dynamic.Interface, error)

// IdentityResolver looks up the OpenShift user behind an OAuth access token
// by reading users/~ with that token.
type IdentityResolver struct {
	newClient DynamicClientFunc
	logger    *slog.Logger
}

// NewIdentityResolver creates a resolver that talks to the API server in base,
// discarding base's own credentials in favour of each user's token.
func NewIdentityResolver(base *rest.Config, logger *slog.Logger) *IdentityResolver {
	return NewIdentityResolverWithClientFunc(func(token string) (dynamic.Interface, error) {
		cfg := rest.AnonymousClientConfig(base)
		cfg.BearerToken = token
		return dynamic.NewForConfig(cfg)
	}, logger)
}

// NewIdentityResolverWithClientFunc creates a resolver with a custom client
// factory. Intended for tests.
func NewIdentityResolverWithClientFunc(fn DynamicClientFunc, logger *slog.Logger) *IdentityResolver {
	return &IdentityResolver{newClient: fn, logger: logger}
}

// LookupUser returns the UID, name and groups of the user owning accessToken.
func (r *IdentityResolver) LookupUser(ctx context.Context, accessToken string) (*model.ClusterIdentity, error) {
	client, err := r.newClient(accessToken)
	if err != nil {
		return nil, fmt.Errorf("create user client: %w", err)
	}

	obj, err := client.Resource(usersGVR).Get(ctx, "~", metav1.GetOptions{})
	if apierrors.IsUnauthorized(err) || apierrors.IsForbidden(err) {
		return nil, fmt.Errorf("get users/~: %w", ErrInvalidToken)
	}
	if err != nil {
		return nil, fmt.Errorf("get users/~: %w", err)
	}

	uid := string(obj.GetUID())
	if uid == "" {
		return nil, fmt.Errorf("users/~ for %q has no uid", obj.GetName())
	}

	groups, _, err := unstructured.NestedStringSlice(obj.Object, "groups")
	if err != nil {
		r.logger.Warn("ignoring malformed user groups", "user", obj.GetName(), "error", err)
		groups = nil
	}

	return &model.ClusterIdentity{
		UID:    uid,
		Name:   obj.GetName(),
		Groups: groups,
	}, nil
}

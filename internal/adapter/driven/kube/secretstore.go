package kube

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
	corev1client "k8s.io/client-go/kubernetes/typed/core/v1"

	"github.com/ericfisherdev/ghconnector/internal/domain/model"
	"github.com/ericfisherdev/ghconnector/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SecretStore = (*SecretStore)(nil)

// SecretStore is the Kubernetes implementation of the SecretStore port. All
// Secrets live in a single namespace.
type SecretStore struct {
	client    kubernetes.Interface
	namespace string
	logger    *slog.Logger
	now       func() time.Time
}

// NewSecretStore creates a SecretStore operating in namespace.
func NewSecretStore(client kubernetes.Interface, namespace string, logger *slog.Logger) *SecretStore {
	return &SecretStore{
		client:    client,
		namespace: namespace,
		logger:    logger,
		now:       time.Now,
	}
}

// Namespace returns the namespace the store writes to.
func (s *SecretStore) Namespace() string {
	return s.namespace
}

func (s *SecretStore) secrets() corev1client.SecretInterface {
	return s.client.CoreV1().Secrets(s.namespace)
}

// Create deletes any Secret named name, then creates a fresh one. A failure
// between the two calls leaves the Secret absent.
func (s *SecretStore) Create(ctx context.Context, name string, data map[string]string, opts driven.CreateOptions) error {
	if _, err := s.Delete(ctx, name); err != nil {
		return err
	}

	now := s.now().UTC().Format(time.RFC3339)
	annotations := maps.Clone(opts.Annotations)
	if annotations == nil {
		annotations = make(map[string]string, 2)
	}
	annotations[AnnotationCreatedAt] = now
	annotations[AnnotationUpdatedAt] = now

	secretType := corev1.SecretTypeOpaque
	if opts.Type != "" {
		secretType = corev1.SecretType(opts.Type)
	}

	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:        name,
			Namespace:   s.namespace,
			Labels:      sanitizeLabels(s.logger, name, opts.Labels),
			Annotations: annotations,
		},
		Type: secretType,
		Data: encodeData(data),
	}

	if _, err := s.secrets().Create(ctx, secret, metav1.CreateOptions{}); err != nil {
		return &driven.StoreError{Op: "create", Name: name, Err: err}
	}

	s.logger.Debug("secret created", "name", name, "type", secretType, "keys", len(data))
	return nil
}

// Patch merges data into the Secret and bumps the updated annotation.
func (s *SecretStore) Patch(ctx context.Context, name string, data map[string]string) error {
	patch := map[string]any{
		"metadata": map[string]any{
			"annotations": map[string]string{
				AnnotationUpdatedAt: s.now().UTC().Format(time.RFC3339),
			},
		},
	}
	// A null "data" in a merge patch would clear every key.
	if len(data) > 0 {
		patch["data"] = encodeData(data)
	}
	body, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshal patch for %q: %w", name, err)
	}

	_, err = s.secrets().Patch(ctx, name, types.MergePatchType, body, metav1.PatchOptions{})
	if apierrors.IsNotFound(err) {
		return fmt.Errorf("patch %q: %w", name, driven.ErrSecretNotFound)
	}
	if err != nil {
		return &driven.StoreError{Op: "patch", Name: name, Err: err}
	}

	s.logger.Debug("secret patched", "name", name, "keys", len(data))
	return nil
}

// Load returns the named Secret, or (nil, nil) if it does not exist.
func (s *SecretStore) Load(ctx context.Context, name string) (*model.Secret, error) {
	secret, err := s.secrets().Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, &driven.StoreError{Op: "get", Name: name, Err: err}
	}

	if len(secret.Data) == 0 {
		// Token Secrets stay empty until the token controller fills them.
		s.logger.Debug("secret has no data", "name", name)
		return nil, fmt.Errorf("load %q: %w", name, driven.ErrCorruptSecret)
	}

	out := toModel(secret)
	return &out, nil
}

// Delete removes the named Secret. Absence is not an error.
func (s *SecretStore) Delete(ctx context.Context, name string) (bool, error) {
	err := s.secrets().Delete(ctx, name, metav1.DeleteOptions{})
	if apierrors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, &driven.StoreError{Op: "delete", Name: name, Err: err}
	}

	s.logger.Debug("secret deleted", "name", name)
	return true, nil
}

// List returns every Secret in the namespace whose labels match selector.
func (s *SecretStore) List(ctx context.Context, selector map[string]string) ([]model.Secret, error) {
	sel := labels.SelectorFromSet(labels.Set(selector)).String()

	list, err := s.secrets().List(ctx, metav1.ListOptions{LabelSelector: sel})
	if err != nil {
		return nil, &driven.StoreError{Op: "list", Name: sel, Err: err}
	}

	out := make([]model.Secret, 0, len(list.Items))
	for i := range list.Items {
		out = append(out, toModel(&list.Items[i]))
	}
	return out, nil
}

package kube

import (
	"log/slog"
	"maps"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/util/validation"

	"github.com/ericfisherdev/ghconnector/internal/domain/model"
)

// Bookkeeping metadata attached to every Secret the store writes.
const (
	LabelManagedBy      = "app.kubernetes.io/managed-by"
	ManagedByValue      = "ghconnector"
	AnnotationCreatedAt = "ghconnector.io/created-at"
	AnnotationUpdatedAt = "ghconnector.io/updated-at"
)

// encodeData converts string values to the byte form carried in Secret.Data.
// client-go base64-encodes these on the wire.
func encodeData(data map[string]string) map[string][]byte {
	if len(data) == 0 {
		return nil
	}
	out := make(map[string][]byte, len(data))
	for k, v := range data {
		out[k] = []byte(v)
	}
	return out
}

func decodeData(data map[string][]byte) map[string]string {
	out := make(map[string]string, len(data))
	for k, v := range data {
		out[k] = string(v)
	}
	return out
}

// sanitizeLabels returns a copy of labels holding only valid keys and values,
// plus the managed-by label. Invalid entries are dropped with a warning.
func sanitizeLabels(logger *slog.Logger, secretName string, labels map[string]string) map[string]string {
	out := map[string]string{LabelManagedBy: ManagedByValue}
	for k, v := range labels {
		if errs := validation.IsQualifiedName(k); len(errs) > 0 {
			logger.Warn("dropping invalid label key", "secret", secretName, "key", k, "errors", errs)
			continue
		}
		if errs := validation.IsValidLabelValue(v); len(errs) > 0 {
			logger.Warn("dropping invalid label value", "secret", secretName, "key", k, "errors", errs)
			continue
		}
		out[k] = v
	}
	return out
}

func toModel(s *corev1.Secret) model.Secret {
	out := model.Secret{
		Name:        s.Name,
		Type:        string(s.Type),
		Data:        decodeData(s.Data),
		Labels:      maps.Clone(s.Labels),
		Annotations: maps.Clone(s.Annotations),
		CreatedAt:   s.CreationTimestamp.Time,
	}
	if t, err := time.Parse(time.RFC3339, s.Annotations[AnnotationCreatedAt]); err == nil {
		out.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, s.Annotations[AnnotationUpdatedAt]); err == nil {
		out.UpdatedAt = t
	}
	return out
}

package driven

import (
	"context"

	"github.com/ericfisherdev/ghconnector/internal/domain/model"
)

// IdentityProvider resolves a cluster OAuth access token to the identity the
// cluster knows it by.
type IdentityProvider interface {
	LookupUser(ctx context.Context, accessToken string) (*model.ClusterIdentity, error)
}

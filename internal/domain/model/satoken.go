package model

// ServiceAccountToken is a namespace-scoped service-account bearer token
// bound to one target repository.
type ServiceAccountToken struct {
	SecretName         string
	ServiceAccountName string
	Namespace          string
	Token              string
	RepositoryID       int64
	CreatedByAppID     int64
	CreatedByUserUID   string
}

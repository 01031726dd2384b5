package model

// Repository is a GitHub repository visible to an App installation.
type Repository struct {
	ID            int64
	FullName      string
	Owner         string
	Name          string
	Private       bool
	DefaultBranch string
}

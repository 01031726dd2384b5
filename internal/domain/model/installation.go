package model

// InstallationAccount is the GitHub account or organization an App
// installation belongs to.
type InstallationAccount struct {
	ID    int64
	Login string
	Type  string
}

// UserInstallation binds one User to one installed copy of a GitHubApp.
// It is not persisted on its own: the owning User stores the installation ID
// and App ID, and the installation is reconstructed from them on load.
type UserInstallation struct {
	ID      int64
	App     *GitHubApp
	Account InstallationAccount
}

// AppID returns the ID of the installed App, or zero when App is nil.
func (i *UserInstallation) AppID() int64 {
	if i == nil || i.App == nil {
		return 0
	}
	return i.App.ID
}

// AccessibleInstallation is an installation GitHub reports as reachable with
// a user's token.
type AccessibleInstallation struct {
	ID      int64
	AppID   int64
	Account InstallationAccount
}

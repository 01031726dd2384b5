package memento

import (
	"encoding/json"

	"github.com/ericfisherdev/ghconnector/internal/domain/model"
)

// Keys persisted for a User.
const (
	UserKeyUID               = "uid"
	UserKeyName              = "name"
	UserKeyIsAdmin           = "isAdmin"
	UserKeyAccessToken       = "accessToken"
	UserKeyTokenIssuedAt     = "tokenIssuedAt"
	UserKeyTokenExpiresAt    = "tokenExpiresAt"
	UserKeyGitHubID          = "githubId"
	UserKeyGitHubLogin       = "githubLogin"
	UserKeyGitHubType        = "githubType"
	UserKeyInstallationID    = "installationId"
	UserKeyInstallationAppID = "installationAppId"
	UserKeyOwnsAppID         = "ownsAppId"
	UserKeyImageRegistries   = "imageRegistries"
)

// UserV1 is the first User memento layout.
var UserV1 = Schema{
	Kind:    "user",
	Version: "1",
	Fields: []Field{
		{Key: UserKeyUID, Required: true},
		{Key: UserKeyName, Required: true},
		{Key: UserKeyIsAdmin, Required: true},
		{Key: UserKeyAccessToken},
		{Key: UserKeyTokenIssuedAt},
		{Key: UserKeyTokenExpiresAt},
		{Key: UserKeyGitHubID},
		{Key: UserKeyGitHubLogin},
		{Key: UserKeyGitHubType},
		{Key: UserKeyInstallationID},
		{Key: UserKeyInstallationAppID},
		{Key: UserKeyOwnsAppID},
		{Key: UserKeyImageRegistries},
	},
}

// UserInputs is a decoded User memento. The User has no Installation yet:
// the installation is rebuilt by the caller from InstallationID and
// InstallationAppID, which may refer to an App that no longer exists.
type UserInputs struct {
	User              *model.User
	InstallationID    int64
	InstallationAppID int64
}

// HasInstallation reports whether the memento referenced an installation.
func (in UserInputs) HasInstallation() bool {
	return in.InstallationID != 0 && in.InstallationAppID != 0
}

// EncodeUser flattens u using the current layout.
func EncodeUser(u *model.User) (Memento, error) {
	m := Memento{VersionKey: UserV1.Version}
	putString(m, UserKeyUID, u.UID)
	putString(m, UserKeyName, u.Name)
	if u.IsAdmin {
		m[UserKeyIsAdmin] = "true"
	} else {
		m[UserKeyIsAdmin] = "false"
	}
	putString(m, UserKeyAccessToken, u.Token.AccessToken)
	putTime(m, UserKeyTokenIssuedAt, u.Token.IssuedAt)
	putTime(m, UserKeyTokenExpiresAt, u.Token.ExpiresAt)

	if u.GitHub != nil {
		putInt(m, UserKeyGitHubID, u.GitHub.ID)
		putString(m, UserKeyGitHubLogin, u.GitHub.Login)
		putString(m, UserKeyGitHubType, u.GitHub.Type)
	}
	if u.Installation != nil {
		putInt(m, UserKeyInstallationID, u.Installation.ID)
		putInt(m, UserKeyInstallationAppID, u.Installation.AppID())
	}
	putInt(m, UserKeyOwnsAppID, u.OwnsAppID)

	if len(u.ImageRegistries) > 0 {
		raw, err := json.Marshal(u.ImageRegistries)
		if err != nil {
			return nil, err
		}
		m[UserKeyImageRegistries] = string(raw)
	}
	return m, nil
}

// EncodeToken flattens only the token fields of u, for partial updates.
// Every token key is present; an empty value stands for a zero field so a
// merge overwrites whatever the stored memento held before.
func EncodeToken(u *model.User) Memento {
	m := Memento{
		UserKeyAccessToken:    u.Token.AccessToken,
		UserKeyTokenIssuedAt:  "",
		UserKeyTokenExpiresAt: "",
	}
	putTime(m, UserKeyTokenIssuedAt, u.Token.IssuedAt)
	putTime(m, UserKeyTokenExpiresAt, u.Token.ExpiresAt)
	return m
}

// DecodeUser rebuilds the inputs needed to reconstruct a User from m.
func DecodeUser(m Memento) (UserInputs, error) {
	switch m.Version() {
	case UserV1.Version:
		return decodeUserV1(m)
	default:
		return UserInputs{}, ErrUnknownVersion
	}
}

func decodeUserV1(m Memento) (UserInputs, error) {
	s := UserV1
	if err := s.Validate(m); err != nil {
		return UserInputs{}, err
	}

	isAdmin, err := s.parseBool(m, UserKeyIsAdmin)
	if err != nil {
		return UserInputs{}, err
	}
	issuedAt, err := s.parseTime(m, UserKeyTokenIssuedAt)
	if err != nil {
		return UserInputs{}, err
	}
	expiresAt, err := s.parseTime(m, UserKeyTokenExpiresAt)
	if err != nil {
		return UserInputs{}, err
	}

	u := &model.User{
		UID:     m[UserKeyUID],
		Name:    m[UserKeyName],
		IsAdmin: isAdmin,
		Token: model.OAuthToken{
			AccessToken: m[UserKeyAccessToken],
			IssuedAt:    issuedAt,
			ExpiresAt:   expiresAt,
		},
	}

	githubID, err := s.parseInt(m, UserKeyGitHubID)
	if err != nil {
		return UserInputs{}, err
	}
	if githubID != 0 {
		u.GitHub = &model.GitHubIdentity{
			ID:    githubID,
			Login: m[UserKeyGitHubLogin],
			Type:  m[UserKeyGitHubType],
		}
	}

	if u.OwnsAppID, err = s.parseInt(m, UserKeyOwnsAppID); err != nil {
		return UserInputs{}, err
	}

	if raw := m[UserKeyImageRegistries]; raw != "" {
		var registries model.ImageRegistryList
		if err := json.Unmarshal([]byte(raw), &registries); err != nil {
			return UserInputs{}, &FieldError{Kind: s.Kind, Key: UserKeyImageRegistries, Reason: "invalid JSON"}
		}
		u.ImageRegistries = registries
	}

	in := UserInputs{User: u}
	if in.InstallationID, err = s.parseInt(m, UserKeyInstallationID); err != nil {
		return UserInputs{}, err
	}
	if in.InstallationAppID, err = s.parseInt(m, UserKeyInstallationAppID); err != nil {
		return UserInputs{}, err
	}
	return in, nil
}

package memento

import (
	"github.com/ericfisherdev/ghconnector/internal/domain/model"
)

// Keys persisted for a GitHubApp.
const (
	AppKeyID            = "appId"
	AppKeyName          = "name"
	AppKeySlug          = "slug"
	AppKeyOwnerID       = "ownerId"
	AppKeyOwnerLogin    = "ownerLogin"
	AppKeyClientID      = "clientId"
	AppKeyClientSecret  = "clientSecret"
	AppKeyPrivateKey    = "privateKey"
	AppKeyWebhookSecret = "webhookSecret"
	AppKeyCreatedAt     = "createdAt"
	AppKeyOwnerUserUID  = "ownerUserUid"
)

// AppV1 is the first GitHubApp memento layout.
var AppV1 = Schema{
	Kind:    "app",
	Version: "1",
	Fields: []Field{
		{Key: AppKeyID, Required: true},
		{Key: AppKeyName, Required: true},
		{Key: AppKeySlug, Required: true},
		{Key: AppKeyOwnerID, Required: true},
		{Key: AppKeyOwnerLogin, Required: true},
		{Key: AppKeyClientID, Required: true},
		{Key: AppKeyClientSecret, Required: true},
		{Key: AppKeyPrivateKey, Required: true},
		{Key: AppKeyWebhookSecret},
		{Key: AppKeyCreatedAt, Required: true},
		{Key: AppKeyOwnerUserUID, Required: true},
	},
}

// EncodeApp flattens app using the current layout.
func EncodeApp(app *model.GitHubApp) Memento {
	m := Memento{VersionKey: AppV1.Version}
	putInt(m, AppKeyID, app.ID)
	putString(m, AppKeyName, app.Name)
	putString(m, AppKeySlug, app.Slug)
	putInt(m, AppKeyOwnerID, app.OwnerID)
	putString(m, AppKeyOwnerLogin, app.OwnerLogin)
	putString(m, AppKeyClientID, app.ClientID)
	putString(m, AppKeyClientSecret, app.ClientSecret)
	putString(m, AppKeyPrivateKey, app.PrivateKeyPEM)
	putString(m, AppKeyWebhookSecret, app.WebhookSecret)
	putTime(m, AppKeyCreatedAt, app.CreatedAt)
	putString(m, AppKeyOwnerUserUID, app.OwnerUserUID)
	return m
}

// DecodeApp rebuilds a GitHubApp from m.
func DecodeApp(m Memento) (*model.GitHubApp, error) {
	switch m.Version() {
	case AppV1.Version:
		return decodeAppV1(m)
	default:
		return nil, ErrUnknownVersion
	}
}

// AppID extracts only the App ID from m, for callers that enumerate stored
// Apps before loading them one by one.
func AppID(m Memento) (int64, error) {
	id, err := AppV1.parseInt(m, AppKeyID)
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, &FieldError{Kind: AppV1.Kind, Key: AppKeyID, Reason: "required field missing"}
	}
	return id, nil
}

func decodeAppV1(m Memento) (*model.GitHubApp, error) {
	s := AppV1
	if err := s.Validate(m); err != nil {
		return nil, err
	}

	id, err := s.parseInt(m, AppKeyID)
	if err != nil {
		return nil, err
	}
	ownerID, err := s.parseInt(m, AppKeyOwnerID)
	if err != nil {
		return nil, err
	}
	createdAt, err := s.parseTime(m, AppKeyCreatedAt)
	if err != nil {
		return nil, err
	}

	return &model.GitHubApp{
		ID:            id,
		Name:          m[AppKeyName],
		Slug:          m[AppKeySlug],
		OwnerID:       ownerID,
		OwnerLogin:    m[AppKeyOwnerLogin],
		ClientID:      m[AppKeyClientID],
		ClientSecret:  m[AppKeyClientSecret],
		PrivateKeyPEM: m[AppKeyPrivateKey],
		WebhookSecret: m[AppKeyWebhookSecret],
		CreatedAt:     createdAt,
		OwnerUserUID:  m[AppKeyOwnerUserUID],
	}, nil
}

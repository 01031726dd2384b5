package httphandler

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ericfisherdev/ghconnector/internal/domain/model"
)

const (
	sessionCookieName = "ghconnector_session"
	sessionIssuer     = "ghconnector"

	// DefaultSessionTTL is how long a session cookie stays valid.
	DefaultSessionTTL = 12 * time.Hour

	// MinSessionKeyLength is the shortest accepted HMAC key.
	MinSessionKeyLength = 32
)

// ErrNoSession is returned when the request carries no valid session cookie.
var ErrNoSession = errors.New("no valid session")

// SessionUser is the session form of a User.
type SessionUser struct {
	UID         string `json:"uid"`
	Name        string `json:"name"`
	IsAdmin     bool   `json:"admin"`
	GitHubLogin string `json:"github_login,omitempty"`
}

// Session is a browser session. ID is stable for the cookie's lifetime and
// keys the OAuth state cache; User is nil until login completes.
type Session struct {
	ID   string
	User *SessionUser
}

type sessionClaims struct {
	User *SessionUser `json:"user,omitempty"`
	jwt.RegisteredClaims
}

// SessionManager stores sessions in HS256-signed JWT cookies.
type SessionManager struct {
	key    []byte
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

// NewSessionManager creates a SessionManager signing with key. secure marks
// cookies as HTTPS-only.
func NewSessionManager(key []byte, ttl time.Duration, secure bool) (*SessionManager, error) {
	if len(key) < MinSessionKeyLength {
		return nil, fmt.Errorf("session key must be at least %d bytes", MinSessionKeyLength)
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionManager{key: key, ttl: ttl, secure: secure, now: time.Now}, nil
}

// New returns an anonymous session with a fresh random ID.
func (m *SessionManager) New() *Session {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("session: failed to generate random id: " + err.Error())
	}
	return &Session{ID: hex.EncodeToString(b)}
}

// Load returns the session carried by r, or ErrNoSession.
func (m *SessionManager) Load(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, ErrNoSession
	}

	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(cookie.Value, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.key, nil
	},
		jwt.WithIssuer(sessionIssuer),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid || claims.ID == "" {
		return nil, ErrNoSession
	}

	return &Session{ID: claims.ID, User: claims.User}, nil
}

// Save writes s to the response as a signed cookie.
func (m *SessionManager) Save(w http.ResponseWriter, s *Session) error {
	now := m.now()
	claims := &sessionClaims{
		User: s.User,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        s.ID,
			Issuer:    sessionIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return fmt.Errorf("signing session: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    signed,
		Path:     "/",
		Expires:  now.Add(m.ttl),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Clear expires the session cookie.
func (m *SessionManager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func toSessionUser(u *model.User) *SessionUser {
	su := &SessionUser{UID: u.UID, Name: u.Name, IsAdmin: u.IsAdmin}
	if u.GitHub != nil {
		su.GitHubLogin = u.GitHub.Login
	}
	return su
}

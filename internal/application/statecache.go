package application

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"sync"
	"time"
)

// StateTTL is how long an issued OAuth state token stays valid.
const StateTTL = 5 * time.Minute

const stateTokenBytes = 32

type stateEntry struct {
	token    string
	issuedAt time.Time
}

// StateCache holds one single-use OAuth state token per session. Entries are
// removed when validated; unvalidated entries are never swept.
type StateCache struct {
	mu      sync.Mutex
	entries map[string]stateEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewStateCache creates an empty StateCache using StateTTL and the wall clock.
func NewStateCache() *StateCache {
	return NewStateCacheWithClock(time.Now)
}

// NewStateCacheWithClock creates an empty StateCache reading time from now.
func NewStateCacheWithClock(now func() time.Time) *StateCache {
	return &StateCache{
		entries: make(map[string]stateEntry),
		ttl:     StateTTL,
		now:     now,
	}
}

// Issue generates a fresh state token for sessionID, stores it, and returns it.
func (c *StateCache) Issue(sessionID string) string {
	token := newStateToken()
	c.Add(sessionID, token)
	return token
}

// Add records token for sessionID, overwriting any earlier entry.
func (c *StateCache) Add(sessionID, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[sessionID] = stateEntry{token: token, issuedAt: c.now()}
}

// Validate consumes the entry of sessionID and reports whether it existed,
// was issued within the TTL, and holds token.
func (c *StateCache) Validate(sessionID, token string) bool {
	c.mu.Lock()
	entry, ok := c.entries[sessionID]
	delete(c.entries, sessionID)
	c.mu.Unlock()

	if !ok {
		return false
	}
	if c.now().Sub(entry.issuedAt) > c.ttl {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(entry.token), []byte(token)) == 1
}

// Len returns the number of outstanding entries.
func (c *StateCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// newStateToken returns a cryptographically random hex-encoded token.
func newStateToken() string {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		panic("state: failed to generate random token: " + err.Error())
	}
	return hex.EncodeToString(b)
}

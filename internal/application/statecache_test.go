package application_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ericfisherdev/ghconnector/internal/application"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func TestStateCache_SingleUse(t *testing.T) {
	cache := application.NewStateCacheWithClock(newClock().Now)

	token := cache.Issue("session-1")
	assert.Len(t, token, 64)

	assert.True(t, cache.Validate("session-1", token))
	assert.False(t, cache.Validate("session-1", token))
}

func TestStateCache_Expires(t *testing.T) {
	clock := newClock()
	cache := application.NewStateCacheWithClock(clock.Now)

	cache.Add("session-1", "state")
	clock.Advance(application.StateTTL + time.Second)

	assert.False(t, cache.Validate("session-1", "state"))
	assert.Equal(t, 0, cache.Len())
}

func TestStateCache_WithinTTL(t *testing.T) {
	clock := newClock()
	cache := application.NewStateCacheWithClock(clock.Now)

	cache.Add("session-1", "state")
	clock.Advance(application.StateTTL - time.Second)

	assert.True(t, cache.Validate("session-1", "state"))
}

func TestStateCache_MismatchConsumesEntry(t *testing.T) {
	cache := application.NewStateCacheWithClock(newClock().Now)

	cache.Add("session-1", "state")

	assert.False(t, cache.Validate("session-1", "forged"))
	assert.False(t, cache.Validate("session-1", "state"))
}

func TestStateCache_AddOverwrites(t *testing.T) {
	cache := application.NewStateCacheWithClock(newClock().Now)

	first := cache.Issue("session-1")
	second := cache.Issue("session-1")

	assert.NotEqual(t, first, second)
	assert.Equal(t, 1, cache.Len())
	assert.False(t, cache.Validate("session-1", first))
}

func TestStateCache_UnknownSession(t *testing.T) {
	cache := application.NewStateCache()

	assert.False(t, cache.Validate("nope", "state"))
}

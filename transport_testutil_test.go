package httpcache

import (
	"sync"
	"testing"
	"time"
)

// fakeClock is a Clock whose Now() is driven explicitly by tests, so
// expiration can be exercised deterministically without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now()}
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

func newTestTransport(t *testing.T, opts ...TransportOption) *Transport {
	t.Helper()
	tr, err := NewTransport(t.TempDir(), opts...)
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	return tr
}

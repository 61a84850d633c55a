package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time { return f.t }

func TestTTLCacheExpiry(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewTTLCache[string, int](time.Minute).WithClock(clock.Now)

	c.Set("devices", 2)
	v, ok := c.Get("devices")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, c.Len())

	clock.t = clock.t.Add(2 * time.Minute)
	_, ok = c.Get("devices")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 1, c.Cleanup())
}

func TestTTLCacheZeroTTLNeverExpires(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	c := NewTTLCache[string, string](0).WithClock(clock.Now)
	c.Set("k", "v")

	clock.t = clock.t.Add(24 * time.Hour)
	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestTTLCacheDeleteAndClear(t *testing.T) {
	c := NewTTLCache[int, string](time.Hour)
	c.Set(1, "a")
	c.SetWithTTL(2, "b", time.Minute)

	c.Delete(1)
	_, ok := c.Get(1)
	assert.False(t, ok)

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time { return f.t }

func TestGetSetExpiry(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New[int]("test", time.Hour).WithClock(clock.Now)

	c.Set("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	clock.t = clock.t.Add(59 * time.Minute)
	_, ok = c.Get("a")
	assert.True(t, ok, "entry should live until ttl elapses")

	clock.t = clock.t.Add(time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok, "entry should expire at ttl")
	assert.Equal(t, 0, c.Len(), "expired entry is dropped on read")
}

func TestZeroTTLDisablesCache(t *testing.T) {
	c := New[string]("test", 0)
	c.Set("a", "x")
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestDeleteAndClear(t *testing.T) {
	c := New[string]("test", time.Minute)
	c.Set("a", "x")
	c.Set("b", "y")

	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetSetDelete(t *testing.T) {
	c := New[string](time.Minute)
	defer c.Stop()

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("k", "v")
	got, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", got)

	c.Delete("k")
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestExpiredEntryNotReturned(t *testing.T) {
	c := New[int](time.Minute)
	defer c.Stop()

	c.SetWithTTL("k", 1, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestSweepEvictsExpired(t *testing.T) {
	c := New[int](20 * time.Millisecond)
	defer c.Stop()

	c.Set("a", 1)
	c.Set("b", 2)
	assert.Equal(t, 2, c.Len())

	assert.Eventually(t, func() bool {
		return c.Len() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestSetOverwrites(t *testing.T) {
	c := New[int](time.Minute)
	defer c.Stop()

	c.Set("k", 1)
	c.Set("k", 2)
	got, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, 2, got)
}

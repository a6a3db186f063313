package proxy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEchoCache_PutAndTake(t *testing.T) {
	c := newEchoCache()
	now := time.Now()
	c.Put(1, "echo1", "send_group_msg", now)

	entry, ok := c.Take(1, "echo1")
	require.True(t, ok)
	assert.Equal(t, "send_group_msg", entry.Action)

	_, ok = c.Take(1, "echo1")
	assert.False(t, ok, "Take should remove the entry")
}

func TestEchoCache_ScopedPerTarget(t *testing.T) {
	c := newEchoCache()
	now := time.Now()
	c.Put(1, "same", "a1", now)
	c.Put(2, "same", "a2", now)

	e1, ok := c.Take(1, "same")
	require.True(t, ok)
	assert.Equal(t, "a1", e1.Action)

	e2, ok := c.Take(2, "same")
	require.True(t, ok)
	assert.Equal(t, "a2", e2.Action)
}

func TestEchoCache_PurgesOldEntriesAtMultipleOf100(t *testing.T) {
	c := newEchoCache()
	old := time.Now().Add(-200 * time.Second)

	for i := 0; i < 99; i++ {
		c.Put(1, itoaEcho(i), "a", old)
	}
	assert.Equal(t, 99, c.Len(), "no purge should have triggered yet")

	c.Put(1, itoaEcho(99), "a", time.Now())
	assert.Equal(t, 1, c.Len(), "purge at the 100th insert should evict every stale entry")
}

func TestEchoCache_DoesNotPurgeFreshEntries(t *testing.T) {
	c := newEchoCache()
	now := time.Now()
	for i := 0; i < 100; i++ {
		c.Put(1, itoaEcho(i), "a", now)
	}
	assert.Equal(t, 100, c.Len())
}

func itoaEcho(i int) string {
	digits := "0123456789"
	if i == 0 {
		return "0"
	}
	var buf []byte
	for i > 0 {
		buf = append([]byte{digits[i%10]}, buf...)
		i /= 10
	}
	return string(buf)
}

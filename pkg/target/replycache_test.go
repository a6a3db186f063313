package target

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/botshepherd/wsproxy/pkg/onebot"
)

func TestReplyCache_GetMiss(t *testing.T) {
	c := newReplyCache()
	_, ok := c.Get("missing")
	assert.False(t, ok)
}

func TestReplyCache_PutAndGet(t *testing.T) {
	c := newReplyCache()
	msg := []onebot.Segment{onebot.NewText("hi")}
	c.Put("1", msg)
	got, ok := c.Get("1")
	assert.True(t, ok)
	assert.Equal(t, msg, got)
}

func TestReplyCache_EvictsOldestBeyondBound(t *testing.T) {
	c := newReplyCache()
	for i := 0; i < replyCacheMax+10; i++ {
		c.Put(itoa(i), nil)
	}
	_, ok := c.Get(itoa(0))
	assert.False(t, ok, "oldest entry should have been evicted")
	_, ok = c.Get(itoa(replyCacheMax + 9))
	assert.True(t, ok, "most recent entry should still be present")
	assert.LessOrEqual(t, c.order.Len(), replyCacheMax)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

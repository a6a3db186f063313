package target

import (
	"container/list"
	"sync"

	"github.com/botshepherd/wsproxy/pkg/onebot"
)

const replyCacheMax = 100

// replyCache remembers recently-seen messages by message_id so that a later
// reply segment can be resolved to the images the replied-to message
// carried, without a round trip to the target. Insertion-ordered with
// oldest-first eviction once it exceeds its bound, the same shape as
// Python's OrderedDict.popitem(last=False).
type replyCache struct {
	mu      sync.Mutex
	order   *list.List
	entries map[string]*list.Element
}

type replyCacheEntry struct {
	id      string
	message []onebot.Segment
}

func newReplyCache() *replyCache {
	return &replyCache{
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

// Put records the message carried by an event, keyed by its message_id,
// before checking whether the event itself is a reply.
func (c *replyCache) Put(messageID string, message []onebot.Segment) {
	if messageID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[messageID]; ok {
		c.order.Remove(el)
	}
	el := c.order.PushBack(&replyCacheEntry{id: messageID, message: message})
	c.entries[messageID] = el

	for c.order.Len() > replyCacheMax {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*replyCacheEntry).id)
	}
}

// Get looks up the cached message for a message_id, returning ok == false
// if it was never seen or has since been evicted.
func (c *replyCache) Get(messageID string) ([]onebot.Segment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[messageID]
	if !ok {
		return nil, false
	}
	return el.Value.(*replyCacheEntry).message, true
}

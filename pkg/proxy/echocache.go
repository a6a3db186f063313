package proxy

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// echoKey identifies one in-flight API call awaiting a response, scoped to
// the target it was sent to since echoes are only unique per-target.
type echoKey struct {
	targetIndex int
	echo        string
}

func (k echoKey) String() string { return fmt.Sprintf("%d_%s", k.targetIndex, k.echo) }

// EchoEntry records enough about an in-flight API call to correlate its
// response and, on failure, log a useful diagnostic.
type EchoEntry struct {
	TargetIndex int
	Action      string
	CreatedAt   time.Time
}

const (
	echoPurgeInterval = 100
	echoPurgeMaxAge   = 120 * time.Second
)

// echoCache maps (targetIndex, echo) to the in-flight call it was issued
// for. Purging is lazy: it triggers only when the cache size crosses a
// multiple of echoPurgeInterval, at which point every entry older than
// echoPurgeMaxAge is evicted in one pass.
type echoCache struct {
	mu      sync.Mutex
	entries map[echoKey]EchoEntry
}

func newEchoCache() *echoCache {
	return &echoCache{entries: make(map[echoKey]EchoEntry)}
}

// Put records an in-flight call, logging (not erroring) if it collides
// with an existing entry for the same key — a genuine echo collision is a
// peer bug, not a reason to drop the new call.
func (c *echoCache) Put(targetIndex int, echo string, action string, now time.Time) {
	if echo == "" {
		return
	}
	key := echoKey{targetIndex: targetIndex, echo: echo}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		log.Warn().Str("key", key.String()).Msg("proxy: echo cache collision, overwriting")
	}
	c.entries[key] = EchoEntry{TargetIndex: targetIndex, Action: action, CreatedAt: now}

	if len(c.entries)%echoPurgeInterval == 0 {
		c.purgeLocked(now)
	}
}

// Take removes and returns the entry for (targetIndex, echo), if present.
func (c *echoCache) Take(targetIndex int, echo string) (EchoEntry, bool) {
	if echo == "" {
		return EchoEntry{}, false
	}
	key := echoKey{targetIndex: targetIndex, echo: echo}

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
	}
	return e, ok
}

// TakeByEcho finds and removes the entry matching echo regardless of which
// target it was recorded against, used to route a client-side response
// back to the one target that originally issued the call. Echoes are
// generated by the issuing side (google/uuid in the Sakoya adapter, or
// whatever the target framework uses) and are not guaranteed unique across
// targets, so a match picks whichever entry turns up first; callers that
// need a stronger guarantee should scope lookups with Take instead.
func (c *echoCache) TakeByEcho(echo string) (int, EchoEntry, bool) {
	if echo == "" {
		return 0, EchoEntry{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if k.echo == echo {
			delete(c.entries, k)
			return k.targetIndex, e, true
		}
	}
	return 0, EchoEntry{}, false
}

func (c *echoCache) purgeLocked(now time.Time) {
	var evicted int
	for k, e := range c.entries {
		if now.Sub(e.CreatedAt) > echoPurgeMaxAge {
			delete(c.entries, k)
			evicted++
		}
	}
	if evicted > 0 {
		log.Debug().Int("evicted", evicted).Msg("proxy: echo cache purge")
	}
}

// Len reports the current cache size, used by tests.
func (c *echoCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

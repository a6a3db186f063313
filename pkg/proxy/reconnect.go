package proxy

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/botshepherd/wsproxy/pkg/target"
)

const (
	// reconnectInitialDelay is the settle period before the first
	// reconnect attempt when a target fails to dial at connection start,
	// distinct from reconnectNearInterval used once a live connection
	// later drops.
	reconnectInitialDelay = 5 * time.Second

	reconnectNearInterval = 3 * time.Second
	reconnectNearAttempts = 40
	reconnectFarInterval  = 600 * time.Second
)

// startReconnectWithDelay waits delay, then hands off to the normal
// reconnect loop, used only for the initial-dial-failure case.
func (c *Connection) startReconnectWithDelay(slot *targetSlot, delay time.Duration) {
	defer c.wg.Done()
	select {
	case <-c.ctx.Done():
		return
	case <-time.After(delay):
	}
	c.wg.Add(1)
	go c.reconnectTarget(slot)
}

// reconnectTarget redials a target slot after it has dropped (or failed to
// dial initially), trying once every reconnectNearInterval for
// reconnectNearAttempts tries, then falling back to trying once every
// reconnectFarInterval indefinitely. Each attempt re-reads the slot's
// current config so a disabled slot or a reload mid-flight aborts the
// loop; the loop also bails out if the client socket has gone away or the
// connection has started reloading.
func (c *Connection) reconnectTarget(slot *targetSlot) {
	defer c.wg.Done()

	attempt := 0
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		if c.isReloading() {
			return
		}

		_, cfg := slot.snapshot()
		if !cfg.Enabled() {
			log.Debug().Int("target", slot.index).Msg("proxy: target disabled, abandoning reconnect")
			return
		}

		a, err := c.dialTarget(c.ctx, cfg)
		if err == nil {
			slot.setAdapter(a)
			c.afterReconnect(slot, a)
			return
		}

		attempt++
		interval := reconnectNearInterval
		if attempt >= reconnectNearAttempts {
			interval = reconnectFarInterval
		}
		log.Debug().Err(err).Int("target", slot.index).Int("attempt", attempt).Dur("next_in", interval).
			Msg("proxy: reconnect attempt failed")

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// afterReconnect replays the first client message to a freshly (re)dialed
// target and restarts its recv loop. Non-Sakoya targets wait a settle
// delay before the loop resumes so the target has time to finish any
// handshake-adjacent bookkeeping; Sakoya targets resume immediately since
// they need no such grace period.
func (c *Connection) afterReconnect(slot *targetSlot, a target.Adapter) {
	if len(c.firstClientMsg) > 0 {
		if err := a.Send(c.ctx, c.firstClientMsg); err != nil {
			log.Warn().Err(err).Int("target", slot.index).Msg("proxy: replaying first message after reconnect failed")
		}
	}

	if !a.IsSakoya() {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(reconnectSettleDelay):
		}
	}

	select {
	case <-c.ctx.Done():
		return
	default:
	}

	c.wg.Add(1)
	go c.runTargetRecvLoop(slot)
}

func (c *Connection) isReloading() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reloading
}

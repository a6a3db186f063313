package proxy

import (
	"github.com/rs/zerolog/log"

	"github.com/botshepherd/wsproxy/pkg/config"
)

// ReloadTargets swaps in a new target set for a live connection without
// touching the client socket. The reloading flag guards the window where
// the old target slots are being torn down and the new ones dialed, so
// stale reconnect goroutines from the old slot set recognize they've been
// superseded and exit instead of racing the rebuild. The flag is cleared
// even if dialing the new targets runs into trouble partway through.
func (c *Connection) ReloadTargets(newCfg config.ConnectionConfig) {
	c.mu.Lock()
	c.reloading = true
	old := c.targets
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.reloading = false
		c.mu.Unlock()
	}()

	for _, slot := range old {
		adapter, _ := slot.snapshot()
		if adapter != nil {
			adapter.Close()
		}
	}

	c.mu.Lock()
	c.cfg = newCfg
	c.mu.Unlock()

	c.buildTargetSlots()
	c.connectTargets(c.ctx, false)

	for _, slot := range c.targets {
		adapter, _ := slot.snapshot()
		if adapter == nil {
			continue
		}
		if len(c.firstClientMsg) > 0 {
			if err := adapter.Send(c.ctx, c.firstClientMsg); err != nil {
				log.Warn().Err(err).Int("target", slot.index).Msg("proxy: replaying first message on reload failed")
			}
		}
		c.wg.Add(1)
		go c.runTargetRecvLoop(slot)
	}

	log.Info().Str("connection", c.id).Int("targets", len(c.targets)).Msg("proxy: targets reloaded")
}

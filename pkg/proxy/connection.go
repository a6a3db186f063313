package proxy

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/botshepherd/wsproxy/pkg/config"
	"github.com/botshepherd/wsproxy/pkg/hooks"
	"github.com/botshepherd/wsproxy/pkg/onebot"
	"github.com/botshepherd/wsproxy/pkg/persistence"
	"github.com/botshepherd/wsproxy/pkg/target"
)

// Start brings the connection up: reads the client's first message, dials
// every enabled target, replays the first message to each, sends the
// reboot notice, then runs the forwarding loops until the client
// disconnects or Stop is called. Start blocks until the connection is
// fully torn down. Cancellation is driven by the parent context passed to
// New, not by an argument here.
func (c *Connection) Start() error {
	c.setState(StateDialing)

	first := c.client.Recv(c.ctx)
	if first.Kind != target.RecvFrame {
		return fmt.Errorf("proxy: client closed before sending first message: %v", first.Err)
	}
	c.firstClientMsg = first.Data
	if env, err := onebot.ParseEnvelope(first.Data); err == nil {
		c.selfID = env.SelfID
	}

	c.buildTargetSlots()
	c.connectTargets(c.ctx, true)

	for _, slot := range c.targets {
		adapter, _ := slot.snapshot()
		if adapter == nil {
			continue
		}
		if err := adapter.Send(c.ctx, c.firstClientMsg); err != nil {
			log.Warn().Err(err).Int("target", slot.index).Msg("proxy: replaying first message failed")
		}
	}

	if reboot := constructRebootMessage(c.selfID); reboot != nil {
		c.deliverToClient(c.ctx, reboot)
	}

	c.setState(StateRunning)

	for _, slot := range c.targets {
		c.wg.Add(1)
		go c.runTargetRecvLoop(slot)
	}

	err := c.forwardClientToTargets(c.ctx)
	c.teardown()
	c.wg.Wait()
	return err
}

func (c *Connection) buildTargetSlots() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targets = c.targets[:0]
	for i, t := range c.cfg.Targets {
		c.targets = append(c.targets, &targetSlot{index: i + 1, cfg: t})
	}
}

// connectTargets dials every enabled, not-yet-connected target slot. It
// never replays the first client message itself, whether called from Start
// or from ReloadTargets (isInitialStart does not change its behavior); both
// callers replay to the connected slots afterwards. Targets that fail to
// dial get a reconnect loop started after the initial settle delay,
// distinct from the per-attempt delay used once a live connection later
// drops.
func (c *Connection) connectTargets(ctx context.Context, isInitialStart bool) {
	for _, slot := range c.targets {
		slot := slot
		adapter, cfg := slot.snapshot()
		if adapter != nil || !cfg.Enabled() {
			continue
		}
		a, err := c.dialTarget(ctx, cfg)
		if err != nil {
			log.Warn().Err(err).Int("target", slot.index).Str("url", cfg.URL).Msg("proxy: initial dial failed, scheduling reconnect")
			c.wg.Add(1)
			go c.startReconnectWithDelay(slot, reconnectInitialDelay)
			continue
		}
		slot.setAdapter(a)
	}
}

func (c *Connection) dialTarget(ctx context.Context, cfg config.TargetConfig) (target.Adapter, error) {
	a, err := target.DialPlain(ctx, cfg.URL, cfg.Headers)
	if err != nil {
		return nil, err
	}
	if cfg.SakoyaProtocol {
		botID, _ := extractBotIDFromURL(cfg.URL)
		a = target.WrapSakoya(a, botID)
	}
	return a, nil
}

func extractBotIDFromURL(url string) (string, bool) {
	idx := -1
	for i := len(url) - 1; i >= 0; i-- {
		if url[i] == '/' {
			idx = i
			break
		}
	}
	if idx < 0 || idx == len(url)-1 {
		return "", false
	}
	return url[idx+1:], true
}

// runTargetRecvLoop owns one target slot's recv loop for the connection's
// lifetime, including across reconnects: a fresh loop is started each time
// a redial succeeds.
func (c *Connection) runTargetRecvLoop(slot *targetSlot) {
	defer c.wg.Done()
	for {
		adapter, _ := slot.snapshot()
		if adapter == nil {
			return
		}
		res := adapter.Recv(c.ctx)
		switch res.Kind {
		case target.RecvFrame:
			c.processTargetMessage(c.ctx, slot, res.Data)
		case target.RecvClosed, target.RecvError:
			select {
			case <-c.ctx.Done():
				return
			default:
			}
			slot.setAdapter(nil)
			c.wg.Add(1)
			go c.reconnectTarget(slot)
			return
		}
	}
}

// forwardClientToTargets is the connection's primary loop: it owns the
// lifetime of Start, and its exit (client disconnect or context
// cancellation) is what triggers teardown of every target task.
func (c *Connection) forwardClientToTargets(ctx context.Context) error {
	for {
		res := c.client.Recv(ctx)
		if res.Kind != target.RecvFrame {
			if res.Err != nil {
				return res.Err
			}
			return nil
		}
		c.processClientMessage(ctx, res.Data)
	}
}

// processClientMessage implements the client-message pipeline: command
// hook preprocessing (which may fully handle the message and short-circuit
// via the target-0 path), echo-correlated routing for API calls already
// recorded for a single target, and fan-out otherwise.
func (c *Connection) processClientMessage(ctx context.Context, raw []byte) {
	env, err := onebot.ParseEnvelope(raw)
	if err != nil {
		// Non-JSON or malformed frame: forward unchanged, matching the
		// safety-fallback behavior for frames this proxy cannot interpret.
		c.fanOut(ctx, raw, nil)
		return
	}

	hook := c.hook()
	if env.Kind() == onebot.KindEvent && env.PostType == "message" {
		processed, outcome, err := hook.Preprocess(ctx, c.id, env)
		if err != nil {
			log.Error().Err(err).Str("connection", c.id).Msg("proxy: command hook preprocess failed")
		} else {
			env = processed
		}
		if outcome.Handled {
			if outcome.Response != nil {
				if b, err := outcome.Response.Encode(); err == nil {
					// Route like any other target-originated frame, just
					// addressed from the pseudo-slot reserved for
					// proxy-self-originated responses.
					c.processTargetMessage(ctx, &targetSlot{index: TargetSelf}, b)
				}
			}
			return
		}
	}

	if env.SelfID.IsZero() == false && !c.selfID.IsZero() && env.SelfID.String() != c.selfID.String() {
		log.Warn().Str("connection", c.id).Str("prior", c.selfID.String()).Str("new", env.SelfID.String()).
			Msg("proxy: self_id changed mid-session")
	}
	if !env.SelfID.IsZero() {
		c.selfID = env.SelfID
	}

	encoded := raw
	if reenc, err := env.Encode(); err == nil {
		encoded = reenc
	}

	if env.Echo != "" {
		c.routeEchoResponse(ctx, env, encoded)
		return
	}

	if env.Kind() == onebot.KindEvent {
		c.saveMessage(ctx, 0, persistence.DirectionClientToTarget, "", env.PostType, encoded)
	}

	c.fanOut(ctx, encoded, env)
}

// routeEchoResponse handles a client frame carrying an echo: this is the
// client answering (or forwarding status for) a call a target issued
// earlier, so it is routed to that one originating target instead of
// fanned out. A frame shaped like an API response (status/retcode present)
// is additionally persisted and reported to the command hook so failed
// calls get logged with their original action for context; a match-less
// echo is dropped with a warning rather than guessed at.
func (c *Connection) routeEchoResponse(ctx context.Context, env *onebot.Envelope, encoded []byte) {
	targetIndex, entry, ok := c.echoes.TakeByEcho(env.Echo)
	if !ok {
		log.Warn().Str("connection", c.id).Str("echo", env.Echo).Msg("proxy: no target matches echo, dropping frame")
		return
	}

	if env.Kind() == onebot.KindAPIResponse {
		success := onebot.CheckAPISuccess(env)
		c.hook().ObserveAPICall(ctx, c.id, entry.Action, success)
		if success {
			c.saveMessage(ctx, targetIndex, persistence.DirectionClientToTarget, entry.Action, "", encoded)
		} else {
			log.Warn().Str("connection", c.id).Int("target", targetIndex).Str("action", entry.Action).
				Str("data", truncateForLog(string(env.Data), 200)).Msg("proxy: client reported api call failure")
		}
	}

	c.sendToTarget(ctx, targetIndex, encoded)
}

func (c *Connection) sendToTarget(ctx context.Context, targetIndex int, encoded []byte) {
	for _, slot := range c.targets {
		if slot.index != targetIndex {
			continue
		}
		adapter, _ := slot.snapshot()
		if adapter == nil {
			return
		}
		if err := adapter.Send(ctx, encoded); err != nil {
			log.Warn().Err(err).Int("target", targetIndex).Msg("proxy: send to target failed")
		}
		return
	}
}

// fanOut delivers a frame to every enabled target, skipping Sakoya targets
// for meta_event posts and OneBot passthrough-only actions, which carry no
// translatable content.
func (c *Connection) fanOut(ctx context.Context, encoded []byte, env *onebot.Envelope) {
	skipSakoya := env != nil && ((env.Kind() == onebot.KindEvent && env.PostType == "meta_event") ||
		(env.Kind() == onebot.KindAPIRequest && onebot.IsPassthroughAction(env.Action)))

	for _, slot := range c.targets {
		adapter, _ := slot.snapshot()
		if adapter == nil {
			continue
		}
		if skipSakoya && adapter.IsSakoya() {
			continue
		}
		if err := adapter.Send(ctx, encoded); err != nil {
			log.Warn().Err(err).Int("target", slot.index).Msg("proxy: send to target failed")
		}
	}
}

// processTargetMessage handles one frame received from a target. A frame
// carrying an echo is the target issuing an API call that only the client
// (the real OneBot adapter) can fulfill; the echo is recorded so the
// client's eventual response routes back to this target instead of
// fanning out. A send-style call with no echo is persisted as a
// synthetic message_sent event, since the target never expects a reply to
// it. Anything else is an ordinary event, persisted as received.
func (c *Connection) processTargetMessage(ctx context.Context, slot *targetSlot, raw []byte) {
	env, err := onebot.ParseEnvelope(raw)
	if err != nil {
		c.deliverToClient(ctx, raw)
		return
	}

	switch {
	case env.Echo != "":
		c.echoes.Put(slot.index, env.Echo, env.Action, time.Now())
	case env.Kind() == onebot.KindAPIRequest && onebot.IsSendAction(env.Action):
		c.saveMessage(ctx, slot.index, persistence.DirectionTargetToClient, env.Action, "message_sent", raw)
	case env.Kind() == onebot.KindEvent:
		c.saveMessage(ctx, slot.index, persistence.DirectionTargetToClient, "", env.PostType, raw)
	}

	c.deliverToClient(ctx, raw)
}

func truncateForLog(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return fmt.Sprintf("%s...[total length: %d]", s[:max], len(s))
}

// deliverToClient is the single choke point frames pass through on their
// way to the client, used both by the normal target->client path and by
// target-0 short-circuit responses (command hook replies, reboot notice).
func (c *Connection) deliverToClient(ctx context.Context, frame []byte) {
	if err := c.client.Send(ctx, frame); err != nil {
		log.Debug().Err(err).Str("connection", c.id).Msg("proxy: delivering to client failed")
	}
}

func (c *Connection) saveMessage(ctx context.Context, targetIndex int, dir persistence.Direction, action, postType string, raw []byte) {
	store := c.deps.Store
	if store == nil {
		store = persistence.NoopStore{}
	}
	_ = store.SaveMessage(ctx, persistence.MessageRecord{
		ConnectionID: c.id,
		TargetIndex:  targetIndex,
		Direction:    dir,
		Action:       action,
		PostType:     postType,
		RawFrame:     string(raw),
		MIMEType:     sniffInlineImageMIME(raw),
		Timestamp:    time.Now(),
	})
}

// sniffInlineImageMIME looks for a base64-inlined image segment in raw and
// sniffs its content type, for persisted-message metadata only; it never
// affects what's sent over the wire. Returns "" when raw carries no
// recognizable inline image.
func sniffInlineImageMIME(raw []byte) string {
	env, err := onebot.ParseEnvelope(raw)
	if err != nil {
		return ""
	}
	for _, seg := range env.Message {
		if seg.Kind != onebot.SegImage || seg.Image == nil {
			continue
		}
		if !strings.HasPrefix(seg.Image.File, "base64://") {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(seg.Image.File, "base64://"))
		if err != nil {
			continue
		}
		if mime := target.SniffFileMIME(decoded); mime != "" {
			return mime
		}
	}
	return ""
}

func (c *Connection) hook() hooks.CommandHook {
	if c.deps.Hook == nil {
		return hooks.NoopHook{}
	}
	return c.deps.Hook
}

// Stop tears the connection down: cancels every running task and closes
// every socket, waiting up to 3 seconds for them to exit.
func (c *Connection) Stop() {
	c.stopOnce.Do(func() {
		c.setState(StateStopping)
		c.cancel()
		c.teardown()
	})

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		log.Warn().Str("connection", c.id).Msg("proxy: stop timed out waiting for tasks to exit")
	}
}

func (c *Connection) teardown() {
	c.client.Close()
	c.mu.RLock()
	targets := append([]*targetSlot(nil), c.targets...)
	c.mu.RUnlock()
	for _, slot := range targets {
		adapter, _ := slot.snapshot()
		if adapter != nil {
			adapter.Close()
		}
	}
}

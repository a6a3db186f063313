// Package builtin provides a reference CommandHook implementation: a small
// in-band command grammar ("#auth <key>", "#whoami") answered directly by
// the proxy instead of being forwarded to any target.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/botshepherd/wsproxy/pkg/hooks"
	"github.com/botshepherd/wsproxy/pkg/onebot"
	"github.com/botshepherd/wsproxy/pkg/persistence"
)

const (
	cmdWhoAmI  = "#whoami"
	cmdAuthPfx = "#auth "
)

// AuthHook recognizes the auth command set on client message events,
// checks submitted keys against a fixed set minted by `obshepherd keygen`,
// and tracks failed attempts/bans through the persistence hook.
type AuthHook struct {
	store        persistence.Store
	validKeys    map[string]struct{}
	banThreshold int
	banFor       time.Duration
}

// New constructs an AuthHook. authKeys is the set of keys operators have
// issued (see pkg/authkey); banThreshold and banFor mirror
// config.SecurityConfig.
func New(store persistence.Store, authKeys []string, banThreshold int, banFor time.Duration) *AuthHook {
	keys := make(map[string]struct{}, len(authKeys))
	for _, k := range authKeys {
		keys[k] = struct{}{}
	}
	return &AuthHook{store: store, validKeys: keys, banThreshold: banThreshold, banFor: banFor}
}

var _ hooks.CommandHook = (*AuthHook)(nil)

// Preprocess implements hooks.CommandHook: it only acts on the "#auth" and
// "#whoami" commands, read from the first text segment of a client message
// event (other segments are ignored); anything else passes through
// unhandled.
func (h *AuthHook) Preprocess(ctx context.Context, connectionID string, env *onebot.Envelope) (*onebot.Envelope, hooks.Outcome, error) {
	text := strings.TrimSpace(firstText(env.Message))
	botID := botIDFor(connectionID, env)

	switch {
	case text == cmdWhoAmI:
		status, err := h.store.GetAuthStatus(ctx, botID)
		if err != nil {
			return env, hooks.Outcome{}, err
		}
		return env, h.reply(env, whoAmIText(status)), nil

	case strings.HasPrefix(text, cmdAuthPfx):
		key := strings.TrimSpace(strings.TrimPrefix(text, cmdAuthPfx))
		return h.handleAuth(ctx, botID, env, key)

	default:
		return env, hooks.Outcome{}, nil
	}
}

func (h *AuthHook) handleAuth(ctx context.Context, botID string, env *onebot.Envelope, key string) (*onebot.Envelope, hooks.Outcome, error) {
	status, err := h.store.GetAuthStatus(ctx, botID)
	if err != nil {
		return env, hooks.Outcome{}, err
	}

	now := time.Now()
	if status.IsBanned && status.BannedUntil != nil && now.Before(*status.BannedUntil) {
		return env, h.reply(env, fmt.Sprintf("banned until %s", status.BannedUntil.Format(time.RFC3339))), nil
	}

	if _, ok := h.validKeys[key]; ok {
		if err := h.store.SetAuthenticated(ctx, botID, now); err != nil {
			return env, hooks.Outcome{}, err
		}
		return env, h.reply(env, "authenticated"), nil
	}

	if err := h.store.RecordFailedAttempt(ctx, botID, now, h.banThreshold, h.banFor); err != nil {
		return env, hooks.Outcome{}, err
	}
	return env, h.reply(env, "invalid key"), nil
}

// ObserveAPICall implements hooks.CommandHook. The auth command set has no
// use for API call outcomes, so it is a no-op.
func (h *AuthHook) ObserveAPICall(ctx context.Context, connectionID string, action string, success bool) {
}

// reply builds a target-0 send_*_msg API call addressed the same way the
// triggering message was (group or private). Only an actual API call
// causes the client's OneBot adapter to send anything; a bare message
// event would be a no-op on the client side. It carries an echo, the same
// shape pkg/sakoya.SendToOneBotAPI produces for a Sakoya-originated send,
// so the client's eventual response routes back through the ordinary
// target-0 echo-cache entry rather than needing special-casing.
func (h *AuthHook) reply(env *onebot.Envelope, text string) hooks.Outcome {
	return hooks.Outcome{Handled: true, Response: buildSendCall(env, text)}
}

// buildSendCall synthesizes a send_private_msg/send_group_msg API call
// addressed back at whoever triggered the command, carrying text as its
// sole message segment.
func buildSendCall(env *onebot.Envelope, text string) *onebot.Envelope {
	action := "send_private_msg"
	params := map[string]any{"message": []onebot.Segment{onebot.NewText(text)}}
	if env.MessageType == "group" {
		action = "send_group_msg"
		params["group_id"] = env.GroupID
	} else {
		params["user_id"] = env.UserID
	}

	paramsJSON, _ := json.Marshal(params)
	return &onebot.Envelope{
		Action: action,
		Params: paramsJSON,
		Echo:   uuid.New().String(),
	}
}

func whoAmIText(status persistence.AuthStatus) string {
	if status.IsAuthenticated {
		return "authenticated"
	}
	if status.IsBanned {
		return "not authenticated, banned"
	}
	return "not authenticated"
}

func firstText(segments []onebot.Segment) string {
	for _, seg := range segments {
		if seg.Kind == onebot.SegText && seg.Text != nil {
			return seg.Text.Text
		}
	}
	return ""
}

func botIDFor(connectionID string, env *onebot.Envelope) string {
	if !env.SelfID.IsZero() {
		return env.SelfID.String()
	}
	return connectionID
}

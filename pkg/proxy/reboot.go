package proxy

import (
	"encoding/json"
	"time"

	"github.com/botshepherd/wsproxy/pkg/onebot"
)

// constructRebootMessage synthesizes the notice-shaped OneBot event
// delivered to the client immediately after a connection (re)establishes
// its target set, so the client side can tell a reboot happened rather
// than silently losing whatever in-flight state it was tracking. The
// reference implementation referenced this helper without shipping its
// source; this reconstruction follows spec's notice_type convention.
func constructRebootMessage(selfID onebot.ID) []byte {
	selfIDVal, _ := selfID.Int64()
	env := map[string]any{
		"post_type":   "notice",
		"notice_type": "proxy_reboot",
		"time":        time.Now().Unix(),
		"self_id":     selfIDVal,
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil
	}
	return b
}

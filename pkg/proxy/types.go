// Package proxy implements the Proxy Connection: one client socket
// fanned out to N downstream target sockets, with echo-correlated RPC
// routing, per-target reconnect, and hot-reloadable target sets.
package proxy

import (
	"context"
	"sync"
	"time"

	"github.com/botshepherd/wsproxy/pkg/config"
	"github.com/botshepherd/wsproxy/pkg/hooks"
	"github.com/botshepherd/wsproxy/pkg/onebot"
	"github.com/botshepherd/wsproxy/pkg/persistence"
	"github.com/botshepherd/wsproxy/pkg/target"
)

// TargetSelf is the reserved target index for proxy-self-originated
// messages (command hook responses, reboot notices). It is never an index
// into Connection.targets; frames addressed from it flow through
// processTargetMessage like any real target's frames (so a command hook's
// send_*_msg call still gets its echo recorded), just with no adapter to
// read from.
const TargetSelf = 0

// State is the Proxy Connection's lifecycle state.
type State int

const (
	StateDialing State = iota
	StateRunning
	StateReconnecting
	StateReloading
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateDialing:
		return "dialing"
	case StateRunning:
		return "running"
	case StateReconnecting:
		return "reconnecting"
	case StateReloading:
		return "reloading"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// targetSlot holds one downstream target's live adapter plus the config it
// was dialed from, so reload/reconnect can tell whether a slot's
// configuration changed out from under it.
type targetSlot struct {
	mu      sync.RWMutex
	index   int // 1-based external index, matching the echo cache's key space
	cfg     config.TargetConfig
	adapter target.Adapter
}

func (t *targetSlot) snapshot() (target.Adapter, config.TargetConfig) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.adapter, t.cfg
}

func (t *targetSlot) setAdapter(a target.Adapter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.adapter = a
}

// Deps bundles the Proxy Connection's external collaborators so they can be
// constructed independently of the connection itself (no global
// singletons).
type Deps struct {
	Hook  hooks.CommandHook
	Store persistence.Store
}

// Connection is one client socket fanned out to the target set named by a
// config.ConnectionConfig.
type Connection struct {
	id   string
	deps Deps

	mu    sync.RWMutex
	state State

	client           target.Adapter
	targets          []*targetSlot
	firstClientMsg   []byte
	selfID           onebot.ID
	cfg              config.ConnectionConfig
	reloading        bool

	echoes *echoCache

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce sync.Once
}

// New constructs a Connection wrapping an already-accepted client socket.
// The caller must have already upgraded the HTTP request to a WebSocket
// before calling this. parent is typically the owning listener's server
// context, so cancelling it (port removal, process shutdown) tears the
// connection down along with everything else derived from it.
func New(id string, client target.Adapter, cfg config.ConnectionConfig, deps Deps, parent context.Context) *Connection {
	ctx, cancel := context.WithCancel(parent)
	return &Connection{
		id:     id,
		deps:   deps,
		client: client,
		cfg:    cfg,
		echoes: newEchoCache(),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// targetCount returns how many target slots are configured, for tests and
// diagnostics.
func (c *Connection) targetCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.targets)
}

const reconnectSettleDelay = 5 * time.Second

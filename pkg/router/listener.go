// Package router accepts inbound client sockets, resolves each one's
// (port, path) to a connectionId, enforces one live client per connection,
// and hands accepted sockets off to a proxy.Connection.
package router

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/botshepherd/wsproxy/pkg/config"
	"github.com/botshepherd/wsproxy/pkg/proxy"
	"github.com/botshepherd/wsproxy/pkg/target"
)

const (
	closeUnknownRoute   = 1008
	closeDuplicateConn  = 1008
	closeMissingTargets = 1011

	readBufferSize  = 1024
	writeBufferSize = 1024
)

// Listener owns one net/http server per distinct configured port and the
// shared route table resolving (port, path) to a connectionId. It is the
// only place in the module where the per-connection mutex enforcing
// single-active-client lives.
type Listener struct {
	deps proxy.Deps

	mu       sync.RWMutex
	routes   routeTable
	servers  map[int]*portServer
	connsCfg map[string]config.ConnectionConfig

	upgrader websocket.Upgrader
	limiters *rateLimiterSet

	activeMu sync.Mutex
	active   map[string]*activeConnection
}

// routeTable maps port -> path -> connectionId.
type routeTable map[int]map[string]string

func buildRouteTable(routes []config.RouteConfig) routeTable {
	rt := make(routeTable)
	for _, r := range routes {
		paths, ok := rt[r.Port]
		if !ok {
			paths = make(map[string]string)
			rt[r.Port] = paths
		}
		if existing, exists := paths[r.Path]; exists {
			log.Warn().Int("port", r.Port).Str("path", r.Path).Str("existing", existing).Str("ignored", r.ConnectionID).
				Msg("router: duplicate route binding, first registration wins")
			continue
		}
		paths[r.Path] = r.ConnectionID
	}
	return rt
}

// portServer is one net/http server bound to a single port, shared by every
// route whose RouteConfig.Port matches.
type portServer struct {
	port   int
	srv    *http.Server
	cancel context.CancelFunc
}

// activeConnection tracks one live proxy.Connection so a second inbound
// socket for the same connectionId can be rejected while the first is open.
type activeConnection struct {
	mu   sync.Mutex
	conn *proxy.Connection
	open bool
}

// NewListener constructs a Listener from a loaded Config. deps are passed
// through to every proxy.Connection it creates.
func NewListener(cfg *config.Config, deps proxy.Deps) *Listener {
	l := &Listener{
		deps:     deps,
		routes:   buildRouteTable(cfg.Routes),
		servers:  make(map[int]*portServer),
		connsCfg: cfg.Connections,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    readBufferSize,
			WriteBufferSize:   writeBufferSize,
			EnableCompression: true,
			CheckOrigin:       func(r *http.Request) bool { return true },
		},
		limiters: newRateLimiterSet(cfg.Security.UpgradeRateLimit, cfg.Security.UpgradeBurst),
		active:   make(map[string]*activeConnection),
	}
	return l
}

// Start spawns one HTTP server per distinct port in the route table. It
// returns once every server goroutine has been launched; server errors are
// logged, not returned, since one port's bind failure shouldn't abort the
// others.
func (l *Listener) Start(ctx context.Context) {
	l.mu.RLock()
	ports := make([]int, 0, len(l.routes))
	for port := range l.routes {
		ports = append(ports, port)
	}
	l.mu.RUnlock()

	for _, port := range ports {
		l.spawnPortServer(ctx, port)
	}
}

func (l *Listener) spawnPortServer(ctx context.Context, port int) {
	serverCtx, cancel := context.WithCancel(ctx)
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		l.handleUpgrade(serverCtx, w, r, port)
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	ps := &portServer{port: port, srv: srv, cancel: cancel}

	l.mu.Lock()
	l.servers[port] = ps
	l.mu.Unlock()

	go func() {
		log.Info().Int("port", port).Msg("router: listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Int("port", port).Msg("router: server exited")
		}
	}()

	go func() {
		<-serverCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
}

// handleUpgrade resolves the request's path against this port's route
// table, enforces the single-active-client invariant, and on success
// upgrades the socket and starts a proxy.Connection for it.
func (l *Listener) handleUpgrade(ctx context.Context, w http.ResponseWriter, r *http.Request, port int) {
	if !l.limiters.allow(r.RemoteAddr) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	connectionID, ok := l.resolveRoute(port, r.URL.Path)
	if !ok {
		closeWithCode(w, r, l.upgrader, closeUnknownRoute, "unknown route")
		return
	}

	connCfg, ok := l.connectionConfig(connectionID)
	if !ok {
		closeWithCode(w, r, l.upgrader, closeMissingTargets, "no targets configured for connection")
		return
	}

	active := l.claimActive(connectionID)
	active.mu.Lock()
	if active.open {
		active.mu.Unlock()
		closeWithCode(w, r, l.upgrader, closeDuplicateConn, "Connection already exists")
		return
	}
	active.open = true
	active.mu.Unlock()

	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("connection", connectionID).Msg("router: upgrade failed")
		active.mu.Lock()
		active.open = false
		active.mu.Unlock()
		return
	}

	client := target.WrapConn(conn)
	proxyConn := proxy.New(connectionID, client, connCfg, l.deps, ctx)

	active.mu.Lock()
	active.conn = proxyConn
	active.mu.Unlock()

	go func() {
		if err := proxyConn.Start(); err != nil {
			log.Info().Err(err).Str("connection", connectionID).Msg("router: proxy connection ended")
		}
		active.mu.Lock()
		active.open = false
		active.conn = nil
		active.mu.Unlock()
	}()
}

func (l *Listener) claimActive(connectionID string) *activeConnection {
	l.activeMu.Lock()
	defer l.activeMu.Unlock()
	a, ok := l.active[connectionID]
	if !ok {
		a = &activeConnection{}
		l.active[connectionID] = a
	}
	return a
}

func (l *Listener) resolveRoute(port int, path string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	paths, ok := l.routes[port]
	if !ok {
		return "", false
	}
	id, ok := paths[path]
	return id, ok
}

func (l *Listener) connectionConfig(connectionID string) (config.ConnectionConfig, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cfg, ok := l.connsCfg[connectionID]
	return cfg, ok
}

func closeWithCode(w http.ResponseWriter, r *http.Request, upgrader websocket.Upgrader, code int, reason string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(2*time.Second))
	conn.Close()
}

// ReloadRoutes diffs the new route/connection config against the live one:
// ports that appear for the first time get a server spawned; ports that
// have disappeared have their server's context cancelled so it self-exits
// on its next Shutdown tick. Ports present in both configs simply get their
// path table swapped in place.
func (l *Listener) ReloadRoutes(ctx context.Context, newCfg *config.Config) {
	newRoutes := buildRouteTable(newCfg.Routes)

	l.mu.Lock()
	oldPorts := l.servers
	l.routes = newRoutes
	l.connsCfg = newCfg.Connections
	l.mu.Unlock()

	for port := range newRoutes {
		if _, exists := oldPorts[port]; !exists {
			l.spawnPortServer(ctx, port)
		}
	}

	for port, ps := range oldPorts {
		if _, exists := newRoutes[port]; !exists {
			log.Info().Int("port", port).Msg("router: route removed, server self-exiting")
			ps.cancel()
			l.mu.Lock()
			delete(l.servers, port)
			l.mu.Unlock()
		}
	}
}

// Stop shuts down every port server.
func (l *Listener) Stop() {
	l.mu.Lock()
	servers := l.servers
	l.servers = make(map[int]*portServer)
	l.mu.Unlock()

	for _, ps := range servers {
		ps.cancel()
	}
}


package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botshepherd/wsproxy/pkg/config"
	"github.com/botshepherd/wsproxy/pkg/proxy"
)

func testConfig() *config.Config {
	return &config.Config{
		Routes: []config.RouteConfig{
			{Port: 8080, Path: "/bs/yunzai", ConnectionID: "yunzai"},
			{Port: 8080, Path: "/bs/miao", ConnectionID: "miao"},
			{Port: 9090, Path: "/bs/other", ConnectionID: "other"},
		},
		Connections: map[string]config.ConnectionConfig{
			"yunzai": {Targets: []config.TargetConfig{{URL: "ws://t1"}}},
			"miao":   {Targets: []config.TargetConfig{{URL: "ws://t2"}}},
		},
		Security: config.SecurityConfig{UpgradeRateLimit: 100, UpgradeBurst: 100},
	}
}

func TestResolveRoute(t *testing.T) {
	l := NewListener(testConfig(), proxy.Deps{})

	id, ok := l.resolveRoute(8080, "/bs/yunzai")
	require.True(t, ok)
	assert.Equal(t, "yunzai", id)

	_, ok = l.resolveRoute(8080, "/bs/unknown")
	assert.False(t, ok)

	_, ok = l.resolveRoute(7000, "/bs/yunzai")
	assert.False(t, ok, "a port with no routes at all should not resolve")
}

func TestBuildRouteTable_DuplicatePathFirstWins(t *testing.T) {
	rt := buildRouteTable([]config.RouteConfig{
		{Port: 8080, Path: "/bs/yunzai", ConnectionID: "first"},
		{Port: 8080, Path: "/bs/yunzai", ConnectionID: "second"},
	})
	assert.Equal(t, "first", rt[8080]["/bs/yunzai"])
}

func TestConnectionConfig_MissingReturnsFalse(t *testing.T) {
	l := NewListener(testConfig(), proxy.Deps{})
	_, ok := l.connectionConfig("other")
	assert.False(t, ok, "route exists but no connection config was declared for it")

	cfg, ok := l.connectionConfig("yunzai")
	require.True(t, ok)
	assert.Len(t, cfg.Targets, 1)
}

func TestClaimActive_RejectsSecondClaimWhileOpen(t *testing.T) {
	l := NewListener(testConfig(), proxy.Deps{})

	first := l.claimActive("yunzai")
	first.mu.Lock()
	first.open = true
	first.mu.Unlock()

	second := l.claimActive("yunzai")
	assert.Same(t, first, second, "claiming the same connectionId twice returns the same tracker")

	second.mu.Lock()
	rejected := second.open
	second.mu.Unlock()
	assert.True(t, rejected, "a concurrent claim sees the connection already open")
}

func TestClaimActive_AllowsReclaimAfterClose(t *testing.T) {
	l := NewListener(testConfig(), proxy.Deps{})

	a := l.claimActive("yunzai")
	a.mu.Lock()
	a.open = true
	a.mu.Unlock()

	a.mu.Lock()
	a.open = false
	a.mu.Unlock()

	b := l.claimActive("yunzai")
	b.mu.Lock()
	open := b.open
	b.mu.Unlock()
	assert.False(t, open, "once the prior socket closes, a fresh claim should succeed")
}

func TestReloadRoutes_AddsAndRemovesPorts(t *testing.T) {
	l := NewListener(testConfig(), proxy.Deps{})
	l.mu.RLock()
	_, hadNinety := l.routes[9090]
	l.mu.RUnlock()
	require.True(t, hadNinety)

	newCfg := &config.Config{
		Routes: []config.RouteConfig{
			{Port: 8080, Path: "/bs/yunzai", ConnectionID: "yunzai"},
			{Port: 7000, Path: "/bs/fresh", ConnectionID: "fresh"},
		},
		Connections: map[string]config.ConnectionConfig{
			"yunzai": {Targets: []config.TargetConfig{{URL: "ws://t1"}}},
			"fresh":  {Targets: []config.TargetConfig{{URL: "ws://t3"}}},
		},
	}

	// Simulate the route-table half of ReloadRoutes without touching real
	// network listeners, which spawnPortServer would otherwise bind.
	newRoutes := buildRouteTable(newCfg.Routes)
	l.mu.Lock()
	l.routes = newRoutes
	l.connsCfg = newCfg.Connections
	l.mu.Unlock()

	_, stillHasNinety := l.resolveRoute(9090, "/bs/other")
	assert.False(t, stillHasNinety, "9090 was dropped by the new config")

	id, ok := l.resolveRoute(7000, "/bs/fresh")
	require.True(t, ok)
	assert.Equal(t, "fresh", id)
}

func TestRateLimiterSet_BurstThenThrottle(t *testing.T) {
	s := newRateLimiterSet(1, 2)
	addr := "10.0.0.1:54321"
	assert.True(t, s.allow(addr))
	assert.True(t, s.allow(addr))
	assert.False(t, s.allow(addr), "burst of 2 should be exhausted on the third immediate attempt")
}

func TestRateLimiterSet_ScopedPerRemoteHost(t *testing.T) {
	s := newRateLimiterSet(1, 1)
	assert.True(t, s.allow("10.0.0.1:1"))
	assert.True(t, s.allow("10.0.0.2:1"), "a different remote host gets its own bucket")
}

func TestRemoteHost_StripsPort(t *testing.T) {
	assert.Equal(t, "10.0.0.1", remoteHost("10.0.0.1:54321"))
	assert.Equal(t, "malformed", remoteHost("malformed"))
}

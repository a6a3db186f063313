package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/botshepherd/wsproxy/pkg/config"
	"github.com/botshepherd/wsproxy/pkg/hooks"
	"github.com/botshepherd/wsproxy/pkg/hooks/builtin"
	"github.com/botshepherd/wsproxy/pkg/logger"
	"github.com/botshepherd/wsproxy/pkg/maintenance"
	"github.com/botshepherd/wsproxy/pkg/persistence/sqlite"
	"github.com/botshepherd/wsproxy/pkg/proxy"
	"github.com/botshepherd/wsproxy/pkg/router"
)

func serveCmd(configPath string, debug bool) error {
	if debug {
		logger.SetLevel(logger.DEBUG)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("serve: loading config: %w", err)
	}

	store, err := sqlite.Open(cfg.Persistence.SQLitePath)
	if err != nil {
		return fmt.Errorf("serve: opening persistence store: %w", err)
	}
	defer store.Close()

	var hook hooks.CommandHook = hooks.NoopHook{}
	if cfg.Security.AuthRequired {
		hook = builtin.New(store, cfg.Security.AuthKeys, cfg.Security.BanThreshold, cfg.Security.BanFor)
	}

	deps := proxy.Deps{Hook: hook, Store: store}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeper := maintenance.NewSweeper(store, cfg.Maintenance.SweepCronExpr)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	listener := router.NewListener(cfg, deps)
	listener.Start(ctx)

	logger.InfoC("serve", fmt.Sprintf("obshepherd listening, %d route(s) configured", len(cfg.Routes)))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	<-sigCh

	logger.InfoC("serve", "shutting down")
	cancel()
	listener.Stop()

	// Cancelling ctx has cancelled every proxy connection derived from it;
	// give their teardown a moment to run before the process exits. This
	// path does not call Connection.Stop and does not wait for the
	// connections to finish.
	time.Sleep(100 * time.Millisecond)

	logger.InfoC("serve", "stopped")
	return nil
}

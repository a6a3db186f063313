// Package maintenance runs the cron-scheduled ban-expiry sweep: a
// recurring job that clears auth_status rows whose ban has expired,
// mirroring the one-shot cleanup the reference implementation ran at
// process start, turned into a recurring job since this process is
// long-lived.
package maintenance

import (
	"context"
	"time"

	"github.com/adhocore/gronx"
	"github.com/rs/zerolog/log"

	"github.com/botshepherd/wsproxy/pkg/persistence"
)

// DefaultExpr runs the sweep every two minutes.
const DefaultExpr = "*/2 * * * *"

// Sweeper periodically calls persistence.Store.SweepExpiredBans according
// to a cron expression, evaluated with adhocore/gronx.
type Sweeper struct {
	store  persistence.Store
	expr   string
	gronx  *gronx.Gronx
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper builds a Sweeper for store using the given cron expression.
// An empty expr falls back to DefaultExpr.
func NewSweeper(store persistence.Store, expr string) *Sweeper {
	if expr == "" {
		expr = DefaultExpr
	}
	return &Sweeper{store: store, expr: expr, gronx: gronx.New(), done: make(chan struct{})}
}

// Start runs the sweep loop in a background goroutine until ctx is
// canceled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.loop(ctx)
}

// Stop ends the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)
	if !s.gronx.IsValid(s.expr) {
		log.Error().Str("expr", s.expr).Msg("maintenance: invalid cron expression, sweep disabled")
		return
	}
	for {
		next, err := gronx.NextTickAfter(s.expr, time.Now(), false)
		if err != nil {
			log.Error().Err(err).Str("expr", s.expr).Msg("maintenance: invalid cron expression, sweep disabled")
			return
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	n, err := s.store.SweepExpiredBans(ctx, time.Now())
	if err != nil {
		log.Error().Err(err).Msg("maintenance: ban sweep failed")
		return
	}
	if n > 0 {
		log.Info().Int("cleared", n).Msg("maintenance: cleared expired bans")
	}
}

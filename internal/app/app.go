// Package app runs the process lifecycle: it wires dependencies, serves the
// status API and walks the 15-minute markets one session at a time.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polysnipe/internal/config"
	"github.com/alanyoungcy/polysnipe/internal/domain"
	"github.com/alanyoungcy/polysnipe/internal/runtime"
	"github.com/alanyoungcy/polysnipe/internal/server"
	"github.com/alanyoungcy/polysnipe/internal/server/handler"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	rc      *runtime.Context
	deps    *Dependencies
	sinks   []domain.EventSink
	closers []func()
	now     func() time.Time

	mu        sync.Mutex
	unsettled []*session
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
		rc:     runtime.New(cfg.DryRun, time.Now()),
		now:    time.Now,
	}
}

// Run wires all dependencies and blocks until ctx is cancelled or a
// component fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("session", a.rc.ID()),
		slog.Bool("dry_run", a.cfg.DryRun),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.rc, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	a.deps = deps
	a.sinks = a.eventSinks()
	a.restorePnL(ctx)

	g, gctx := errgroup.WithContext(ctx)

	if a.cfg.Server.Enabled {
		srv := a.newServer()
		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if deps.Hub != nil && deps.Bus != nil {
		g.Go(func() error {
			err := deps.Hub.Relay(gctx, deps.Bus, deps.Bus.Channel("*"))
			if err != nil && gctx.Err() == nil {
				a.logger.Warn("event relay stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	g.Go(func() error { return a.loop(gctx) })

	return g.Wait()
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	if !a.rc.Close() {
		return
	}
	a.logger.Info("shutting down application",
		slog.Float64("cumulative_pnl", a.rc.CumulativePnL()),
	)
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// loop discovers the current market every poll interval and runs one
// session per market. Settlement of a finished market proceeds in the
// background so the next window is never missed.
func (a *App) loop(ctx context.Context) error {
	var settling errgroup.Group
	defer func() {
		_ = settling.Wait()
		for _, s := range a.takeUnsettled() {
			s.logger.Warn("shutting down with market unsettled")
			s.closeStream(ctx)
		}
	}()

	ticker := time.NewTicker(a.cfg.Markets.PollInterval.Duration)
	defer ticker.Stop()

	var last string
	for {
		m, err := a.deps.Gamma.FindMarket(ctx, a.now())
		switch {
		case err != nil:
			if ctx.Err() == nil {
				a.logger.Debug("no market yet", slog.String("error", err.Error()))
			}
		case m.ID == last:
		default:
			last = m.ID
			if left := m.TimeToResolution(a.now()); left < a.cfg.Markets.MinTimeLeft.Duration {
				a.logger.Info("skipping market, too close to resolution",
					slog.String("slug", m.Slug),
					slog.Duration("left", left),
				)
				a.rc.Skip()
				break
			}
			s, err := a.runSession(ctx, m)
			switch {
			case errors.Is(err, domain.ErrMarketSkipped), errors.Is(err, domain.ErrLockHeld):
				a.logger.Info("market skipped", slog.String("slug", m.Slug), slog.String("reason", err.Error()))
				a.rc.Skip()
			case err != nil:
				a.logger.Error("session failed", slog.String("slug", m.Slug), slog.String("error", err.Error()))
				if s == nil {
					a.rc.Fail()
				}
			}
			if s != nil {
				settling.Go(func() error {
					s.settle(ctx)
					return nil
				})
			}
			for _, late := range a.takeUnsettled() {
				settling.Go(func() error {
					late.settle(ctx)
					return nil
				})
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// deferSettle queues s for another settlement attempt when the next
// market starts.
func (a *App) deferSettle(s *session) {
	a.mu.Lock()
	a.unsettled = append(a.unsettled, s)
	a.mu.Unlock()
}

func (a *App) takeUnsettled() []*session {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.unsettled
	a.unsettled = nil
	return out
}

// restorePnL seeds the loss limit with today's booked results.
func (a *App) restorePnL(ctx context.Context) {
	if a.deps.Results == nil {
		return
	}
	now := a.now().UTC()
	since := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	pnl, err := a.deps.Results.SumPnL(ctx, since)
	if err != nil {
		a.logger.Warn("could not restore pnl", slog.String("error", err.Error()))
		return
	}
	a.rc.Restore(pnl)
	a.logger.Info("restored pnl", slog.Float64("pnl", pnl), slog.Time("since", since))
}

// eventSinks picks where session events go. With a bus, the hub relays
// from it so clients see every process; otherwise the hub is fed
// directly. Notifications never go through the bus.
func (a *App) eventSinks() []domain.EventSink {
	var sinks []domain.EventSink
	if a.deps.Notifier.Enabled() {
		sinks = append(sinks, a.deps.Notifier)
	}
	switch {
	case a.deps.Bus != nil:
		sinks = append(sinks, a.deps.Bus)
	case a.deps.Hub != nil:
		sinks = append(sinks, a.deps.Hub)
	}
	return sinks
}

// announce delivers e to every sink. Failures are logged, never returned.
func (a *App) announce(ctx context.Context, e domain.Event) {
	for _, sink := range a.sinks {
		if err := sink.Announce(ctx, e); err != nil {
			a.logger.Warn("announce failed",
				slog.String("kind", string(e.Kind)),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (a *App) newServer() *server.Server {
	deps := a.deps
	extras := func() map[string]any {
		out := map[string]any{"mode": a.cfg.Mode}
		if deps.Presign != nil {
			out["presign"] = deps.Presign.Stats()
		}
		if deps.Executor != nil {
			out["breaker"] = deps.Executor.Breaker().State().String()
		}
		if deps.Hub != nil {
			out["ws_clients"] = deps.Hub.Clients()
		}
		return out
	}
	return server.NewServer(server.Config{
		Addr:        a.cfg.Server.Addr,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		Token:       a.cfg.Server.Token,
		RateLimit:   a.cfg.Server.RateLimit,
	}, server.Handlers{
		Health:    handler.NewHealthHandler(deps.Health, a.logger),
		Positions: handler.NewPositionHandler(deps.Tracker, a.logger),
		Session:   handler.NewSessionHandler(a.rc, a.cfg.Ladder.Strategy, extras),
	}, deps.Hub, deps.Limiter, a.logger)
}

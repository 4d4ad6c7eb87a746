package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polysnipe/internal/datalog"
	"github.com/alanyoungcy/polysnipe/internal/domain"
	"github.com/alanyoungcy/polysnipe/internal/ladder"
	"github.com/alanyoungcy/polysnipe/internal/orderbook"
	"github.com/alanyoungcy/polysnipe/internal/platform/advisory"
	"github.com/alanyoungcy/polysnipe/internal/platform/polymarket"
	"github.com/alanyoungcy/polysnipe/internal/signal"
	"github.com/alanyoungcy/polysnipe/internal/strategy"
)

// teardownTimeout bounds the cancels and uploads that run after a
// session's own context has ended.
const teardownTimeout = 10 * time.Second

// resyncInterval spaces REST book refetches for one outcome while its
// side stays stale.
const resyncInterval = 500 * time.Millisecond

// session is one market from discovery to resolution bookkeeping.
type session struct {
	app    *App
	market domain.Market
	logger *slog.Logger

	book    *orderbook.Store
	engine  *signal.Engine
	mailbox *signal.Mailbox
	ladder  *ladder.Manager // nil in monitor mode
	stream  *datalog.Stream // nil when the datalog is off

	resyncAt [2]time.Time // owned by ingest

	startedAt time.Time
	endedAt   time.Time
	orders    atomic.Int64 // snipe legs; ladder orders are added at teardown
	fills     atomic.Int64
	residual  int
	deferred  bool // settlement already timed out once
}

// runSession trades m until it ends. A non-nil session is returned once
// trading began, even with an error, so the caller can still settle it.
func (a *App) runSession(ctx context.Context, m domain.Market) (*session, error) {
	if err := a.deps.Risk.AllowSession(ctx, m); err != nil {
		return nil, err
	}

	if a.deps.Locks != nil {
		unlock, err := a.deps.Locks.Acquire(ctx, "session:"+m.ID, a.cfg.Redis.LockTTL.Duration)
		if err != nil {
			return nil, fmt.Errorf("app: lock %s: %w", m.Slug, err)
		}
		defer unlock()
	}

	if err := a.activateArena(ctx, m); err != nil {
		return nil, err
	}
	if a.deps.Presign != nil {
		defer a.deps.Presign.Release(m.ID)
	}

	s, err := a.newSession(m)
	if err != nil {
		return nil, err
	}
	a.rc.Begin(m)
	defer a.rc.End(m.ID)

	s.logger.Info("session started",
		slog.Time("ends_at", m.EndsAt),
		slog.Bool("trading", s.ladder != nil),
	)
	err = s.run(ctx)
	s.teardown(ctx)
	return s, err
}

// activateArena promotes the presigned arena for m, building it first
// when the previous session did not stage it in time.
func (a *App) activateArena(ctx context.Context, m domain.Market) error {
	if a.deps.Presign == nil || !a.cfg.Presign.Enabled {
		return nil
	}
	if err := a.deps.Presign.Activate(m.ID); err == nil {
		return nil
	}
	bctx, cancel := context.WithTimeout(ctx, a.cfg.Presign.BuildDeadline.Duration)
	defer cancel()
	if err := a.deps.Presign.Build(bctx, m); err != nil {
		return fmt.Errorf("app: %v: %w", err, domain.ErrMarketSkipped)
	}
	return a.deps.Presign.Activate(m.ID)
}

func (a *App) newSession(m domain.Market) (*session, error) {
	s := &session{
		app:       a,
		market:    m,
		logger:    a.logger.With(slog.String("market", m.Slug)),
		book:      orderbook.New(m.ID),
		mailbox:   signal.NewMailbox(),
		startedAt: a.now(),
	}

	var advisor signal.Advisor
	if a.deps.Advisor != nil {
		advisor = a.deps.Advisor
	}
	s.engine = signal.NewEngine(m.ID, a.cfg.Signal.SnipeThreshold, s.book, advisor)

	if a.deps.Executor != nil {
		lc := a.cfg.Ladder
		strat, err := a.deps.Strategies.New(lc.Strategy, strategy.Config{
			Name:        lc.Strategy,
			Size:        lc.Size,
			MaxPosition: lc.MaxPosition,
			TakeProfit:  lc.TakeProfit,
			StopLoss:    lc.StopLoss,
			MinEdge:     lc.MinEdge,
			MinFillProb: lc.MinFillProb,
			ExitLead:    lc.ExitLead.Duration,
			Params:      lc.Params,
		}, s.logger)
		if err != nil {
			return nil, fmt.Errorf("app: strategy: %w", err)
		}
		s.ladder = ladder.NewManager(m, strat, a.deps.Executor, a.deps.Tracker, ladder.Config{
			Margin:    lc.Margin,
			Tolerance: lc.Tolerance,
			MinSize:   lc.MinSize,
			OrderType: domain.OrderType(strings.ToUpper(lc.OrderType)),
		}, s.logger)
	}

	if a.deps.Datalog != nil {
		stream, err := a.deps.Datalog.Open(m)
		if err != nil {
			// The session trades without a record rather than not at all.
			s.logger.Warn("datalog unavailable", slog.String("error", err.Error()))
		} else {
			s.stream = stream
		}
	}
	return s, nil
}

// ---------------------------------------------------------------------------
// Live phase
// ---------------------------------------------------------------------------

// run blocks until the market ends or ctx is cancelled.
func (s *session) run(ctx context.Context) error {
	deps := s.app.deps
	cfg := s.app.cfg

	sctx, cancel := context.WithDeadline(ctx, s.market.EndsAt)
	defer cancel()
	g, gctx := errgroup.WithContext(sctx)

	feed := polymarket.NewMarketFeed(cfg.Polymarket.WsHost+"/market", s.market, s.logger)
	g.Go(func() error { return feed.Run(gctx) })
	g.Go(func() error { return s.ingest(gctx, feed.Updates()) })
	g.Go(func() error { return s.react(gctx) })
	g.Go(func() error {
		s.stageNext(gctx)
		return nil
	})

	if s.ladder != nil {
		g.Go(func() error { return s.tend(gctx) })
		if deps.Auth != nil {
			user := polymarket.NewUserFeed(cfg.Polymarket.WsHost+"/user", deps.Auth, []string{s.market.ID}, s.logger)
			g.Go(func() error { return user.Run(gctx) })
			g.Go(func() error { return s.route(gctx, user.Fills()) })
		}
	}

	if deps.Advisor != nil {
		g.Go(func() error {
			deps.Advisor.Run(gctx, s.market.ID, cfg.Advisory.Interval.Duration, s.features)
			return nil
		})
	}

	err := g.Wait()
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ingest is the single writer of the book.
func (s *session) ingest(ctx context.Context, updates <-chan polymarket.BookUpdate) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u := <-updates:
			switch {
			case u.Snapshot != nil:
				if err := s.book.ApplySnapshot(*u.Snapshot); err != nil {
					s.logger.Debug("snapshot rejected", slog.String("error", err.Error()))
					continue
				}
			case u.Delta != nil:
				err := s.book.ApplyDelta(*u.Delta)
				if errors.Is(err, domain.ErrResyncRequired) {
					s.resync(ctx, u.Delta.Outcome, u.Delta.Sequence)
				} else if err != nil {
					s.logger.Debug("delta rejected", slog.String("error", err.Error()))
					continue
				}
			}
			s.observe(ctx)
		}
	}
}

// resync refetches one outcome's book and stamps it with the sequence
// of the delta that exposed the gap.
func (s *session) resync(ctx context.Context, o domain.Outcome, seq uint64) {
	now := time.Now()
	if now.Sub(s.resyncAt[o]) < resyncInterval {
		return
	}
	s.resyncAt[o] = now

	book, err := s.app.deps.Clob.GetBook(ctx, s.market.TokenID(o))
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("book resync failed", slog.String("outcome", o.String()), slog.String("error", err.Error()))
		}
		return
	}
	if err := s.book.ApplySnapshot(book.ToSnapshot(o, seq)); err != nil {
		s.logger.Warn("resync snapshot rejected", slog.String("error", err.Error()))
		return
	}
	s.logger.Info("book resynced", slog.String("outcome", o.String()), slog.Uint64("seq", seq))
}

func (s *session) observe(ctx context.Context) {
	sig, ok := s.engine.Observe(s.app.now())
	if !ok {
		return
	}
	s.mailbox.Put(sig)
	s.record("signal", func(st *datalog.Stream) error { return st.Signal(sig) })
	s.app.announce(ctx, domain.SignalEvent(s.market.Slug, sig))
}

// react hands the latest signal to the strategy. Older signals are
// replaced in the mailbox, never queued.
func (s *session) react(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.mailbox.Ready():
			sig, ok := s.mailbox.Take()
			if !ok || s.ladder == nil {
				continue
			}
			d := s.ladder.Strategy().OnSignal(s.ladder.View(s.book.Tops()), sig)
			switch d.Action {
			case ladder.ActionHold:
			case ladder.ActionSnipe:
				s.snipe(ctx, sig, d)
			default:
				if _, err := s.ladder.Apply(ctx, d); err != nil {
					s.logger.Warn("decision not applied",
						slog.String("action", d.Action.String()),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}
}

// snipe submits both legs of a window as fill-or-kill orders.
func (s *session) snipe(ctx context.Context, sig domain.Signal, d ladder.Decision) {
	cfg := s.app.cfg
	exec := s.app.deps.Executor
	if len(d.Rungs) != 2 || d.Rungs[0].Outcome == d.Rungs[1].Outcome {
		s.logger.Warn("snipe needs one leg per outcome", slog.Int("legs", len(d.Rungs)))
		return
	}

	validUntil := sig.DetectedAt.Add(cfg.Executor.SignalValidity.Duration)
	var legs [2]domain.OrderRequest
	for _, r := range d.Rungs {
		legs[r.Outcome] = domain.OrderRequest{
			ClientID:   uuid.NewString(),
			MarketID:   s.market.ID,
			TokenID:    s.market.TokenID(r.Outcome),
			Outcome:    r.Outcome,
			Side:       r.Side,
			Type:       domain.OrderTypeFOK,
			Price:      r.Price,
			Size:       r.Size,
			NegRisk:    s.market.NegRisk,
			ValidUntil: validUntil,
		}
	}
	if err := s.app.deps.Risk.PreTradeCheck(ctx, s.market.ID, legs[:], s.book.Tops()); err != nil {
		s.logger.Info("snipe blocked", slog.Uint64("window", sig.Window), slog.String("reason", err.Error()))
		return
	}
	if !exec.Claim(fmt.Sprintf("%s:%d", s.market.ID, sig.Window)) {
		return
	}

	start := time.Now()
	res, err := exec.SubmitPair(ctx, legs[domain.OutcomeUp], legs[domain.OutcomeDown], s.ladder)
	s.orders.Add(2)
	s.record("order", func(st *datalog.Stream) error {
		return st.Order(legs[domain.OutcomeUp], res.Up, res.UpErr)
	})
	s.record("order", func(st *datalog.Stream) error {
		return st.Order(legs[domain.OutcomeDown], res.Down, res.DownErr)
	})

	attrs := []any{
		slog.Uint64("window", sig.Window),
		slog.Float64("combined", sig.Combined),
		slog.Bool("filled", res.Filled()),
		slog.Duration("took", time.Since(start)),
	}
	switch {
	case err != nil:
		s.logger.Warn("snipe failed", append(attrs, slog.String("error", err.Error()))...)
	case res.Filled():
		s.logger.Info("snipe submitted", attrs...)
	default:
		s.logger.Info("snipe missed", attrs...)
	}

	if res.Hedge != "" {
		lone := domain.OutcomeUp
		if res.UpErr != nil {
			lone = domain.OutcomeDown
		}
		leg := legs[lone]
		s.app.announce(ctx, domain.Event{
			Kind:     domain.EventExposure,
			MarketID: s.market.ID,
			Slug:     s.market.Slug,
			At:       s.app.now(),
			Outcome:  lone.String(),
			Side:     leg.Side.String(),
			Price:    leg.Price,
			Size:     leg.Size,
		})
	}
}

// tend places the ladder once both books are live, keeps it reconciled,
// and sweeps it ahead of resolution.
func (s *session) tend(ctx context.Context) error {
	cfg := s.app.cfg.Ladder
	ticker := time.NewTicker(cfg.ReconcileInterval.Duration)
	defer ticker.Stop()

	planned := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if !planned {
			if tops := s.book.Tops(); tops.Complete() {
				orders, err := s.ladder.PlanLadder(cfg.Capital, cfg.Levels, cfg.Spacing, tops)
				if err != nil {
					s.logger.Warn("ladder not planned", slog.String("error", err.Error()))
				} else {
					s.logger.Info("ladder planned", slog.Int("orders", len(orders)))
				}
				planned = true
			}
		}

		if err := s.ladder.Reconcile(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("reconcile failed", slog.String("error", err.Error()))
		}

		if rep := s.ladder.SweepBeforeResolution(ctx, cfg.SweepLead.Duration); rep.Swept {
			s.flagResiduals(ctx, rep.Residual)
		}
	}
}

// route applies our fills in delivery order.
func (s *session) route(ctx context.Context, fills <-chan domain.Fill) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-fills:
			if f.MarketID != s.market.ID {
				continue
			}
			s.onFill(ctx, f)
		}
	}
}

func (s *session) onFill(ctx context.Context, f domain.Fill) {
	deps := s.app.deps
	res, err := s.ladder.OnFill(f, s.book.Tops())
	if err != nil {
		s.logger.Warn("fill not applied", slog.String("fill", f.ID), slog.String("error", err.Error()))
		return
	}
	if res.Duplicate {
		return
	}
	s.fills.Add(1)
	s.record("fill", func(st *datalog.Stream) error { return st.Fill(f) })
	if deps.Fills != nil {
		if err := deps.Fills.InsertBatch(ctx, []domain.Fill{f}); err != nil {
			s.logger.Warn("fill not journaled", slog.String("fill", f.ID), slog.String("error", err.Error()))
		}
	}
	s.app.announce(ctx, domain.Event{
		Kind:     domain.EventFill,
		MarketID: s.market.ID,
		Slug:     s.market.Slug,
		At:       f.Timestamp,
		Outcome:  f.Outcome.String(),
		Side:     f.Side.String(),
		Price:    f.Price,
		Size:     f.Size,
	})

	if res.Overfill > 0 {
		s.logger.Warn("overfill", slog.String("fill", f.ID), slog.Float64("excess", res.Overfill))
	}
	if rb := res.Rebalance; rb != nil {
		s.logger.Info("rebalancing",
			slog.String("under", rb.Under.String()),
			slog.Float64("shares", rb.Shares),
			slog.Int("resized", len(rb.Resized)),
		)
	}
	if res.Decision.Action != ladder.ActionHold && res.Decision.Action != ladder.ActionSnipe {
		if _, err := s.ladder.Apply(ctx, res.Decision); err != nil {
			s.logger.Warn("fill decision not applied", slog.String("error", err.Error()))
		}
	}
}

// stageNext presigns the following market while this one trades, so
// the next session starts with its arena ready.
func (s *session) stageNext(ctx context.Context) {
	deps := s.app.deps
	cfg := s.app.cfg
	if deps.Presign == nil || !cfg.Presign.Enabled {
		return
	}
	slug := deps.Gamma.Slug(s.market.EndsAt)
	ticker := time.NewTicker(cfg.Markets.PollInterval.Duration)
	defer ticker.Stop()
	for {
		next, err := deps.Gamma.MarketBySlug(ctx, slug)
		if err == nil {
			if err := deps.Presign.Build(ctx, next); err != nil && ctx.Err() == nil {
				s.logger.Warn("next arena not built", slog.String("next", slug), slog.String("error", err.Error()))
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *session) features() (advisory.Features, bool) {
	tops := s.book.Tops()
	if !tops.Complete() {
		return advisory.Features{}, false
	}
	now := s.app.now()
	combined := tops.Combined()
	return advisory.Features{
		SpreadNow:           (1 - combined) * 100,
		UpAsk:               tops.BestAsk[domain.OutcomeUp],
		DownAsk:             tops.BestAsk[domain.OutcomeDown],
		CombinedAsk:         combined,
		SecondsToResolution: s.market.TimeToResolution(now).Seconds(),
		MinuteOfPeriod:      now.Sub(s.market.StartsAt).Minutes(),
	}, true
}

// ---------------------------------------------------------------------------
// Teardown and settlement
// ---------------------------------------------------------------------------

// teardown cancels whatever the sweep missed. It runs after the session
// context has ended, so it works on a detached one.
func (s *session) teardown(ctx context.Context) {
	s.endedAt = s.app.now()
	if s.ladder == nil {
		return
	}
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()
	if rep := s.ladder.SweepBeforeResolution(tctx, math.MaxInt64); rep.Swept {
		s.flagResiduals(tctx, rep.Residual)
	}
	s.orders.Add(int64(len(s.ladder.Orders())))
	s.residual = len(s.ladder.Residuals())
	s.logger.Info("session ended",
		slog.Int64("orders", s.orders.Load()),
		slog.Int64("fills", s.fills.Load()),
		slog.Int("residual", s.residual),
	)
}

func (s *session) flagResiduals(ctx context.Context, residual []ladder.Residual) {
	for _, r := range residual {
		s.logger.Warn("residual exposure",
			slog.String("order", r.OrderID),
			slog.String("outcome", r.Outcome.String()),
			slog.Float64("remaining", r.Remaining),
			slog.String("reason", r.Reason),
		)
		s.app.announce(ctx, domain.Event{
			Kind:     domain.EventExposure,
			MarketID: s.market.ID,
			Slug:     s.market.Slug,
			At:       r.At,
			Outcome:  r.Outcome.String(),
			Side:     r.Side.String(),
			Price:    r.Price,
			Size:     r.Remaining,
		})
	}
}

// settle waits for the venue to resolve the market, books the result
// and closes the record stream. A market the venue has not resolved in
// time is handed back to the app and settled on a later attempt; its
// position stays in the tracker meanwhile.
func (s *session) settle(ctx context.Context) {
	a := s.app
	deps := a.deps

	winner, err := s.awaitResolution(ctx)
	if err != nil {
		if ctx.Err() != nil {
			s.closeStream(ctx)
			return
		}
		s.logger.Warn("resolution not observed, deferring", slog.String("error", err.Error()))
		if !s.deferred {
			s.deferred = true
			a.rc.Fail()
		}
		a.deferSettle(s)
		return
	}

	defer s.closeStream(ctx)
	if deps.Advisor != nil {
		defer deps.Advisor.Forget(s.market.ID)
	}

	r := deps.Tracker.Resolve(s.market.ID, winner)
	r.Slug = s.market.Slug
	r.Residual = s.residual
	if r.Shares[domain.OutcomeUp] == 0 && r.Shares[domain.OutcomeDown] == 0 {
		s.logger.Info("market resolved without a position", slog.String("winner", winner.String()))
		deps.Tracker.Evict(s.market.ID)
		return
	}

	total := a.rc.Book(r)
	if deps.Results != nil {
		if err := deps.Results.Upsert(ctx, r); err != nil {
			s.logger.Warn("result not stored", slog.String("error", err.Error()))
		}
	}
	s.record("pnl", func(st *datalog.Stream) error { return st.PnL(r, total) })
	a.announce(ctx, domain.Event{
		Kind:     domain.EventPnL,
		MarketID: s.market.ID,
		Slug:     s.market.Slug,
		At:       r.ResolvedAt,
		Outcome:  winner.String(),
		PnL:      r.RealizedPnL,
		Total:    total,
	})
}

// awaitResolution polls the venue until it names a winner or the
// resolution timeout passes.
func (s *session) awaitResolution(ctx context.Context) (domain.Outcome, error) {
	cfg := s.app.cfg.Markets
	rctx, cancel := context.WithTimeout(ctx, cfg.ResolutionTimeout.Duration)
	defer cancel()
	ticker := time.NewTicker(cfg.PollInterval.Duration)
	defer ticker.Stop()
	for {
		winner, err := s.app.deps.Gamma.Resolution(rctx, s.market.Slug)
		if err == nil {
			return winner, nil
		}
		if !errors.Is(err, domain.ErrNotResolved) && rctx.Err() == nil {
			s.logger.Debug("resolution poll failed", slog.String("error", err.Error()))
		}
		select {
		case <-rctx.Done():
			return 0, fmt.Errorf("app: resolve %s: %w", s.market.Slug, rctx.Err())
		case <-ticker.C:
		}
	}
}

// closeStream writes the summary and archives the stream.
func (s *session) closeStream(ctx context.Context) {
	if s.stream == nil {
		return
	}
	pos := s.app.deps.Tracker.Position(s.market.ID)
	locked, _ := s.app.deps.Tracker.LockedProfit(s.market.ID).Float64()
	sum := datalog.Summary{
		Slug:          s.market.Slug,
		Question:      s.market.Question,
		StartedAt:     s.startedAt,
		EndedAt:       s.endedAt,
		UpShares:      pos.Held(domain.OutcomeUp),
		DownShares:    pos.Held(domain.OutcomeDown),
		UpCost:        pos.Cost[domain.OutcomeUp],
		DownCost:      pos.Cost[domain.OutcomeDown],
		LockedProfit:  locked,
		Windows:       s.engine.Windows(),
		OrdersPlaced:  int(s.orders.Load()),
		FillsReceived: int(s.fills.Load()),
		DryRun:        s.app.cfg.DryRun,
	}
	s.record("summary", func(st *datalog.Stream) error { return st.Summary(sum) })

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()
	key, err := s.stream.Close(cctx)
	switch {
	case err != nil:
		s.logger.Warn("record stream not archived", slog.String("error", err.Error()))
	case key != "":
		s.logger.Info("record stream archived", slog.String("key", key))
	}
}

// record writes to the stream when there is one. Write failures never
// stop the session.
func (s *session) record(what string, write func(*datalog.Stream) error) {
	if s.stream == nil {
		return
	}
	if err := write(s.stream); err != nil {
		s.logger.Warn("record not written", slog.String("record", what), slog.String("error", err.Error()))
	}
}

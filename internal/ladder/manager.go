// Package ladder keeps a market's resting limit orders: it plans paired
// price ladders, tracks every order through its lifecycle, resizes the
// ladder when fills leave the position lopsided and pulls everything
// before the market resolves.
package ladder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polysnipe/internal/domain"
	"github.com/alanyoungcy/polysnipe/internal/orderbook"
)

// Submitter places and cancels orders at the venue.
type Submitter interface {
	Submit(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error)
	Cancel(ctx context.Context, orderID string) error
}

// FillRecorder is the position side of fill handling.
type FillRecorder interface {
	// RecordFill returns false when the fill id was already seen.
	RecordFill(f domain.Fill) (bool, error)
	Position(marketID string) domain.Position
}

// Config tunes a Manager.
type Config struct {
	Margin    float64 // pairs price at or below 1-Margin
	Tolerance float64 // filled-share imbalance ratio that triggers a rebalance
	MinSize   float64
	OrderType domain.OrderType

	CancelBackoff    time.Duration
	MaxCancelBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.Tolerance <= 0 {
		c.Tolerance = 0.2
	}
	if c.MinSize <= 0 {
		c.MinSize = 5
	}
	if c.OrderType == "" {
		c.OrderType = domain.OrderTypeGTC
	}
	if c.CancelBackoff <= 0 {
		c.CancelBackoff = 100 * time.Millisecond
	}
	if c.MaxCancelBackoff < c.CancelBackoff {
		c.MaxCancelBackoff = 2 * time.Second
	}
	return c
}

// Resize records one target change made by a rebalance.
type Resize struct {
	OrderID string
	From    float64
	To      float64
}

// RebalanceRequest describes how the ladder was resized to bring filled
// shares back in line.
type RebalanceRequest struct {
	MarketID string
	Under    domain.Outcome // the side short of shares
	Shares   float64        // filled-share gap at the time of the request
	Resized  []Resize
	Created  string // id of a new order when no under-side order existed
	At       time.Time
}

// Residual is order exposure the manager could not clear.
type Residual struct {
	OrderID   string
	VenueID   string
	Outcome   domain.Outcome
	Side      domain.OrderSide
	Price     float64
	Remaining float64
	Reason    string
	At        time.Time
}

// FillResult is the outcome of handing a fill to the manager.
type FillResult struct {
	Duplicate bool
	Order     *Order // snapshot of the matched ladder order, nil if none
	Overfill  float64
	Rebalance *RebalanceRequest
	Decision  Decision
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	Swept     bool
	Cancelled int
	Residual  []Residual
}

// Manager owns the ladder of one market.
type Manager struct {
	market domain.Market
	strat  Strategy
	sub    Submitter
	fills  FillRecorder
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	orders   []*Order
	byID     map[string]*Order
	byVenue  map[string]*Order
	residual []Residual
	capital  float64
	closed   bool
	swept    bool
}

// NewManager creates a Manager for market driven by strat.
func NewManager(market domain.Market, strat Strategy, sub Submitter, fills FillRecorder, cfg Config, logger *slog.Logger) *Manager {
	return &Manager{
		market:  market,
		strat:   strat,
		sub:     sub,
		fills:   fills,
		cfg:     cfg.withDefaults(),
		logger:  logger.With(slog.String("component", "ladder"), slog.String("market", market.Slug)),
		now:     time.Now,
		byID:    make(map[string]*Order),
		byVenue: make(map[string]*Order),
	}
}

// SetClock replaces the time source, for tests.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Strategy returns the strategy parameterizing this ladder.
func (m *Manager) Strategy() Strategy { return m.strat }

// View assembles the strategy view from current state.
func (m *Manager) View(tops orderbook.Tops) View {
	return View{
		Market:   m.market,
		Tops:     tops,
		Position: m.fills.Position(m.market.ID),
		Now:      m.now(),
	}
}

// PlanLadder asks the strategy for rungs and adds the ones that keep
// the ladder within margin and capital as pending orders. It returns
// snapshots of the orders added.
func (m *Manager) PlanLadder(capital float64, levels int, spacing float64, tops orderbook.Tops) ([]Order, error) {
	p := PlanParams{
		Capital: capital,
		Levels:  levels,
		Spacing: spacing,
		Margin:  m.cfg.Margin,
		Tick:    m.market.Tick(),
		MinSize: m.cfg.MinSize,
	}
	rungs := m.strat.PlanOrders(m.View(tops), p)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("ladder: plan %s: %w", m.market.Slug, domain.ErrMarketSkipped)
	}
	m.capital = capital
	return m.admitLocked(rungs), nil
}

// Apply carries out a strategy decision that targets the ladder.
// Snipe decisions go to the executor and are ignored here.
func (m *Manager) Apply(ctx context.Context, d Decision) ([]Order, error) {
	switch d.Action {
	case ActionPlace:
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed {
			return nil, nil
		}
		return m.admitLocked(d.Rungs), nil
	case ActionExit:
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed {
			return nil, nil
		}
		return m.exitLocked(d.Rungs), nil
	case ActionCancelAll:
		rep := m.cancelAll(ctx, "strategy: "+d.Reason)
		if len(rep.Residual) > 0 {
			return nil, fmt.Errorf("ladder: cancel all: %d orders left open: %w", len(rep.Residual), domain.ErrPartialFillImbalance)
		}
	}
	return nil, nil
}

func (m *Manager) admitLocked(rungs []Rung) []Order {
	var buys, sells []Rung
	for _, r := range rungs {
		if r.Side == domain.OrderSideSell {
			sells = append(sells, r)
		} else {
			buys = append(buys, r)
		}
	}
	added := m.exitLocked(sells)
	if len(buys) == 0 {
		return added
	}

	var existing []Rung
	for _, o := range m.orders {
		if !o.State.Terminal() && o.Side == domain.OrderSideBuy && !o.Urgent {
			existing = append(existing, Rung{Outcome: o.Outcome, Side: o.Side, Price: o.Price, Size: o.Remaining()})
		}
	}
	budget := m.capital
	if budget > 0 {
		budget -= m.fills.Position(m.market.ID).TotalCost()
		if budget <= 0 {
			return added
		}
	}
	all := enforce(append(existing, buys...), m.cfg.Margin, budget)

	// Survivors past the existing prefix are the new rungs that fit.
	skip := make(map[Rung]int, len(existing))
	for _, r := range existing {
		skip[r]++
	}
	for _, r := range all {
		if skip[r] > 0 {
			skip[r]--
			continue
		}
		if m.coveredLocked(r) {
			continue
		}
		o := m.newOrderLocked(r, false)
		added = append(added, *o)
	}
	return added
}

// exitLocked adds sell orders sized to held shares.
func (m *Manager) exitLocked(rungs []Rung) []Order {
	pos := m.fills.Position(m.market.ID)
	var added []Order
	for _, r := range rungs {
		if r.Side != domain.OrderSideSell {
			continue
		}
		size := floorSize(math.Min(r.Size, pos.Held(r.Outcome)-m.sellingLocked(r.Outcome)))
		if size < m.cfg.MinSize {
			continue
		}
		r.Size = size
		o := m.newOrderLocked(r, false)
		added = append(added, *o)
	}
	return added
}

func (m *Manager) sellingLocked(out domain.Outcome) float64 {
	var s float64
	for _, o := range m.orders {
		if !o.State.Terminal() && o.Side == domain.OrderSideSell && o.Outcome == out {
			s += o.Remaining()
		}
	}
	return s
}

func (m *Manager) coveredLocked(r Rung) bool {
	for _, o := range m.orders {
		if !o.State.Terminal() && o.Outcome == r.Outcome && o.Side == r.Side && math.Abs(o.Price-r.Price) < sizeEpsilon {
			return true
		}
	}
	return false
}

func (m *Manager) newOrderLocked(r Rung, urgent bool) *Order {
	now := m.now()
	o := &Order{
		ID:         uuid.NewString(),
		Outcome:    r.Outcome,
		Side:       r.Side,
		Price:      r.Price,
		TargetSize: r.Size,
		State:      StatePending,
		Urgent:     urgent,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.orders = append(m.orders, o)
	m.byID[o.ID] = o
	return o
}

// OnFill records f with the position tracker, advances the matching
// ladder order and rebalances when filled shares drift apart.
func (m *Manager) OnFill(f domain.Fill, tops orderbook.Tops) (FillResult, error) {
	var res FillResult
	fresh, err := m.fills.RecordFill(f)
	if err != nil {
		return res, fmt.Errorf("ladder: record fill %s: %w", f.ID, err)
	}
	if !fresh {
		res.Duplicate = true
		return res, nil
	}

	m.mu.Lock()
	if o := m.matchLocked(f.OrderID); o != nil {
		over, terr := o.applyFill(f.Size, m.now())
		if terr != nil {
			m.logger.Error("fill transition", slog.String("order", o.ID), slog.String("error", terr.Error()))
		}
		if over > sizeEpsilon {
			res.Overfill = over
			m.logger.Warn("fill exceeds order target",
				slog.String("order", o.ID),
				slog.Float64("target", o.TargetSize),
				slog.Float64("overfill", over),
			)
		}
		snap := *o
		res.Order = &snap
	}
	res.Rebalance = m.checkBalanceLocked()
	m.mu.Unlock()

	res.Decision = m.strat.OnFill(m.View(tops), f)
	return res, nil
}

func (m *Manager) matchLocked(id string) *Order {
	if id == "" {
		return nil
	}
	if o, ok := m.byVenue[id]; ok {
		return o
	}
	return m.byID[id]
}

func (m *Manager) checkBalanceLocked() *RebalanceRequest {
	if m.closed {
		return nil
	}
	pos := m.fills.Position(m.market.ID)
	up, down := pos.Held(domain.OutcomeUp), pos.Held(domain.OutcomeDown)
	hi := math.Max(up, down)
	gap := math.Abs(up - down)
	if hi <= 0 || gap/hi <= m.cfg.Tolerance || gap < m.cfg.MinSize {
		return nil
	}
	under := domain.OutcomeUp
	if up > down {
		under = domain.OutcomeDown
	}
	return m.rebalanceLocked(pos, under, floorSize(gap))
}

// rebalanceLocked raises the under side's best open order by need and
// trims open orders on the over side by the same amount.
func (m *Manager) rebalanceLocked(pos domain.Position, under domain.Outcome, need float64) *RebalanceRequest {
	now := m.now()
	req := &RebalanceRequest{MarketID: m.market.ID, Under: under, Shares: need, At: now}

	open := func(out domain.Outcome) []*Order {
		var os []*Order
		for _, o := range m.orders {
			if !o.State.Terminal() && o.Side == domain.OrderSideBuy && o.Outcome == out {
				os = append(os, o)
			}
		}
		// Highest bid fills first.
		slices.SortStableFunc(os, func(a, b *Order) int {
			switch {
			case a.Price > b.Price:
				return -1
			case a.Price < b.Price:
				return 1
			}
			return 0
		})
		return os
	}

	if ups := open(under); len(ups) > 0 {
		o := ups[0]
		req.Resized = append(req.Resized, Resize{OrderID: o.ID, From: o.TargetSize, To: o.TargetSize + need})
		o.TargetSize += need
		o.UpdatedAt = now
		o.amended = o.VenueID != ""
	} else {
		over := under.Opposite()
		price := floorTick(1-m.cfg.Margin-pos.AvgPrice(over), m.market.Tick())
		if price >= m.market.Tick() {
			o := m.newOrderLocked(Rung{Outcome: under, Side: domain.OrderSideBuy, Price: price, Size: need}, true)
			req.Created = o.ID
		}
	}

	left := need
	for _, o := range open(under.Opposite()) {
		if left <= sizeEpsilon {
			break
		}
		cut := math.Min(left, o.Remaining())
		if cut <= 0 {
			continue
		}
		req.Resized = append(req.Resized, Resize{OrderID: o.ID, From: o.TargetSize, To: o.TargetSize - cut})
		o.TargetSize -= cut
		o.UpdatedAt = now
		left -= cut
		if o.VenueID != "" {
			o.amended = true
		} else if o.Remaining() == 0 && !o.inflight {
			_ = o.transition(StateCancelled, now)
		}
	}

	m.logger.Info("rebalance",
		slog.String("under", under.String()),
		slog.Float64("shares", need),
		slog.Int("resized", len(req.Resized)),
		slog.String("created", req.Created),
	)
	return req
}

// FlagExposure queues an urgent buy of the opposite outcome to hedge
// e. It returns the new order id, or "" once the ladder is closed, in
// which case the exposure is kept as residual.
func (m *Manager) FlagExposure(e domain.Exposure) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if m.closed {
		m.residual = append(m.residual, Residual{
			OrderID: e.OrderID, Outcome: e.Outcome, Side: domain.OrderSideBuy,
			Price: e.Price, Remaining: e.Shares, Reason: "exposure after close", At: now,
		})
		return ""
	}
	hedge := e.Outcome.Opposite()
	price := floorTick(1-m.cfg.Margin-e.Price, m.market.Tick())
	size := floorSize(e.Shares)
	if price < m.market.Tick() || size <= 0 {
		m.residual = append(m.residual, Residual{
			OrderID: e.OrderID, Outcome: e.Outcome, Side: domain.OrderSideBuy,
			Price: e.Price, Remaining: e.Shares, Reason: "no hedge price", At: now,
		})
		return ""
	}
	o := m.newOrderLocked(Rung{Outcome: hedge, Side: domain.OrderSideBuy, Price: price, Size: size}, true)
	m.logger.Warn("exposure flagged",
		slog.String("exposed", e.Outcome.String()),
		slog.Float64("shares", e.Shares),
		slog.String("hedge_order", o.ID),
		slog.Float64("hedge_price", price),
	)
	return o.ID
}

type work struct {
	order   *Order
	req     domain.OrderRequest
	venueID string
	replace bool // cancel venueID, then resubmit the remainder
}

// Reconcile pushes pending orders to the venue and replaces resting
// orders whose target changed. Urgent orders go first. The lock is not
// held across venue calls.
func (m *Manager) Reconcile(ctx context.Context) error {
	m.mu.Lock()
	var jobs []work
	for _, o := range m.orders {
		if o.inflight || o.State.Terminal() {
			continue
		}
		switch {
		case o.State == StatePending && !m.closed:
			o.inflight = true
			jobs = append(jobs, work{order: o, req: m.requestLocked(o)})
		case o.amended && o.VenueID != "":
			o.inflight = true
			jobs = append(jobs, work{order: o, venueID: o.VenueID, replace: true})
		}
	}
	m.mu.Unlock()

	slices.SortStableFunc(jobs, func(a, b work) int {
		switch {
		case a.order.Urgent && !b.order.Urgent:
			return -1
		case !a.order.Urgent && b.order.Urgent:
			return 1
		}
		return 0
	})

	var errs []error
	for _, j := range jobs {
		if j.replace {
			errs = append(errs, m.replace(ctx, j))
			continue
		}
		ack, err := m.sub.Submit(ctx, j.req)
		errs = append(errs, m.settleSubmit(ctx, j.order, ack, err))
	}
	return errors.Join(errs...)
}

func (m *Manager) requestLocked(o *Order) domain.OrderRequest {
	typ := m.cfg.OrderType
	if o.Urgent {
		typ = domain.OrderTypeFAK
	}
	return domain.OrderRequest{
		ClientID:   o.ID,
		MarketID:   m.market.ID,
		TokenID:    m.market.TokenID(o.Outcome),
		Outcome:    o.Outcome,
		Side:       o.Side,
		Type:       typ,
		Price:      o.Price,
		Size:       o.Remaining(),
		NegRisk:    m.market.NegRisk,
		ValidUntil: m.market.EndsAt,
	}
}

func (m *Manager) settleSubmit(ctx context.Context, o *Order, ack domain.OrderAck, err error) error {
	if err == nil && !ack.Accepted {
		err = fmt.Errorf("%s: %w", ack.Message, domain.ErrSubmissionRejected)
	}

	m.mu.Lock()
	now := m.now()
	o.inflight = false
	if err != nil {
		if !o.State.Terminal() {
			_ = o.transition(StateCancelled, now)
		}
		m.residual = append(m.residual, Residual{
			OrderID: o.ID, Outcome: o.Outcome, Side: o.Side, Price: o.Price,
			Remaining: o.Remaining(), Reason: err.Error(), At: now,
		})
		m.mu.Unlock()
		m.logger.Warn("order submit failed", slog.String("order", o.ID), slog.String("error", err.Error()))
		return fmt.Errorf("ladder: submit %s: %w", o.ID, err)
	}

	o.VenueID = ack.OrderID
	m.byVenue[ack.OrderID] = o
	// Cancelled while in flight: the venue now holds an order we no
	// longer want.
	orphan := o.State == StateCancelled
	if o.State == StatePending {
		_ = o.transition(StateResting, now)
	}
	m.mu.Unlock()

	if orphan {
		if cerr := m.cancelWithRetry(ctx, ack.OrderID); cerr != nil {
			m.mu.Lock()
			m.residual = append(m.residual, Residual{
				OrderID: o.ID, VenueID: o.VenueID, Outcome: o.Outcome, Side: o.Side, Price: o.Price,
				Remaining: o.Remaining(), Reason: cerr.Error(), At: m.now(),
			})
			m.mu.Unlock()
			return fmt.Errorf("ladder: cancel orphan %s: %w", o.ID, cerr)
		}
	}
	return nil
}

func (m *Manager) replace(ctx context.Context, j work) error {
	err := m.sub.Cancel(ctx, j.venueID)
	if errors.Is(err, domain.ErrNotFound) {
		err = nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	o := j.order
	o.inflight = false
	if err != nil {
		// Leave it amended; the next pass retries.
		return fmt.Errorf("ladder: replace %s: %w", o.ID, err)
	}
	o.amended = false
	now := m.now()
	rest := o.Remaining()
	if !o.State.Terminal() {
		_ = o.transition(StateCancelled, now)
	}
	if rest >= m.cfg.MinSize && !m.closed {
		m.newOrderLocked(Rung{Outcome: o.Outcome, Side: o.Side, Price: o.Price, Size: floorSize(rest)}, o.Urgent)
	}
	return nil
}

// SweepBeforeResolution cancels every open order once the market is
// within leadTime of resolving. Cancels are retried until the market
// ends; orders that cannot be cancelled become residual exposure. Only
// the first qualifying call does any work.
func (m *Manager) SweepBeforeResolution(ctx context.Context, leadTime time.Duration) SweepReport {
	m.mu.Lock()
	if m.swept || m.market.TimeToResolution(m.now()) >= leadTime {
		m.mu.Unlock()
		return SweepReport{}
	}
	m.swept = true
	m.closed = true
	m.mu.Unlock()

	rep := m.cancelAll(ctx, "sweep")
	rep.Swept = true
	m.logger.Info("sweep complete",
		slog.Int("cancelled", rep.Cancelled),
		slog.Int("residual", len(rep.Residual)),
	)
	return rep
}

func (m *Manager) cancelAll(ctx context.Context, reason string) SweepReport {
	var rep SweepReport
	m.mu.Lock()
	now := m.now()
	var targets []*Order
	for _, o := range m.orders {
		if o.State.Terminal() {
			continue
		}
		if o.VenueID == "" {
			// Never reached the venue, or still in flight; settleSubmit
			// cancels the latter once the ack arrives.
			_ = o.transition(StateCancelled, now)
			rep.Cancelled++
			continue
		}
		o.inflight = true
		targets = append(targets, o)
	}
	deadline := m.market.EndsAt.Sub(now)
	m.mu.Unlock()

	if len(targets) == 0 {
		return rep
	}
	if deadline <= 0 {
		deadline = m.cfg.MaxCancelBackoff
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	errs := make([]error, len(targets))
	var g errgroup.Group
	for i, o := range targets {
		g.Go(func() error {
			errs[i] = m.cancelWithRetry(ctx, o.VenueID)
			return nil
		})
	}
	_ = g.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	now = m.now()
	for i, o := range targets {
		o.inflight = false
		if errs[i] == nil {
			if !o.State.Terminal() {
				_ = o.transition(StateCancelled, now)
			}
			rep.Cancelled++
			continue
		}
		r := Residual{
			OrderID: o.ID, VenueID: o.VenueID, Outcome: o.Outcome, Side: o.Side, Price: o.Price,
			Remaining: o.Remaining(), Reason: reason + ": " + errs[i].Error(), At: now,
		}
		m.residual = append(m.residual, r)
		rep.Residual = append(rep.Residual, r)
	}
	return rep
}

// cancelWithRetry retries with doubling backoff until the venue accepts,
// the order is already gone, or ctx ends.
func (m *Manager) cancelWithRetry(ctx context.Context, venueID string) error {
	backoff := m.cfg.CancelBackoff
	for {
		err := m.sub.Cancel(ctx, venueID)
		if err == nil || errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if errors.Is(err, domain.ErrUnauthorized) {
			return err
		}
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%w (last: %v)", ctx.Err(), err)
		case <-t.C:
		}
		backoff = min(backoff*2, m.cfg.MaxCancelBackoff)
	}
}

// Orders returns snapshots of every order in creation order.
func (m *Manager) Orders() []Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Order, len(m.orders))
	for i, o := range m.orders {
		out[i] = *o
	}
	return out
}

// Open counts non-terminal orders.
func (m *Manager) Open() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, o := range m.orders {
		if !o.State.Terminal() {
			n++
		}
	}
	return n
}

// Residuals returns exposure the manager gave up on.
func (m *Manager) Residuals() []Residual {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.residual)
}

// Closed reports whether the ladder accepts no new orders.
func (m *Manager) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

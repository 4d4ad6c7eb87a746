package ladder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/polysnipe/internal/domain"
	"github.com/alanyoungcy/polysnipe/internal/orderbook"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeSubmitter struct {
	mu        sync.Mutex
	submits   []domain.OrderRequest
	cancels   []string
	submitErr error
	cancelErr func(id string) error
	next      int
}

func (f *fakeSubmitter) Submit(_ context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, req)
	if f.submitErr != nil {
		return domain.OrderAck{}, f.submitErr
	}
	f.next++
	return domain.OrderAck{OrderID: fmt.Sprintf("v%d", f.next), Accepted: true}, nil
}

func (f *fakeSubmitter) Cancel(_ context.Context, id string) error {
	f.mu.Lock()
	f.cancels = append(f.cancels, id)
	fn := f.cancelErr
	f.mu.Unlock()
	if fn != nil {
		return fn(id)
	}
	return nil
}

func (f *fakeSubmitter) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cancels)
}

type fakeRecorder struct {
	mu   sync.Mutex
	seen map[string]bool
	pos  domain.Position
}

func newFakeRecorder() *fakeRecorder { return &fakeRecorder{seen: make(map[string]bool)} }

func (r *fakeRecorder) RecordFill(f domain.Fill) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen[f.ID] {
		return false, nil
	}
	r.seen[f.ID] = true
	if f.Side == domain.OrderSideBuy {
		r.pos.Shares[f.Outcome] += f.Size
		r.pos.Cost[f.Outcome] += f.Price * f.Size
	} else {
		r.pos.Sold[f.Outcome] += f.Size
		r.pos.Proceeds[f.Outcome] += f.Price * f.Size
	}
	r.pos.Fills++
	return true, nil
}

func (r *fakeRecorder) Position(id string) domain.Position {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.pos
	p.MarketID = id
	return p
}

// fixedStrategy plans a fixed set of rungs.
type fixedStrategy struct {
	rungs []Rung
	fills int
}

func (s *fixedStrategy) Name() string                          { return "fixed" }
func (s *fixedStrategy) PlanOrders(View, PlanParams) []Rung    { return s.rungs }
func (s *fixedStrategy) OnSignal(View, domain.Signal) Decision { return Hold }
func (s *fixedStrategy) OnFill(View, domain.Fill) Decision     { s.fills++; return Hold }

func testMarket() domain.Market {
	return domain.Market{
		ID:       "m1",
		Slug:     "btc-updown-15m-1772366400",
		TokenIDs: [2]string{"tok-up", "tok-down"},
		TickSize: 0.01,
		StartsAt: testStart,
		EndsAt:   testStart.Add(15 * time.Minute),
		Status:   domain.MarketStatusOpen,
	}
}

func newTestManager(t *testing.T, strat Strategy, cfg Config) (*Manager, *fakeSubmitter, *fakeRecorder) {
	t.Helper()
	sub := &fakeSubmitter{}
	rec := newFakeRecorder()
	if cfg.Margin == 0 {
		cfg.Margin = 0.02
	}
	if cfg.MinSize == 0 {
		cfg.MinSize = 1
	}
	m := NewManager(testMarket(), strat, sub, rec, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	m.SetClock(func() time.Time { return testStart })
	return m, sub, rec
}

func buy(o domain.Outcome, price, size float64) Rung {
	return Rung{Outcome: o, Side: domain.OrderSideBuy, Price: price, Size: size}
}

func findOrder(orders []Order, venueID string) (Order, bool) {
	for _, o := range orders {
		if o.VenueID == venueID {
			return o, true
		}
	}
	return Order{}, false
}

func TestPlanLadderRespectsMarginAndCapital(t *testing.T) {
	strat := &fixedStrategy{rungs: []Rung{
		buy(domain.OutcomeUp, 0.60, 20),
		buy(domain.OutcomeDown, 0.45, 20),
		buy(domain.OutcomeUp, 0.48, 20),
		buy(domain.OutcomeDown, 0.48, 20),
	}}
	m, _, _ := newTestManager(t, strat, Config{})

	added, err := m.PlanLadder(30, 2, 0.01, orderbook.Tops{})
	if err != nil {
		t.Fatalf("PlanLadder() error = %v", err)
	}
	if len(added) != 3 {
		t.Fatalf("PlanLadder() added %d orders, want 3", len(added))
	}
	var top [2]float64
	var cost float64
	for _, o := range added {
		if o.State != StatePending {
			t.Errorf("order %s state = %s, want pending", o.ID, o.State)
		}
		top[o.Outcome] = max(top[o.Outcome], o.Price)
		cost += o.Price * o.TargetSize
	}
	if top[0]+top[1] > 0.98+1e-9 {
		t.Errorf("top pair %.2f + %.2f exceeds 0.98", top[0], top[1])
	}
	if cost > 30 {
		t.Errorf("ladder cost %.2f exceeds capital 30", cost)
	}

	// Replanning the same rungs adds nothing.
	again, _ := m.PlanLadder(30, 2, 0.01, orderbook.Tops{})
	if len(again) != 0 {
		t.Errorf("second PlanLadder() added %d orders, want 0", len(again))
	}
}

func TestOnFillClampsToTarget(t *testing.T) {
	strat := &fixedStrategy{rungs: []Rung{buy(domain.OutcomeUp, 0.48, 10), buy(domain.OutcomeDown, 0.48, 10)}}
	m, sub, _ := newTestManager(t, strat, Config{Tolerance: 1})
	if _, err := m.PlanLadder(100, 1, 0.01, orderbook.Tops{}); err != nil {
		t.Fatal(err)
	}
	if err := m.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if len(sub.submits) != 2 {
		t.Fatalf("submits = %d, want 2", len(sub.submits))
	}

	fill := func(id string, size float64) FillResult {
		t.Helper()
		res, err := m.OnFill(domain.Fill{ID: id, OrderID: "v1", MarketID: "m1", Outcome: domain.OutcomeUp, Side: domain.OrderSideBuy, Price: 0.48, Size: size}, orderbook.Tops{})
		if err != nil {
			t.Fatalf("OnFill(%s) error = %v", id, err)
		}
		return res
	}

	res := fill("f1", 6)
	if res.Order == nil || res.Order.State != StatePartiallyFilled || res.Order.FilledSize != 6 {
		t.Fatalf("after f1 order = %+v, want partially filled 6", res.Order)
	}
	res = fill("f2", 6)
	if res.Order.State != StateFilled || res.Order.FilledSize != 10 {
		t.Errorf("after f2 order = %+v, want filled 10", res.Order)
	}
	if res.Overfill != 2 {
		t.Errorf("Overfill = %v, want 2", res.Overfill)
	}
	if dup := fill("f2", 6); !dup.Duplicate {
		t.Error("replayed fill not reported as duplicate")
	}
	o, _ := findOrder(m.Orders(), "v1")
	if o.FilledSize > o.TargetSize {
		t.Errorf("FilledSize %v > TargetSize %v", o.FilledSize, o.TargetSize)
	}
	if strat.fills != 2 {
		t.Errorf("strategy saw %d fills, want 2", strat.fills)
	}
}

func TestOnFillRebalancesImbalance(t *testing.T) {
	strat := &fixedStrategy{rungs: []Rung{buy(domain.OutcomeUp, 0.48, 10), buy(domain.OutcomeDown, 0.47, 10)}}
	m, sub, _ := newTestManager(t, strat, Config{Tolerance: 0.2})
	if _, err := m.PlanLadder(100, 1, 0.01, orderbook.Tops{}); err != nil {
		t.Fatal(err)
	}
	if err := m.Reconcile(context.Background()); err != nil {
		t.Fatal(err)
	}

	res, err := m.OnFill(domain.Fill{ID: "f1", OrderID: "v1", MarketID: "m1", Outcome: domain.OutcomeUp, Side: domain.OrderSideBuy, Price: 0.48, Size: 8}, orderbook.Tops{})
	if err != nil {
		t.Fatal(err)
	}
	rb := res.Rebalance
	if rb == nil {
		t.Fatal("OnFill() produced no rebalance request")
	}
	if rb.Under != domain.OutcomeDown || rb.Shares != 8 {
		t.Errorf("Rebalance = %+v, want under=DOWN shares=8", rb)
	}
	if len(rb.Resized) != 2 {
		t.Fatalf("Resized = %+v, want 2 entries", rb.Resized)
	}
	down, _ := findOrder(m.Orders(), "v2")
	if down.TargetSize != 18 {
		t.Errorf("down target = %v, want 18", down.TargetSize)
	}
	up, _ := findOrder(m.Orders(), "v1")
	if up.TargetSize != 8 || up.Remaining() != 0 {
		t.Errorf("up target = %v remaining = %v, want 8 and 0", up.TargetSize, up.Remaining())
	}

	// Amended resting orders are replaced at the venue.
	if err := m.Reconcile(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(sub.cancels) != 2 {
		t.Errorf("cancels = %v, want v1 and v2", sub.cancels)
	}
	var pendingDown float64
	for _, o := range m.Orders() {
		if o.State == StatePending && o.Outcome == domain.OutcomeDown {
			pendingDown += o.TargetSize
		}
	}
	if pendingDown != 18 {
		t.Errorf("pending down size = %v, want 18", pendingDown)
	}
}

func TestRebalanceCreatesHedgeWhenNoUnderOrders(t *testing.T) {
	strat := &fixedStrategy{rungs: []Rung{buy(domain.OutcomeUp, 0.45, 10)}}
	m, _, _ := newTestManager(t, strat, Config{})
	if _, err := m.PlanLadder(100, 1, 0.01, orderbook.Tops{}); err != nil {
		t.Fatal(err)
	}
	if err := m.Reconcile(context.Background()); err != nil {
		t.Fatal(err)
	}
	res, err := m.OnFill(domain.Fill{ID: "f1", OrderID: "v1", MarketID: "m1", Outcome: domain.OutcomeUp, Side: domain.OrderSideBuy, Price: 0.45, Size: 10}, orderbook.Tops{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Rebalance == nil || res.Rebalance.Created == "" {
		t.Fatalf("Rebalance = %+v, want a created hedge", res.Rebalance)
	}
	for _, o := range m.Orders() {
		if o.ID != res.Rebalance.Created {
			continue
		}
		if o.Outcome != domain.OutcomeDown || o.Price != 0.53 || o.TargetSize != 10 || !o.Urgent {
			t.Errorf("hedge = %+v, want urgent DOWN 10 @ 0.53", o)
		}
	}
}

func TestFlagExposureSubmitsUrgentFirst(t *testing.T) {
	strat := &fixedStrategy{rungs: []Rung{buy(domain.OutcomeUp, 0.40, 10), buy(domain.OutcomeDown, 0.40, 10)}}
	m, sub, _ := newTestManager(t, strat, Config{})
	if _, err := m.PlanLadder(100, 1, 0.01, orderbook.Tops{}); err != nil {
		t.Fatal(err)
	}
	id := m.FlagExposure(domain.Exposure{MarketID: "m1", Outcome: domain.OutcomeUp, Shares: 15, Price: 0.55, Urgent: true})
	if id == "" {
		t.Fatal("FlagExposure() returned no order")
	}
	if err := m.Reconcile(context.Background()); err != nil {
		t.Fatal(err)
	}
	first := sub.submits[0]
	if first.ClientID != id || first.Outcome != domain.OutcomeDown || first.Price != 0.43 || first.Type != domain.OrderTypeFAK {
		t.Errorf("first submit = %+v, want urgent DOWN FAK @ 0.43", first)
	}
}

func TestReconcileRejectedBecomesResidual(t *testing.T) {
	strat := &fixedStrategy{rungs: []Rung{buy(domain.OutcomeUp, 0.40, 10)}}
	m, sub, _ := newTestManager(t, strat, Config{})
	sub.submitErr = fmt.Errorf("venue: %w", domain.ErrSubmissionRejected)
	if _, err := m.PlanLadder(100, 1, 0.01, orderbook.Tops{}); err != nil {
		t.Fatal(err)
	}
	err := m.Reconcile(context.Background())
	if !errors.Is(err, domain.ErrSubmissionRejected) {
		t.Fatalf("Reconcile() error = %v, want ErrSubmissionRejected", err)
	}
	if o := m.Orders()[0]; o.State != StateCancelled {
		t.Errorf("state = %s, want cancelled", o.State)
	}
	if r := m.Residuals(); len(r) != 1 || r[0].Remaining != 10 {
		t.Errorf("Residuals() = %+v, want one of 10", r)
	}
}

func TestSweepBeforeResolution(t *testing.T) {
	strat := &fixedStrategy{rungs: []Rung{
		buy(domain.OutcomeUp, 0.48, 10), buy(domain.OutcomeDown, 0.48, 10),
		buy(domain.OutcomeUp, 0.47, 10), buy(domain.OutcomeDown, 0.47, 10),
	}}
	m, sub, _ := newTestManager(t, strat, Config{})
	if _, err := m.PlanLadder(100, 2, 0.01, orderbook.Tops{}); err != nil {
		t.Fatal(err)
	}
	if err := m.Reconcile(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Apply(context.Background(), Decision{Action: ActionPlace, Rungs: []Rung{buy(domain.OutcomeUp, 0.46, 10)}}); err != nil {
		t.Fatal(err)
	}

	now := testStart.Add(15*time.Minute - 60*time.Second)
	m.SetClock(func() time.Time { return now })
	if rep := m.SweepBeforeResolution(context.Background(), 30*time.Second); rep.Swept {
		t.Fatal("swept outside lead time")
	}
	if m.Open() != 5 {
		t.Fatalf("Open() = %d, want 5", m.Open())
	}

	now = testStart.Add(15*time.Minute - 10*time.Second)
	rep := m.SweepBeforeResolution(context.Background(), 30*time.Second)
	if !rep.Swept || rep.Cancelled != 5 || len(rep.Residual) != 0 {
		t.Errorf("SweepBeforeResolution() = %+v, want 5 cancelled", rep)
	}
	if m.Open() != 0 {
		t.Errorf("Open() = %d after sweep, want 0", m.Open())
	}
	if n := sub.cancelCount(); n != 4 {
		t.Errorf("venue cancels = %d, want 4", n)
	}

	if rep := m.SweepBeforeResolution(context.Background(), 30*time.Second); rep.Swept {
		t.Error("second sweep did work")
	}
	if n := sub.cancelCount(); n != 4 {
		t.Errorf("venue cancels after second sweep = %d, want 4", n)
	}
	if _, err := m.PlanLadder(100, 2, 0.01, orderbook.Tops{}); !errors.Is(err, domain.ErrMarketSkipped) {
		t.Errorf("PlanLadder() after sweep error = %v, want ErrMarketSkipped", err)
	}
}

func TestSweepUncancellableBecomesResidual(t *testing.T) {
	strat := &fixedStrategy{rungs: []Rung{buy(domain.OutcomeUp, 0.48, 10), buy(domain.OutcomeDown, 0.48, 10)}}
	m, sub, _ := newTestManager(t, strat, Config{CancelBackoff: 5 * time.Millisecond, MaxCancelBackoff: 10 * time.Millisecond})
	if _, err := m.PlanLadder(100, 1, 0.01, orderbook.Tops{}); err != nil {
		t.Fatal(err)
	}
	if err := m.Reconcile(context.Background()); err != nil {
		t.Fatal(err)
	}
	sub.cancelErr = func(id string) error {
		if id == "v2" {
			return fmt.Errorf("cancel: %w", domain.ErrNotFound)
		}
		return fmt.Errorf("cancel: %w", domain.ErrNetwork)
	}
	m.SetClock(func() time.Time { return testStart.Add(15*time.Minute - 80*time.Millisecond) })

	rep := m.SweepBeforeResolution(context.Background(), time.Minute)
	if len(rep.Residual) != 1 || rep.Residual[0].VenueID != "v1" {
		t.Fatalf("Residual = %+v, want v1 only", rep.Residual)
	}
	if rep.Cancelled != 1 {
		t.Errorf("Cancelled = %d, want 1 (v2 already gone)", rep.Cancelled)
	}
	if n := sub.cancelCount(); n < 3 {
		t.Errorf("venue cancels = %d, want retries", n)
	}
	if got := len(m.Residuals()); got != 1 {
		t.Errorf("Residuals() = %d, want 1", got)
	}
}

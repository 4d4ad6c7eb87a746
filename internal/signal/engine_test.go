package signal

import (
	"math"
	"testing"
	"time"

	"github.com/alanyoungcy/polysnipe/internal/domain"
	"github.com/alanyoungcy/polysnipe/internal/orderbook"
)

type fakeBook struct{ tops orderbook.Tops }

func (f *fakeBook) Tops() orderbook.Tops { return f.tops }

func (f *fakeBook) set(up, down float64) {
	f.tops.BestAsk = [2]float64{up, down}
}

type fixedAdvisor float64

func (a fixedAdvisor) FillProbability(string) (float64, bool) { return float64(a), true }

func TestObserve_OneSignalPerWindow(t *testing.T) {
	book := &fakeBook{}
	e := NewEngine("m1", 0.98, book, nil)
	t0 := time.Unix(1700000000, 0)

	steps := []struct {
		up, down float64
		want     domain.SignalKind
	}{
		{0.50, 0.51, domain.SignalNone},
		{0.48, 0.49, domain.SignalSpread},
		{0.47, 0.49, domain.SignalNone}, // deeper in the same window
		{0.48, 0.48, domain.SignalNone},
		{0.50, 0.49, domain.SignalResolved},
		{0.51, 0.49, domain.SignalNone},
		{0.45, 0.45, domain.SignalSpread},
		{0.45, 0.55, domain.SignalResolved},
	}

	var spreads, resolved int
	for i, st := range steps {
		book.set(st.up, st.down)
		sig, ok := e.Observe(t0.Add(time.Duration(i) * time.Millisecond))
		got := domain.SignalNone
		if ok {
			got = sig.Kind
		}
		if got != st.want {
			t.Fatalf("step %d (%.2f+%.2f): got %v, want %v", i, st.up, st.down, got, st.want)
		}
		switch got {
		case domain.SignalSpread:
			spreads++
		case domain.SignalResolved:
			resolved++
		}
	}
	if spreads != 2 || resolved != 2 {
		t.Errorf("spreads = %d, resolved = %d, want 2 and 2", spreads, resolved)
	}
	if e.Windows() != 2 {
		t.Errorf("Windows() = %d, want 2", e.Windows())
	}
}

func TestObserve_EmptySideClosesWindow(t *testing.T) {
	book := &fakeBook{}
	e := NewEngine("m1", 0.98, book, nil)
	book.set(0.45, 0.45)
	if _, ok := e.Observe(time.Now()); !ok {
		t.Fatal("no spread signal")
	}
	book.set(0.45, 0)
	sig, ok := e.Observe(time.Now())
	if !ok || sig.Kind != domain.SignalResolved {
		t.Errorf("Observe() = %v, %v, want resolved", sig.Kind, ok)
	}
}

func TestObserve_AdvisorHint(t *testing.T) {
	book := &fakeBook{}
	book.set(0.45, 0.45)

	sig, _ := NewEngine("m1", 0.98, book, nil).Observe(time.Now())
	if sig.FillProb != -1 {
		t.Errorf("FillProb without advisor = %v, want -1", sig.FillProb)
	}
	sig, _ = NewEngine("m1", 0.98, book, fixedAdvisor(0.3)).Observe(time.Now())
	if sig.FillProb != 0.3 {
		t.Errorf("FillProb = %v, want 0.3", sig.FillProb)
	}
}

func TestObserve_DoesNotAllocate(t *testing.T) {
	book := orderbook.New("m1")
	_ = book.ApplySnapshot(domain.BookSnapshot{Outcome: domain.OutcomeUp, Asks: []domain.PriceLevel{{Price: 0.48, Size: 1}}, Sequence: 1})
	_ = book.ApplySnapshot(domain.BookSnapshot{Outcome: domain.OutcomeDown, Asks: []domain.PriceLevel{{Price: 0.49, Size: 1}}, Sequence: 1})
	e := NewEngine("m1", 0.98, book, nil)
	ts := time.Now()

	allocs := testing.AllocsPerRun(1000, func() {
		e.Observe(ts)
	})
	if allocs != 0 {
		t.Errorf("Observe() allocates %v times per run", allocs)
	}
}

// Deltas move the combined ask 1.02 -> 0.97 -> 1.01 at t, t+4ms, t+13ms.
func TestPipeline_WindowMeasurement(t *testing.T) {
	book := orderbook.New("m1")
	_ = book.ApplySnapshot(domain.BookSnapshot{
		Outcome:  domain.OutcomeUp,
		Asks:     []domain.PriceLevel{{Price: 0.50, Size: 100}, {Price: 0.54, Size: 100}},
		Sequence: 1,
	})
	_ = book.ApplySnapshot(domain.BookSnapshot{
		Outcome:  domain.OutcomeDown,
		Asks:     []domain.PriceLevel{{Price: 0.55, Size: 100}},
		Sequence: 1,
	})

	e := NewEngine("m1", 0.99, book, nil)
	mb := NewMailbox()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	deltas := []domain.BookDelta{
		{Outcome: domain.OutcomeDown, Side: domain.BookSideAsk, Price: 0.52, Size: 50, Sequence: 2, Timestamp: t0},
		{Outcome: domain.OutcomeDown, Side: domain.BookSideAsk, Price: 0.47, Size: 50, Sequence: 3, Timestamp: t0.Add(4 * time.Millisecond)},
		{Outcome: domain.OutcomeUp, Side: domain.BookSideAsk, Price: 0.50, Size: 0, Sequence: 2, Timestamp: t0.Add(13 * time.Millisecond)},
	}
	wantCombined := []float64{1.02, 0.97, 1.01}

	var got []domain.Signal
	for i, d := range deltas {
		if err := book.ApplyDelta(d); err != nil {
			t.Fatalf("ApplyDelta(%d) error = %v", i, err)
		}
		if c := book.Tops().Combined(); math.Abs(c-wantCombined[i]) > 1e-9 {
			t.Fatalf("combined after delta %d = %v, want %v", i, c, wantCombined[i])
		}
		if sig, ok := e.Observe(d.Timestamp); ok {
			mb.Put(sig)
			got = append(got, sig)
		}
	}

	if len(got) != 2 {
		t.Fatalf("got %d signals, want 2", len(got))
	}
	spread, resolved := got[0], got[1]
	if spread.Kind != domain.SignalSpread || !spread.DetectedAt.Equal(t0.Add(4*time.Millisecond)) {
		t.Errorf("spread = %+v", spread)
	}
	if math.Abs(spread.Combined-0.97) > 1e-9 {
		t.Errorf("spread.Combined = %v, want 0.97", spread.Combined)
	}
	if resolved.Kind != domain.SignalResolved || !resolved.ResolvedAt.Equal(t0.Add(13*time.Millisecond)) {
		t.Errorf("resolved = %+v", resolved)
	}
	if d := resolved.Duration(); d != 9*time.Millisecond {
		t.Errorf("Duration() = %v, want 9ms", d)
	}
	if resolved.Window != spread.Window {
		t.Errorf("window ids differ: %d vs %d", spread.Window, resolved.Window)
	}

	// Latest wins: the untaken spread was replaced by the resolution.
	latest, ok := mb.Take()
	if !ok || latest.Kind != domain.SignalResolved {
		t.Errorf("Take() = %v, %v, want resolved", latest.Kind, ok)
	}
	if mb.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", mb.Dropped())
	}
	if _, ok := mb.Take(); ok {
		t.Error("Take() on empty mailbox returned a signal")
	}
}

func TestObserve_StaleSideSuppressesWindow(t *testing.T) {
	store := orderbook.New("m1")
	e := NewEngine("m1", 0.98, store, nil)
	t0 := time.Unix(1700000000, 0)
	delta := func(o domain.Outcome, price float64, seq uint64) error {
		return store.ApplyDelta(domain.BookDelta{Outcome: o, Side: domain.BookSideAsk, Price: price, Size: 10, Sequence: seq})
	}

	_ = delta(domain.OutcomeUp, 0.50, 1)
	_ = delta(domain.OutcomeDown, 0.52, 1)
	if _, ok := e.Observe(t0); ok {
		t.Fatal("signal at combined 1.02")
	}

	if err := delta(domain.OutcomeUp, 0.49, 3); err == nil {
		t.Fatal("gap accepted")
	}
	_ = delta(domain.OutcomeDown, 0.45, 2)
	if sig, ok := e.Observe(t0.Add(time.Millisecond)); ok {
		t.Fatalf("Observe() = %v at %.2f with UP stale, want nothing", sig.Kind, sig.Combined)
	}

	_ = store.ApplySnapshot(domain.BookSnapshot{
		Outcome:  domain.OutcomeUp,
		Asks:     []domain.PriceLevel{{Price: 0.50, Size: 10}},
		Sequence: 3,
	})
	sig, ok := e.Observe(t0.Add(2 * time.Millisecond))
	if !ok || sig.Kind != domain.SignalSpread || math.Abs(sig.Combined-0.95) > 1e-9 {
		t.Errorf("Observe() after snapshot = %v %v %.2f, want spread at 0.95", sig.Kind, ok, sig.Combined)
	}
}

func TestObserve_StaleSideClosesOpenWindow(t *testing.T) {
	book := &fakeBook{}
	e := NewEngine("m1", 0.98, book, nil)
	book.set(0.45, 0.45)
	if _, ok := e.Observe(time.Now()); !ok {
		t.Fatal("no spread signal")
	}
	book.tops.Stale[domain.OutcomeDown] = true
	sig, ok := e.Observe(time.Now())
	if !ok || sig.Kind != domain.SignalResolved {
		t.Errorf("Observe() = %v, %v, want resolved", sig.Kind, ok)
	}
}

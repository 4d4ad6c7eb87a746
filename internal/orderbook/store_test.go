package orderbook

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/alanyoungcy/polysnipe/internal/domain"
)

func ask(o domain.Outcome, price, size float64, seq uint64) domain.BookDelta {
	return domain.BookDelta{Outcome: o, Side: domain.BookSideAsk, Price: price, Size: size, Sequence: seq}
}

func bid(o domain.Outcome, price, size float64, seq uint64) domain.BookDelta {
	return domain.BookDelta{Outcome: o, Side: domain.BookSideBid, Price: price, Size: size, Sequence: seq}
}

func TestApplyDelta_BestAskIsMinimumLiveLevel(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := New("m1")
	live := make(map[int64]float64)

	for seq := uint64(1); seq <= 500; seq++ {
		price := float64(1+rng.Intn(99)) / 100
		size := float64(rng.Intn(4)) * 10 // zero a quarter of the time
		if err := s.ApplyDelta(ask(domain.OutcomeUp, price, size, seq)); err != nil {
			t.Fatalf("ApplyDelta(seq=%d) error = %v", seq, err)
		}
		if size == 0 {
			delete(live, priceKey(price))
		} else {
			live[priceKey(price)] = size
		}

		want := math.MaxInt64
		for k := range live {
			if int(k) < want {
				want = int(k)
			}
		}
		got, ok := s.BestAsk(domain.OutcomeUp)
		if len(live) == 0 {
			if ok {
				t.Fatalf("seq %d: BestAsk() = %v, want empty", seq, got)
			}
			continue
		}
		if !ok || priceKey(got) != int64(want) {
			t.Fatalf("seq %d: BestAsk() = %v, want %v", seq, got, float64(want)/1e6)
		}
	}
}

func TestApplyDelta_BidsBestIsHighest(t *testing.T) {
	s := New("m1")
	for i, p := range []float64{0.40, 0.45, 0.42} {
		if err := s.ApplyDelta(bid(domain.OutcomeDown, p, 5, uint64(i+1))); err != nil {
			t.Fatal(err)
		}
	}
	got, _ := s.BestBid(domain.OutcomeDown)
	if got != 0.45 {
		t.Errorf("BestBid() = %v, want 0.45", got)
	}
}

func TestApplyDelta_ZeroSizeRemovesLevel(t *testing.T) {
	s := New("m1")
	_ = s.ApplyDelta(ask(domain.OutcomeUp, 0.48, 10, 1))
	_ = s.ApplyDelta(ask(domain.OutcomeUp, 0.50, 10, 2))
	if err := s.ApplyDelta(ask(domain.OutcomeUp, 0.48, 0, 3)); err != nil {
		t.Fatal(err)
	}

	got, _ := s.BestAsk(domain.OutcomeUp)
	if got != 0.50 {
		t.Errorf("BestAsk() = %v, want 0.50", got)
	}
	if n := len(s.Depth(domain.OutcomeUp, domain.BookSideAsk, 0)); n != 1 {
		t.Errorf("Depth() has %d levels, want 1", n)
	}
}

func TestApplyDelta_ReplayIsNoop(t *testing.T) {
	s := New("m1")
	_ = s.ApplyDelta(ask(domain.OutcomeUp, 0.48, 10, 1))
	_ = s.ApplyDelta(ask(domain.OutcomeUp, 0.47, 10, 2))

	// Replaying seq 2 with a different payload must not touch the book.
	if err := s.ApplyDelta(ask(domain.OutcomeUp, 0.47, 0, 2)); err != nil {
		t.Fatalf("replay error = %v", err)
	}
	got, _ := s.BestAsk(domain.OutcomeUp)
	if got != 0.47 {
		t.Errorf("BestAsk() = %v, want 0.47", got)
	}
	if seq := s.Sequence(domain.OutcomeUp); seq != 2 {
		t.Errorf("Sequence() = %d, want 2", seq)
	}
}

func TestApplyDelta_GapRequiresResync(t *testing.T) {
	s := New("m1")
	_ = s.ApplyDelta(ask(domain.OutcomeUp, 0.48, 10, 1))

	err := s.ApplyDelta(ask(domain.OutcomeUp, 0.45, 10, 3))
	if !errors.Is(err, domain.ErrResyncRequired) {
		t.Fatalf("gap error = %v, want ErrResyncRequired", err)
	}
	if !s.Stale(domain.OutcomeUp) {
		t.Error("Stale() = false after gap")
	}
	// Contiguous follow-ups stay rejected until a snapshot arrives.
	if err := s.ApplyDelta(ask(domain.OutcomeUp, 0.45, 10, 4)); !errors.Is(err, domain.ErrResyncRequired) {
		t.Errorf("post-gap delta error = %v, want ErrResyncRequired", err)
	}
	// The other outcome is unaffected.
	if err := s.ApplyDelta(ask(domain.OutcomeDown, 0.50, 10, 1)); err != nil {
		t.Errorf("down delta error = %v", err)
	}

	snap := domain.BookSnapshot{
		Outcome:  domain.OutcomeUp,
		Asks:     []domain.PriceLevel{{Price: 0.46, Size: 3}, {Price: 0.44, Size: 0}, {Price: 0.49, Size: 1}},
		Bids:     []domain.PriceLevel{{Price: 0.40, Size: 2}},
		Sequence: 4,
	}
	if err := s.ApplySnapshot(snap); err != nil {
		t.Fatalf("ApplySnapshot() error = %v", err)
	}
	if s.Stale(domain.OutcomeUp) {
		t.Error("Stale() = true after snapshot")
	}
	if got, _ := s.BestAsk(domain.OutcomeUp); got != 0.46 {
		t.Errorf("BestAsk() = %v, want 0.46", got)
	}
	if err := s.ApplyDelta(ask(domain.OutcomeUp, 0.45, 10, 5)); err != nil {
		t.Errorf("delta after snapshot error = %v", err)
	}
	if got, _ := s.BestAsk(domain.OutcomeUp); got != 0.45 {
		t.Errorf("BestAsk() = %v, want 0.45", got)
	}
}

func TestApplySnapshot_OlderIgnored(t *testing.T) {
	s := New("m1")
	_ = s.ApplySnapshot(domain.BookSnapshot{Outcome: domain.OutcomeUp, Asks: []domain.PriceLevel{{Price: 0.5, Size: 1}}, Sequence: 10})
	_ = s.ApplySnapshot(domain.BookSnapshot{Outcome: domain.OutcomeUp, Asks: []domain.PriceLevel{{Price: 0.3, Size: 1}}, Sequence: 9})

	if got, _ := s.BestAsk(domain.OutcomeUp); got != 0.5 {
		t.Errorf("BestAsk() = %v, want 0.5", got)
	}
}

func TestApplyDelta_InvalidLevel(t *testing.T) {
	s := New("m1")
	if err := s.ApplyDelta(ask(domain.OutcomeUp, 0, 10, 1)); err == nil {
		t.Error("zero price accepted")
	}
	if err := s.ApplyDelta(ask(domain.OutcomeUp, 0.5, -1, 1)); err == nil {
		t.Error("negative size accepted")
	}
}

func TestTops_Combined(t *testing.T) {
	s := New("m1")
	_ = s.ApplyDelta(ask(domain.OutcomeUp, 0.48, 10, 1))
	tops := s.Tops()
	if tops.Complete() {
		t.Fatal("Complete() = true with one empty side")
	}
	_ = s.ApplyDelta(ask(domain.OutcomeDown, 0.49, 10, 1))
	tops = s.Tops()
	if !tops.Complete() {
		t.Fatal("Complete() = false")
	}
	if math.Abs(tops.Combined()-0.97) > 1e-9 {
		t.Errorf("Combined() = %v, want 0.97", tops.Combined())
	}
}

func TestStore_ConcurrentReadersSeeWholeDeltas(t *testing.T) {
	s := New("m1")
	var wg sync.WaitGroup
	stop := make(chan struct{})

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				levels := s.Depth(domain.OutcomeUp, domain.BookSideAsk, 0)
				for i := 1; i < len(levels); i++ {
					if levels[i].Price <= levels[i-1].Price {
						t.Errorf("asks out of order: %v", levels)
						return
					}
				}
			}
		}()
	}

	for seq := uint64(1); seq <= 2000; seq++ {
		price := float64(1+seq%90) / 100
		_ = s.ApplyDelta(ask(domain.OutcomeUp, price, float64(seq%3), seq))
	}
	close(stop)
	wg.Wait()
}

func TestTops_StaleSideIsIncomplete(t *testing.T) {
	s := New("m1")
	_ = s.ApplyDelta(ask(domain.OutcomeUp, 0.50, 10, 1))
	_ = s.ApplyDelta(ask(domain.OutcomeDown, 0.52, 10, 1))

	if err := s.ApplyDelta(ask(domain.OutcomeUp, 0.40, 10, 3)); !errors.Is(err, domain.ErrResyncRequired) {
		t.Fatalf("ApplyDelta() gap error = %v, want ErrResyncRequired", err)
	}
	tops := s.Tops()
	if !tops.Stale[domain.OutcomeUp] || tops.Stale[domain.OutcomeDown] {
		t.Errorf("Stale = %v, want [true false]", tops.Stale)
	}
	if tops.Complete() {
		t.Error("Complete() = true while UP awaits a snapshot")
	}

	_ = s.ApplySnapshot(domain.BookSnapshot{
		Outcome:  domain.OutcomeUp,
		Asks:     []domain.PriceLevel{{Price: 0.50, Size: 10}},
		Sequence: 3,
	})
	if tops := s.Tops(); !tops.Complete() {
		t.Errorf("Complete() = false after snapshot, Stale = %v", tops.Stale)
	}
}

package datalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/polysnipe/internal/domain"
)

type memBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    error
}

func (m *memBlob) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if m.fail != nil {
		return m.fail
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[path] = b
	return nil
}

func (m *memBlob) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "")
}

var testMarket = domain.Market{
	ID:       "0xc",
	Slug:     "btc-updown-15m-1700000100",
	StartsAt: time.Unix(1700000100, 0),
}

func TestStream_WritesOneLinePerRecord(t *testing.T) {
	blob := &memBlob{}
	l, err := New(Config{Dir: t.TempDir(), Session: "s1"}, blob, slog.Default())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	now := time.Unix(1700000200, 0)
	l.SetClock(func() time.Time { return now })

	s, err := l.Open(testMarket)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	detected := now
	s.Signal(domain.Signal{Kind: domain.SignalSpread, Window: 1, Combined: 0.97, BestAsk: [2]float64{0.48, 0.49}, DetectedAt: detected, FillProb: -1})
	s.Signal(domain.Signal{Kind: domain.SignalResolved, Window: 1, Combined: 1.01, DetectedAt: detected, ResolvedAt: detected.Add(250 * time.Millisecond), FillProb: -1})
	s.Fill(domain.Fill{ID: "f1", OrderID: "o1", Outcome: domain.OutcomeDown, Price: 0.48, Size: 100})
	s.Order(domain.OrderRequest{ClientID: "c1", Type: domain.OrderTypeFOK, Price: 0.48, Size: 10}, domain.OrderAck{}, errors.New("boom"))
	s.PnL(domain.MarketResult{Winner: domain.OutcomeUp, RealizedPnL: 7}, 7)
	if s.Count() != 5 {
		t.Errorf("Count() = %d, want 5", s.Count())
	}

	raw, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	recs, err := Read(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	wantTypes := []string{TypeSignal, TypeResolved, TypeFill, TypeOrder, TypePnL}
	if len(recs) != len(wantTypes) {
		t.Fatalf("Read() = %d records, want %d", len(recs), len(wantTypes))
	}
	for i, r := range recs {
		if r.Type != wantTypes[i] || r.Session != "s1" || r.Market != "0xc" || !r.Time.Equal(now) {
			t.Errorf("record %d = %+v", i, r)
		}
	}

	var resolved SignalData
	json.Unmarshal(recs[1].Data, &resolved)
	if resolved.DurationMS != 250 {
		t.Errorf("resolved duration = %d, want 250", resolved.DurationMS)
	}
	var order OrderData
	json.Unmarshal(recs[3].Data, &order)
	if order.Status != "error" || order.Error != "boom" {
		t.Errorf("order = %+v", order)
	}

	key, err := s.Close(context.Background())
	if err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if key != "datalog/2023-11-14/btc-updown-15m-1700000100-s1.jsonl" {
		t.Errorf("Close() key = %q", key)
	}
	if !bytes.Equal(blob.objects[key], raw) {
		t.Errorf("archived object differs from local file")
	}
	if err := s.Write(TypeFill, FillData{}); err == nil {
		t.Errorf("Write() after Close succeeded")
	}
	if key, err := s.Close(context.Background()); key != "" || err != nil {
		t.Errorf("second Close() = %q, %v", key, err)
	}
}

func TestRead_SkipsTornLine(t *testing.T) {
	in := `{"type":"fill","session":"s","market":"m","data":{}}` + "\n" + `{"type":"pn`
	recs, err := Read(strings.NewReader(in))
	if err != nil || len(recs) != 1 {
		t.Errorf("Read() = %d, %v, want 1 record", len(recs), err)
	}
}

func TestStream_ArchiveFailureKeepsFile(t *testing.T) {
	blob := &memBlob{fail: errors.New("s3 down")}
	l, _ := New(Config{Dir: t.TempDir(), Session: "s1"}, blob, slog.Default())
	s, _ := l.Open(testMarket)
	s.Fill(domain.Fill{ID: "f1"})
	if _, err := s.Close(context.Background()); err == nil {
		t.Fatal("Close() error = nil, want archive failure")
	}
	if _, err := os.Stat(s.Path()); err != nil {
		t.Errorf("local file removed: %v", err)
	}
}

func TestStream_ConcurrentWrites(t *testing.T) {
	l, _ := New(Config{Dir: t.TempDir(), Session: "s1"}, nil, slog.Default())
	s, _ := l.Open(testMarket)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.Fill(domain.Fill{ID: "f"})
			}
		}()
	}
	wg.Wait()
	s.Close(context.Background())

	f, _ := os.Open(s.Path())
	defer f.Close()
	recs, _ := Read(f)
	if len(recs) != 400 {
		t.Errorf("Read() = %d records, want 400", len(recs))
	}
}

// Package datalog writes the append-only JSONL record stream of a run:
// one file per market session, one JSON object per line, flushed as it is
// written. Closed files can be shipped to object storage.
package datalog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/alanyoungcy/polysnipe/internal/domain"
)

// Record types.
const (
	TypeSignal   = "signal"
	TypeResolved = "resolved"
	TypeOrder    = "order"
	TypeFill     = "fill"
	TypePnL      = "pnl"
	TypeSummary  = "session_summary"
)

// Record is one line of the stream.
type Record struct {
	Type    string          `json:"type"`
	Time    time.Time       `json:"ts"`
	Session string          `json:"session"`
	Market  string          `json:"market"`
	Data    json.RawMessage `json:"data"`
}

// SignalData describes a window opening or closing.
type SignalData struct {
	Window     uint64  `json:"window"`
	Combined   float64 `json:"combined"`
	UpAsk      float64 `json:"up_ask"`
	DownAsk    float64 `json:"down_ask"`
	Edge       float64 `json:"edge"`
	FillProb   float64 `json:"fill_prob,omitempty"`
	DurationMS int64   `json:"duration_ms,omitempty"`
}

// OrderData describes one submission attempt and its outcome.
type OrderData struct {
	ClientID string  `json:"client_id"`
	OrderID  string  `json:"order_id,omitempty"`
	Outcome  string  `json:"outcome"`
	Side     string  `json:"side"`
	Type     string  `json:"order_type"`
	Price    float64 `json:"price"`
	Size     float64 `json:"size"`
	Status   string  `json:"status"`
	Presign  bool    `json:"presign"`
	Attempts int     `json:"attempts"`
	DryRun   bool    `json:"dry_run"`
	Error    string  `json:"error,omitempty"`
}

// FillData is a recorded fill.
type FillData struct {
	ID      string  `json:"id"`
	OrderID string  `json:"order_id"`
	Outcome string  `json:"outcome"`
	Side    string  `json:"side"`
	Price   float64 `json:"price"`
	Size    float64 `json:"size"`
}

// PnLData is the resolution bookkeeping of one market.
type PnLData struct {
	Winner     string  `json:"winner"`
	Realized   float64 `json:"realized_pnl"`
	Cumulative float64 `json:"cumulative_pnl"`
	Residual   int     `json:"residual_orders"`
}

// Summary closes a market session.
type Summary struct {
	Slug          string    `json:"slug"`
	Question      string    `json:"question"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at"`
	UpShares      float64   `json:"up_shares"`
	DownShares    float64   `json:"down_shares"`
	UpCost        float64   `json:"up_cost"`
	DownCost      float64   `json:"down_cost"`
	LockedProfit  float64   `json:"locked_profit"`
	Windows       uint64    `json:"windows"`
	OrdersPlaced  int       `json:"orders_placed"`
	FillsReceived int       `json:"fills_received"`
	DryRun        bool      `json:"dry_run"`
}

// Config locates the stream on disk and in object storage.
type Config struct {
	Dir       string
	Session   string
	KeyPrefix string // object key prefix for archived files
}

// Log opens per-market streams.
type Log struct {
	cfg    Config
	blob   domain.BlobWriter
	logger *slog.Logger
	now    func() time.Time
}

// New creates the directory if needed. blob may be nil, in which case
// closed streams stay on disk only.
func New(cfg Config, blob domain.BlobWriter, logger *slog.Logger) (*Log, error) {
	if cfg.Dir == "" {
		return nil, errors.New("datalog: dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("datalog: create dir: %w", err)
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "datalog"
	}
	return &Log{
		cfg:    cfg,
		blob:   blob,
		logger: logger.With(slog.String("component", "datalog")),
		now:    time.Now,
	}, nil
}

// SetClock replaces the record timestamp source.
func (l *Log) SetClock(now func() time.Time) { l.now = now }

// Open starts the stream for one market session.
func (l *Log) Open(m domain.Market) (*Stream, error) {
	name := fmt.Sprintf("%s-%s.jsonl", m.Slug, l.cfg.Session)
	path := filepath.Join(l.cfg.Dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("datalog: open %s: %w", path, err)
	}
	return &Stream{
		log:    l,
		market: m,
		path:   path,
		key:    fmt.Sprintf("%s/%s/%s", l.cfg.KeyPrefix, m.StartsAt.UTC().Format("2006-01-02"), name),
		f:      f,
	}, nil
}

// Stream appends records for one market. Safe for concurrent use.
type Stream struct {
	log    *Log
	market domain.Market
	path   string
	key    string

	mu     sync.Mutex
	f      *os.File
	count  int
	closed bool
}

// Path is the local file backing the stream.
func (s *Stream) Path() string { return s.path }

// Count is the number of records written.
func (s *Stream) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Write appends one record. Each record is a single write so a crash
// leaves at most one torn line.
func (s *Stream) Write(typ string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("datalog: marshal %s: %w", typ, err)
	}
	line, err := json.Marshal(Record{
		Type:    typ,
		Time:    s.log.now().UTC(),
		Session: s.log.cfg.Session,
		Market:  s.market.ID,
		Data:    raw,
	})
	if err != nil {
		return fmt.Errorf("datalog: marshal record: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("datalog: write %s: stream closed", typ)
	}
	if _, err := s.f.Write(line); err != nil {
		return fmt.Errorf("datalog: write %s: %w", typ, err)
	}
	s.count++
	return nil
}

// Signal records a window opening or closing.
func (s *Stream) Signal(sig domain.Signal) error {
	d := SignalData{
		Window:   sig.Window,
		Combined: sig.Combined,
		UpAsk:    sig.BestAsk[domain.OutcomeUp],
		DownAsk:  sig.BestAsk[domain.OutcomeDown],
		Edge:     sig.Edge(),
	}
	if sig.FillProb >= 0 {
		d.FillProb = sig.FillProb
	}
	typ := TypeSignal
	if sig.Kind == domain.SignalResolved {
		typ = TypeResolved
		d.DurationMS = sig.Duration().Milliseconds()
	}
	return s.Write(typ, d)
}

// Order records a submission result.
func (s *Stream) Order(req domain.OrderRequest, ack domain.OrderAck, subErr error) error {
	d := OrderData{
		ClientID: req.ClientID,
		OrderID:  ack.OrderID,
		Outcome:  req.Outcome.String(),
		Side:     req.Side.String(),
		Type:     string(req.Type),
		Price:    req.Price,
		Size:     req.Size,
		Status:   ack.Status,
		Presign:  ack.Presign,
		Attempts: ack.Attempts,
		DryRun:   ack.DryRun,
	}
	if subErr != nil {
		d.Status = "error"
		d.Error = subErr.Error()
	}
	return s.Write(TypeOrder, d)
}

// Fill records a fill.
func (s *Stream) Fill(f domain.Fill) error {
	return s.Write(TypeFill, FillData{
		ID:      f.ID,
		OrderID: f.OrderID,
		Outcome: f.Outcome.String(),
		Side:    f.Side.String(),
		Price:   f.Price,
		Size:    f.Size,
	})
}

// PnL records resolution bookkeeping.
func (s *Stream) PnL(r domain.MarketResult, cumulative float64) error {
	return s.Write(TypePnL, PnLData{
		Winner:     r.Winner.String(),
		Realized:   r.RealizedPnL,
		Cumulative: cumulative,
		Residual:   r.Residual,
	})
}

// Summary records the session summary.
func (s *Stream) Summary(sum Summary) error {
	return s.Write(TypeSummary, sum)
}

// Close closes the file and, when object storage is configured, uploads
// it. It returns the object key, or "" when nothing was uploaded.
// Calling Close again is a no-op.
func (s *Stream) Close(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", nil
	}
	s.closed = true
	err := s.f.Close()
	s.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("datalog: close %s: %w", s.path, err)
	}
	if s.log.blob == nil {
		return "", nil
	}

	f, err := os.Open(s.path)
	if err != nil {
		return "", fmt.Errorf("datalog: reopen %s: %w", s.path, err)
	}
	defer f.Close()
	if err := s.log.blob.Put(ctx, s.key, f, "application/x-ndjson"); err != nil {
		return "", fmt.Errorf("datalog: archive %s: %w", s.key, err)
	}
	s.log.logger.Info("datalog archived",
		slog.String("market", s.market.Slug),
		slog.String("key", s.key),
	)
	return s.key, nil
}

// Read parses a stream, skipping a torn final line.
func Read(r io.Reader) ([]Record, error) {
	var out []Record
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("datalog: read: %w", err)
	}
	return out, nil
}

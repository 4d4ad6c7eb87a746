// Package notify pushes operator alerts (session P&L, one-sided exposure,
// an open circuit breaker) to chat webhooks.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/polysnipe/internal/domain"
)

// Alert kinds accepted in the events filter.
const (
	KindPnL         = string(domain.EventPnL)
	KindExposure    = string(domain.EventExposure)
	KindCircuitOpen = "circuit_open"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans alerts out to every sender. Alerts whose kind is not in
// the configured filter are dropped; an empty filter lets everything through.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Announce implements domain.EventSink. Only P&L and exposure events are
// operator-facing; the rest are ignored.
func (n *Notifier) Announce(ctx context.Context, e domain.Event) error {
	switch e.Kind {
	case domain.EventPnL:
		title := fmt.Sprintf("%s resolved", e.Slug)
		msg := fmt.Sprintf("winner %s, market P&L %s, session P&L %s",
			e.Outcome, usd(e.PnL), usd(e.Total))
		return n.Notify(ctx, KindPnL, title, msg)
	case domain.EventExposure:
		title := fmt.Sprintf("%s one-sided exposure", e.Slug)
		msg := fmt.Sprintf("%s %s %.2f @ %.2f left unhedged", e.Side, e.Outcome, e.Size, e.Price)
		return n.Notify(ctx, KindExposure, title, msg)
	}
	return nil
}

// CircuitOpen alerts that submissions are paused.
func (n *Notifier) CircuitOpen(ctx context.Context, failures int, cause error) error {
	msg := fmt.Sprintf("%d consecutive submission failures", failures)
	if cause != nil {
		msg += ": " + cause.Error()
	}
	return n.Notify(ctx, KindCircuitOpen, "circuit breaker open", msg)
}

// Notify delivers one alert if kind passes the filter.
func (n *Notifier) Notify(ctx context.Context, kind, title, message string) error {
	if !n.Enabled() {
		return nil
	}
	if len(n.events) > 0 && !n.events[kind] {
		n.logger.DebugContext(ctx, "alert filtered", slog.String("kind", kind))
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.WarnContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}

// usd renders a signed dollar amount.
func usd(v float64) string {
	if v < 0 {
		return fmt.Sprintf("-$%.2f", -v)
	}
	return fmt.Sprintf("+$%.2f", v)
}

var _ domain.EventSink = (*Notifier)(nil)

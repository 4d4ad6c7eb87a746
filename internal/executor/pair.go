package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polysnipe/internal/domain"
)

// ExposureFlagger takes one-sided exposure the executor could not unwind.
type ExposureFlagger interface {
	FlagExposure(e domain.Exposure) string
}

// PairResult reports both legs of a paired submission.
type PairResult struct {
	Up, Down       domain.OrderAck
	UpErr, DownErr error
	// Compensated is set when the lone accepted leg was cancelled.
	Compensated bool
	// Hedge is the ladder order id created for flagged exposure.
	Hedge string
}

// Filled reports whether both legs were accepted.
func (r PairResult) Filled() bool {
	return r.UpErr == nil && r.DownErr == nil
}

// SubmitPair submits up and down concurrently. When exactly one leg is
// accepted it is cancelled; if that cancel fails the position is handed
// to flagger as urgent exposure and ErrPartialFillImbalance is returned.
func (e *Executor) SubmitPair(ctx context.Context, up, down domain.OrderRequest, flagger ExposureFlagger) (PairResult, error) {
	var res PairResult
	var g errgroup.Group
	g.Go(func() error {
		res.Up, res.UpErr = e.Submit(ctx, up)
		return nil
	})
	g.Go(func() error {
		res.Down, res.DownErr = e.Submit(ctx, down)
		return nil
	})
	_ = g.Wait()

	switch {
	case res.Filled():
		return res, nil
	case res.UpErr != nil && res.DownErr != nil:
		return res, fmt.Errorf("executor: pair: %w", errors.Join(res.UpErr, res.DownErr))
	}

	ack, req, failed := res.Up, up, res.DownErr
	if res.UpErr != nil {
		ack, req, failed = res.Down, down, res.UpErr
	}
	log := e.logger.With(
		slog.String("market", req.MarketID),
		slog.String("accepted_leg", req.Outcome.String()),
		slog.String("order_id", ack.OrderID),
	)
	log.Warn("pair leg failed", slog.String("error", failed.Error()))

	if ack.DryRun {
		res.Compensated = true
		return res, fmt.Errorf("executor: pair: %w", failed)
	}
	cerr := e.Cancel(ctx, ack.OrderID)
	if cerr == nil {
		res.Compensated = true
		log.Info("compensating cancel done")
		return res, fmt.Errorf("executor: pair: %w", failed)
	}

	// Not found usually means the leg already matched.
	exp := domain.Exposure{
		MarketID: req.MarketID,
		Outcome:  req.Outcome,
		Shares:   req.Size,
		Price:    req.Price,
		OrderID:  ack.OrderID,
		Urgent:   true,
	}
	if flagger != nil {
		res.Hedge = flagger.FlagExposure(exp)
	}
	log.Warn("one-sided exposure flagged",
		slog.Float64("shares", exp.Shares),
		slog.String("cancel_error", cerr.Error()),
		slog.String("hedge", res.Hedge),
	)
	return res, fmt.Errorf("executor: pair %s: %w", req.MarketID, domain.ErrPartialFillImbalance)
}

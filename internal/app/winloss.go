package app

import (
	"context"
	"fmt"
	"polywatch/clients/polymarketapi"
	"polywatch/internal/store"
	"time"

	"go.uber.org/zap"
)

const closedPositionsFetchLimit = 200

// WinLossChecker counts realized wins and losses inside a lookback window
// and alerts subscribers at most once per calendar day per direction.
// Counters are recomputed from scratch each cycle; the lookback window ages
// old closes out naturally.
type WinLossChecker struct {
	logger     *zap.Logger
	store      store.Store
	feed       *polymarketapi.PolymarketApiClient
	dispatcher *Dispatcher
	threshold  int
	lookback   time.Duration
	metrics    *Metrics

	// now is replaceable in tests.
	now func() time.Time
}

func NewWinLossChecker(
	logger *zap.Logger,
	st store.Store,
	feed *polymarketapi.PolymarketApiClient,
	dispatcher *Dispatcher,
	threshold int,
	lookback time.Duration,
	metrics *Metrics,
) *WinLossChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WinLossChecker{
		logger:     logger,
		store:      st,
		feed:       feed,
		dispatcher: dispatcher,
		threshold:  threshold,
		lookback:   lookback,
		metrics:    metrics,
		now:        time.Now,
	}
}

// CheckAddress fetches the address's closed positions, counts wins (realized
// PnL strictly positive) and losses (strictly negative, zero ignored) inside
// the lookback window, and fires at most one alert per direction per day.
func (w *WinLossChecker) CheckAddress(ctx context.Context, address string) error {
	closed, err := w.feed.FetchClosedPositions(ctx, address, closedPositionsFetchLimit)
	if err != nil {
		return fmt.Errorf("fetch closed positions: %w", err)
	}

	now := w.now()
	since := now.Add(-w.lookback)

	var wins, losses int
	for _, p := range closed {
		ts := p.ClosedTime()
		if ts.IsZero() || ts.Before(since) {
			continue
		}
		switch {
		case p.RealizedPnl > 0:
			wins++
		case p.RealizedPnl < 0:
			losses++
		}
	}

	state, err := w.store.AlertState(ctx, address)
	if err != nil {
		return fmt.Errorf("read alert state: %w", err)
	}
	day := now.Format("2006-01-02")
	lookbackHours := int(w.lookback.Hours())

	if wins >= w.threshold && state.LastWinsAlertDay != day {
		msg := fmt.Sprintf(
			"Results update for %s\n%d winning close(s) in the last %dh (realized PnL > 0).",
			shortAddress(address), wins, lookbackHours,
		)
		delivered := w.dispatcher.DeliverAll(ctx, address, msg)
		w.logger.Info("wins alert fired",
			zap.String("address", shortAddress(address)),
			zap.Int("wins", wins),
			zap.Int("delivered", delivered),
		)
		if w.metrics != nil {
			w.metrics.winAlerts.Add(1)
		}
		state.LastWinsAlertDay = day
		if err := w.store.SetAlertState(ctx, address, state); err != nil {
			return fmt.Errorf("stamp wins alert day: %w", err)
		}
	}

	if losses >= w.threshold && state.LastLossesAlertDay != day {
		msg := fmt.Sprintf(
			"Results update for %s\n%d losing close(s) in the last %dh (realized PnL < 0).",
			shortAddress(address), losses, lookbackHours,
		)
		delivered := w.dispatcher.DeliverAll(ctx, address, msg)
		w.logger.Info("losses alert fired",
			zap.String("address", shortAddress(address)),
			zap.Int("losses", losses),
			zap.Int("delivered", delivered),
		)
		if w.metrics != nil {
			w.metrics.lossAlerts.Add(1)
		}
		state.LastLossesAlertDay = day
		if err := w.store.SetAlertState(ctx, address, state); err != nil {
			return fmt.Errorf("stamp losses alert day: %w", err)
		}
	}

	return nil
}

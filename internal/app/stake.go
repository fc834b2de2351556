package app

import (
	"context"
	"fmt"
	"polywatch/clients/polymarketapi"
	"polywatch/internal/store"
	"time"

	"go.uber.org/zap"
)

const (
	stakeWindow15m = 15 * time.Minute
	stakeWindow30m = 30 * time.Minute

	// stakeAlertCooldown is the minimum gap between stake alerts for one
	// address.
	stakeAlertCooldown = 15 * time.Minute
)

// StakeTrackerConfig holds the stake signal thresholds.
type StakeTrackerConfig struct {
	Delta15mUsd float64 // 15-minute flow sum threshold
	Cum30mUsd   float64 // 30-minute same-side cumulative threshold
}

// StakeTracker maintains per-address sliding windows of trade notionals and
// fires a behavioral alert when short-window flow exceeds the thresholds.
// Window state is a best-effort signal detector, not a ledger; losing it on
// restart is acceptable.
type StakeTracker struct {
	logger     *zap.Logger
	store      store.Store
	dispatcher *Dispatcher
	config     StakeTrackerConfig
	metrics    *Metrics

	// now is replaceable in tests.
	now func() time.Time
}

func NewStakeTracker(
	logger *zap.Logger,
	st store.Store,
	dispatcher *Dispatcher,
	config StakeTrackerConfig,
	metrics *Metrics,
) *StakeTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StakeTracker{
		logger:     logger,
		store:      st,
		dispatcher: dispatcher,
		config:     config,
		metrics:    metrics,
		now:        time.Now,
	}
}

// Observe records a newly-processed trade in the address's window and fires
// a stake alert when the rolling sums cross a threshold and the cooldown has
// elapsed. The cooldown is stamped unconditionally on fire, even if some
// deliveries fail.
func (s *StakeTracker) Observe(ctx context.Context, address string, t polymarketapi.Trade) error {
	tsMs := t.Timestamp * 1000
	usd := t.Notional()

	if err := s.store.PushStake(ctx, address, store.StakeEntry{Ts: tsMs, Usd: usd, Side: t.Side}); err != nil {
		return fmt.Errorf("push stake: %w", err)
	}
	cutoff30 := tsMs - stakeWindow30m.Milliseconds()
	if err := s.store.PruneStake(ctx, address, cutoff30); err != nil {
		return fmt.Errorf("prune stake: %w", err)
	}

	window, err := s.store.StakeWindow(ctx, address)
	if err != nil {
		return fmt.Errorf("read stake window: %w", err)
	}

	var sum15, buy30, sell30 float64
	cutoff15 := tsMs - stakeWindow15m.Milliseconds()
	for _, e := range window {
		if e.Ts >= cutoff15 {
			sum15 += e.Usd
		}
		if e.Ts >= cutoff30 {
			switch e.Side {
			case "BUY":
				buy30 += e.Usd
			case "SELL":
				sell30 += e.Usd
			}
		}
	}
	cum30 := buy30
	if sell30 > cum30 {
		cum30 = sell30
	}

	if sum15 < s.config.Delta15mUsd && cum30 < s.config.Cum30mUsd {
		return nil
	}

	state, err := s.store.AlertState(ctx, address)
	if err != nil {
		return fmt.Errorf("read alert state: %w", err)
	}
	nowMs := s.now().UnixMilli()
	if state.LastStakeAlertTs != 0 && nowMs-state.LastStakeAlertTs <= stakeAlertCooldown.Milliseconds() {
		return nil
	}

	msg := fmt.Sprintf(
		"Staking behavior change detected for %s\nLast 15m flow: $%s | Max same-side 30m: $%s\nLatest trade:\n%s",
		shortAddress(address),
		formatUSD(sum15),
		formatUSD(cum30),
		summarizeTrade(t),
	)
	delivered := s.dispatcher.DeliverAll(ctx, address, msg)

	s.logger.Info("stake alert fired",
		zap.String("address", shortAddress(address)),
		zap.Float64("sum15", sum15),
		zap.Float64("cum30", cum30),
		zap.Int("delivered", delivered),
	)
	if s.metrics != nil {
		s.metrics.stakeAlerts.Add(1)
	}

	state.LastStakeAlertTs = nowMs
	if err := s.store.SetAlertState(ctx, address, state); err != nil {
		return fmt.Errorf("stamp stake cooldown: %w", err)
	}
	return nil
}

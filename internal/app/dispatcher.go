package app

import (
	"context"
	"errors"
	"polywatch/clients/messenger"
	"polywatch/internal/store"
	"time"

	"go.uber.org/zap"
)

const (
	// maxRateLimitWait caps how long a rate-limit retry is honored; above
	// this the message is dropped instead.
	maxRateLimitWait = 60 * time.Second

	// smoothingThreshold and smoothingDelay pace sends for large recipient
	// batches to avoid tripping the transport's burst limit.
	smoothingThreshold = 10
	smoothingDelay     = 50 * time.Millisecond
)

// Dispatcher resolves the recipients for an address and delivers direct
// messages with per-recipient failure isolation.
type Dispatcher struct {
	logger      *zap.Logger
	store       store.Store
	sender      messenger.Sender
	minTradeUsd float64
	metrics     *Metrics

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration)
}

func NewDispatcher(
	logger *zap.Logger,
	st store.Store,
	sender messenger.Sender,
	minTradeUsd float64,
	metrics *Metrics,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		logger:      logger,
		store:       st,
		sender:      sender,
		minTradeUsd: minTradeUsd,
		metrics:     metrics,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// DeliverTrade sends a trade notification to every subscriber of the address
// whose minimum-USD preference the trade meets. Returns the number of
// messages delivered.
func (d *Dispatcher) DeliverTrade(ctx context.Context, address, text string, usd float64) int {
	recipients, err := d.store.Subscribers(ctx, address)
	if err != nil {
		d.logger.Warn("failed to resolve subscribers",
			zap.String("address", shortAddress(address)),
			zap.Error(err),
		)
		return 0
	}

	var filtered []string
	for _, r := range recipients {
		minUsd := d.minTradeUsd
		prefs, err := d.store.GetPreferences(ctx, r)
		if err != nil {
			// Preference lookup failure falls back to the global default;
			// skipping the recipient entirely would be worse.
			d.logger.Warn("failed to load preferences",
				zap.String("recipient", r),
				zap.Error(err),
			)
		} else if prefs.MinDmUsd != nil {
			minUsd = *prefs.MinDmUsd
		}
		if usd >= minUsd {
			filtered = append(filtered, r)
		}
	}

	return d.deliverBatch(ctx, filtered, text)
}

// DeliverAll sends text to every subscriber of the address, unfiltered.
// Behavioral alerts (stake surges, win/loss streaks) use this path.
func (d *Dispatcher) DeliverAll(ctx context.Context, address, text string) int {
	recipients, err := d.store.Subscribers(ctx, address)
	if err != nil {
		d.logger.Warn("failed to resolve subscribers",
			zap.String("address", shortAddress(address)),
			zap.Error(err),
		)
		return 0
	}
	return d.deliverBatch(ctx, recipients, text)
}

func (d *Dispatcher) deliverBatch(ctx context.Context, recipients []string, text string) int {
	delivered := 0
	for i, r := range recipients {
		if ctx.Err() != nil {
			return delivered
		}
		if d.send(ctx, r, text) {
			delivered++
		}
		if len(recipients) > smoothingThreshold && i < len(recipients)-1 {
			d.sleep(ctx, smoothingDelay)
		}
	}
	return delivered
}

// send delivers to one recipient. A rate-limit rejection with a wait of at
// most maxRateLimitWait is honored once; any other failure is logged and the
// message dropped so one recipient never blocks the rest.
func (d *Dispatcher) send(ctx context.Context, recipient, text string) bool {
	err := d.sender.SendText(ctx, recipient, text)
	if err == nil {
		if d.metrics != nil {
			d.metrics.dmsSent.Add(1)
		}
		return true
	}

	var rateLimited *messenger.RateLimitedError
	if errors.As(err, &rateLimited) && rateLimited.RetryAfter > 0 && rateLimited.RetryAfter <= maxRateLimitWait {
		d.logger.Info("rate limited, retrying once",
			zap.String("recipient", recipient),
			zap.Duration("retryAfter", rateLimited.RetryAfter),
		)
		d.sleep(ctx, rateLimited.RetryAfter+time.Second)
		if err := d.sender.SendText(ctx, recipient, text); err == nil {
			if d.metrics != nil {
				d.metrics.dmsSent.Add(1)
			}
			return true
		}
		return false
	}

	d.logger.Warn("failed to deliver message",
		zap.String("recipient", recipient),
		zap.Error(err),
	)
	return false
}

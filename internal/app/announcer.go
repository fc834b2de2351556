package app

import (
	"context"
	"polywatch/clients/messenger"
	"polywatch/clients/polymarketapi"
	"polywatch/internal/store"
	"time"

	"go.uber.org/zap"
)

const (
	topTradesFetchLimit = 100

	// announcePostDelay spaces channel posts to stay safely under the ~20
	// messages/minute channel limit.
	announcePostDelay = 3500 * time.Millisecond
)

// Announcer polls the global high-value trade feed and posts deduplicated
// entries to the broadcast channel, oldest-first. The first tick seeds the
// dedupe namespace without posting so a restart never floods the channel
// with historical trades.
type Announcer struct {
	logger      *zap.Logger
	store       store.Store
	feed        *polymarketapi.PolymarketApiClient
	broadcaster messenger.Broadcaster
	minUsd      float64
	metrics     *Metrics

	seeded bool

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration)
}

func NewAnnouncer(
	logger *zap.Logger,
	st store.Store,
	feed *polymarketapi.PolymarketApiClient,
	broadcaster messenger.Broadcaster,
	minUsd float64,
	metrics *Metrics,
) *Announcer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Announcer{
		logger:      logger,
		store:       st,
		feed:        feed,
		broadcaster: broadcaster,
		minUsd:      minUsd,
		metrics:     metrics,
		sleep:       sleepCtx,
	}
}

// Run ticks on the given cadence until ctx is done. The first tick fires
// immediately.
func (a *Announcer) Run(ctx context.Context, interval time.Duration) {
	a.logger.Info("announcer started",
		zap.Duration("interval", interval),
		zap.Float64("minUsd", a.minUsd),
	)
	a.tick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("announcer stopped")
			return
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

func (a *Announcer) tick(ctx context.Context) {
	trades, err := a.feed.FetchTopTrades(ctx, a.minUsd, topTradesFetchLimit)
	if err != nil {
		a.logger.Warn("failed to fetch top trades", zap.Error(err))
		return
	}
	if len(trades) == 0 {
		return
	}

	// First tick: mark everything currently visible as seen, post nothing.
	if !a.seeded {
		seeded := 0
		for _, t := range trades {
			if t.TransactionHash == "" {
				continue
			}
			won, err := a.store.ReserveBroadcast(ctx, t.TransactionHash)
			if err != nil {
				a.logger.Warn("failed to seed broadcast dedupe", zap.Error(err))
				return // retry seeding next tick
			}
			if won {
				seeded++
			}
		}
		a.seeded = true
		a.logger.Info("broadcast dedupe seeded", zap.Int("marked", seeded))
		return
	}

	// Oldest-first, reservation winners only. The atomic reserve is what
	// keeps concurrent pollers sharing this store from double-posting.
	var toPost []polymarketapi.Trade
	for i := len(trades) - 1; i >= 0; i-- {
		t := trades[i]
		if t.TransactionHash == "" {
			continue
		}
		won, err := a.store.ReserveBroadcast(ctx, t.TransactionHash)
		if err != nil {
			a.logger.Warn("broadcast reservation failed",
				zap.String("tx", t.TransactionHash),
				zap.Error(err),
			)
			continue
		}
		if won {
			toPost = append(toPost, t)
		}
	}

	for i, t := range toPost {
		if ctx.Err() != nil {
			return
		}
		msg := "High-value trade detected:\n" + summarizeTrade(t)
		if err := a.broadcaster.Broadcast(ctx, msg); err != nil {
			a.logger.Warn("failed to post announcement",
				zap.String("tx", t.TransactionHash),
				zap.Error(err),
			)
		} else if a.metrics != nil {
			a.metrics.broadcastsSent.Add(1)
		}
		if i < len(toPost)-1 {
			a.sleep(ctx, announcePostDelay)
		}
	}
}

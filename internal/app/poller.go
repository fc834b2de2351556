package app

import (
	"context"
	"fmt"
	"polywatch/clients/polymarketapi"
	"polywatch/internal/store"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	tradeFetchLimit = 100

	// Batch sizes for concurrent per-address work inside one cycle.
	tradeBatchSize = 10
	winsBatchSize  = 5

	// batchPause spaces batches out so one cycle never bursts the feed or
	// the messaging transport.
	batchPause = 500 * time.Millisecond
)

// Poller drives the trade-monitoring pipeline: it polls every watched
// address on a fast cadence for new trades and on a slower cadence for
// win/loss streaks, processing addresses in bounded concurrent batches.
type Poller struct {
	logger      *zap.Logger
	store       store.Store
	feed        *polymarketapi.PolymarketApiClient
	dispatcher  *Dispatcher
	stake       *StakeTracker
	winLoss     *WinLossChecker
	minTradeUsd float64
	metrics     *Metrics

	// inflight guards against a slow cycle still running when the next timer
	// fires: re-entry for the same address and loop kind is a no-op.
	inflightMu sync.Mutex
	inflight   map[string]struct{}

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration)
}

func NewPoller(
	logger *zap.Logger,
	st store.Store,
	feed *polymarketapi.PolymarketApiClient,
	dispatcher *Dispatcher,
	stake *StakeTracker,
	winLoss *WinLossChecker,
	minTradeUsd float64,
	metrics *Metrics,
) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		logger:      logger,
		store:       st,
		feed:        feed,
		dispatcher:  dispatcher,
		stake:       stake,
		winLoss:     winLoss,
		minTradeUsd: minTradeUsd,
		metrics:     metrics,
		inflight:    make(map[string]struct{}),
		sleep:       sleepCtx,
	}
}

// RunTradeLoop polls for new trades on the given cadence until ctx is done.
// The first poll fires immediately.
func (p *Poller) RunTradeLoop(ctx context.Context, interval time.Duration) {
	p.logger.Info("trade poll loop started", zap.Duration("interval", interval))
	p.pollTradesOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("trade poll loop stopped")
			return
		case <-ticker.C:
			p.pollTradesOnce(ctx)
		}
	}
}

// RunWinsLoop checks win/loss streaks on the given cadence until ctx is
// done. The first check fires immediately.
func (p *Poller) RunWinsLoop(ctx context.Context, interval time.Duration) {
	p.logger.Info("win/loss check loop started", zap.Duration("interval", interval))
	p.pollWinsOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("win/loss check loop stopped")
			return
		case <-ticker.C:
			p.pollWinsOnce(ctx)
		}
	}
}

func (p *Poller) pollTradesOnce(ctx context.Context) {
	p.forEachWatched(ctx, "trade", tradeBatchSize, func(ctx context.Context, address string) {
		if err := p.checkAddress(ctx, address); err != nil {
			if p.metrics != nil {
				p.metrics.cyclesSkipped.Add(1)
			}
			p.logger.Warn("trade poll failed for address",
				zap.String("address", shortAddress(address)),
				zap.Error(err),
			)
			return
		}
		if p.metrics != nil {
			p.metrics.cyclesCompleted.Add(1)
		}
	})
}

func (p *Poller) pollWinsOnce(ctx context.Context) {
	p.forEachWatched(ctx, "wins", winsBatchSize, func(ctx context.Context, address string) {
		if err := p.winLoss.CheckAddress(ctx, address); err != nil {
			p.logger.Warn("win/loss check failed for address",
				zap.String("address", shortAddress(address)),
				zap.Error(err),
			)
		}
	})
}

// forEachWatched runs fn for every distinct watched address in batches of
// batchSize, each address within a batch concurrently, with a short pause
// between batches. An address already in flight for the same loop kind is
// skipped.
func (p *Poller) forEachWatched(
	ctx context.Context,
	kind string,
	batchSize int,
	fn func(ctx context.Context, address string),
) {
	addresses, err := p.store.WatchedAddresses(ctx)
	if err != nil {
		p.logger.Warn("failed to list watched addresses", zap.Error(err))
		return
	}

	for start := 0; start < len(addresses); start += batchSize {
		if ctx.Err() != nil {
			return
		}
		end := start + batchSize
		if end > len(addresses) {
			end = len(addresses)
		}

		var wg sync.WaitGroup
		for _, address := range addresses[start:end] {
			if !p.tryAcquire(kind, address) {
				continue
			}
			wg.Add(1)
			go func(address string) {
				defer wg.Done()
				defer p.release(kind, address)
				fn(ctx, address)
			}(address)
		}
		wg.Wait()

		if end < len(addresses) {
			p.sleep(ctx, batchPause)
		}
	}
}

func (p *Poller) tryAcquire(kind, address string) bool {
	p.inflightMu.Lock()
	defer p.inflightMu.Unlock()

	key := kind + ":" + address
	if _, busy := p.inflight[key]; busy {
		return false
	}
	p.inflight[key] = struct{}{}
	return true
}

func (p *Poller) release(kind, address string) {
	p.inflightMu.Lock()
	defer p.inflightMu.Unlock()
	delete(p.inflight, kind+":"+address)
}

// checkAddress runs one trade-poll pass for a single address.
//
// Without a cursor the address is in its seeding state: the cursor is set to
// the newest visible trade and nothing is emitted, so newly-watched addresses
// never backfill-spam their subscribers. With a cursor, trades are processed
// oldest-to-newest; a trade is novel when it carries an unseen transaction
// hash, or when its timestamp is past the cursor. The cursor only ever moves
// forward.
func (p *Poller) checkAddress(ctx context.Context, address string) error {
	cursor, hasCursor, err := p.store.GetCursor(ctx, address)
	if err != nil {
		return fmt.Errorf("read cursor: %w", err)
	}

	trades, err := p.feed.FetchRecentTrades(ctx, address, p.minTradeUsd, tradeFetchLimit)
	if err != nil {
		return fmt.Errorf("fetch trades: %w", err)
	}
	if len(trades) == 0 {
		return nil
	}

	if !hasCursor {
		newest := trades[0]
		if err := p.store.SetCursor(ctx, address, store.Cursor{
			LastTs: newest.Timestamp,
			LastTx: newest.TransactionHash,
		}); err != nil {
			return fmt.Errorf("seed cursor: %w", err)
		}
		p.logger.Info("seeded cursor for new address",
			zap.String("address", shortAddress(address)),
			zap.Int64("ts", newest.Timestamp),
		)
		return nil
	}

	maxTs := cursor.LastTs
	maxTx := cursor.LastTx

	// The feed returns newest-first; walk backwards to process in order.
	for i := len(trades) - 1; i >= 0; i-- {
		t := trades[i]
		tx := t.TransactionHash

		txNew := false
		if tx != "" {
			seen, err := p.store.IsDmSeen(ctx, address, tx)
			if err != nil {
				return fmt.Errorf("check dm seen: %w", err)
			}
			txNew = !seen
		}
		tsNew := t.Timestamp > cursor.LastTs
		if !txNew && !tsNew {
			continue
		}

		text := fmt.Sprintf("Trader %s placed a trade:\n%s", shortAddress(address), summarizeTrade(t))
		p.dispatcher.DeliverTrade(ctx, address, text, t.Notional())

		if tx != "" {
			if err := p.store.MarkDmSeen(ctx, address, tx); err != nil {
				return fmt.Errorf("mark dm seen: %w", err)
			}
		}
		if err := p.stake.Observe(ctx, address, t); err != nil {
			// The stake window is advisory; a failed update must not stall
			// cursor progress.
			p.logger.Warn("stake signal update failed",
				zap.String("address", shortAddress(address)),
				zap.Error(err),
			)
		}

		if t.Timestamp >= maxTs {
			maxTs = t.Timestamp
			if tx != "" {
				maxTx = tx
			}
		}
	}

	if maxTs >= cursor.LastTs {
		if err := p.store.SetCursor(ctx, address, store.Cursor{LastTs: maxTs, LastTx: maxTx}); err != nil {
			return fmt.Errorf("advance cursor: %w", err)
		}
	}
	return nil
}

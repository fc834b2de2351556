package app

import (
	"context"
	"net/http"
	"sync"
	"time"

	"polywatch/clients"
	"polywatch/config"
	"polywatch/internal/bot"
	"polywatch/internal/store"

	"go.uber.org/zap"
)

// Runner owns the service's long-running components and their lifecycle: the
// trade and win/loss poll loops, the broadcast announcer, the Telegram command
// bot and the health server.
type Runner struct {
	logger  *zap.Logger
	config  *config.Config
	clients *clients.Clients
	store   store.Store

	poller    *Poller
	announcer *Announcer
	bot       *bot.Bot
	metrics   *Metrics
	health    *http.Server
}

func NewRunner(logger *zap.Logger, cfg *config.Config, cl *clients.Clients, st store.Store) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}

	metrics := NewMetrics()
	dispatcher := NewDispatcher(logger, st, cl.Telegram, cfg.Rules.MinTradeUsd, metrics)
	stake := NewStakeTracker(logger, st, dispatcher, StakeTrackerConfig{
		Delta15mUsd: cfg.Rules.StakeDelta15mUsd,
		Cum30mUsd:   cfg.Rules.StakeCum30mUsd,
	}, metrics)
	winLoss := NewWinLossChecker(
		logger, st, cl.Polymarket, dispatcher,
		cfg.Rules.WinsLossesThreshold,
		time.Duration(cfg.Rules.WinsLossesLookbackHours)*time.Hour,
		metrics,
	)

	r := &Runner{
		logger:  logger,
		config:  cfg,
		clients: cl,
		store:   st,
		metrics: metrics,
		poller: NewPoller(
			logger, st, cl.Polymarket, dispatcher, stake, winLoss,
			cfg.Rules.MinTradeUsd, metrics,
		),
		announcer: NewAnnouncer(
			logger, st, cl.Polymarket, cl.Broadcast,
			cfg.Rules.ChannelAnnounceUsd, metrics,
		),
		bot: bot.NewBot(logger, st, cl.Telegram, cl.Polymarket, cfg.Rules.MinTradeUsd),
	}

	if cfg.HealthServer.Enabled {
		r.health = newStatsServer(logger, cfg.HealthServer.Port, st, metrics)
	}
	return r
}

// Run starts every component and blocks until ctx is canceled and all
// components have drained.
func (r *Runner) Run(ctx context.Context) {
	r.logger.Info("polywatch starting",
		zap.Duration("tradePoll", r.config.Intervals.TradePoll),
		zap.Duration("winsCheck", r.config.Intervals.WinsCheck),
		zap.Float64("minTradeUsd", r.config.Rules.MinTradeUsd),
		zap.Float64("channelAnnounceUsd", r.config.Rules.ChannelAnnounceUsd),
	)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.poller.RunTradeLoop(ctx, r.config.Intervals.TradePoll)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.poller.RunWinsLoop(ctx, r.config.Intervals.WinsCheck)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.announcer.Run(ctx, r.config.Intervals.TradePoll)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.bot.Run(ctx)
	}()

	if r.health != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.logger.Info("health server listening", zap.String("addr", r.health.Addr))
			if err := r.health.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("health server failed", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	r.logger.Info("shutdown requested")

	if r.health != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		r.health.Shutdown(shutdownCtx)
		cancel()
	}

	wg.Wait()
	r.Close()
	r.logger.Info("polywatch stopped")
}

// Close releases the store and transport resources.
func (r *Runner) Close() {
	if err := r.store.Close(); err != nil {
		r.logger.Warn("failed to close store", zap.Error(err))
	}
	if err := r.clients.Telegram.Close(); err != nil {
		r.logger.Warn("failed to close telegram client", zap.Error(err))
	}
	if err := r.clients.Discord.Close(); err != nil {
		r.logger.Warn("failed to close discord client", zap.Error(err))
	}
}

package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"polywatch/clients/polymarketapi"
	"polywatch/clients/telegram"
	"polywatch/internal/store"

	"go.uber.org/zap"
)

const (
	longPollTimeoutSec = 50

	// errorBackoff paces retries when getUpdates itself is failing, e.g. on a
	// network blip or a conflicting bot instance.
	errorBackoff = 5 * time.Second

	maxWatchedPerUser = 25
)

// Bot runs the Telegram command surface over getUpdates long-polling.
// Commands mutate the shared store; the pollers pick the changes up on
// their next cycle.
type Bot struct {
	logger   *zap.Logger
	store    store.Store
	telegram *telegram.TelegramClient
	resolver *polymarketapi.PolymarketApiClient

	defaultMinUsd float64
	offset        int64
}

func NewBot(
	logger *zap.Logger,
	st store.Store,
	tc *telegram.TelegramClient,
	resolver *polymarketapi.PolymarketApiClient,
	defaultMinUsd float64,
) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bot{
		logger:        logger,
		store:         st,
		telegram:      tc,
		resolver:      resolver,
		defaultMinUsd: defaultMinUsd,
	}
}

// Run long-polls for updates until ctx is done.
func (b *Bot) Run(ctx context.Context) {
	if !b.telegram.Enabled() {
		b.logger.Info("telegram not configured, command bot disabled")
		return
	}
	b.logger.Info("command bot started")

	for {
		if ctx.Err() != nil {
			b.logger.Info("command bot stopped")
			return
		}

		updates, err := b.telegram.GetUpdates(ctx, b.offset, longPollTimeoutSec)
		if err != nil {
			if ctx.Err() != nil {
				b.logger.Info("command bot stopped")
				return
			}
			b.logger.Warn("getUpdates failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(errorBackoff):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= b.offset {
				b.offset = u.UpdateID + 1
			}
			if u.Message == nil || u.Message.Text == "" {
				continue
			}
			b.handleMessage(ctx, u.Message)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *telegram.Message) {
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	fields := strings.Fields(msg.Text)
	if len(fields) == 0 {
		return
	}

	// "/watch@MyBot 0xabc" is how groups address commands.
	command := strings.ToLower(fields[0])
	if at := strings.Index(command, "@"); at >= 0 {
		command = command[:at]
	}
	args := fields[1:]

	var reply string
	switch command {
	case "/start", "/help":
		reply = b.helpText()
	case "/watch":
		reply = b.handleWatch(ctx, chatID, args)
	case "/unwatch":
		reply = b.handleUnwatch(ctx, chatID, args)
	case "/list":
		reply = b.handleList(ctx, chatID)
	case "/settings":
		reply = b.handleSettings(ctx, chatID, args)
	default:
		return
	}

	if err := b.telegram.SendText(ctx, chatID, reply); err != nil {
		b.logger.Warn("failed to send command reply",
			zap.String("chat", chatID),
			zap.Error(err),
		)
	}
}

func (b *Bot) helpText() string {
	return strings.Join([]string{
		"Polymarket trade watcher.",
		"",
		"/watch <address|profile URL> - get alerts for a trader",
		"/unwatch <address> - stop watching a trader",
		"/list - show your watched traders",
		fmt.Sprintf("/settings min <usd> - set your DM threshold (default $%.0f)", b.defaultMinUsd),
	}, "\n")
}

func (b *Bot) handleWatch(ctx context.Context, chatID string, args []string) string {
	if len(args) != 1 {
		return "Usage: /watch <address|profile URL>"
	}

	address, err := b.resolver.ResolveToAddress(ctx, args[0])
	if err != nil {
		b.logger.Warn("address resolution failed",
			zap.String("input", args[0]),
			zap.Error(err),
		)
		return "Could not resolve that to a wallet address. Send a 0x address or a Polymarket profile URL."
	}

	existing, err := b.store.Subscriptions(ctx, chatID)
	if err != nil {
		b.logger.Warn("failed to list subscriptions", zap.Error(err))
		return "Something went wrong, try again."
	}
	if len(existing) >= maxWatchedPerUser {
		return fmt.Sprintf("You are already watching %d traders, the maximum. Use /unwatch first.", maxWatchedPerUser)
	}

	if err := b.store.Subscribe(ctx, chatID, address); err != nil {
		b.logger.Warn("subscribe failed",
			zap.String("address", address),
			zap.Error(err),
		)
		return "Something went wrong, try again."
	}
	return fmt.Sprintf("Watching %s. You will get alerts for its trades, stake surges and win/loss streaks.", address)
}

func (b *Bot) handleUnwatch(ctx context.Context, chatID string, args []string) string {
	if len(args) != 1 {
		return "Usage: /unwatch <address>"
	}
	address := store.NormalizeAddress(args[0])
	if !polymarketapi.IsWallet(address) {
		return "That does not look like a wallet address."
	}

	if err := b.store.Unsubscribe(ctx, chatID, address); err != nil {
		b.logger.Warn("unsubscribe failed",
			zap.String("address", address),
			zap.Error(err),
		)
		return "Something went wrong, try again."
	}
	return fmt.Sprintf("Stopped watching %s.", address)
}

func (b *Bot) handleList(ctx context.Context, chatID string) string {
	subs, err := b.store.Subscriptions(ctx, chatID)
	if err != nil {
		b.logger.Warn("failed to list subscriptions", zap.Error(err))
		return "Something went wrong, try again."
	}
	if len(subs) == 0 {
		return "You are not watching any traders. Use /watch <address> to start."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Watching %d trader(s):\n", len(subs))
	for _, s := range subs {
		fmt.Fprintf(&sb, "• %s\n", s.Address)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *Bot) handleSettings(ctx context.Context, chatID string, args []string) string {
	if len(args) == 0 {
		prefs, err := b.store.GetPreferences(ctx, chatID)
		if err != nil {
			b.logger.Warn("failed to load preferences", zap.Error(err))
			return "Something went wrong, try again."
		}
		min := b.defaultMinUsd
		source := "default"
		if prefs.MinDmUsd != nil {
			min = *prefs.MinDmUsd
			source = "custom"
		}
		return fmt.Sprintf("Your DM threshold: $%.0f (%s).\nChange it with /settings min <usd>.", min, source)
	}

	if len(args) != 2 || strings.ToLower(args[0]) != "min" {
		return "Usage: /settings min <usd>"
	}
	usd, err := strconv.ParseFloat(args[1], 64)
	if err != nil || usd < 0 {
		return "Threshold must be a non-negative dollar amount."
	}

	prefs, err := b.store.GetPreferences(ctx, chatID)
	if err != nil {
		b.logger.Warn("failed to load preferences", zap.Error(err))
		return "Something went wrong, try again."
	}
	prefs.MinDmUsd = &usd
	if err := b.store.SetPreferences(ctx, chatID, prefs); err != nil {
		b.logger.Warn("failed to save preferences", zap.Error(err))
		return "Something went wrong, try again."
	}
	return fmt.Sprintf("DM threshold set to $%.0f.", usd)
}

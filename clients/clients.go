package clients

import (
	"polywatch/clients/discord"
	"polywatch/clients/messenger"
	"polywatch/clients/polymarketapi"
	"polywatch/clients/telegram"
	"polywatch/config"

	"go.uber.org/zap"
)

type Clients struct {
	Logger *zap.Logger

	Telegram   *telegram.TelegramClient
	Discord    *discord.DiscordClient
	Broadcast  *messenger.MultiBroadcaster // combined announcement fan-out
	Polymarket *polymarketapi.PolymarketApiClient
}

func NewClients(logger *zap.Logger, cfg *config.Config) *Clients {
	telegramClient := telegram.NewTelegramClient(logger, cfg)
	discordClient := discord.NewDiscordClient(logger, cfg)

	// Announcements fan out to every configured channel target.
	var targets []messenger.Broadcaster
	if telegramClient.Enabled() {
		targets = append(targets, telegramClient)
	}
	if discordClient.Enabled() {
		targets = append(targets, discordClient)
	}

	return &Clients{
		Logger:     logger,
		Telegram:   telegramClient,
		Discord:    discordClient,
		Broadcast:  messenger.NewMultiBroadcaster(targets...),
		Polymarket: polymarketapi.NewPolymarketApiClient(logger, cfg),
	}
}

package discord

import (
	"context"
	"fmt"
	"polywatch/config"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordClient mirrors broadcast announcements to a Discord channel.
// Implements messenger.Broadcaster.
type DiscordClient struct {
	logger    *zap.Logger
	session   *discordgo.Session
	channelID string
}

func NewDiscordClient(logger *zap.Logger, cfg *config.Config) *DiscordClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	channelID := cfg.Discord.AnnounceChannelID

	token := cfg.Discord.BotToken
	if token == "" {
		logger.Warn("DISCORD_BOT_TOKEN not set, Discord announcements disabled")
		return &DiscordClient{
			logger:    logger,
			channelID: channelID,
		}
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		logger.Error("failed to create discord session", zap.Error(err))
		return &DiscordClient{
			logger:    logger,
			channelID: channelID,
		}
	}

	logger.Info("discord bot initialized", zap.String("channelID", channelID))

	return &DiscordClient{
		logger:    logger,
		session:   session,
		channelID: channelID,
	}
}

// Enabled reports whether the client can post announcements.
func (dc *DiscordClient) Enabled() bool {
	return dc.session != nil && dc.channelID != ""
}

// Broadcast posts a message to the configured announcements channel.
// discordgo paces requests against Discord's rate limit internally.
func (dc *DiscordClient) Broadcast(ctx context.Context, text string) error {
	if !dc.Enabled() {
		return fmt.Errorf("discord not configured")
	}

	_, err := dc.session.ChannelMessageSend(dc.channelID, text, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("send discord message: %w", err)
	}
	return nil
}

// Close cleans up resources. Implements messenger.Broadcaster.
func (dc *DiscordClient) Close() error {
	return nil
}

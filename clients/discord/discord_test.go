package discord

import (
	"context"
	"polywatch/config"
	"testing"

	"go.uber.org/zap"
)

func TestNewDiscordClient_NoToken(t *testing.T) {
	cfg := config.Defaults()
	cfg.Discord.AnnounceChannelID = "123456"

	client := NewDiscordClient(zap.NewNop(), cfg)

	if client.Enabled() {
		t.Error("expected client disabled without token")
	}
	if err := client.Broadcast(context.Background(), "hi"); err == nil {
		t.Error("expected error broadcasting while disabled")
	}
}

func TestNewDiscordClient_NoChannel(t *testing.T) {
	cfg := config.Defaults()
	cfg.Discord.BotToken = "token"

	client := NewDiscordClient(zap.NewNop(), cfg)

	if client.Enabled() {
		t.Error("expected client disabled without announce channel")
	}
}

func TestNewDiscordClient_Configured(t *testing.T) {
	cfg := config.Defaults()
	cfg.Discord.BotToken = "token"
	cfg.Discord.AnnounceChannelID = "123456"

	client := NewDiscordClient(zap.NewNop(), cfg)

	if !client.Enabled() {
		t.Error("expected client enabled")
	}
}

func TestClose(t *testing.T) {
	client := NewDiscordClient(zap.NewNop(), config.Defaults())
	if err := client.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

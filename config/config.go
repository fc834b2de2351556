package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Telegram transport (DMs, commands, channel announcements)
	Telegram TelegramConfig

	// Optional Discord mirror for channel announcements
	Discord DiscordConfig

	// Alerting thresholds
	Rules RulesConfig

	// Poll cadences
	Intervals IntervalsConfig

	// Polymarket API
	Polymarket PolymarketConfig

	// Dedupe & cursor store backend
	Store StoreConfig

	// Health server
	HealthServer HealthServerConfig
}

// TelegramConfig holds Telegram-related configuration.
type TelegramConfig struct {
	BotToken       string
	AnnounceChatID string // channel for high-value trade announcements
	APIBaseURL     string
}

// DiscordConfig holds Discord-related configuration.
type DiscordConfig struct {
	BotToken          string
	AnnounceChannelID string
}

// RulesConfig holds the alerting thresholds.
type RulesConfig struct {
	MinTradeUsd             float64 // global DM threshold, overridable per recipient
	ChannelAnnounceUsd      float64 // broadcast channel threshold
	StakeDelta15mUsd        float64 // 15-minute flow sum threshold
	StakeCum30mUsd          float64 // 30-minute same-side cumulative threshold
	WinsLossesThreshold     int     // closes needed to fire a win/loss alert
	WinsLossesLookbackHours int     // lookback window for win/loss counting
}

// IntervalsConfig holds the two independent poll cadences.
type IntervalsConfig struct {
	TradePoll time.Duration
	WinsCheck time.Duration
}

// PolymarketConfig holds Polymarket API configuration.
type PolymarketConfig struct {
	DataAPIURL string
	SiteURL    string // profile pages, for wallet resolution
}

// StoreConfig selects and configures the store backend.
type StoreConfig struct {
	Backend       string // "file" or "redis"
	FilePath      string
	RedisURL      string
	RedisPassword string
}

// HealthServerConfig holds health check server configuration.
type HealthServerConfig struct {
	Enabled bool
	Port    int
}

// Defaults returns a config with hardcoded default values.
func Defaults() *Config {
	return &Config{
		Telegram: TelegramConfig{
			APIBaseURL: "https://api.telegram.org",
		},
		Discord: DiscordConfig{},
		Rules: RulesConfig{
			MinTradeUsd:             1000,
			ChannelAnnounceUsd:      10000,
			StakeDelta15mUsd:        2500,
			StakeCum30mUsd:          5000,
			WinsLossesThreshold:     3,
			WinsLossesLookbackHours: 24,
		},
		Intervals: IntervalsConfig{
			TradePoll: 15 * time.Second,
			WinsCheck: 5 * time.Minute,
		},
		Polymarket: PolymarketConfig{
			DataAPIURL: "https://data-api.polymarket.com",
			SiteURL:    "https://www.polymarket.com",
		},
		Store: StoreConfig{
			Backend:  "file",
			FilePath: "data/polywatch.json",
		},
		HealthServer: HealthServerConfig{
			Enabled: true,
			Port:    8080,
		},
	}
}

// Load reads configuration from environment variables, falling back to
// Defaults. Intervals are expressed in milliseconds (TRADE_POLL_MS,
// WINS_CHECK_MS), matching the deployment surface.
func Load() *Config {
	return &Config{
		Telegram: TelegramConfig{
			BotToken:       envString("TELEGRAM_BOT_TOKEN", ""),
			AnnounceChatID: envString("TELEGRAM_ANNOUNCEMENTS_CHAT_ID", "@PolyWatchAlerts"),
			APIBaseURL:     envString("TELEGRAM_API_BASE_URL", "https://api.telegram.org"),
		},

		Discord: DiscordConfig{
			BotToken:          envString("DISCORD_BOT_TOKEN", ""),
			AnnounceChannelID: envString("DISCORD_ANNOUNCE_CHANNEL_ID", ""),
		},

		Rules: RulesConfig{
			MinTradeUsd:             envFloat("MIN_TRADE_USD", 1000),
			ChannelAnnounceUsd:      envFloat("CHANNEL_ANNOUNCE_USD", 10000),
			StakeDelta15mUsd:        envFloat("STAKE_DELTA_15M_USD", 2500),
			StakeCum30mUsd:          envFloat("STAKE_CUM_30M_USD", 5000),
			WinsLossesThreshold:     envInt("WINS_LOSSES_THRESHOLD", 3),
			WinsLossesLookbackHours: envInt("WINS_LOSSES_LOOKBACK_HOURS", 24),
		},

		Intervals: IntervalsConfig{
			TradePoll: time.Duration(envInt("TRADE_POLL_MS", 15_000)) * time.Millisecond,
			WinsCheck: time.Duration(envInt("WINS_CHECK_MS", 300_000)) * time.Millisecond,
		},

		Polymarket: PolymarketConfig{
			DataAPIURL: envString("POLYMARKET_DATA_API_URL", "https://data-api.polymarket.com"),
			SiteURL:    envString("POLYMARKET_SITE_URL", "https://www.polymarket.com"),
		},

		Store: StoreConfig{
			Backend:       envString("STORE_BACKEND", "file"),
			FilePath:      envString("STORE_FILE_PATH", "data/polywatch.json"),
			RedisURL:      envString("REDIS_URL", ""),
			RedisPassword: envString("REDIS_PASSWORD", ""),
		},

		HealthServer: HealthServerConfig{
			Enabled: envBoolDefault("HEALTH_SERVER_ENABLED", true),
			Port:    envInt("HEALTH_SERVER_PORT", 8080),
		},
	}
}

// Helper functions for parsing environment variables

func envString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envBoolDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	return strings.EqualFold(v, "true") || strings.EqualFold(v, "1") || strings.EqualFold(v, "yes")
}

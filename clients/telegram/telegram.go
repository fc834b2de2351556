package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"polywatch/clients/messenger"
	"polywatch/config"
	"time"

	"go.uber.org/zap"
)

// TelegramClient sends messages via the Telegram Bot API.
// Implements messenger.Sender and messenger.Broadcaster.
type TelegramClient struct {
	logger         *zap.Logger
	botToken       string
	announceChatID string
	apiBaseURL     string
	client         *http.Client
}

func NewTelegramClient(logger *zap.Logger, cfg *config.Config) *TelegramClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	token := cfg.Telegram.BotToken
	if token == "" {
		logger.Warn("TELEGRAM_BOT_TOKEN not set, Telegram delivery disabled")
		return &TelegramClient{
			logger:         logger,
			announceChatID: cfg.Telegram.AnnounceChatID,
			apiBaseURL:     cfg.Telegram.APIBaseURL,
		}
	}

	logger.Info("telegram bot initialized",
		zap.String("announceChatID", cfg.Telegram.AnnounceChatID),
	)

	return &TelegramClient{
		logger:         logger,
		botToken:       token,
		announceChatID: cfg.Telegram.AnnounceChatID,
		apiBaseURL:     cfg.Telegram.APIBaseURL,
		// Long-poll getUpdates calls can hold the connection open for up to
		// 60s, so the client timeout must sit above that.
		client: &http.Client{Timeout: 65 * time.Second},
	}
}

// Enabled reports whether a bot token is configured.
func (tc *TelegramClient) Enabled() bool {
	return tc.botToken != ""
}

// apiResponse is the envelope every Bot API call returns.
type apiResponse struct {
	OK          bool            `json:"ok"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *responseParams `json:"parameters"`
	Result      json.RawMessage `json:"result"`
}

type responseParams struct {
	RetryAfter int `json:"retry_after"`
}

// Update is a single entry from getUpdates.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

// Message is an incoming chat message.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text"`
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type Chat struct {
	ID int64 `json:"id"`
}

// SendText sends a plain-text message to the given chat ID. A 429 from the
// API is surfaced as *messenger.RateLimitedError carrying the reported
// retry-after so the caller can decide whether to wait.
func (tc *TelegramClient) SendText(ctx context.Context, chatID, text string) error {
	if tc.botToken == "" {
		return fmt.Errorf("telegram not configured")
	}

	payload := map[string]any{
		"chat_id":                  chatID,
		"text":                     text,
		"disable_web_page_preview": true,
	}

	resp, err := tc.call(ctx, "sendMessage", payload)
	if err != nil {
		return err
	}

	if !resp.OK {
		if resp.Parameters != nil && resp.Parameters.RetryAfter > 0 {
			return &messenger.RateLimitedError{
				RetryAfter: time.Duration(resp.Parameters.RetryAfter) * time.Second,
			}
		}
		return fmt.Errorf("telegram API error %d: %s", resp.ErrorCode, resp.Description)
	}

	return nil
}

// Broadcast posts to the configured announcements chat.
func (tc *TelegramClient) Broadcast(ctx context.Context, text string) error {
	if tc.announceChatID == "" {
		return fmt.Errorf("no announcements chat configured")
	}
	return tc.SendText(ctx, tc.announceChatID, text)
}

// GetUpdates long-polls the Bot API for incoming messages. Pass the last
// processed update ID plus one as offset to acknowledge earlier updates.
func (tc *TelegramClient) GetUpdates(ctx context.Context, offset int64, timeoutSec int) ([]Update, error) {
	if tc.botToken == "" {
		return nil, fmt.Errorf("telegram not configured")
	}

	payload := map[string]any{
		"offset":          offset,
		"timeout":         timeoutSec,
		"allowed_updates": []string{"message"},
	}

	resp, err := tc.call(ctx, "getUpdates", payload)
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("telegram API error %d: %s", resp.ErrorCode, resp.Description)
	}

	var updates []Update
	if err := json.Unmarshal(resp.Result, &updates); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	return updates, nil
}

func (tc *TelegramClient) call(ctx context.Context, method string, payload any) (*apiResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", tc.apiBaseURL, tc.botToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := tc.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var resp apiResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decode response (status %d): %w", httpResp.StatusCode, err)
	}

	return &resp, nil
}

// Close cleans up resources. Implements messenger.Sender.
func (tc *TelegramClient) Close() error {
	return nil
}

package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"polywatch/clients/messenger"
	"polywatch/config"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestTelegramClient(t *testing.T, handler http.Handler) *TelegramClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.Defaults()
	cfg.Telegram.BotToken = "test-token"
	cfg.Telegram.AnnounceChatID = "@testchannel"
	cfg.Telegram.APIBaseURL = server.URL

	return NewTelegramClient(zap.NewNop(), cfg)
}

func TestNewTelegramClient_NoToken(t *testing.T) {
	cfg := config.Defaults()
	client := NewTelegramClient(zap.NewNop(), cfg)

	if client.Enabled() {
		t.Error("expected client disabled without token")
	}
	if err := client.SendText(context.Background(), "123", "hi"); err == nil {
		t.Error("expected error sending without token")
	}
}

func TestSendText_Success(t *testing.T) {
	var gotPayload map[string]any
	client := newTestTelegramClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottest-token/sendMessage" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotPayload)
		fmt.Fprint(w, `{"ok":true,"result":{}}`)
	}))

	if err := client.SendText(context.Background(), "12345", "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPayload["chat_id"] != "12345" {
		t.Errorf("expected chat_id 12345, got %v", gotPayload["chat_id"])
	}
	if gotPayload["text"] != "hello" {
		t.Errorf("expected text hello, got %v", gotPayload["text"])
	}
}

func TestSendText_RateLimited(t *testing.T) {
	client := newTestTelegramClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":17}}`)
	}))

	err := client.SendText(context.Background(), "12345", "hello")
	if err == nil {
		t.Fatal("expected error")
	}

	var rateLimited *messenger.RateLimitedError
	if !errors.As(err, &rateLimited) {
		t.Fatalf("expected RateLimitedError, got %T: %v", err, err)
	}
	if rateLimited.RetryAfter != 17*time.Second {
		t.Errorf("expected retry after 17s, got %s", rateLimited.RetryAfter)
	}
}

func TestSendText_APIError(t *testing.T) {
	client := newTestTelegramClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`)
	}))

	err := client.SendText(context.Background(), "12345", "hello")
	if err == nil {
		t.Fatal("expected error")
	}

	var rateLimited *messenger.RateLimitedError
	if errors.As(err, &rateLimited) {
		t.Error("plain API error must not be a RateLimitedError")
	}
}

func TestBroadcast_UsesAnnounceChat(t *testing.T) {
	var gotChatID any
	client := newTestTelegramClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		gotChatID = payload["chat_id"]
		fmt.Fprint(w, `{"ok":true,"result":{}}`)
	}))

	if err := client.Broadcast(context.Background(), "big trade"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotChatID != "@testchannel" {
		t.Errorf("expected announce chat, got %v", gotChatID)
	}
}

func TestBroadcast_NoChatConfigured(t *testing.T) {
	cfg := config.Defaults()
	cfg.Telegram.BotToken = "test-token"
	cfg.Telegram.AnnounceChatID = ""
	client := NewTelegramClient(zap.NewNop(), cfg)

	if err := client.Broadcast(context.Background(), "x"); err == nil {
		t.Error("expected error without announce chat")
	}
}

func TestGetUpdates(t *testing.T) {
	var gotPayload map[string]any
	client := newTestTelegramClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottest-token/getUpdates" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotPayload)
		fmt.Fprint(w, `{"ok":true,"result":[
			{"update_id":7,"message":{"message_id":1,"chat":{"id":42},"text":"/watch 0xabc"}}
		]}`)
	}))

	updates, err := client.GetUpdates(context.Background(), 5, 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPayload["offset"] != float64(5) {
		t.Errorf("expected offset 5, got %v", gotPayload["offset"])
	}
	if len(updates) != 1 {
		t.Fatalf("expected 1 update, got %d", len(updates))
	}
	if updates[0].UpdateID != 7 {
		t.Errorf("expected update_id 7, got %d", updates[0].UpdateID)
	}
	if updates[0].Message.Chat.ID != 42 {
		t.Errorf("expected chat 42, got %d", updates[0].Message.Chat.ID)
	}
	if updates[0].Message.Text != "/watch 0xabc" {
		t.Errorf("unexpected text %q", updates[0].Message.Text)
	}
}

func TestClose(t *testing.T) {
	client := NewTelegramClient(zap.NewNop(), config.Defaults())
	if err := client.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

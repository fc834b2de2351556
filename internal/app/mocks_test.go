package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"polywatch/clients/polymarketapi"
	"polywatch/config"
	"polywatch/internal/store"

	"go.uber.org/zap"
)

// fakeSender records direct messages and returns scripted errors.
type fakeSender struct {
	mu    sync.Mutex
	sends []fakeSend

	// errs is consumed per recipient, one error per call.
	errs map[string][]error
}

type fakeSend struct {
	Recipient string
	Text      string
}

func newFakeSender() *fakeSender {
	return &fakeSender{errs: make(map[string][]error)}
}

// pushError queues an error for the next SendText call to recipient.
func (f *fakeSender) pushError(recipient string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[recipient] = append(f.errs[recipient], err)
}

func (f *fakeSender) SendText(_ context.Context, chatID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if queue := f.errs[chatID]; len(queue) > 0 {
		err := queue[0]
		f.errs[chatID] = queue[1:]
		if err != nil {
			return err
		}
	}
	f.sends = append(f.sends, fakeSend{Recipient: chatID, Text: text})
	return nil
}

func (f *fakeSender) Close() error { return nil }

func (f *fakeSender) sentTo(recipient string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []string
	for _, s := range f.sends {
		if s.Recipient == recipient {
			out = append(out, s.Text)
		}
	}
	return out
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

// fakeBroadcaster records channel posts.
type fakeBroadcaster struct {
	mu    sync.Mutex
	posts []string
	err   error
}

func (f *fakeBroadcaster) Broadcast(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.posts = append(f.posts, text)
	return nil
}

func (f *fakeBroadcaster) Close() error { return nil }

func (f *fakeBroadcaster) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posts)
}

// newTestStore returns a file store rooted in a temp dir.
func newTestStore(t *testing.T) *store.FileStore {
	t.Helper()
	fs, err := store.NewFileStore(zap.NewNop(), filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { fs.Close() })
	return fs
}

// newTestFeed returns an API client pointed at a test server.
func newTestFeed(t *testing.T, handler http.Handler) *polymarketapi.PolymarketApiClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.Defaults()
	cfg.Polymarket.DataAPIURL = server.URL
	cfg.Polymarket.SiteURL = server.URL
	return polymarketapi.NewPolymarketApiClient(zap.NewNop(), cfg)
}

// instantSleep replaces pacing sleeps in tests.
func instantSleep(context.Context, time.Duration) {}

package app

import (
	"context"
	"errors"
	"polywatch/clients/messenger"
	"polywatch/internal/store"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestDispatcher(t *testing.T, sender *fakeSender, minTradeUsd float64) (*Dispatcher, *store.FileStore) {
	t.Helper()
	st := newTestStore(t)
	d := NewDispatcher(zap.NewNop(), st, sender, minTradeUsd, NewMetrics())
	d.sleep = instantSleep
	return d, st
}

func TestDeliverTrade_FiltersByPreference(t *testing.T) {
	sender := newFakeSender()
	d, st := newTestDispatcher(t, sender, 1000)
	ctx := context.Background()

	if err := st.Subscribe(ctx, "cheap", "0xabc"); err != nil {
		t.Fatal(err)
	}
	if err := st.Subscribe(ctx, "picky", "0xabc"); err != nil {
		t.Fatal(err)
	}
	min := 5000.0
	if err := st.SetPreferences(ctx, "picky", store.Preferences{MinDmUsd: &min}); err != nil {
		t.Fatal(err)
	}

	delivered := d.DeliverTrade(ctx, "0xabc", "trade!", 2000)

	if delivered != 1 {
		t.Errorf("expected 1 delivery, got %d", delivered)
	}
	if got := sender.sentTo("cheap"); len(got) != 1 {
		t.Errorf("expected cheap to receive message, got %v", got)
	}
	if got := sender.sentTo("picky"); len(got) != 0 {
		t.Errorf("expected picky to be filtered, got %v", got)
	}
}

func TestDeliverTrade_GlobalDefaultApplies(t *testing.T) {
	sender := newFakeSender()
	d, st := newTestDispatcher(t, sender, 1000)
	ctx := context.Background()

	if err := st.Subscribe(ctx, "user1", "0xabc"); err != nil {
		t.Fatal(err)
	}

	if delivered := d.DeliverTrade(ctx, "0xabc", "small", 500); delivered != 0 {
		t.Errorf("expected trade below global default to be filtered, got %d", delivered)
	}
	if delivered := d.DeliverTrade(ctx, "0xabc", "big", 1000); delivered != 1 {
		t.Errorf("expected trade at the threshold to deliver, got %d", delivered)
	}
}

func TestDeliverAll_IgnoresPreferences(t *testing.T) {
	sender := newFakeSender()
	d, st := newTestDispatcher(t, sender, 1000)
	ctx := context.Background()

	if err := st.Subscribe(ctx, "picky", "0xabc"); err != nil {
		t.Fatal(err)
	}
	min := 1000000.0
	if err := st.SetPreferences(ctx, "picky", store.Preferences{MinDmUsd: &min}); err != nil {
		t.Fatal(err)
	}

	if delivered := d.DeliverAll(ctx, "0xabc", "streak alert"); delivered != 1 {
		t.Errorf("behavioral alerts must bypass the trade threshold, got %d", delivered)
	}
}

func TestSend_RateLimitRetriesOnce(t *testing.T) {
	sender := newFakeSender()
	d, st := newTestDispatcher(t, sender, 0)
	ctx := context.Background()

	if err := st.Subscribe(ctx, "user1", "0xabc"); err != nil {
		t.Fatal(err)
	}
	sender.pushError("user1", &messenger.RateLimitedError{RetryAfter: 2 * time.Second})

	if delivered := d.DeliverAll(ctx, "0xabc", "hello"); delivered != 1 {
		t.Errorf("expected retry to deliver, got %d", delivered)
	}
	if sender.count() != 1 {
		t.Errorf("expected exactly 1 recorded send, got %d", sender.count())
	}
}

func TestSend_RateLimitWaitTooLong(t *testing.T) {
	sender := newFakeSender()
	d, st := newTestDispatcher(t, sender, 0)
	ctx := context.Background()

	if err := st.Subscribe(ctx, "user1", "0xabc"); err != nil {
		t.Fatal(err)
	}
	sender.pushError("user1", &messenger.RateLimitedError{RetryAfter: 5 * time.Minute})

	if delivered := d.DeliverAll(ctx, "0xabc", "hello"); delivered != 0 {
		t.Errorf("expected drop for excessive wait, got %d", delivered)
	}
}

func TestSend_FailureIsolation(t *testing.T) {
	sender := newFakeSender()
	d, st := newTestDispatcher(t, sender, 0)
	ctx := context.Background()

	for _, r := range []string{"user1", "user2", "user3"} {
		if err := st.Subscribe(ctx, r, "0xabc"); err != nil {
			t.Fatal(err)
		}
	}
	sender.pushError("user2", errors.New("blocked by user"))

	if delivered := d.DeliverAll(ctx, "0xabc", "hello"); delivered != 2 {
		t.Errorf("expected one failure not to block the rest, got %d delivered", delivered)
	}
}

func TestDeliverBatch_ContextCancel(t *testing.T) {
	sender := newFakeSender()
	d, st := newTestDispatcher(t, sender, 0)

	if err := st.Subscribe(context.Background(), "user1", "0xabc"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if delivered := d.DeliverAll(ctx, "0xabc", "hello"); delivered != 0 {
		t.Errorf("expected no deliveries after cancel, got %d", delivered)
	}
}

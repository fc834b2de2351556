package app

import (
	"context"
	"fmt"
	"net/http"
	"polywatch/internal/store"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// tradeFeed serves a mutable set of trades and lets tests swap the response
// between polls.
type tradeFeed struct {
	mu   sync.Mutex
	body string
}

func (f *tradeFeed) set(body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.body = body
}

func (f *tradeFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fmt.Fprint(w, f.body)
}

func newTestPoller(t *testing.T, sender *fakeSender, feed *tradeFeed) (*Poller, *store.FileStore) {
	t.Helper()
	st := newTestStore(t)
	d := NewDispatcher(zap.NewNop(), st, sender, 1000, NewMetrics())
	d.sleep = instantSleep

	apiClient := newTestFeed(t, feed)
	stake := NewStakeTracker(zap.NewNop(), st, d, StakeTrackerConfig{Delta15mUsd: 1e9, Cum30mUsd: 1e9}, NewMetrics())
	winLoss := NewWinLossChecker(zap.NewNop(), st, apiClient, d, 3, 24*time.Hour, NewMetrics())

	p := NewPoller(zap.NewNop(), st, apiClient, d, stake, winLoss, 1000, NewMetrics())
	p.sleep = instantSleep
	return p, st
}

func tradeJSON(ts int64, tx string, size, price float64) string {
	return fmt.Sprintf(
		`{"proxyWallet":"0xabc","side":"BUY","size":%f,"price":%f,"timestamp":%d,"slug":"some-market","transactionHash":%q}`,
		size, price, ts, tx,
	)
}

func TestPoller_SeedsWithoutEmitting(t *testing.T) {
	sender := newFakeSender()
	feed := &tradeFeed{}
	feed.set("[" + tradeJSON(1700000100, "0xtx2", 3000, 0.5) + "," + tradeJSON(1700000000, "0xtx1", 3000, 0.5) + "]")

	p, st := newTestPoller(t, sender, feed)
	ctx := context.Background()
	if err := st.Subscribe(ctx, "user1", "0xabc"); err != nil {
		t.Fatal(err)
	}

	p.pollTradesOnce(ctx)

	if sender.count() != 0 {
		t.Fatalf("seeding must emit nothing, got %d sends", sender.count())
	}

	cursor, ok, err := st.GetCursor(ctx, "0xabc")
	if err != nil || !ok {
		t.Fatalf("expected cursor after seeding, ok=%v err=%v", ok, err)
	}
	if cursor.LastTs != 1700000100 || cursor.LastTx != "0xtx2" {
		t.Errorf("cursor should point at the newest trade, got %+v", cursor)
	}
}

func TestPoller_EmitsNewTradeOnce(t *testing.T) {
	sender := newFakeSender()
	feed := &tradeFeed{}
	feed.set("[" + tradeJSON(1700000000, "0xtx1", 3000, 0.5) + "]")

	p, st := newTestPoller(t, sender, feed)
	ctx := context.Background()
	if err := st.Subscribe(ctx, "user1", "0xabc"); err != nil {
		t.Fatal(err)
	}

	p.pollTradesOnce(ctx) // seed

	// The feed window advances: only the new trade is visible.
	feed.set("[" + tradeJSON(1700000200, "0xtx2", 3000, 0.5) + "]")
	p.pollTradesOnce(ctx)

	msgs := sender.sentTo("user1")
	if len(msgs) != 1 {
		t.Fatalf("expected exactly 1 DM for the new trade, got %d", len(msgs))
	}
	if !strings.Contains(msgs[0], "$1,500") {
		t.Errorf("expected notional in message, got: %s", msgs[0])
	}

	// Same feed again: nothing new.
	p.pollTradesOnce(ctx)
	if sender.count() != 1 {
		t.Errorf("repeat poll must emit nothing, got %d sends", sender.count())
	}
}

func TestPoller_NoveltyByTxHash(t *testing.T) {
	sender := newFakeSender()
	feed := &tradeFeed{}
	feed.set("[" + tradeJSON(1700000100, "0xtx1", 3000, 0.5) + "]")

	p, st := newTestPoller(t, sender, feed)
	ctx := context.Background()
	if err := st.Subscribe(ctx, "user1", "0xabc"); err != nil {
		t.Fatal(err)
	}

	p.pollTradesOnce(ctx) // seed; cursor at ts=1700000100
	if sender.count() != 0 {
		t.Fatalf("seeding must emit nothing, got %d sends", sender.count())
	}

	// Seeding sets the cursor but does not mark the hash; the trade is still
	// tx-novel on the next pass even at a timestamp tie.
	p.pollTradesOnce(ctx)
	if sender.count() != 1 {
		t.Fatalf("expected tx-hash novelty at timestamp tie, got %d sends", sender.count())
	}

	// Once marked, the same feed stays quiet.
	p.pollTradesOnce(ctx)
	if sender.count() != 1 {
		t.Fatalf("expected no re-emission, got %d sends", sender.count())
	}

	// A second fill at the same timestamp with a fresh hash is novel.
	feed.set("[" + tradeJSON(1700000100, "0xtx2", 3000, 0.5) + "," + tradeJSON(1700000100, "0xtx1", 3000, 0.5) + "]")
	p.pollTradesOnce(ctx)
	if sender.count() != 2 {
		t.Errorf("expected new hash at same timestamp to emit, got %d sends", sender.count())
	}
}

func TestPoller_CursorMonotonic(t *testing.T) {
	sender := newFakeSender()
	feed := &tradeFeed{}
	feed.set("[" + tradeJSON(1700000500, "0xtx5", 3000, 0.5) + "]")

	p, st := newTestPoller(t, sender, feed)
	ctx := context.Background()
	if err := st.Subscribe(ctx, "user1", "0xabc"); err != nil {
		t.Fatal(err)
	}

	p.pollTradesOnce(ctx) // seed at ts=1700000500

	// Feed regresses to older-only trades; the cursor must not move back.
	feed.set("[" + tradeJSON(1700000100, "0xtx0", 3000, 0.5) + "]")
	p.pollTradesOnce(ctx)

	cursor, _, err := st.GetCursor(ctx, "0xabc")
	if err != nil {
		t.Fatal(err)
	}
	if cursor.LastTs != 1700000500 {
		t.Errorf("cursor regressed to %d", cursor.LastTs)
	}
}

func TestPoller_EmptyFeedKeepsCursorAbsent(t *testing.T) {
	sender := newFakeSender()
	feed := &tradeFeed{}
	feed.set("[]")

	p, st := newTestPoller(t, sender, feed)
	ctx := context.Background()
	if err := st.Subscribe(ctx, "user1", "0xabc"); err != nil {
		t.Fatal(err)
	}

	p.pollTradesOnce(ctx)

	if _, ok, _ := st.GetCursor(ctx, "0xabc"); ok {
		t.Error("empty feed must not seed a cursor")
	}
	if sender.count() != 0 {
		t.Errorf("expected no sends, got %d", sender.count())
	}
}

func TestPoller_MultipleSubscribers(t *testing.T) {
	sender := newFakeSender()
	feed := &tradeFeed{}
	feed.set("[" + tradeJSON(1700000000, "0xtx1", 3000, 0.5) + "]")

	p, st := newTestPoller(t, sender, feed)
	ctx := context.Background()
	if err := st.Subscribe(ctx, "user1", "0xabc"); err != nil {
		t.Fatal(err)
	}
	if err := st.Subscribe(ctx, "user2", "0xabc"); err != nil {
		t.Fatal(err)
	}

	p.pollTradesOnce(ctx) // seed
	feed.set("[" + tradeJSON(1700000100, "0xtx2", 3000, 0.5) + "]")
	p.pollTradesOnce(ctx)

	if len(sender.sentTo("user1")) != 1 || len(sender.sentTo("user2")) != 1 {
		t.Errorf("expected both subscribers notified, got user1=%d user2=%d",
			len(sender.sentTo("user1")), len(sender.sentTo("user2")))
	}
}

func TestPoller_InflightGuard(t *testing.T) {
	p, _ := newTestPoller(t, newFakeSender(), &tradeFeed{})

	if !p.tryAcquire("trade", "0xabc") {
		t.Fatal("first acquire should succeed")
	}
	if p.tryAcquire("trade", "0xabc") {
		t.Error("second acquire for same kind+address should fail")
	}
	if !p.tryAcquire("wins", "0xabc") {
		t.Error("different kind should acquire independently")
	}

	p.release("trade", "0xabc")
	if !p.tryAcquire("trade", "0xabc") {
		t.Error("acquire after release should succeed")
	}
}

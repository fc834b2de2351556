package store

import (
	"context"
	"strings"
	"time"
)

// TTLs for the two dedupe namespaces. Records older than these are pruned
// before reads and writes so the store stays bounded.
const (
	DmSeenTTL    = 48 * time.Hour
	BroadcastTTL = 7 * 24 * time.Hour
)

// Cursor is the high-water mark of the most recently processed trade for an
// address: unix seconds plus the transaction hash observed at that point.
type Cursor struct {
	LastTs int64  `json:"lastTs"`
	LastTx string `json:"lastTx,omitempty"`
}

// StakeEntry is one trade's contribution to an address's sliding stake
// window. Ts is unix milliseconds.
type StakeEntry struct {
	Ts   int64   `json:"ts"`
	Usd  float64 `json:"usd"`
	Side string  `json:"side"`
}

// AlertState holds per-address cooldown stamps. LastStakeAlertTs is unix
// milliseconds; the day fields are calendar dates ("2006-01-02").
type AlertState struct {
	LastStakeAlertTs   int64  `json:"lastStakeAlertTs,omitempty"`
	LastWinsAlertDay   string `json:"lastWinsAlertDay,omitempty"`
	LastLossesAlertDay string `json:"lastLossesAlertDay,omitempty"`
}

// Subscription pairs a recipient with a watched address.
type Subscription struct {
	RecipientID string `json:"recipientId"`
	Address     string `json:"address"`
	CreatedAt   int64  `json:"createdAt"` // unix milliseconds
}

// Preferences holds per-recipient overrides. A nil MinDmUsd means the global
// default applies.
type Preferences struct {
	MinDmUsd *float64 `json:"minDmUsd,omitempty"`
}

// BroadcastStats summarizes broadcast dedupe activity for the stats endpoint.
type BroadcastStats struct {
	Total    int `json:"total"`
	LastHour int `json:"last_hour"`
	Today    int `json:"today"`
}

// Store is the durable record store shared by the poll orchestrator, the
// broadcast announcer and the command surface. All operations are safe under
// concurrent callers. Failures are surfaced per operation; callers degrade by
// skipping the affected address or recipient for the cycle.
type Store interface {
	// Cursors. SetCursor overwrites, it does not merge.
	GetCursor(ctx context.Context, address string) (Cursor, bool, error)
	SetCursor(ctx context.Context, address string, c Cursor) error

	// Broadcast dedupe, global by transaction hash. ReserveBroadcast is an
	// atomic check-and-set: exactly one concurrent caller gets true. Expired
	// records are pruned before the check.
	IsBroadcastSeen(ctx context.Context, tx string) (bool, error)
	ReserveBroadcast(ctx context.Context, tx string) (bool, error)
	BroadcastStatsNow(ctx context.Context) (BroadcastStats, error)

	// DM dedupe, per (address, tx). MarkDmSeen prunes entries older than
	// DmSeenTTL on write.
	IsDmSeen(ctx context.Context, address, tx string) (bool, error)
	MarkDmSeen(ctx context.Context, address, tx string) error

	// Stake windows. Best-effort signal state; losing it on restart is
	// acceptable.
	StakeWindow(ctx context.Context, address string) ([]StakeEntry, error)
	PushStake(ctx context.Context, address string, e StakeEntry) error
	PruneStake(ctx context.Context, address string, cutoffTs int64) error

	// Alert cooldowns.
	AlertState(ctx context.Context, address string) (AlertState, error)
	SetAlertState(ctx context.Context, address string, s AlertState) error

	// Subscriptions. Subscribe is idempotent per (recipient, address).
	Subscribe(ctx context.Context, recipientID, address string) error
	Unsubscribe(ctx context.Context, recipientID, address string) error
	Subscriptions(ctx context.Context, recipientID string) ([]Subscription, error)
	Subscribers(ctx context.Context, address string) ([]string, error)
	WatchedAddresses(ctx context.Context) ([]string, error)

	// Recipient preferences.
	GetPreferences(ctx context.Context, recipientID string) (Preferences, error)
	SetPreferences(ctx context.Context, recipientID string, p Preferences) error

	Close() error
}

// NormalizeAddress lowercases an address so every namespace keys on the same
// form.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

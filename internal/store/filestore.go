package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// fileSchema is the on-disk layout of the file-backed store: one JSON
// document holding every namespace.
type fileSchema struct {
	Watchers     []Subscription              `json:"watchers"`
	Cursors      map[string]Cursor           `json:"cursors"`
	StakeWindows map[string][]StakeEntry     `json:"stakeWindows"`
	AlertStates  map[string]AlertState       `json:"alertStates"`
	BroadcastTxs map[string]int64            `json:"broadcastTxs"` // tx -> reserved at (unix ms)
	DmTxsSeen    map[string]map[string]int64 `json:"dmTxsSeen"`    // address -> tx -> seen at (unix ms)
	Prefs        map[string]Preferences      `json:"prefs"`
}

func newFileSchema() fileSchema {
	return fileSchema{
		Cursors:      make(map[string]Cursor),
		StakeWindows: make(map[string][]StakeEntry),
		AlertStates:  make(map[string]AlertState),
		BroadcastTxs: make(map[string]int64),
		DmTxsSeen:    make(map[string]map[string]int64),
		Prefs:        make(map[string]Preferences),
	}
}

// FileStore is a single-process, JSON-file-backed Store. All operations hold
// one mutex, which also makes ReserveBroadcast atomic.
type FileStore struct {
	logger *zap.Logger
	path   string

	mu   sync.Mutex
	data fileSchema

	// now is replaceable in tests.
	now func() time.Time
}

// NewFileStore opens (or creates) the store file at path.
func NewFileStore(logger *zap.Logger, path string) (*FileStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	fs := &FileStore{
		logger: logger,
		path:   path,
		data:   newFileSchema(),
		now:    time.Now,
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if err := fs.saveLocked(); err != nil {
			return nil, err
		}
		return fs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store file: %w", err)
	}

	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &fs.data); err != nil {
			return nil, fmt.Errorf("parse store file: %w", err)
		}
	}
	// Maps may be nil after a partial or legacy file.
	if fs.data.Cursors == nil {
		fs.data.Cursors = make(map[string]Cursor)
	}
	if fs.data.StakeWindows == nil {
		fs.data.StakeWindows = make(map[string][]StakeEntry)
	}
	if fs.data.AlertStates == nil {
		fs.data.AlertStates = make(map[string]AlertState)
	}
	if fs.data.BroadcastTxs == nil {
		fs.data.BroadcastTxs = make(map[string]int64)
	}
	if fs.data.DmTxsSeen == nil {
		fs.data.DmTxsSeen = make(map[string]map[string]int64)
	}
	if fs.data.Prefs == nil {
		fs.data.Prefs = make(map[string]Preferences)
	}

	return fs, nil
}

// saveLocked writes the document atomically (temp file + rename). Callers
// must hold mu.
func (fs *FileStore) saveLocked() error {
	raw, err := json.MarshalIndent(fs.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal store: %w", err)
	}

	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write store temp file: %w", err)
	}
	if err := os.Rename(tmp, fs.path); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	return nil
}

func (fs *FileStore) GetCursor(_ context.Context, address string) (Cursor, bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	c, ok := fs.data.Cursors[NormalizeAddress(address)]
	return c, ok, nil
}

func (fs *FileStore) SetCursor(_ context.Context, address string, c Cursor) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.data.Cursors[NormalizeAddress(address)] = c
	return fs.saveLocked()
}

func (fs *FileStore) IsBroadcastSeen(_ context.Context, tx string) (bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.pruneBroadcastLocked()
	_, ok := fs.data.BroadcastTxs[tx]
	return ok, nil
}

func (fs *FileStore) ReserveBroadcast(_ context.Context, tx string) (bool, error) {
	if tx == "" {
		return false, nil
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.pruneBroadcastLocked()
	if _, ok := fs.data.BroadcastTxs[tx]; ok {
		return false, nil
	}
	fs.data.BroadcastTxs[tx] = fs.now().UnixMilli()
	if err := fs.saveLocked(); err != nil {
		delete(fs.data.BroadcastTxs, tx)
		return false, err
	}
	return true, nil
}

func (fs *FileStore) pruneBroadcastLocked() {
	cutoff := fs.now().Add(-BroadcastTTL).UnixMilli()
	for tx, ts := range fs.data.BroadcastTxs {
		if ts < cutoff {
			delete(fs.data.BroadcastTxs, tx)
		}
	}
}

func (fs *FileStore) BroadcastStatsNow(_ context.Context) (BroadcastStats, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	now := fs.now()
	hourAgo := now.Add(-time.Hour).UnixMilli()
	today := now.Format("2006-01-02")

	var stats BroadcastStats
	for _, ts := range fs.data.BroadcastTxs {
		stats.Total++
		if ts >= hourAgo {
			stats.LastHour++
		}
		if time.UnixMilli(ts).Format("2006-01-02") == today {
			stats.Today++
		}
	}
	return stats, nil
}

func (fs *FileStore) IsDmSeen(_ context.Context, address, tx string) (bool, error) {
	if tx == "" {
		return false, nil
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	_, ok := fs.data.DmTxsSeen[NormalizeAddress(address)][tx]
	return ok, nil
}

func (fs *FileStore) MarkDmSeen(_ context.Context, address, tx string) error {
	if tx == "" {
		return nil
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	address = NormalizeAddress(address)
	seen := fs.data.DmTxsSeen[address]
	if seen == nil {
		seen = make(map[string]int64)
		fs.data.DmTxsSeen[address] = seen
	}

	cutoff := fs.now().Add(-DmSeenTTL).UnixMilli()
	for k, ts := range seen {
		if ts < cutoff {
			delete(seen, k)
		}
	}
	seen[tx] = fs.now().UnixMilli()

	return fs.saveLocked()
}

func (fs *FileStore) StakeWindow(_ context.Context, address string) ([]StakeEntry, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	window := fs.data.StakeWindows[NormalizeAddress(address)]
	out := make([]StakeEntry, len(window))
	copy(out, window)
	return out, nil
}

func (fs *FileStore) PushStake(_ context.Context, address string, e StakeEntry) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	address = NormalizeAddress(address)
	fs.data.StakeWindows[address] = append(fs.data.StakeWindows[address], e)
	return fs.saveLocked()
}

func (fs *FileStore) PruneStake(_ context.Context, address string, cutoffTs int64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	address = NormalizeAddress(address)
	window := fs.data.StakeWindows[address]
	kept := window[:0]
	for _, e := range window {
		if e.Ts >= cutoffTs {
			kept = append(kept, e)
		}
	}
	fs.data.StakeWindows[address] = kept
	return fs.saveLocked()
}

func (fs *FileStore) AlertState(_ context.Context, address string) (AlertState, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return fs.data.AlertStates[NormalizeAddress(address)], nil
}

func (fs *FileStore) SetAlertState(_ context.Context, address string, s AlertState) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.data.AlertStates[NormalizeAddress(address)] = s
	return fs.saveLocked()
}

func (fs *FileStore) Subscribe(_ context.Context, recipientID, address string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	address = NormalizeAddress(address)
	for _, w := range fs.data.Watchers {
		if w.RecipientID == recipientID && w.Address == address {
			return nil
		}
	}
	fs.data.Watchers = append(fs.data.Watchers, Subscription{
		RecipientID: recipientID,
		Address:     address,
		CreatedAt:   fs.now().UnixMilli(),
	})
	return fs.saveLocked()
}

func (fs *FileStore) Unsubscribe(_ context.Context, recipientID, address string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	address = NormalizeAddress(address)
	kept := fs.data.Watchers[:0]
	for _, w := range fs.data.Watchers {
		if w.RecipientID == recipientID && w.Address == address {
			continue
		}
		kept = append(kept, w)
	}
	fs.data.Watchers = kept
	return fs.saveLocked()
}

func (fs *FileStore) Subscriptions(_ context.Context, recipientID string) ([]Subscription, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var out []Subscription
	for _, w := range fs.data.Watchers {
		if w.RecipientID == recipientID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (fs *FileStore) Subscribers(_ context.Context, address string) ([]string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	address = NormalizeAddress(address)
	var out []string
	for _, w := range fs.data.Watchers {
		if w.Address == address {
			out = append(out, w.RecipientID)
		}
	}
	return out, nil
}

func (fs *FileStore) WatchedAddresses(_ context.Context) ([]string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	set := make(map[string]struct{})
	for _, w := range fs.data.Watchers {
		set[w.Address] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for addr := range set {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out, nil
}

func (fs *FileStore) GetPreferences(_ context.Context, recipientID string) (Preferences, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return fs.data.Prefs[recipientID], nil
}

func (fs *FileStore) SetPreferences(_ context.Context, recipientID string, p Preferences) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.data.Prefs[recipientID] = p
	return fs.saveLocked()
}

func (fs *FileStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.saveLocked()
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore is a hosted-backend Store. Broadcast reservation maps to SET NX
// with TTL, which gives the exactly-one-winner semantics for free; DM dedupe
// and stake windows are sorted sets scored by timestamp so pruning is a range
// delete.
type RedisStore struct {
	logger *zap.Logger
	rdb    *redis.Client

	now func() time.Time
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(logger *zap.Logger, redisURL, password string) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if password != "" {
		opts.Password = password
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{logger: logger, rdb: rdb, now: time.Now}, nil
}

// Key helpers.
func cursorKey(address string) string     { return "polywatch:cursor:" + address }
func broadcastKey(tx string) string       { return "polywatch:bcast:" + tx }
func dmSeenKey(address string) string     { return "polywatch:dm:" + address }
func stakeKey(address string) string      { return "polywatch:stake:" + address }
func alertKey(address string) string      { return "polywatch:alerts:" + address }
func subsKey(address string) string       { return "polywatch:subs:" + address }
func userSubsKey(recipient string) string { return "polywatch:usersubs:" + recipient }
func prefsKey(recipient string) string    { return "polywatch:prefs:" + recipient }

const (
	watchedKey      = "polywatch:watched"
	broadcastLogKey = "polywatch:bcastlog"
)

func (rs *RedisStore) GetCursor(ctx context.Context, address string) (Cursor, bool, error) {
	raw, err := rs.rdb.Get(ctx, cursorKey(NormalizeAddress(address))).Result()
	if err == redis.Nil {
		return Cursor{}, false, nil
	}
	if err != nil {
		return Cursor{}, false, fmt.Errorf("get cursor: %w", err)
	}

	var c Cursor
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return Cursor{}, false, fmt.Errorf("decode cursor: %w", err)
	}
	return c, true, nil
}

func (rs *RedisStore) SetCursor(ctx context.Context, address string, c Cursor) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode cursor: %w", err)
	}
	if err := rs.rdb.Set(ctx, cursorKey(NormalizeAddress(address)), raw, 0).Err(); err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}

func (rs *RedisStore) IsBroadcastSeen(ctx context.Context, tx string) (bool, error) {
	n, err := rs.rdb.Exists(ctx, broadcastKey(tx)).Result()
	if err != nil {
		return false, fmt.Errorf("check broadcast seen: %w", err)
	}
	return n > 0, nil
}

func (rs *RedisStore) ReserveBroadcast(ctx context.Context, tx string) (bool, error) {
	if tx == "" {
		return false, nil
	}

	// SET NX with TTL: key expiry is the pruning policy, the NX check-and-set
	// is the single-winner reservation.
	won, err := rs.rdb.SetNX(ctx, broadcastKey(tx), "1", BroadcastTTL).Result()
	if err != nil {
		return false, fmt.Errorf("reserve broadcast: %w", err)
	}
	if won {
		now := rs.now().UnixMilli()
		pipe := rs.rdb.Pipeline()
		pipe.ZAdd(ctx, broadcastLogKey, redis.Z{Score: float64(now), Member: tx})
		pipe.ZRemRangeByScore(ctx, broadcastLogKey, "-inf",
			strconv.FormatInt(rs.now().Add(-BroadcastTTL).UnixMilli(), 10))
		if _, err := pipe.Exec(ctx); err != nil {
			// The reservation itself succeeded; stats are advisory.
			rs.logger.Warn("failed to record broadcast log entry", zap.Error(err))
		}
	}
	return won, nil
}

func (rs *RedisStore) BroadcastStatsNow(ctx context.Context) (BroadcastStats, error) {
	now := rs.now()

	total, err := rs.rdb.ZCard(ctx, broadcastLogKey).Result()
	if err != nil {
		return BroadcastStats{}, fmt.Errorf("broadcast stats: %w", err)
	}
	lastHour, err := rs.rdb.ZCount(ctx, broadcastLogKey,
		strconv.FormatInt(now.Add(-time.Hour).UnixMilli(), 10), "+inf").Result()
	if err != nil {
		return BroadcastStats{}, fmt.Errorf("broadcast stats: %w", err)
	}
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	today, err := rs.rdb.ZCount(ctx, broadcastLogKey,
		strconv.FormatInt(midnight.UnixMilli(), 10), "+inf").Result()
	if err != nil {
		return BroadcastStats{}, fmt.Errorf("broadcast stats: %w", err)
	}

	return BroadcastStats{Total: int(total), LastHour: int(lastHour), Today: int(today)}, nil
}

func (rs *RedisStore) IsDmSeen(ctx context.Context, address, tx string) (bool, error) {
	if tx == "" {
		return false, nil
	}

	_, err := rs.rdb.ZScore(ctx, dmSeenKey(NormalizeAddress(address)), tx).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check dm seen: %w", err)
	}
	return true, nil
}

func (rs *RedisStore) MarkDmSeen(ctx context.Context, address, tx string) error {
	if tx == "" {
		return nil
	}

	key := dmSeenKey(NormalizeAddress(address))
	now := rs.now()

	pipe := rs.rdb.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: tx})
	pipe.ZRemRangeByScore(ctx, key, "-inf",
		strconv.FormatInt(now.Add(-DmSeenTTL).UnixMilli(), 10))
	pipe.Expire(ctx, key, DmSeenTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mark dm seen: %w", err)
	}
	return nil
}

// stakeMember is the sorted-set member for a stake entry. The nonce keeps
// two identical trades from collapsing into one member.
type stakeMember struct {
	StakeEntry
	Nonce int64 `json:"nonce"`
}

func (rs *RedisStore) StakeWindow(ctx context.Context, address string) ([]StakeEntry, error) {
	members, err := rs.rdb.ZRangeByScore(ctx, stakeKey(NormalizeAddress(address)),
		&redis.ZRangeBy{Min: "-inf", Max: "+inf"}).Result()
	if err != nil {
		return nil, fmt.Errorf("get stake window: %w", err)
	}

	out := make([]StakeEntry, 0, len(members))
	for _, m := range members {
		var e stakeMember
		if err := json.Unmarshal([]byte(m), &e); err != nil {
			continue // skip corrupt entries rather than failing the window
		}
		out = append(out, e.StakeEntry)
	}
	return out, nil
}

func (rs *RedisStore) PushStake(ctx context.Context, address string, e StakeEntry) error {
	member, err := json.Marshal(stakeMember{StakeEntry: e, Nonce: rs.now().UnixNano()})
	if err != nil {
		return fmt.Errorf("encode stake entry: %w", err)
	}

	key := stakeKey(NormalizeAddress(address))
	pipe := rs.rdb.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(e.Ts), Member: member})
	pipe.Expire(ctx, key, time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push stake: %w", err)
	}
	return nil
}

func (rs *RedisStore) PruneStake(ctx context.Context, address string, cutoffTs int64) error {
	err := rs.rdb.ZRemRangeByScore(ctx, stakeKey(NormalizeAddress(address)),
		"-inf", "("+strconv.FormatInt(cutoffTs, 10)).Err()
	if err != nil {
		return fmt.Errorf("prune stake: %w", err)
	}
	return nil
}

func (rs *RedisStore) AlertState(ctx context.Context, address string) (AlertState, error) {
	raw, err := rs.rdb.Get(ctx, alertKey(NormalizeAddress(address))).Result()
	if err == redis.Nil {
		return AlertState{}, nil
	}
	if err != nil {
		return AlertState{}, fmt.Errorf("get alert state: %w", err)
	}

	var s AlertState
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return AlertState{}, fmt.Errorf("decode alert state: %w", err)
	}
	return s, nil
}

func (rs *RedisStore) SetAlertState(ctx context.Context, address string, s AlertState) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode alert state: %w", err)
	}
	if err := rs.rdb.Set(ctx, alertKey(NormalizeAddress(address)), raw, 0).Err(); err != nil {
		return fmt.Errorf("set alert state: %w", err)
	}
	return nil
}

func (rs *RedisStore) Subscribe(ctx context.Context, recipientID, address string) error {
	address = NormalizeAddress(address)

	pipe := rs.rdb.Pipeline()
	pipe.SAdd(ctx, subsKey(address), recipientID)
	pipe.SAdd(ctx, watchedKey, address)
	pipe.HSetNX(ctx, userSubsKey(recipientID), address, rs.now().UnixMilli())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

func (rs *RedisStore) Unsubscribe(ctx context.Context, recipientID, address string) error {
	address = NormalizeAddress(address)

	pipe := rs.rdb.Pipeline()
	pipe.SRem(ctx, subsKey(address), recipientID)
	pipe.HDel(ctx, userSubsKey(recipientID), address)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}

	// Drop the address from the watched set once the last subscriber leaves.
	n, err := rs.rdb.SCard(ctx, subsKey(address)).Result()
	if err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	if n == 0 {
		if err := rs.rdb.SRem(ctx, watchedKey, address).Err(); err != nil {
			return fmt.Errorf("unsubscribe: %w", err)
		}
	}
	return nil
}

func (rs *RedisStore) Subscriptions(ctx context.Context, recipientID string) ([]Subscription, error) {
	entries, err := rs.rdb.HGetAll(ctx, userSubsKey(recipientID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}

	out := make([]Subscription, 0, len(entries))
	for address, createdAt := range entries {
		ts, _ := strconv.ParseInt(createdAt, 10, 64)
		out = append(out, Subscription{
			RecipientID: recipientID,
			Address:     address,
			CreatedAt:   ts,
		})
	}
	return out, nil
}

func (rs *RedisStore) Subscribers(ctx context.Context, address string) ([]string, error) {
	members, err := rs.rdb.SMembers(ctx, subsKey(NormalizeAddress(address))).Result()
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	return members, nil
}

func (rs *RedisStore) WatchedAddresses(ctx context.Context) ([]string, error) {
	members, err := rs.rdb.SMembers(ctx, watchedKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list watched addresses: %w", err)
	}
	return members, nil
}

func (rs *RedisStore) GetPreferences(ctx context.Context, recipientID string) (Preferences, error) {
	raw, err := rs.rdb.Get(ctx, prefsKey(recipientID)).Result()
	if err == redis.Nil {
		return Preferences{}, nil
	}
	if err != nil {
		return Preferences{}, fmt.Errorf("get preferences: %w", err)
	}

	var p Preferences
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Preferences{}, fmt.Errorf("decode preferences: %w", err)
	}
	return p, nil
}

func (rs *RedisStore) SetPreferences(ctx context.Context, recipientID string, p Preferences) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	if err := rs.rdb.Set(ctx, prefsKey(recipientID), raw, 0).Err(); err != nil {
		return fmt.Errorf("set preferences: %w", err)
	}
	return nil
}

func (rs *RedisStore) Close() error {
	return rs.rdb.Close()
}

// Compile-time interface checks.
var (
	_ Store = (*FileStore)(nil)
	_ Store = (*RedisStore)(nil)
)

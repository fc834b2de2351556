package polymarketapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"polywatch/config"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// fetchAttempts is the retry budget per call. After exhausting it the
	// caller must treat the address as not polled this cycle.
	fetchAttempts = 3

	backoffCap = 5 * time.Second
)

// PolymarketApiClient fetches trades and closed positions from the
// Polymarket data API.
type PolymarketApiClient struct {
	logger      *zap.Logger
	httpClient  *http.Client
	dataBaseURL string
	siteBaseURL string

	// backoffBase is the first retry delay; doubled per attempt, capped at
	// backoffCap. Overridable in tests.
	backoffBase time.Duration
}

func NewPolymarketApiClient(logger *zap.Logger, cfg *config.Config) *PolymarketApiClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PolymarketApiClient{
		logger: logger,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		dataBaseURL: cfg.Polymarket.DataAPIURL,
		siteBaseURL: cfg.Polymarket.SiteURL,
		backoffBase: time.Second,
	}
}

// Trade is a single fill from the data API. TransactionHash may be empty;
// some fills are reported without one.
type Trade struct {
	ProxyWallet     string  `json:"proxyWallet"`
	Side            string  `json:"side"` // BUY or SELL
	Asset           string  `json:"asset"`
	ConditionID     string  `json:"conditionId"`
	Size            float64 `json:"size"`
	Price           float64 `json:"price"`
	Timestamp       int64   `json:"timestamp"` // unix seconds
	Title           string  `json:"title"`
	Slug            string  `json:"slug"`
	EventSlug       string  `json:"eventSlug"`
	Outcome         string  `json:"outcome"`
	TransactionHash string  `json:"transactionHash"`
}

// Notional returns the USD cash value of the trade, rounded to whole dollars.
// Missing size or price degrade to zero rather than failing the cycle.
func (t Trade) Notional() float64 {
	usd := t.Size * t.Price
	if usd < 0 {
		return 0
	}
	return float64(int64(usd + 0.5))
}

// ClosedPosition is a realized position from the data API. The close time is
// reported inconsistently upstream (closedAt, updatedAt or timestamp, as unix
// seconds, millis or a date string), so all three are captured.
type ClosedPosition struct {
	ProxyWallet string   `json:"proxyWallet"`
	ConditionID string   `json:"conditionId"`
	RealizedPnl float64  `json:"realizedPnl"`
	ClosedAt    FlexTime `json:"closedAt"`
	UpdatedAt   FlexTime `json:"updatedAt"`
	Timestamp   FlexTime `json:"timestamp"`
	Title       string   `json:"title"`
	Outcome     string   `json:"outcome"`
}

// ClosedTime returns the best available close time, or the zero time when the
// record carries none.
func (p ClosedPosition) ClosedTime() time.Time {
	for _, t := range []FlexTime{p.ClosedAt, p.UpdatedAt, p.Timestamp} {
		if !t.IsZero() {
			return t.Time
		}
	}
	return time.Time{}
}

// FlexTime unmarshals a timestamp that may be unix seconds, unix
// milliseconds, or an RFC 3339 date string.
type FlexTime struct {
	time.Time
}

func (ft *FlexTime) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` || s == "" || s == "0" {
		return nil
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		ft.Time = fromUnixFlexible(n)
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		ft.Time = fromUnixFlexible(int64(f))
		return nil
	}

	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return nil // malformed value, treat as absent
	}
	if n, err := strconv.ParseInt(str, 10, 64); err == nil {
		ft.Time = fromUnixFlexible(n)
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, str); err == nil {
			ft.Time = t
			return nil
		}
	}
	return nil
}

// fromUnixFlexible interprets values above 1e12 as milliseconds.
func fromUnixFlexible(n int64) time.Time {
	if n > 1_000_000_000_000 {
		return time.UnixMilli(n)
	}
	return time.Unix(n, 0)
}

// FetchRecentTrades returns recent trades for an address, newest-first.
// The server filters by cash notional via filterType=CASH.
func (c *PolymarketApiClient) FetchRecentTrades(
	ctx context.Context,
	address string,
	minUsd float64,
	limit int,
) ([]Trade, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, fmt.Errorf("address is empty")
	}
	if limit <= 0 {
		limit = 100
	}

	u, err := url.Parse(c.dataBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid dataBaseURL: %w", err)
	}
	u.Path = "/trades"

	q := u.Query()
	q.Set("user", address)
	q.Set("limit", fmt.Sprintf("%d", limit))
	q.Set("takerOnly", "true")
	q.Set("filterType", "CASH")
	q.Set("filterAmount", fmt.Sprintf("%.0f", minUsd))
	u.RawQuery = q.Encode()

	var trades []Trade
	if err := c.doGet(ctx, u.String(), &trades); err != nil {
		return nil, fmt.Errorf("get recent trades: %w", err)
	}

	return trades, nil
}

// FetchTopTrades returns recent high-value trades across all wallets,
// newest-first. Used by the broadcast announcer.
func (c *PolymarketApiClient) FetchTopTrades(
	ctx context.Context,
	minUsd float64,
	limit int,
) ([]Trade, error) {
	if limit <= 0 {
		limit = 100
	}

	u, err := url.Parse(c.dataBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid dataBaseURL: %w", err)
	}
	u.Path = "/trades"

	q := u.Query()
	q.Set("limit", fmt.Sprintf("%d", limit))
	q.Set("takerOnly", "true")
	q.Set("filterType", "CASH")
	q.Set("filterAmount", fmt.Sprintf("%.0f", minUsd))
	u.RawQuery = q.Encode()

	var trades []Trade
	if err := c.doGet(ctx, u.String(), &trades); err != nil {
		return nil, fmt.Errorf("get top trades: %w", err)
	}

	return trades, nil
}

// FetchClosedPositions returns realized positions for a wallet.
func (c *PolymarketApiClient) FetchClosedPositions(
	ctx context.Context,
	address string,
	limit int,
) ([]ClosedPosition, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, fmt.Errorf("address is empty")
	}
	if limit <= 0 {
		limit = 200
	}

	u, err := url.Parse(c.dataBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid dataBaseURL: %w", err)
	}
	u.Path = "/closed-positions"

	q := u.Query()
	q.Set("user", address)
	q.Set("limit", fmt.Sprintf("%d", limit))
	u.RawQuery = q.Encode()

	var positions []ClosedPosition
	if err := c.doGet(ctx, u.String(), &positions); err != nil {
		return nil, fmt.Errorf("get closed positions: %w", err)
	}

	return positions, nil
}

// doGet performs a GET with bounded retry and decodes the JSON response.
// Network errors and non-2xx statuses are retried with exponential backoff
// plus jitter; the last error is returned once attempts are exhausted.
func (c *PolymarketApiClient) doGet(ctx context.Context, url string, dest any) error {
	var lastErr error
	for attempt := 0; attempt < fetchAttempts; attempt++ {
		if attempt > 0 {
			backoff := c.backoffBase << (attempt - 1)
			if backoff > backoffCap {
				backoff = backoffCap
			}
			backoff += time.Duration(rand.Int63n(int64(250 * time.Millisecond)))
			c.logger.Debug("retrying fetch",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		if lastErr = c.getOnce(ctx, url, dest); lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

// doGetRaw is doGet without JSON decoding; *dest receives the response body.
func (c *PolymarketApiClient) doGetRaw(ctx context.Context, url string, dest *[]byte) error {
	var raw rawBody
	if err := c.doGet(ctx, url, &raw); err != nil {
		return err
	}
	*dest = raw
	return nil
}

// rawBody short-circuits JSON decoding in getOnce.
type rawBody []byte

func (c *PolymarketApiClient) getOnce(ctx context.Context, url string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "polywatch/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, string(body))
	}

	if raw, ok := dest.(*rawBody); ok {
		*raw = body
		return nil
	}

	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}

	return nil
}

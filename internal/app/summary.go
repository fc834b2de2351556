package app

import (
	"fmt"
	"math"
	"polywatch/clients/polymarketapi"
	"strconv"
	"strings"
	"time"
)

// slugToTitle prettifies a market or event slug into a readable title.
func slugToTitle(s string) string {
	t := strings.TrimSpace(strings.NewReplacer("-", " ", "_", " ").Replace(s))
	if t == "" {
		return ""
	}
	return strings.ToUpper(t[:1]) + t[1:]
}

// summarizeTrade renders a single trade as message text. The upstream title
// field can be stale, so the title is always derived from the slug; missing
// fields degrade to "Market" and $0 rather than failing.
func summarizeTrade(t polymarketapi.Trade) string {
	title := slugToTitle(t.Slug)
	if title == "" {
		title = slugToTitle(t.EventSlug)
	}
	if title == "" {
		title = "Market"
	}

	when := time.Unix(t.Timestamp, 0).UTC().Format(time.RFC3339)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s ~ $%s on %s at %s", t.Side, formatUSD(t.Notional()), title, when)
	if t.Slug != "" {
		fmt.Fprintf(&sb, "\nhttps://polymarket.com/market/%s", t.Slug)
	} else if t.EventSlug != "" {
		fmt.Fprintf(&sb, "\nhttps://polymarket.com/event/%s", t.EventSlug)
	}
	if t.TransactionHash != "" {
		fmt.Fprintf(&sb, "\nhttps://polygonscan.com/tx/%s", t.TransactionHash)
	}
	return sb.String()
}

// formatUSD renders a whole-dollar amount with thousands separators.
func formatUSD(usd float64) string {
	s := strconv.FormatInt(int64(math.Round(usd)), 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}

	var sb strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			sb.WriteByte(',')
		}
		sb.WriteRune(r)
	}
	if neg {
		return "-" + sb.String()
	}
	return sb.String()
}

func shortAddress(addr string) string {
	if len(addr) <= 8 {
		return addr
	}
	return addr[:6] + "…"
}

package polymarketapi

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var (
	walletRe     = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	profileURLRe = regexp.MustCompile(`(?i)^https?://(?:www\.)?polymarket\.com/profile/([a-zA-Z0-9_-]+)`)

	proxyWalletRe = regexp.MustCompile(`"proxyWallet"\s*:\s*"(0x[a-fA-F0-9]{40})"`)
	baseAddressRe = regexp.MustCompile(`"baseAddress"\s*:\s*"(0x[a-fA-F0-9]{40})"`)
)

// IsWallet reports whether s is a raw chain address.
func IsWallet(s string) bool {
	return walletRe.MatchString(strings.TrimSpace(s))
}

// ResolveToAddress turns a wallet address or a polymarket.com profile URL into
// a normalized (lowercased) chain address. Profile URLs are resolved by
// scraping the embedded wallet address out of the profile page.
func (c *PolymarketApiClient) ResolveToAddress(ctx context.Context, input string) (string, error) {
	text := strings.TrimSpace(input)
	if walletRe.MatchString(text) {
		return strings.ToLower(text), nil
	}

	m := profileURLRe.FindStringSubmatch(text)
	if m == nil {
		return "", fmt.Errorf("not a wallet address or polymarket.com profile URL")
	}

	html, err := c.fetchProfileHTML(ctx, m[1])
	if err != nil {
		return "", fmt.Errorf("fetch profile: %w", err)
	}

	if w := proxyWalletRe.FindStringSubmatch(html); w != nil {
		return strings.ToLower(w[1]), nil
	}
	if w := baseAddressRe.FindStringSubmatch(html); w != nil {
		return strings.ToLower(w[1]), nil
	}
	return "", fmt.Errorf("could not resolve profile %q to a wallet address", m[1])
}

func (c *PolymarketApiClient) fetchProfileHTML(ctx context.Context, slug string) (string, error) {
	url := fmt.Sprintf("%s/profile/%s", c.siteBaseURL, slug)

	var body []byte
	err := c.doGetRaw(ctx, url, &body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

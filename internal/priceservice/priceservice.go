// Package priceservice implements capability.TokenPriceService against
// Coingecko's simple token-price endpoint (spec.md 6 default), with a
// TTL cache keyed by (chain, token) so a busy pipeline doesn't
// re-fetch a price on every order. The cache uses sync.Map, the same
// concurrent-registry shape the teacher's crawler keeps for monitored
// addresses.
package priceservice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// platformSlugs maps a chain id to Coingecko's asset-platform slug,
// used to build the simple/token_price/{platform} endpoint.
var platformSlugs = map[uint64]string{
	1:   "ethereum",
	137: "polygon-pos",
	101: "solana",
}

type cacheEntry struct {
	price     float64
	expiresAt time.Time
}

// Service resolves USD prices from Coingecko, caching each result for
// TTL.
type Service struct {
	httpClient *http.Client
	baseURL    string
	ttl        time.Duration
	logger     *zap.Logger

	cache sync.Map // map[string]cacheEntry, keyed by "chainID/token"
}

// New constructs a Service. baseURL defaults to Coingecko's public API
// when empty, overridable for tests.
func New(logger *zap.Logger, baseURL string, ttl time.Duration) *Service {
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}
	return &Service{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		ttl:        ttl,
		logger:     logger,
	}
}

func cacheKey(chainID uint64, token common.Address) string {
	return fmt.Sprintf("%d/%s", chainID, token.Hex())
}

// USDPrice implements capability.TokenPriceService.
func (s *Service) USDPrice(ctx context.Context, chainID uint64, token common.Address) (float64, error) {
	key := cacheKey(chainID, token)
	if v, ok := s.cache.Load(key); ok {
		e := v.(cacheEntry)
		if time.Now().Before(e.expiresAt) {
			return e.price, nil
		}
	}

	price, err := s.fetch(ctx, chainID, token)
	if err != nil {
		return 0, fmt.Errorf("coingecko price fetch: %w", err)
	}

	s.cache.Store(key, cacheEntry{price: price, expiresAt: time.Now().Add(s.ttl)})
	return price, nil
}

func (s *Service) fetch(ctx context.Context, chainID uint64, token common.Address) (float64, error) {
	platform, ok := platformSlugs[chainID]
	if !ok {
		return 0, fmt.Errorf("no coingecko platform configured for chain %d", chainID)
	}

	url := fmt.Sprintf("%s/simple/token_price/%s?contract_addresses=%s&vs_currencies=usd", s.baseURL, platform, token.Hex())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("coingecko returned status %d", resp.StatusCode)
	}

	var body map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode coingecko response: %w", err)
	}

	entry, ok := body[tokenKeyLower(token)]
	if !ok {
		return 0, fmt.Errorf("coingecko has no price entry for %s", token.Hex())
	}
	usd, ok := entry["usd"]
	if !ok {
		return 0, fmt.Errorf("coingecko price entry missing usd field")
	}
	return usd, nil
}

// tokenKeyLower mirrors Coingecko's lowercase-keyed response map.
func tokenKeyLower(token common.Address) string {
	return strings.ToLower(token.Hex())
}

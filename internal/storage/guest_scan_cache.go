package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// GuestScanFreshness is the reuse window for unauthenticated scans
const GuestScanFreshness = 12 * time.Hour

// GuestScanCache stores full guest-scan results in Redis keyed by wallet
// address, with the freshness window enforced by TTL.
type GuestScanCache struct {
	cache *RedisCache
}

// NewGuestScanCache creates a new guest scan cache
func NewGuestScanCache(cache *RedisCache) *GuestScanCache {
	return &GuestScanCache{cache: cache}
}

func guestScanKey(address string) string {
	return fmt.Sprintf("guestscan:%s", strings.ToLower(address))
}

// Get decodes the cached scan result for an address into out and reports
// whether it was found; a miss returns false with a nil error
func (c *GuestScanCache) Get(ctx context.Context, address string, out any) (bool, error) {
	raw, err := c.cache.Get(ctx, guestScanKey(address))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read guest scan cache: %w", err)
	}

	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("failed to decode guest scan cache: %w", err)
	}
	return true, nil
}

// Put stores a scan result for the freshness window
func (c *GuestScanCache) Put(ctx context.Context, address string, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode guest scan result: %w", err)
	}
	if err := c.cache.Set(ctx, guestScanKey(address), raw, GuestScanFreshness); err != nil {
		return fmt.Errorf("failed to write guest scan cache: %w", err)
	}
	return nil
}

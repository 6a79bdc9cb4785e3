package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/bicing-station-service/internal/models"
)

const keyPrefix = "bicing:"

// MemcachedCache implements Cache using memcached. Snapshots are stored as JSON.
type MemcachedCache struct {
	client *memcache.Client
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{client: client}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func key(d Dataset) string {
	return keyPrefix + string(d)
}

// expirationSeconds converts ttl to memcached's relative expiry, which is
// capped at 30 days.
func expirationSeconds(ttl time.Duration) int32 {
	const maxRelativeExp = 30 * 24 * 60 * 60
	sec := int32(ttl.Seconds())
	if sec <= 0 {
		return 1
	}
	if sec > maxRelativeExp {
		return maxRelativeExp
	}
	return sec
}

func (c *MemcachedCache) get(ctx context.Context, d Dataset, dst any) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	item, err := c.client.Get(key(d))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(item.Value, dst); err != nil {
		return false, err
	}
	return true, nil
}

func (c *MemcachedCache) set(ctx context.Context, d Dataset, value any, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(&memcache.Item{
		Key:        key(d),
		Value:      raw,
		Expiration: expirationSeconds(ttl),
	})
}

func (c *MemcachedCache) GetMetadata(ctx context.Context) ([]models.StationInfo, bool, error) {
	var infos []models.StationInfo
	ok, err := c.get(ctx, DatasetMetadata, &infos)
	return infos, ok, err
}

func (c *MemcachedCache) SetMetadata(ctx context.Context, infos []models.StationInfo, ttl time.Duration) error {
	return c.set(ctx, DatasetMetadata, infos, ttl)
}

func (c *MemcachedCache) GetStatus(ctx context.Context) ([]models.StationStatus, bool, error) {
	var statuses []models.StationStatus
	ok, err := c.get(ctx, DatasetStatus, &statuses)
	return statuses, ok, err
}

func (c *MemcachedCache) SetStatus(ctx context.Context, statuses []models.StationStatus, ttl time.Duration) error {
	return c.set(ctx, DatasetStatus, statuses, ttl)
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedCache) Ping() error {
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}

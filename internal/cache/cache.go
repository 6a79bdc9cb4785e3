package cache

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kjstillabower/bicing-station-service/internal/models"
)

// Dataset names one cached feed snapshot. Used as key and metric label.
type Dataset string

const (
	DatasetMetadata Dataset = "metadata"
	DatasetStatus   Dataset = "status"
)

// Cache stores whole feed snapshots with a TTL. Get returns ok=false on a
// miss or expired entry; an error means the backend itself failed.
type Cache interface {
	GetMetadata(ctx context.Context) ([]models.StationInfo, bool, error)
	SetMetadata(ctx context.Context, infos []models.StationInfo, ttl time.Duration) error
	GetStatus(ctx context.Context) ([]models.StationStatus, bool, error)
	SetStatus(ctx context.Context, statuses []models.StationStatus, ttl time.Duration) error
}

// Pinger is implemented by backends with a remote dependency worth health checking.
type Pinger interface {
	Ping() error
}

// NopCache never stores anything. Every query reaches the feeds.
type NopCache struct{}

func (NopCache) GetMetadata(context.Context) ([]models.StationInfo, bool, error) {
	return nil, false, nil
}

func (NopCache) SetMetadata(context.Context, []models.StationInfo, time.Duration) error {
	return nil
}

func (NopCache) GetStatus(context.Context) ([]models.StationStatus, bool, error) {
	return nil, false, nil
}

func (NopCache) SetStatus(context.Context, []models.StationStatus, time.Duration) error {
	return nil
}

// InMemoryCache keeps snapshots in a bounded LRU with per-entry expiry.
// Safe for concurrent use.
type InMemoryCache struct {
	lru *lru.Cache[Dataset, cacheEntry]
	now func() time.Time
}

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

// NewInMemoryCache returns an LRU-backed cache holding at most size snapshots.
// size <= 0 uses 16.
func NewInMemoryCache(size int) (*InMemoryCache, error) {
	if size <= 0 {
		size = 16
	}
	l, err := lru.New[Dataset, cacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("creating LRU cache: %w", err)
	}
	return &InMemoryCache{lru: l, now: time.Now}, nil
}

func (c *InMemoryCache) get(key Dataset) (any, bool) {
	entry, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if !c.now().Before(entry.expiresAt) {
		c.lru.Remove(key)
		return nil, false
	}
	return entry.value, true
}

func (c *InMemoryCache) set(key Dataset, value any, ttl time.Duration) {
	c.lru.Add(key, cacheEntry{value: value, expiresAt: c.now().Add(ttl)})
}

func (c *InMemoryCache) GetMetadata(ctx context.Context) ([]models.StationInfo, bool, error) {
	v, ok := c.get(DatasetMetadata)
	if !ok {
		return nil, false, nil
	}
	infos, ok := v.([]models.StationInfo)
	return infos, ok, nil
}

func (c *InMemoryCache) SetMetadata(ctx context.Context, infos []models.StationInfo, ttl time.Duration) error {
	c.set(DatasetMetadata, infos, ttl)
	return nil
}

func (c *InMemoryCache) GetStatus(ctx context.Context) ([]models.StationStatus, bool, error) {
	v, ok := c.get(DatasetStatus)
	if !ok {
		return nil, false, nil
	}
	statuses, ok := v.([]models.StationStatus)
	return statuses, ok, nil
}

func (c *InMemoryCache) SetStatus(ctx context.Context, statuses []models.StationStatus, ttl time.Duration) error {
	c.set(DatasetStatus, statuses, ttl)
	return nil
}

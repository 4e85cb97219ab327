// Package cache keeps the unfiltered location list in Redis between writes.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/smukkama/calmcorners/internal/catalog"
)

const locationsKey = "calmcorners:locations:all"

// Locations implements catalog.LocationCache.
type Locations struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewLocations creates a cache whose entries expire after ttl.
func NewLocations(redisClient *redis.Client, ttl time.Duration) *Locations {
	return &Locations{redis: redisClient, ttl: ttl}
}

// NewClient dials Redis and checks the connection.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// GetLocations returns the cached list. ok is false on a miss.
func (c *Locations) GetLocations(ctx context.Context) ([]catalog.Location, bool, error) {
	data, err := c.redis.Get(ctx, locationsKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get locations from Redis: %w", err)
	}

	var locations []catalog.Location
	if err := json.Unmarshal(data, &locations); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal locations: %w", err)
	}
	if locations == nil {
		locations = []catalog.Location{}
	}
	return locations, true, nil
}

// SetLocations stores the list until the next write or the TTL.
func (c *Locations) SetLocations(ctx context.Context, locations []catalog.Location) error {
	data, err := json.Marshal(locations)
	if err != nil {
		return fmt.Errorf("failed to marshal locations: %w", err)
	}
	if err := c.redis.Set(ctx, locationsKey, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set locations in Redis: %w", err)
	}
	return nil
}

// Invalidate drops the cached list.
func (c *Locations) Invalidate(ctx context.Context) error {
	return c.redis.Del(ctx, locationsKey).Err()
}

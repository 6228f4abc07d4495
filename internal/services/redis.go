package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tripallied/tripallied-backend/internal/models"
)

var RedisClient *redis.Client

// InitRedis initializes the Redis client
func InitRedis() error {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://redis:6379" // Default Redis address for Docker
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return fmt.Errorf("failed to parse Redis URL: %v", err)
	}

	RedisClient = redis.NewClient(opt)

	// Test the connection
	ctx := context.Background()
	_, err = RedisClient.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %v", err)
	}

	return nil
}

// DriverLocationCache keeps the last reported driver position hot so
// ride reads do not touch the presence table on every poll.
type DriverLocationCache struct {
	client *redis.Client
}

func NewDriverLocationCache(client *redis.Client) *DriverLocationCache {
	return &DriverLocationCache{client: client}
}

// SetDriverLocation stores a driver position with a one hour TTL.
func (c *DriverLocationCache) SetDriverLocation(ctx context.Context, driverID uint, loc models.Location) error {
	locationData := map[string]interface{}{
		"lat":     loc.Lat,
		"lng":     loc.Lng,
		"address": loc.Address,
		"updated": time.Now().Unix(),
	}

	data, err := json.Marshal(locationData)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("driver:location:%d", driverID)
	return c.client.Set(ctx, key, data, time.Hour).Err()
}

// GetDriverLocation retrieves a cached driver position. A cache miss
// returns nil without error.
func (c *DriverLocationCache) GetDriverLocation(ctx context.Context, driverID uint) (*models.Location, error) {
	key := fmt.Sprintf("driver:location:%d", driverID)
	data, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var locationData struct {
		Lat     float64 `json:"lat"`
		Lng     float64 `json:"lng"`
		Address string  `json:"address"`
	}
	if err := json.Unmarshal([]byte(data), &locationData); err != nil {
		return nil, err
	}
	return &models.Location{Address: locationData.Address, Lat: locationData.Lat, Lng: locationData.Lng}, nil
}

// GeocodeCache memoizes geocoding provider responses. Upstream rate
// limits make repeated lookups for the same address expensive.
type GeocodeCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewGeocodeCache(client *redis.Client) *GeocodeCache {
	return &GeocodeCache{client: client, ttl: 24 * time.Hour}
}

func (c *GeocodeCache) Get(ctx context.Context, key string, out any) (bool, error) {
	data, err := c.client.Get(ctx, "geocode:"+key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return false, err
	}
	return true, nil
}

func (c *GeocodeCache) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, "geocode:"+key, data, c.ttl).Err()
}

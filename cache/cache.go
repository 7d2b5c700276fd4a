package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"smartpark/config"
	"smartpark/ml"
)

// PredictionCache stores discount-rate predictions by key.
type PredictionCache interface {
	Get(ctx context.Context, key string) (float64, bool, error)
	Set(ctx context.Context, key string, value float64) error
}

// Key identifies a prediction of one artifact for one record.
func Key(runID string, record ml.FeatureRecord) string {
	sum := sha256.Sum256([]byte(record.Fingerprint()))
	return "smartpark:predict:" + runID + ":" + hex.EncodeToString(sum[:16])
}

// New builds the backend selected in cfg. The "none" backend returns nil.
func New(ctx context.Context, cfg config.CacheConfig) (PredictionCache, error) {
	switch cfg.Backend {
	case config.CacheBackendLRU:
		c, err := NewLRUCache(cfg.Size)
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.CacheBackendRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return NewRedisCache(client, cfg.TTL), nil
	case config.CacheBackendNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

type LRUCache struct {
	entries *lru.Cache[string, float64]
}

func NewLRUCache(size int) (*LRUCache, error) {
	entries, err := lru.New[string, float64](size)
	if err != nil {
		return nil, err
	}
	return &LRUCache{entries: entries}, nil
}

func (c *LRUCache) Get(_ context.Context, key string) (float64, bool, error) {
	v, ok := c.entries.Get(key)
	return v, ok, nil
}

func (c *LRUCache) Set(_ context.Context, key string, value float64) error {
	c.entries.Add(key, value)
	return nil
}

func (c *LRUCache) Len() int {
	return c.entries.Len()
}

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) (float64, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	v, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt cache entry %s: %w", key, err)
	}
	return v, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value float64) error {
	return c.client.Set(ctx, key, strconv.FormatFloat(value, 'g', -1, 64), c.ttl).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

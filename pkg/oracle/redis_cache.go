package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gregtusar/assetrouter/pkg/models"
	"github.com/redis/go-redis/v9"
)

// RedisCache shares quotes between engine replicas. Expiry is delegated to
// redis key TTLs.
type RedisCache struct {
	client    redis.UniversalClient
	namespace string
}

func NewRedisCache(client redis.UniversalClient, namespace string) *RedisCache {
	if namespace == "" {
		namespace = "rates"
	}
	return &RedisCache{client: client, namespace: namespace}
}

// NewRedisClient builds a single-node or cluster client.
func NewRedisClient(addrs []string, password string, useCluster bool) redis.UniversalClient {
	if useCluster && len(addrs) > 1 {
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    addrs,
			Password: password,
		})
	}
	return redis.NewClient(&redis.Options{
		Addr:     addrs[0],
		Password: password,
		DB:       0,
	})
}

func (c *RedisCache) key(key string) string {
	return c.namespace + ":" + key
}

func (c *RedisCache) Get(ctx context.Context, key string) (models.RateQuote, bool, error) {
	val, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.RateQuote{}, false, nil
	}
	if err != nil {
		return models.RateQuote{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	var q models.RateQuote
	if err := json.Unmarshal(val, &q); err != nil {
		return models.RateQuote{}, false, fmt.Errorf("decode cached quote %s: %w", key, err)
	}
	return q, true, nil
}

func (c *RedisCache) Put(ctx context.Context, key string, quote models.RateQuote, ttl time.Duration) error {
	data, err := json.Marshal(quote)
	if err != nil {
		return fmt.Errorf("encode quote %s: %w", key, err)
	}
	return c.client.Set(ctx, c.key(key), data, ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.key(key)).Err()
}

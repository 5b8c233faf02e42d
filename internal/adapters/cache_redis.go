package adapters

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const redisKeyPrefix = "composer-repos"

// RedisCacheAdapter shares metadata between machines. Each entry is a hash
// holding the document and the time it was written.
type RedisCacheAdapter struct {
	client    redis.UniversalClient
	namespace string
	ttl       time.Duration
	readOnly  bool
	metrics   *Metrics
}

// NewRedisCacheAdapter stores entries under composer-repos:<namespace>:.
// A zero ttl keeps entries until they are cleared.
func NewRedisCacheAdapter(client redis.UniversalClient, namespace string, ttl time.Duration, readOnly bool, metrics *Metrics) *RedisCacheAdapter {
	return &RedisCacheAdapter{
		client:    client,
		namespace: SanitizeCacheKey(namespace),
		ttl:       ttl,
		readOnly:  readOnly,
		metrics:   metrics,
	}
}

func (a *RedisCacheAdapter) key(key string) string {
	return redisKeyPrefix + ":" + a.namespace + ":" + SanitizeCacheKey(key)
}

func (a *RedisCacheAdapter) IsEnabled() bool {
	return a.client != nil
}

func (a *RedisCacheAdapter) IsReadOnly() bool {
	return a.readOnly
}

func (a *RedisCacheAdapter) Read(ctx context.Context, key string) ([]byte, bool, error) {
	if a.client == nil {
		return nil, false, nil
	}
	data, err := a.client.HGet(ctx, a.key(key), "data").Bytes()
	if errors.Is(err, redis.Nil) {
		a.metrics.observeCache("redis", false)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to read cache entry " + key).
			WithCause(err)
	}
	a.metrics.observeCache("redis", true)
	return data, true, nil
}

func (a *RedisCacheAdapter) Write(ctx context.Context, key string, data []byte) error {
	if a.client == nil || a.readOnly {
		return nil
	}
	target := a.key(key)
	_, err := a.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, target, "data", data, "written", strconv.FormatInt(time.Now().UnixNano(), 10))
		if a.ttl > 0 {
			pipe.Expire(ctx, target, a.ttl)
		}
		return nil
	})
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to write cache entry " + key).
			WithCause(err)
	}
	log.Ctx(ctx).Debug().Str("key", target).Msg("wrote cache entry")
	return nil
}

func (a *RedisCacheAdapter) Age(ctx context.Context, key string) (time.Duration, bool) {
	if a.client == nil {
		return 0, false
	}
	raw, err := a.client.HGet(ctx, a.key(key), "written").Result()
	if err != nil {
		return 0, false
	}
	written, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	age := time.Since(time.Unix(0, written))
	if age < 0 {
		age = 0
	}
	return age, true
}

func (a *RedisCacheAdapter) SHA256(ctx context.Context, key string) (string, bool) {
	data, ok, err := a.Read(ctx, key)
	if err != nil || !ok {
		return "", false
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), true
}

func (a *RedisCacheAdapter) Remove(ctx context.Context, key string) error {
	if a.client == nil || a.readOnly {
		return nil
	}
	if err := a.client.Del(ctx, a.key(key)).Err(); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to remove cache entry " + key).
			WithCause(err)
	}
	return nil
}

// Clear deletes every key of the namespace. An empty namespace clears all
// namespaces.
func (a *RedisCacheAdapter) Clear(ctx context.Context) error {
	if a.client == nil || a.readOnly {
		return nil
	}
	pattern := redisKeyPrefix + ":" + a.namespace + ":*"
	if a.namespace == "" {
		pattern = redisKeyPrefix + ":*"
	}
	iter := a.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to list cache entries").
			WithCause(err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := a.client.Del(ctx, keys...).Err(); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to clear cache").
			WithCause(err)
	}
	log.Ctx(ctx).Debug().Int("keys", len(keys)).Str("namespace", a.namespace).Msg("cache cleared")
	return nil
}

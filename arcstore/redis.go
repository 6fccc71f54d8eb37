package arcstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyphanet/plugin-Library-sub002/archive"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// prefix string for all the Redis keys this backend uses
var redisBlockPrefix string = "libidx/block/"

// Redis archives blocks in a Redis server, which lets several processes share one archive.
//
// Includes an in-process LRU cache as well (provided by the redis client library), for hot blocks such as tree roots.
type Redis struct {
	Client *redis.Client

	blocks *cache.Cache
}

var _ archive.Backend = (*Redis)(nil)

// NewRedis connects to redisURL. `lruSize` is the number of blocks held in process; `lruTTL` is how long they stay there.
func NewRedis(ctx context.Context, redisURL string, lruSize int, lruTTL time.Duration) (*Redis, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("could not configure redis archive: %w", err)
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	_, err = rdb.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("could not connect to redis archive: %w", err)
	}
	return &Redis{
		Client: rdb,
		blocks: cache.New(&cache.Options{
			Redis:      rdb,
			LocalCache: cache.NewTinyLFU(lruSize, lruTTL),
		}),
	}, nil
}

func (r *Redis) Close() error {
	return r.Client.Close()
}

func (r *Redis) Get(ctx context.Context, loc archive.Locator) ([]byte, error) {
	ctx, span := otel.Tracer("arcstore").Start(ctx, "RedisGet")
	defer span.End()
	span.SetAttributes(attribute.String("locator", loc.String()))

	var b []byte
	err := r.blocks.Get(ctx, redisBlockPrefix+loc.String(), &b)
	if errors.Is(err, cache.ErrCacheMiss) {
		backendGets.WithLabelValues("redis", "miss").Inc()
		return nil, fmt.Errorf("%s: %w", loc, archive.ErrNotFound)
	}
	if err != nil {
		backendGets.WithLabelValues("redis", "error").Inc()
		return nil, fmt.Errorf("redis get %s: %w", loc, err)
	}
	backendGets.WithLabelValues("redis", "hit").Inc()
	return b, nil
}

func (r *Redis) Put(ctx context.Context, data []byte, hint string) (archive.Locator, error) {
	ctx, span := otel.Tracer("arcstore").Start(ctx, "RedisPut")
	defer span.End()

	loc, err := archive.ComputeLocator(data)
	if err != nil {
		return loc, err
	}
	err = r.blocks.Set(&cache.Item{
		Ctx:   ctx,
		Key:   redisBlockPrefix + loc.String(),
		Value: data,
		// negative TTL: never expire
		TTL: -1,
	})
	if err != nil {
		return loc, fmt.Errorf("redis set %s: %w", loc, err)
	}
	span.SetAttributes(attribute.String("locator", loc.String()), attribute.Int("bytes", len(data)))
	backendPuts.WithLabelValues("redis").Inc()
	backendPutBytes.WithLabelValues("redis").Add(float64(len(data)))
	return loc, nil
}

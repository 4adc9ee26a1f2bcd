package feed

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// RedisConfig configures the shared redis price cache.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
	Timeout   time.Duration `yaml:"timeout"`
}

// DefaultRedisConfig returns defaults for the redis cache.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:      "localhost:6379",
		KeyPrefix: "cryptogate:price:",
		TTL:       30 * time.Second,
		Timeout:   2 * time.Second,
	}
}

// RedisCache stores last prices in redis so several pipeline processes can
// share a single feed. A missing key is a miss, not an error.
type RedisCache struct {
	cfg    RedisConfig
	log    zerolog.Logger
	client *redis.Client
}

// NewRedisCache creates a cache around an existing client. The client is
// injected so tests can substitute redismock.
func NewRedisCache(cfg RedisConfig, client *redis.Client, log zerolog.Logger) *RedisCache {
	def := DefaultRedisConfig()
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = def.KeyPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &RedisCache{
		cfg:    cfg,
		log:    log.With().Str("component", "feed").Str("feed", "redis").Logger(),
		client: client,
	}
}

// DialRedis creates a client from config and verifies connectivity.
func DialRedis(cfg RedisConfig) (*redis.Client, error) {
	def := DefaultRedisConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("feed: redis connection failed: %w", err)
	}
	return client, nil
}

// Publish stores a price with the configured TTL.
func (r *RedisCache) Publish(ctx context.Context, symbol string, price float64) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	key := r.cfg.KeyPrefix + symbol
	if err := r.client.Set(ctx, key, strconv.FormatFloat(price, 'f', -1, 64), r.cfg.TTL).Err(); err != nil {
		return fmt.Errorf("feed: redis set %s: %w", key, err)
	}
	return nil
}

// LastPrice returns the cached price for a symbol.
func (r *RedisCache) LastPrice(symbol string) (float64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
	defer cancel()

	key := r.cfg.KeyPrefix + symbol
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return 0, fmt.Errorf("feed: no cached price for %s", symbol)
		}
		return 0, fmt.Errorf("feed: redis get %s: %w", key, err)
	}

	price, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("feed: bad cached price %q for %s: %w", val, symbol, err)
	}
	return price, nil
}

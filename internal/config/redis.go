package config

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"go-simpler.org/env"
)

// RedisConfig locates the Redis instance backing the HTTP rate limiter.
// REDIS_HOST and REDIS_PORT win over REDIS_ADDR when both are set.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" default:"localhost:6379"`
	Host     string `env:"REDIS_HOST"`
	Port     string `env:"REDIS_PORT"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" default:"0"`
	TLS      bool   `env:"REDIS_TLS" default:"false"`
}

// RedisOptions decodes REDIS_* into client options.
func RedisOptions() (*redis.Options, error) {
	var cfg RedisConfig
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load redis config: %w", err)
	}
	opts := &redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
	if cfg.Host != "" && cfg.Port != "" {
		opts.Addr = cfg.Host + ":" + cfg.Port
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts, nil
}

// NewRedisClient connects with opts and pings the server. It returns nil
// when Redis is unreachable; callers disable HTTP rate limiting then.
func NewRedisClient(ctx context.Context, opts *redis.Options) *redis.Client {
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Warn("Redis unavailable, rate limiting disabled", "addr", opts.Addr, "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

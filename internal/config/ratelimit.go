package config

import (
	"fmt"
	"time"

	"go-simpler.org/env"
)

// RateLimitConfig configures the Redis token bucket in front of the booking
// API. It is loaded separately from Config because the limiter degrades to a
// pass-through when Redis is unavailable.
type RateLimitConfig struct {
	Enabled        bool          `env:"RATE_LIMIT_ENABLED" default:"true"`
	Capacity       int           `env:"RATE_LIMIT_CAPACITY" default:"20"`
	RefillTokens   int           `env:"RATE_LIMIT_REFILL_TOKENS" default:"1"`
	RefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL" default:"1s"`
	TTL            time.Duration `env:"RATE_LIMIT_TTL" default:"10m"`

	// KeyStrategy lists the request attributes that make up a bucket key,
	// joined by "_": ip, user, route and showtime.
	KeyStrategy string `env:"RATE_LIMIT_KEY_STRATEGY" default:"user_route_showtime"`
	Prefix      string `env:"RATE_LIMIT_PREFIX" default:"rl"`
	Debug       bool   `env:"RATE_LIMIT_DEBUG" default:"false"`
}

// LoadRateLimitConfig decodes RATE_LIMIT_* and clamps the result to values
// the bucket script can work with.
func LoadRateLimitConfig() (RateLimitConfig, error) {
	var cfg RateLimitConfig
	if err := env.Load(&cfg, nil); err != nil {
		return RateLimitConfig{}, fmt.Errorf("failed to load rate limit config: %w", err)
	}
	cfg.Clamp()
	return cfg, nil
}

// Clamp raises capacity, refill and TTL to the smallest usable values.
func (c *RateLimitConfig) Clamp() {
	c.Capacity = max(c.Capacity, 1)
	c.RefillTokens = max(c.RefillTokens, 1)
	if c.RefillInterval <= 0 {
		c.RefillInterval = time.Second
	}
	// keys must outlive a full refill cycle
	c.TTL = max(c.TTL, 5*c.RefillInterval)
}

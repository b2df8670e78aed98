// Package config loads engine configuration from the environment.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds every tunable of the ledger engine. DatabaseURL and RedisURL
// are optional: without a database the engine runs on the in-memory store,
// without Redis reads skip the cache layer.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string

	QuoteBaseURL string
	QuoteTimeout time.Duration

	TxTimeout   time.Duration
	DailyReward decimal.Decimal
	CacheTTL    time.Duration
}

// Load reads the environment, applying defaults for everything optional.
func Load() (*Config, error) {
	c := &Config{
		Port:         getenv("PORT", "8080"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),
		QuoteBaseURL: getenv("QUOTE_BASE_URL", "https://query1.finance.yahoo.com"),
	}

	var err error
	if c.QuoteTimeout, err = getduration("QUOTE_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if c.TxTimeout, err = getduration("TX_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if c.CacheTTL, err = getduration("CACHE_TTL", 30*time.Second); err != nil {
		return nil, err
	}

	reward := getenv("DAILY_REWARD", "500")
	if c.DailyReward, err = decimal.NewFromString(reward); err != nil {
		return nil, fmt.Errorf("config: invalid DAILY_REWARD %q: %w", reward, err)
	}
	if c.DailyReward.IsNegative() {
		return nil, fmt.Errorf("config: DAILY_REWARD must not be negative, got %s", c.DailyReward)
	}

	return c, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getduration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

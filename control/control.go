// Package control answers one question before each claim: is the run still
// enabled? Backends re-read an external flag so operators can pause intake
// without restarting the process; in-flight tasks always run to completion.
package control

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// RunControl reports whether new tasks may be claimed.
type RunControl interface {
	Enabled(ctx context.Context) bool
}

// AlwaysEnabled is the no-op control used when no backend is configured.
type AlwaysEnabled struct{}

// Enabled implements RunControl.
func (AlwaysEnabled) Enabled(context.Context) bool { return true }

// cached wraps a backend with an interval cache so the flag read does not hit
// the backend on every claim.
type cached struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	value    bool
	fetch    func(ctx context.Context) (bool, error)
}

func (c *cached) Enabled(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Since(c.last) < c.interval {
		return c.value
	}
	v, err := c.fetch(ctx)
	if err != nil {
		// Failing open would let a broken backend unpause a stopped run, so
		// a read error keeps the previous answer.
		log.Warn().Err(err).Msg("Run control read failed, keeping previous value")
		c.last = time.Now()
		return c.value
	}
	if v != c.value {
		log.Info().Bool("enabled", v).Msg("Run control flag changed")
	}
	c.value = v
	c.last = time.Now()
	return c.value
}

// NewFileControl reads the enable flag from a JSON control file. The file
// holds {"enabled": true} and is re-read at most once per interval.
func NewFileControl(path string, interval time.Duration) RunControl {
	return &cached{
		interval: interval,
		value:    true,
		fetch: func(ctx context.Context) (bool, error) {
			v := viper.New()
			v.SetConfigFile(path)
			v.SetConfigType("json")
			if err := v.ReadInConfig(); err != nil {
				return false, err
			}
			if !v.IsSet("enabled") {
				return true, nil
			}
			return v.GetBool("enabled"), nil
		},
	}
}

// NewRedisControl reads the enable flag from a Redis key. A missing key means
// enabled; the literal values "0" and "false" disable the run.
func NewRedisControl(client *redis.Client, key string, interval time.Duration) RunControl {
	return &cached{
		interval: interval,
		value:    true,
		fetch: func(ctx context.Context) (bool, error) {
			val, err := client.Get(ctx, key).Result()
			if err == redis.Nil {
				return true, nil
			}
			if err != nil {
				return false, err
			}
			return val != "0" && val != "false", nil
		},
	}
}

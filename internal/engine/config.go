package engine

import (
	"time"

	"pricewatch/internal/model"
)

// Config holds the tunables of the refresh engine. Zero fields take the
// defaults below.
type Config struct {
	// CycleInterval is the scheduler's fixed period.
	CycleInterval time.Duration

	// Refresh cadence per volatility tier.
	HighInterval   time.Duration
	NormalInterval time.Duration
	LowInterval    time.Duration

	// RetryDelay reschedules a pool after a failed call or batch.
	RetryDelay time.Duration

	// WeightCeiling bounds the summed query weight of one batch.
	WeightCeiling int

	// Providers is the number of configured RPC providers to spread
	// batches across.
	Providers int

	// CacheTTL is the lifetime of a cache entry past its last
	// observation or extension.
	CacheTTL time.Duration

	// GracePeriod keeps a zero-reference pool alive before eviction.
	GracePeriod time.Duration

	// EvictionInterval is the reclaimer's pool sweep period,
	// TTLSweepInterval its cache sweep period.
	EvictionInterval time.Duration
	TTLSweepInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.CycleInterval <= 0 {
		c.CycleInterval = time.Second
	}
	if c.HighInterval <= 0 {
		c.HighInterval = 5 * time.Second
	}
	if c.NormalInterval <= 0 {
		c.NormalInterval = 10 * time.Second
	}
	if c.LowInterval <= 0 {
		c.LowInterval = 30 * time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
	if c.WeightCeiling <= 0 {
		c.WeightCeiling = 50
	}
	if c.Providers <= 0 {
		c.Providers = 1
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 2 * time.Minute
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = 20 * time.Second
	}
	if c.EvictionInterval <= 0 {
		c.EvictionInterval = 30 * time.Second
	}
	if c.TTLSweepInterval <= 0 {
		c.TTLSweepInterval = 30 * time.Second
	}
	return c
}

// tierInterval maps a tier to its refresh cadence.
func (c Config) tierInterval(tier model.Tier) time.Duration {
	switch tier {
	case model.TierHigh:
		return c.HighInterval
	case model.TierNormal:
		return c.NormalInterval
	default:
		return c.LowInterval
	}
}

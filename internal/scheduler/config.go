package scheduler

import "time"

// Config controls sweep cadence.
type Config struct {
	SweepInterval time.Duration
	SweepTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		SweepInterval: 5 * time.Minute,
		SweepTimeout:  30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaults.SweepInterval
	}
	if c.SweepTimeout <= 0 {
		c.SweepTimeout = defaults.SweepTimeout
	}
	return c
}

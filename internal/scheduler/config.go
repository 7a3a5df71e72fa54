package scheduler

import (
	"time"

	"github.com/smallbiznis/rosterpay/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval       time.Duration
	BatchSize         int
	PendingTimeout    time.Duration
	ProcessingTimeout time.Duration
	JobTimeout        time.Duration
	EnabledJobs       []string
	AlertRecipients   []string
	Environment       string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:       time.Minute,
		BatchSize:         50,
		PendingTimeout:    30 * time.Minute,
		ProcessingTimeout: 15 * time.Minute,
		JobTimeout:        30 * time.Second,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:       cfg.Scheduler.RunInterval,
		BatchSize:         cfg.Scheduler.BatchSize,
		PendingTimeout:    cfg.Scheduler.PendingTimeout,
		ProcessingTimeout: cfg.Scheduler.ProcessingTimeout,
		AlertRecipients:   cfg.Email.OpsAlertTo,
		Environment:       cfg.Environment,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.PendingTimeout <= 0 {
		c.PendingTimeout = defaults.PendingTimeout
	}
	if c.ProcessingTimeout <= 0 {
		c.ProcessingTimeout = defaults.ProcessingTimeout
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}

package scheduler

import (
	"strings"
	"time"

	"github.com/smallbiznis/loop/internal/config"
)

const JobReconcileBalances = "reconcile_balances"

// Config controls scheduler intervals and batch sizes.
type Config struct {
	Enabled     bool
	RunInterval time.Duration
	BatchSize   int
	JobTimeout  time.Duration
	// EnabledJobs restricts which jobs run. Empty means all.
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		RunInterval: 15 * time.Minute,
		BatchSize:   200,
		JobTimeout:  2 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:     cfg.Scheduler.Enabled,
		RunInterval: cfg.Scheduler.ReconcileInterval,
		BatchSize:   cfg.Scheduler.ReconcileBatchSize,
		JobTimeout:  cfg.Scheduler.JobTimeout,
	}.withDefaults()
}

func (c Config) isJobEnabled(job string) bool {
	if len(c.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range c.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), job) {
			return true
		}
	}
	return false
}

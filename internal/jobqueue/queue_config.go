/*
Package jobqueue configuration - tunable parameters for the River job queue.

## Quick Configuration Reference:

### Performance Tuning:
- Increase MaxWorkers for higher throughput (more concurrent chain transitions)
- Lower SweepInterval to catch chains whose jobs were lost sooner

### Reliability Tuning:
- MaxAttempts caps how often a failing job is retried before River discards it
- Retry controls the exponential backoff between attempts

## Monitoring and Debugging:
- Every failed attempt is logged with job kind, attempt and max attempts
- The final failed attempt is logged at error level with dead_letter=true
- Discarded jobs keep their error history in the river_job table
*/
package jobqueue

import (
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/reviewchain/internal/config"
	"github.com/reviewchain/internal/retry"
)

// QueueConfig holds all configurable parameters for the job queue
type QueueConfig struct {
	MaxWorkers    int               // Concurrent workers on the default queue
	MaxAttempts   int               // Attempts per job before it is discarded
	JobTimeout    time.Duration     // Maximum time a single job can run
	SweepInterval time.Duration     // How often the periodic sweep runs
	Retry         retry.RetryConfig // Backoff between attempts
}

// DefaultQueueConfig returns the default configuration
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxWorkers:    10,
		MaxAttempts:   10,
		JobTimeout:    1 * time.Minute,
		SweepInterval: 5 * time.Minute,
		Retry:         retry.JobRetryConfig(),
	}
}

// QueueConfigFrom builds the queue configuration from the application config.
func QueueConfigFrom(cfg *config.Config) *QueueConfig {
	qc := DefaultQueueConfig()
	qc.MaxWorkers = cfg.Queue.MaxWorkers
	qc.MaxAttempts = cfg.Queue.MaxAttempts
	qc.JobTimeout = cfg.Queue.JobTimeout
	qc.SweepInterval = cfg.Queue.SweepInterval
	qc.Retry.BaseDelay = cfg.Queue.Retry.BaseDelay
	qc.Retry.MaxDelay = cfg.Queue.Retry.MaxDelay
	qc.Retry.Multiplier = cfg.Queue.Retry.Multiplier
	qc.Retry.MaxRetries = cfg.Queue.MaxAttempts - 1
	return qc
}

// RiverQueueConfig converts our config to River's queue configuration format
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {
			MaxWorkers: c.MaxWorkers,
		},
	}
}

// BackoffRetryPolicy schedules the next attempt of a failed job with
// exponential backoff capped at Config.MaxDelay.
type BackoffRetryPolicy struct {
	Config retry.RetryConfig
	now    func() time.Time
}

func NewBackoffRetryPolicy(cfg retry.RetryConfig) *BackoffRetryPolicy {
	return &BackoffRetryPolicy{Config: cfg, now: time.Now}
}

// NextRetry implements river.ClientRetryPolicy. job.Attempt counts the
// attempts made so far, including the one that just failed.
func (p *BackoffRetryPolicy) NextRetry(job *rivertype.JobRow) time.Time {
	attempt := job.Attempt - 1
	if attempt < 0 {
		attempt = 0
	}
	return p.now().UTC().Add(retry.Delay(p.Config, attempt))
}

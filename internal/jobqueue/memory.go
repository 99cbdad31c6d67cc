package jobqueue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/reviewchain/internal/chain"
	"github.com/reviewchain/internal/retry"
)

// JobHandler runs one due job.
type JobHandler func(ctx context.Context, job chain.Job, now time.Time) error

// ScheduledJob is a job held by MemoryScheduler.
type ScheduledJob struct {
	At       time.Time
	Job      chain.Job
	Attempts int
	LastErr  error

	seq int
}

// MemoryScheduler keeps jobs in memory and runs them when RunDue is called
// with a time at or after their schedule. It backs tests and single process
// setups without a database.
type MemoryScheduler struct {
	mu      sync.Mutex
	pending []*ScheduledJob
	dead    []*ScheduledJob
	seq     int

	maxAttempts int
	retry       retry.RetryConfig
}

// NewMemoryScheduler returns a scheduler that retries a failing job until it
// has made maxAttempts attempts.
func NewMemoryScheduler(maxAttempts int, cfg retry.RetryConfig) *MemoryScheduler {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &MemoryScheduler{maxAttempts: maxAttempts, retry: cfg}
}

// ScheduleAt implements chain.Scheduler.
func (m *MemoryScheduler) ScheduleAt(ctx context.Context, at time.Time, job chain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.pending = append(m.pending, &ScheduledJob{At: at, Job: job, seq: m.seq})
	return nil
}

// Pending returns a snapshot of the queued jobs ordered by schedule time.
func (m *MemoryScheduler) Pending() []ScheduledJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sortLocked()
	out := make([]ScheduledJob, 0, len(m.pending))
	for _, j := range m.pending {
		out = append(out, *j)
	}
	return out
}

// Dead returns jobs that ran out of attempts.
func (m *MemoryScheduler) Dead() []ScheduledJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ScheduledJob, 0, len(m.dead))
	for _, j := range m.dead {
		out = append(out, *j)
	}
	return out
}

// RunDue runs every job scheduled at or before now, oldest first, and returns
// how many it ran. Jobs that fail are rescheduled with backoff.
func (m *MemoryScheduler) RunDue(ctx context.Context, now time.Time, handle JobHandler) int {
	m.mu.Lock()
	m.sortLocked()
	var due []*ScheduledJob
	rest := m.pending[:0]
	for _, j := range m.pending {
		if !j.At.After(now) {
			due = append(due, j)
		} else {
			rest = append(rest, j)
		}
	}
	m.pending = rest
	m.mu.Unlock()

	// The lock is released so handlers may schedule more jobs.
	for _, j := range due {
		j.Attempts++
		err := handle(ctx, j.Job, now)
		if err == nil {
			continue
		}
		j.LastErr = err

		m.mu.Lock()
		if j.Attempts >= m.maxAttempts {
			log.Error().Err(err).
				Bool("dead_letter", true).
				Str("chain_id", j.Job.ChainID).
				Str("job_kind", string(j.Job.Kind)).
				Int("attempt", j.Attempts).
				Msg("Job attempt failed")
			m.dead = append(m.dead, j)
		} else {
			log.Warn().Err(err).
				Str("chain_id", j.Job.ChainID).
				Str("job_kind", string(j.Job.Kind)).
				Int("attempt", j.Attempts).
				Msg("Job attempt failed")
			j.At = now.Add(retry.Delay(m.retry, j.Attempts-1))
			m.pending = append(m.pending, j)
		}
		m.mu.Unlock()
	}
	return len(due)
}

func (m *MemoryScheduler) sortLocked() {
	sort.SliceStable(m.pending, func(a, b int) bool {
		if !m.pending[a].At.Equal(m.pending[b].At) {
			return m.pending[a].At.Before(m.pending[b].At)
		}
		return m.pending[a].seq < m.pending[b].seq
	})
}

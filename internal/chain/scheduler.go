package chain

import (
	"context"
	"time"
)

// JobKind names a time-based transition the scheduler fires.
type JobKind string

const (
	JobActivate JobKind = "review_chain_activate"
	JobExpire   JobKind = "review_chain_expire"
)

// Job is the payload handed to a Scheduler. Delivery is at-least-once, so the
// handlers behind each kind are idempotent.
type Job struct {
	Kind    JobKind `json:"kind"`
	ChainID string  `json:"chainId"`
}

// Scheduler delivers a job no earlier than at.
type Scheduler interface {
	ScheduleAt(ctx context.Context, at time.Time, job Job) error
}

package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Config holds the timing constants of a chain.
type Config struct {
	// TriggerOffset is added to the activity end to get the trigger time.
	TriggerOffset time.Duration
	// ExpiryWindow is added to the trigger time to get the expire time.
	ExpiryWindow time.Duration
}

// DefaultConfig returns the timing used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		TriggerOffset: 2 * time.Hour,
		ExpiryWindow:  48 * time.Hour,
	}
}

// Validate checks that the timing keeps trigger time strictly before
// expire time.
func (c Config) Validate() error {
	if c.TriggerOffset < 0 {
		return fmt.Errorf("trigger offset must not be negative, got %s", c.TriggerOffset)
	}
	if c.ExpiryWindow <= 0 {
		return fmt.Errorf("expiry window must be positive, got %s", c.ExpiryWindow)
	}
	return nil
}

// Service runs the review chain lifecycle on top of a Store and a Scheduler.
type Service struct {
	store     Store
	scheduler Scheduler
	cfg       Config
	now       func() time.Time
	newID     func() string
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator replaces the uuid generator.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

func NewService(store Store, scheduler Scheduler, cfg Config, opts ...Option) *Service {
	s := &Service{
		store:     store,
		scheduler: scheduler,
		cfg:       cfg,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateChain builds a pending chain for a finished activity and arms its
// activation and expiry jobs.
func (s *Service) CreateChain(ctx context.Context, in CreateInput) (*ReviewChain, error) {
	if errs := ValidateCreate(in); errs != nil {
		return nil, errs
	}

	now := s.now().UTC()
	endedAt := in.EndedAt
	if endedAt.IsZero() {
		endedAt = now
	}
	trigger := endedAt.UTC().Add(s.cfg.TriggerOffset)

	c := &ReviewChain{
		ID:           s.newID(),
		ActivityID:   in.ActivityID,
		UserSequence: append([]string(nil), in.ParticipantIDs...),
		State:        Pending{},
		TriggerTime:  trigger,
		ExpireTime:   trigger.Add(s.cfg.ExpiryWindow),
		TotalCount:   len(in.ParticipantIDs),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create review chain: %w", err)
	}

	log.Info().
		Str("chain_id", c.ID).
		Str("activity_id", c.ActivityID).
		Int("total_count", c.TotalCount).
		Time("trigger_time", c.TriggerTime).
		Time("expire_time", c.ExpireTime).
		Msg("Created review chain")

	// The chain is already persisted. A failed schedule is picked up by the
	// periodic sweep, so it is logged rather than returned.
	if err := s.scheduler.ScheduleAt(ctx, c.TriggerTime, Job{Kind: JobActivate, ChainID: c.ID}); err != nil {
		log.Error().Err(err).Str("chain_id", c.ID).Msg("Failed to schedule chain activation")
	}
	if err := s.scheduler.ScheduleAt(ctx, c.ExpireTime, Job{Kind: JobExpire, ChainID: c.ID}); err != nil {
		log.Error().Err(err).Str("chain_id", c.ID).Msg("Failed to schedule chain expiry")
	}

	return c, nil
}

// Get returns one chain.
func (s *Service) Get(ctx context.Context, id string) (*ReviewChain, error) {
	return s.store.Get(ctx, id)
}

// List returns chains matching filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*ReviewChain, error) {
	return s.store.List(ctx, filter)
}

// Activate moves a pending chain to active. Calling it on a chain in any
// other state is a no-op.
func (s *Service) Activate(ctx context.Context, id string) (*ReviewChain, error) {
	c, _, err := s.activate(ctx, id)
	return c, err
}

func (s *Service) activate(ctx context.Context, id string) (*ReviewChain, bool, error) {
	now := s.now().UTC()
	var activated bool
	c, err := s.store.Update(ctx, id, func(c *ReviewChain) (bool, error) {
		activated = c.activate(now)
		return activated, nil
	})
	if err != nil {
		return nil, false, err
	}
	if activated {
		log.Info().Str("chain_id", id).Msg("Activated review chain")
	}
	return c, activated, nil
}

// RecordReviewCompleted marks reviewerID's obligation as done and completes
// the chain when it was the last one outstanding.
func (s *Service) RecordReviewCompleted(ctx context.Context, id, reviewerID string) (*ReviewChain, error) {
	now := s.now().UTC()
	c, err := s.store.Update(ctx, id, func(c *ReviewChain) (bool, error) {
		if err := c.recordCompletion(reviewerID, now); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	ev := log.Info().
		Str("chain_id", id).
		Str("reviewer_id", reviewerID).
		Int("completed_count", c.CompletedCount).
		Int("total_count", c.TotalCount)
	if c.Status() == StatusCompleted {
		ev.Msg("Review chain completed")
	} else {
		ev.Msg("Recorded review completion")
	}
	return c, nil
}

// ExpireChain is the per-chain expiry check. It only acts on an active chain
// whose expire time has passed.
func (s *Service) ExpireChain(ctx context.Context, id string, now time.Time) (*ReviewChain, bool, error) {
	var expired bool
	c, err := s.store.Update(ctx, id, func(c *ReviewChain) (bool, error) {
		expired = c.expire(now)
		return expired, nil
	})
	if err != nil {
		return nil, false, err
	}
	if expired {
		log.Info().
			Str("chain_id", id).
			Int("completed_count", c.CompletedCount).
			Int("total_count", c.TotalCount).
			Msg("Review chain expired")
	}
	return c, expired, nil
}

// ExpireOverdueChains expires every active chain with ExpireTime <= now and
// returns the chains it changed.
func (s *Service) ExpireOverdueChains(ctx context.Context, now time.Time) ([]*ReviewChain, error) {
	due, err := s.store.List(ctx, ListFilter{Status: StatusActive, DueBefore: now})
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue chains: %w", err)
	}

	expired := make([]*ReviewChain, 0, len(due))
	for _, candidate := range due {
		c, changed, err := s.ExpireChain(ctx, candidate.ID, now)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return expired, err
		}
		if changed {
			expired = append(expired, c)
		}
	}
	return expired, nil
}

// ActivateDueChains activates pending chains whose trigger time has passed.
// It backs up the per-chain activation job.
func (s *Service) ActivateDueChains(ctx context.Context, now time.Time) ([]*ReviewChain, error) {
	due, err := s.store.List(ctx, ListFilter{Status: StatusPending, DueBefore: now})
	if err != nil {
		return nil, fmt.Errorf("failed to list due chains: %w", err)
	}

	activated := make([]*ReviewChain, 0, len(due))
	for _, candidate := range due {
		c, changed, err := s.activate(ctx, candidate.ID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return activated, err
		}
		if changed {
			activated = append(activated, c)
		}
	}
	return activated, nil
}

// HandleJob runs the transition a scheduled job stands for.
func (s *Service) HandleJob(ctx context.Context, job Job, now time.Time) error {
	switch job.Kind {
	case JobActivate:
		_, err := s.Activate(ctx, job.ChainID)
		return err
	case JobExpire:
		_, _, err := s.ExpireChain(ctx, job.ChainID, now)
		return err
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

package chain

import (
	"fmt"
	"time"
)

// The transition methods below mutate a chain loaded inside Store.Update.
// Each returns whether the chain changed so callers can skip the write.

func (c *ReviewChain) activate(now time.Time) bool {
	switch c.State.(type) {
	case nil, Pending:
		c.State = Active{Since: now}
		c.UpdatedAt = now
		return true
	case Active, Completed, Expired:
		return false
	default:
		panic(fmt.Sprintf("chain %s: unknown state %T", c.ID, c.State))
	}
}

func (c *ReviewChain) recordCompletion(reviewerID string, now time.Time) error {
	switch c.State.(type) {
	case Active:
	case nil, Pending, Completed, Expired:
		return fmt.Errorf("chain %s is %s: %w", c.ID, c.Status(), ErrNotActive)
	default:
		panic(fmt.Sprintf("chain %s: unknown state %T", c.ID, c.State))
	}

	reviewee, ok := c.revieweeOf(reviewerID)
	if !ok {
		return fmt.Errorf("reviewer %s on chain %s: %w", reviewerID, c.ID, ErrNotParticipant)
	}
	if c.hasCompleted(reviewerID) {
		return fmt.Errorf("reviewer %s on chain %s: %w", reviewerID, c.ID, ErrDuplicateReview)
	}

	c.Completions = append(c.Completions, Completion{
		ReviewerID:  reviewerID,
		RevieweeID:  reviewee,
		CompletedAt: now,
	})
	c.CompletedCount++
	if c.CompletedCount >= c.TotalCount {
		c.State = Completed{At: now}
	}
	c.UpdatedAt = now
	return nil
}

func (c *ReviewChain) expire(now time.Time) bool {
	switch c.State.(type) {
	case Active:
		if now.Before(c.ExpireTime) {
			return false
		}
		c.State = Expired{At: now}
		c.UpdatedAt = now
		return true
	case nil, Pending, Completed, Expired:
		return false
	default:
		panic(fmt.Sprintf("chain %s: unknown state %T", c.ID, c.State))
	}
}

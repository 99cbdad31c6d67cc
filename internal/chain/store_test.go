package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStoreIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	c := newChain(Pending{}, "a", "b")
	require.NoError(t, s.Create(ctx, c))
	assert.Error(t, s.Create(ctx, c), "ids are unique")

	c.UserSequence[0] = "mutated"
	got, err := s.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got.UserSequence)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Update(ctx, "missing", func(*ReviewChain) (bool, error) { return true, nil })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryStoreUpdateAbortsOnError(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	require.NoError(t, s.Create(ctx, newChain(Active{Since: t0}, "a", "b")))

	_, err := s.Update(ctx, "chain-1", func(c *ReviewChain) (bool, error) {
		c.CompletedCount = 99
		return false, ErrNotActive
	})
	require.ErrorIs(t, err, ErrNotActive)

	got, err := s.Get(ctx, "chain-1")
	require.NoError(t, err)
	assert.Zero(t, got.CompletedCount)
}

func TestInMemoryStoreList(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	add := func(id, activity string, state State, trigger time.Time) {
		c := newChain(state, "a", "b")
		c.ID = id
		c.ActivityID = activity
		c.TriggerTime = trigger
		c.ExpireTime = trigger.Add(48 * time.Hour)
		c.CreatedAt = trigger
		require.NoError(t, s.Create(ctx, c))
	}
	add("p-due", "climb-1", Pending{}, t0)
	add("p-later", "climb-1", Pending{}, t0.Add(time.Hour))
	add("a-overdue", "climb-2", Active{Since: t0}, t0.Add(-72*time.Hour))
	add("a-running", "climb-2", Active{Since: t0}, t0)
	add("done", "climb-3", Completed{At: t0}, t0.Add(-96*time.Hour))

	ids := func(cs []*ReviewChain) []string {
		out := make([]string, 0, len(cs))
		for _, c := range cs {
			out = append(out, c.ID)
		}
		return out
	}

	all, err := s.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"done", "a-overdue", "a-running", "p-due", "p-later"}, ids(all))

	byActivity, err := s.List(ctx, ListFilter{ActivityID: "climb-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"p-due", "p-later"}, ids(byActivity))

	due, err := s.List(ctx, ListFilter{DueBefore: t0})
	require.NoError(t, err)
	assert.Equal(t, []string{"a-overdue", "p-due"}, ids(due))

	overdue, err := s.List(ctx, ListFilter{Status: StatusActive, DueBefore: t0})
	require.NoError(t, err)
	assert.Equal(t, []string{"a-overdue"}, ids(overdue))

	limited, err := s.List(ctx, ListFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestConcurrentCompletions(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	svc := NewService(store, nopScheduler{}, DefaultConfig(), WithClock(func() time.Time { return t0 }))

	ids := make([]string, 40)
	for i := range ids {
		ids[i] = fmt.Sprintf("climber-%02d", i)
	}
	c, err := svc.CreateChain(ctx, CreateInput{ActivityID: "climb-1", ParticipantIDs: ids, EndedAt: t0})
	require.NoError(t, err)
	_, err = svc.Activate(ctx, c.ID)
	require.NoError(t, err)

	// Every reviewer submits twice at the same time. Exactly one of each
	// pair may succeed.
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		ok, dupes  int
		unexpected []error
	)
	for _, id := range ids {
		for range 2 {
			wg.Add(1)
			go func(reviewer string) {
				defer wg.Done()
				_, err := svc.RecordReviewCompleted(ctx, c.ID, reviewer)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					ok++
				case isDuplicateOrDone(err):
					dupes++
				default:
					unexpected = append(unexpected, err)
				}
			}(id)
		}
	}
	wg.Wait()

	require.Empty(t, unexpected)
	assert.Equal(t, len(ids), ok)
	assert.Equal(t, len(ids), dupes)

	got, err := svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, len(ids), got.CompletedCount)
	assert.Len(t, got.Completions, len(ids))
	assert.Equal(t, StatusCompleted, got.Status())
}

// Once the last obligation lands the chain is completed, so a late duplicate
// sees NotActive instead of DuplicateReview.
func isDuplicateOrDone(err error) bool {
	return errors.Is(err, ErrDuplicateReview) || errors.Is(err, ErrNotActive)
}

type nopScheduler struct{}

func (nopScheduler) ScheduleAt(context.Context, time.Time, Job) error { return nil }

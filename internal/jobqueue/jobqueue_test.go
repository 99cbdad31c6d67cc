package jobqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewchain/internal/chain"
	"github.com/reviewchain/internal/retry"
)

type fakeService struct {
	jobs      []chain.Job
	err       error
	activated []*chain.ReviewChain
	expired   []*chain.ReviewChain
	sweepErr  error
}

func (f *fakeService) HandleJob(ctx context.Context, job chain.Job, now time.Time) error {
	f.jobs = append(f.jobs, job)
	return f.err
}

func (f *fakeService) ActivateDueChains(ctx context.Context, now time.Time) ([]*chain.ReviewChain, error) {
	return f.activated, f.sweepErr
}

func (f *fakeService) ExpireOverdueChains(ctx context.Context, now time.Time) ([]*chain.ReviewChain, error) {
	return f.expired, nil
}

var fixedNow = time.Date(2026, 5, 2, 12, 0, 0, 0, time.UTC)

func newDispatcher(svc ChainService) *dispatcher {
	return &dispatcher{service: svc, now: func() time.Time { return fixedNow }}
}

func TestWorkersDispatchToService(t *testing.T) {
	svc := &fakeService{}
	d := newDispatcher(svc)
	ctx := context.Background()

	activate := &ActivateChainWorker{d: d}
	require.NoError(t, activate.Work(ctx, &river.Job[ActivateChainArgs]{
		JobRow: &rivertype.JobRow{Attempt: 1},
		Args:   ActivateChainArgs{ChainID: "c1"},
	}))
	expire := &ExpireChainWorker{d: d}
	require.NoError(t, expire.Work(ctx, &river.Job[ExpireChainArgs]{
		JobRow: &rivertype.JobRow{Attempt: 1},
		Args:   ExpireChainArgs{ChainID: "c1"},
	}))

	assert.Equal(t, []chain.Job{
		{Kind: chain.JobActivate, ChainID: "c1"},
		{Kind: chain.JobExpire, ChainID: "c1"},
	}, svc.jobs)
}

func TestExpireWorkerWithLaggingClock(t *testing.T) {
	ctx := context.Background()
	endedAt := fixedNow.Add(-2 * time.Hour)
	hostNow := endedAt
	svc := chain.NewService(chain.NewInMemoryStore(), NewMemoryScheduler(3, retry.JobRetryConfig()), chain.DefaultConfig(),
		chain.WithClock(func() time.Time { return hostNow }))

	c, err := svc.CreateChain(ctx, chain.CreateInput{ActivityID: "climb-7", ParticipantIDs: []string{"a", "b"}, EndedAt: endedAt})
	require.NoError(t, err)
	hostNow = c.TriggerTime
	_, err = svc.Activate(ctx, c.ID)
	require.NoError(t, err)

	// The database promoted the job at ExpireTime; this host is 5ms behind.
	w := &ExpireChainWorker{d: &dispatcher{service: svc, now: func() time.Time { return c.ExpireTime.Add(-5 * time.Millisecond) }}}
	require.NoError(t, w.Work(ctx, &river.Job[ExpireChainArgs]{
		JobRow: &rivertype.JobRow{Attempt: 1, ScheduledAt: c.ExpireTime},
		Args:   ExpireChainArgs{ChainID: c.ID},
	}))

	got, err := svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, chain.Expired{At: c.ExpireTime}, got.State)
}

func TestDispatcherClock(t *testing.T) {
	d := newDispatcher(&fakeService{})
	assert.Equal(t, fixedNow, d.clock(&rivertype.JobRow{ScheduledAt: fixedNow.Add(-time.Minute)}))
	assert.Equal(t, fixedNow.Add(time.Second), d.clock(&rivertype.JobRow{ScheduledAt: fixedNow.Add(time.Second)}))
	assert.Equal(t, fixedNow, d.clock(nil))
}

func TestWorkerCancelsUnknownChain(t *testing.T) {
	svc := &fakeService{err: chain.ErrNotFound}
	w := &ActivateChainWorker{d: newDispatcher(svc)}

	err := w.Work(context.Background(), &river.Job[ActivateChainArgs]{
		JobRow: &rivertype.JobRow{Attempt: 1},
		Args:   ActivateChainArgs{ChainID: "gone"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, chain.ErrNotFound)
}

func TestWorkerReturnsTransientErrors(t *testing.T) {
	boom := errors.New("connection reset")
	w := &ExpireChainWorker{d: newDispatcher(&fakeService{err: boom})}

	err := w.Work(context.Background(), &river.Job[ExpireChainArgs]{
		JobRow: &rivertype.JobRow{Attempt: 2},
		Args:   ExpireChainArgs{ChainID: "c1"},
	})
	assert.ErrorIs(t, err, boom)
}

func TestWorkerWithoutService(t *testing.T) {
	w := &SweepWorker{d: &dispatcher{now: time.Now}}
	assert.Error(t, w.Work(context.Background(), &river.Job[SweepArgs]{JobRow: &rivertype.JobRow{}}))
}

func TestSweep(t *testing.T) {
	svc := &fakeService{
		activated: []*chain.ReviewChain{{ID: "a"}},
		expired:   []*chain.ReviewChain{{ID: "b"}, {ID: "c"}},
	}
	require.NoError(t, Sweep(context.Background(), svc, fixedNow))

	svc.sweepErr = errors.New("db down")
	assert.ErrorIs(t, Sweep(context.Background(), svc, fixedNow), svc.sweepErr)
}

func TestJobArgs(t *testing.T) {
	args, err := jobArgs(chain.Job{Kind: chain.JobExpire, ChainID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, ExpireChainArgs{ChainID: "c1"}, args)
	assert.Equal(t, "review_chain_expire", args.Kind())

	_, err = jobArgs(chain.Job{Kind: "nope"})
	assert.Error(t, err)
}

func TestErrorHandlerNeverOverrides(t *testing.T) {
	h := errorHandler{}
	job := &rivertype.JobRow{ID: 1, Kind: "review_chain_expire", Attempt: 10, MaxAttempts: 10}
	assert.Nil(t, h.HandleError(context.Background(), job, errors.New("boom")))
	assert.Nil(t, h.HandlePanic(context.Background(), job, "oops", "trace"))
}

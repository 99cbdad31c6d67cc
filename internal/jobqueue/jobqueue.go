/*
Package jobqueue provides a River-based job queue that fires the time-based
transitions of review chains: activation at the trigger time, expiry at the
expire time, and a periodic sweep that repairs anything a lost job missed.

For configuration options, retry policies, and tuning parameters, see queue_config.go.
*/
package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/riverqueue/river/rivertype"
	"github.com/rs/zerolog/log"

	"github.com/reviewchain/internal/chain"
	"github.com/reviewchain/internal/logging"
)

// ChainService is the part of chain.Service the workers drive.
type ChainService interface {
	HandleJob(ctx context.Context, job chain.Job, now time.Time) error
	ActivateDueChains(ctx context.Context, now time.Time) ([]*chain.ReviewChain, error)
	ExpireOverdueChains(ctx context.Context, now time.Time) ([]*chain.ReviewChain, error)
}

// ActivateChainArgs represents the arguments for a chain activation job
type ActivateChainArgs struct {
	ChainID string `json:"chain_id"`
}

// Kind returns the job kind for River
func (ActivateChainArgs) Kind() string {
	return string(chain.JobActivate)
}

// ExpireChainArgs represents the arguments for a chain expiry job
type ExpireChainArgs struct {
	ChainID string `json:"chain_id"`
}

func (ExpireChainArgs) Kind() string {
	return string(chain.JobExpire)
}

// SweepArgs is the periodic job that activates due chains and expires
// overdue ones.
type SweepArgs struct{}

func (SweepArgs) Kind() string {
	return "review_chain_sweep"
}

// dispatcher lets the workers be registered before the service exists. The
// service needs the queue as its scheduler, the queue needs the workers.
type dispatcher struct {
	service ChainService
	now     func() time.Time
}

// clock returns the time a job runs at. River promotes jobs by the database
// clock, so a worker host running slightly behind must not see a due job as
// early.
func (d *dispatcher) clock(row *rivertype.JobRow) time.Time {
	now := d.now().UTC()
	if row != nil && row.ScheduledAt.After(now) {
		return row.ScheduledAt.UTC()
	}
	return now
}

func (d *dispatcher) run(ctx context.Context, job chain.Job, row *rivertype.JobRow) error {
	if d.service == nil {
		return errors.New("job queue has no chain service bound")
	}

	err := d.service.HandleJob(ctx, job, d.clock(row))
	if err == nil {
		return nil
	}
	if errors.Is(err, chain.ErrNotFound) {
		// Nothing to transition. Retrying cannot help.
		log.Warn().
			Str("chain_id", job.ChainID).
			Str("job_kind", string(job.Kind)).
			Msg("Cancelling job for unknown review chain")
		return river.JobCancel(err)
	}

	log.Warn().Err(err).
		Str("chain_id", job.ChainID).
		Str("job_kind", string(job.Kind)).
		Int("attempt", row.Attempt).
		Msg("Review chain job failed")
	return fmt.Errorf("failed to run %s for chain %s: %w", job.Kind, job.ChainID, err)
}

// ActivateChainWorker handles chain activation jobs
type ActivateChainWorker struct {
	river.WorkerDefaults[ActivateChainArgs]
	d *dispatcher
}

// Work activates the chain. Activating a chain twice is a no-op.
func (w *ActivateChainWorker) Work(ctx context.Context, job *river.Job[ActivateChainArgs]) error {
	return w.d.run(ctx, chain.Job{Kind: chain.JobActivate, ChainID: job.Args.ChainID}, job.JobRow)
}

// ExpireChainWorker handles chain expiry jobs
type ExpireChainWorker struct {
	river.WorkerDefaults[ExpireChainArgs]
	d *dispatcher
}

// Work expires the chain if it is still active.
func (w *ExpireChainWorker) Work(ctx context.Context, job *river.Job[ExpireChainArgs]) error {
	return w.d.run(ctx, chain.Job{Kind: chain.JobExpire, ChainID: job.Args.ChainID}, job.JobRow)
}

// SweepWorker handles the periodic sweep
type SweepWorker struct {
	river.WorkerDefaults[SweepArgs]
	d *dispatcher
}

func (w *SweepWorker) Work(ctx context.Context, job *river.Job[SweepArgs]) error {
	if w.d.service == nil {
		return errors.New("job queue has no chain service bound")
	}
	return Sweep(ctx, w.d.service, w.d.now().UTC())
}

// Sweep activates every due pending chain and then expires every overdue
// active chain.
func Sweep(ctx context.Context, service ChainService, now time.Time) error {
	activated, err := service.ActivateDueChains(ctx, now)
	if err != nil {
		return fmt.Errorf("sweep activation failed: %w", err)
	}
	expired, err := service.ExpireOverdueChains(ctx, now)
	if err != nil {
		return fmt.Errorf("sweep expiry failed: %w", err)
	}

	if len(activated) > 0 || len(expired) > 0 {
		log.Info().
			Int("activated", len(activated)).
			Int("expired", len(expired)).
			Msg("Review chain sweep repaired chains")
	} else {
		log.Debug().Msg("Review chain sweep found nothing to do")
	}
	return nil
}

// errorHandler logs failed attempts. The last attempt is the dead letter
// record: River discards the job afterwards.
type errorHandler struct{}

func (errorHandler) HandleError(ctx context.Context, job *rivertype.JobRow, err error) *river.ErrorHandlerResult {
	ev := log.Warn()
	if job.Attempt >= job.MaxAttempts {
		ev = log.Error().Bool("dead_letter", true)
	}
	ev.Err(err).
		Int64("job_id", job.ID).
		Str("job_kind", job.Kind).
		Int("attempt", job.Attempt).
		Int("max_attempts", job.MaxAttempts).
		Msg("Job attempt failed")
	return nil
}

func (errorHandler) HandlePanic(ctx context.Context, job *rivertype.JobRow, panicVal any, trace string) *river.ErrorHandlerResult {
	log.Error().
		Int64("job_id", job.ID).
		Str("job_kind", job.Kind).
		Int("attempt", job.Attempt).
		Interface("panic", panicVal).
		Str("trace", trace).
		Msg("Job panicked")
	return nil
}

// JobQueue manages the River job queue
type JobQueue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	config *QueueConfig
	d      *dispatcher
}

// NewJobQueue creates a new job queue instance on an existing pool. Bind a
// ChainService before calling Start.
func NewJobQueue(pool *pgxpool.Pool, config *QueueConfig) (*JobQueue, error) {
	if config == nil {
		config = DefaultQueueConfig()
	}
	d := &dispatcher{now: time.Now}

	workers := river.NewWorkers()
	river.AddWorker(workers, &ActivateChainWorker{d: d})
	river.AddWorker(workers, &ExpireChainWorker{d: d})
	river.AddWorker(workers, &SweepWorker{d: d})

	periodic := []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(config.SweepInterval),
			func() (river.JobArgs, *river.InsertOpts) {
				return SweepArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:       config.RiverQueueConfig(),
		Workers:      workers,
		PeriodicJobs: periodic,
		MaxAttempts:  config.MaxAttempts,
		JobTimeout:   config.JobTimeout,
		RetryPolicy:  NewBackoffRetryPolicy(config.Retry),
		ErrorHandler: errorHandler{},
		Logger:       logging.SlogLogger(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{
		client: client,
		pool:   pool,
		config: config,
		d:      d,
	}, nil
}

// Bind sets the service the workers call.
func (jq *JobQueue) Bind(service ChainService) {
	jq.d.service = service
}

// Start starts the job queue workers
func (jq *JobQueue) Start(ctx context.Context) error {
	if jq.d.service == nil {
		return errors.New("job queue started without a chain service")
	}
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers
func (jq *JobQueue) Stop(ctx context.Context) error {
	return jq.client.Stop(ctx)
}

// ScheduleAt queues a chain job to run no earlier than at. Jobs are unique by
// kind and chain id, so rescheduling the same transition is a no-op.
func (jq *JobQueue) ScheduleAt(ctx context.Context, at time.Time, job chain.Job) error {
	args, err := jobArgs(job)
	if err != nil {
		return err
	}

	res, err := jq.client.Insert(ctx, args, &river.InsertOpts{
		ScheduledAt: at,
		MaxAttempts: jq.config.MaxAttempts,
		UniqueOpts:  river.UniqueOpts{ByArgs: true},
	})
	if err != nil {
		return fmt.Errorf("failed to queue %s job: %w", job.Kind, err)
	}

	if res.UniqueSkippedAsDuplicate {
		log.Debug().Str("chain_id", job.ChainID).Str("job_kind", string(job.Kind)).Msg("Job already queued")
		return nil
	}
	log.Debug().
		Int64("job_id", res.Job.ID).
		Str("chain_id", job.ChainID).
		Str("job_kind", string(job.Kind)).
		Time("scheduled_at", at).
		Msg("Queued review chain job")
	return nil
}

func jobArgs(job chain.Job) (river.JobArgs, error) {
	switch job.Kind {
	case chain.JobActivate:
		return ActivateChainArgs{ChainID: job.ChainID}, nil
	case chain.JobExpire:
		return ExpireChainArgs{ChainID: job.ChainID}, nil
	default:
		return nil, fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

// Migrate brings River's own tables up to date.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("failed to create River migrator: %w", err)
	}

	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("failed to migrate River schema: %w", err)
	}
	for _, v := range res.Versions {
		log.Info().Int("version", v.Version).Msg("Applied River migration")
	}
	return nil
}

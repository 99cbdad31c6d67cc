package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/reviewchain/internal/chain"
	"github.com/reviewchain/internal/config"
	"github.com/reviewchain/internal/database"
	"github.com/reviewchain/internal/jobqueue"
	"github.com/reviewchain/internal/logging"
)

// runtime is everything serve and worker share.
type runtime struct {
	cfg     *config.Config
	pool    *pgxpool.Pool
	queue   *jobqueue.JobQueue
	service *chain.Service
}

// loadConfig reads and validates the configuration named by the global
// --config flag and sets up logging from it.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Pretty); err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	return cfg, nil
}

func chainConfig(cfg *config.Config) chain.Config {
	return chain.Config{
		TriggerOffset: cfg.Chains.TriggerOffset,
		ExpiryWindow:  cfg.Chains.ExpiryWindow,
	}
}

func newRuntime(ctx context.Context, c *cli.Context) (*runtime, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	chainCfg := chainConfig(cfg)
	if err := chainCfg.Validate(); err != nil {
		return nil, err
	}

	dbURL, err := database.LoadDatabaseURL(cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	pool, err := database.NewPool(ctx, dbURL)
	if err != nil {
		return nil, err
	}

	queue, err := jobqueue.NewJobQueue(pool, jobqueue.QueueConfigFrom(cfg))
	if err != nil {
		pool.Close()
		return nil, err
	}
	service := chain.NewService(chain.NewPostgresStore(pool), queue, chainCfg)
	queue.Bind(service)

	log.Info().
		Dur("trigger_offset", chainCfg.TriggerOffset).
		Dur("expiry_window", chainCfg.ExpiryWindow).
		Msg("Review chain runtime ready")

	return &runtime{cfg: cfg, pool: pool, queue: queue, service: service}, nil
}

// stopQueue stops the workers, giving running jobs the shutdown timeout to
// finish.
func (r *runtime) stopQueue() {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := r.queue.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to stop job queue cleanly")
	}
}

func (r *runtime) close() {
	r.pool.Close()
}

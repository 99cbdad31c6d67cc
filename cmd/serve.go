package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/reviewchain/internal/api"
)

// ServeCommand returns the CLI command for starting the API server together
// with the job workers
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the API server and the review chain workers",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (overrides server.port)",
			},
			&cli.BoolFlag{
				Name:  "no-workers",
				Usage: "Only serve HTTP; run `reviewchain worker` elsewhere",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, c)
	if err != nil {
		return err
	}
	defer rt.close()

	if !c.Bool("no-workers") {
		if err := rt.queue.Start(ctx); err != nil {
			return err
		}
		defer rt.stopQueue()
	}

	port := rt.cfg.Server.Port
	if c.IsSet("port") {
		port = c.Int("port")
	}

	server, err := api.NewServer(rt.service, api.Options{
		Port:            port,
		ShutdownTimeout: rt.cfg.Server.ShutdownTimeout,
		JWTSecret:       rt.cfg.Auth.JWTSecret,
		RateLimit:       rt.cfg.RateLimit.RPS,
		Burst:           rt.cfg.RateLimit.Burst,
	})
	if err != nil {
		return err
	}
	if rt.cfg.Auth.JWTSecret == "" {
		log.Warn().Msg("auth.jwt_secret is empty; reviewers are identified by the request body")
	}
	return server.Start(ctx)
}

// WorkerCommand runs the job workers without the HTTP API
func WorkerCommand() *cli.Command {
	return &cli.Command{
		Name:   "worker",
		Usage:  "Run the review chain workers only",
		Action: runWorker,
	}
}

func runWorker(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, c)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.queue.Start(ctx); err != nil {
		return err
	}
	log.Info().Int("max_workers", rt.cfg.Queue.MaxWorkers).Msg("Workers running")

	<-ctx.Done()
	log.Info().Msg("Stopping workers")
	rt.stopQueue()
	return nil
}

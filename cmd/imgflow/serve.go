package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kbukum/imgflow/app"
	"github.com/kbukum/imgflow/bootstrap"
	"github.com/kbukum/imgflow/observability"
	"github.com/kbukum/imgflow/server"
	"github.com/kbukum/imgflow/worker"
)

var serveWorkers bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the submission and output-listing API.

On the in-memory bus every stage worker runs in the same process. On Kafka
the workers run separately ("imgflow worker") unless --workers is given.

Endpoints:
  POST /api/v1/runs             submit an image (multipart: file, stages, mode, callback)
  GET  /api/v1/outputs/:folder  list the artifacts of a run
  GET  /api/v1/stages           list the registered stages
  GET  /health, /ready, /metrics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, p, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		cfg := a.Cfg

		shutdown, err := observability.Init(cmd.Context(), cfg.Observability, observability.Build{
			Service:     cfg.Name,
			Version:     cfg.Version,
			Environment: cfg.Environment,
		})
		if err != nil {
			return fmt.Errorf("observability: %w", err)
		}
		a.OnStop(func(ctx context.Context) error { return shutdown(ctx) })

		if cfg.Bus.Driver == app.BusMemory || serveWorkers {
			runners, err := p.Runners()
			if err != nil {
				return err
			}
			if err := registerRunners(a, runners); err != nil {
				return err
			}
		}

		srv, err := p.Server(a.Components.HealthAll)
		if err != nil {
			return err
		}
		if err := a.RegisterComponent(server.NewComponent(srv)); err != nil {
			return err
		}
		return a.Run(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveWorkers, "workers", false, "also run every stage worker on the Kafka bus")
}

func registerRunners(a *bootstrap.App[*app.Config], runners []*worker.Runner) error {
	for _, r := range runners {
		if err := a.RegisterComponent(r); err != nil {
			return err
		}
	}
	return nil
}

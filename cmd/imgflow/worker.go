package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kbukum/imgflow/app"
	"github.com/kbukum/imgflow/observability"
)

var (
	workerStages []string
	workerAll    bool
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run stage workers against the Kafka bus",
	Long: `Consume one or more stage topics and run their hops.

Each stage consumes in its own group (<kafka.group_id>-<stage>), so replicas
of the same stage share its topic.

Examples:
  imgflow worker --stage grayscale
  imgflow worker --stage flip --stage sharpen
  imgflow worker --all`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !workerAll && len(workerStages) == 0 {
			return fmt.Errorf("pass --stage at least once, or --all")
		}
		a, p, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		cfg := a.Cfg
		if cfg.Bus.Driver != app.BusKafka {
			return fmt.Errorf("worker needs bus.driver %q; on the %q bus run everything with serve", app.BusKafka, cfg.Bus.Driver)
		}

		shutdown, err := observability.Init(cmd.Context(), cfg.Observability, observability.Build{
			Service:     cfg.Name,
			Version:     cfg.Version,
			Environment: cfg.Environment,
		})
		if err != nil {
			return fmt.Errorf("observability: %w", err)
		}
		a.OnStop(func(ctx context.Context) error { return shutdown(ctx) })

		var kinds []string
		if !workerAll {
			kinds = workerStages
		}
		runners, err := p.Runners(kinds...)
		if err != nil {
			return err
		}
		if err := registerRunners(a, runners); err != nil {
			return err
		}
		return a.Run(cmd.Context())
	},
}

func init() {
	workerCmd.Flags().StringSliceVar(&workerStages, "stage", nil, "stage kind to consume (repeatable)")
	workerCmd.Flags().BoolVar(&workerAll, "all", false, "consume every registered stage")
}

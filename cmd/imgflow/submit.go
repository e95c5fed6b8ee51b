package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/kbukum/imgflow/app"
	"github.com/kbukum/imgflow/completion"
	"github.com/kbukum/imgflow/ingress"
	"github.com/kbukum/imgflow/router"
)

var (
	submitStages   []string
	submitMode     string
	submitCallback string
	submitFolder   string
	submitWait     time.Duration
)

var submitCmd = &cobra.Command{
	Use:   "submit FILE",
	Short: "Submit an image and optionally wait for its outputs",
	Long: `Store FILE in the working store and publish the first messages of a run.

On the in-memory bus the stage workers run inside this command, so --wait
must be long enough for the run to finish.

Examples:
  imgflow submit cat.jpg --stage grayscale
  imgflow submit dog.jpg --stage grayscale,flip --mode chain
  imgflow submit dog.jpg --stage sharpen --wait 0`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		a, p, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		if a.Cfg.Bus.Driver == app.BusMemory {
			runners, err := p.Runners()
			if err != nil {
				return err
			}
			if err := registerRunners(a, runners); err != nil {
				return err
			}
		}

		return a.RunTask(cmd.Context(), func(ctx context.Context) error {
			handle, err := p.Ingress.Submit(ctx, ingress.Submission{
				Filename:     filepath.Base(args[0]),
				Image:        data,
				Stages:       submitStages,
				Mode:         ingress.Mode(submitMode),
				Callback:     submitCallback,
				OutputFolder: submitFolder,
			})
			if handle != nil {
				if perr := printJSON(cmd.OutOrStdout(), handle); perr != nil {
					return perr
				}
			}
			if err != nil {
				return err
			}
			if submitWait <= 0 {
				return nil
			}
			locs, err := waitForOutputs(ctx, p.Outputs, handle, submitWait)
			if perr := printJSON(cmd.OutOrStdout(), locs); perr != nil {
				return perr
			}
			return err
		})
	},
}

func init() {
	submitCmd.Flags().StringSliceVar(&submitStages, "stage", nil, "stage kind to apply (repeatable or comma-separated)")
	submitCmd.Flags().StringVar(&submitMode, "mode", "", "single or chain (default: pipeline.default_mode)")
	submitCmd.Flags().StringVar(&submitCallback, "callback", "", "URL to notify when a terminal output is written")
	submitCmd.Flags().StringVar(&submitFolder, "output-folder", "", "override the derived output folder")
	submitCmd.Flags().DurationVar(&submitWait, "wait", 30*time.Second, "how long to wait for outputs (0 to return immediately)")
	_ = submitCmd.MarkFlagRequired("stage")
}

// waitForOutputs polls the run's folder until every published branch has
// written its terminal output or timeout passes. A stalled run never
// completes, so the timeout is the only way out.
func waitForOutputs(ctx context.Context, outputs *completion.Reader, h *ingress.RunHandle, timeout time.Duration) ([]completion.Location, error) {
	want := 0
	for _, d := range h.Dispatched {
		if d.Outcome == router.Published {
			want++
		}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		locs, err := outputs.ListOutputs(ctx, h.OutputFolder)
		if err != nil {
			return nil, err
		}
		if len(locs) >= want {
			return locs, nil
		}
		select {
		case <-ctx.Done():
			return locs, fmt.Errorf("%d of %d outputs after %s: %w", len(locs), want, timeout, ctx.Err())
		case <-tick.C:
		}
	}
}

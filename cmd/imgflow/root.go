package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kbukum/imgflow/app"
	"github.com/kbukum/imgflow/bootstrap"
	"github.com/kbukum/imgflow/config"
	"github.com/kbukum/imgflow/version"
)

var (
	cfgFile string
	envFile string
)

var rootCmd = &cobra.Command{
	Use:   "imgflow",
	Short: "Image augmentation pipeline over a message bus",
	Long: `imgflow applies chains of image augmentations (grayscale, blur,
sharpen, brightness, color temperature, flip) by passing small JSON messages
between stage workers over a bus. Images travel through blob storage.

A single process can run everything on the in-memory bus:

  imgflow serve

or split ingress and workers over Kafka:

  imgflow serve                       # bus.driver: kafka, API only
  imgflow worker --stage grayscale    # one process per stage`,
	Version:       version.Get().Short(),
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: search for config.yml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", ".env file (default: search for .env)")

	rootCmd.AddCommand(serveCmd, workerCmd, submitCmd, outputsCmd, versionCmd)
}

// loadConfig reads config.yml, .env and the environment into an app.Config.
func loadConfig() (*app.Config, error) {
	cfg := &app.Config{}
	var opts []config.Option
	if cfgFile != "" {
		opts = append(opts, config.WithConfigFile(cfgFile))
	}
	if envFile != "" {
		opts = append(opts, config.WithEnvFile(envFile))
	}
	if err := config.Load(app.ServiceName, cfg, opts...); err != nil {
		return nil, err
	}
	if cfg.Version == "" {
		cfg.Version = version.Get().Short()
	}
	return cfg, nil
}

// newApp loads the configuration and builds the pipeline inside a bootstrap
// App with its infrastructure components registered.
func newApp(ctx context.Context) (*bootstrap.App[*app.Config], *app.Pipeline, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	a, err := bootstrap.NewApp(cfg)
	if err != nil {
		return nil, nil, err
	}
	p, err := app.Build(ctx, cfg, a.Logger)
	if err != nil {
		return nil, nil, err
	}
	for _, c := range p.Components() {
		if err := a.RegisterComponent(c); err != nil {
			return nil, nil, err
		}
	}
	a.OnStop(p.Close)
	return a, p, nil
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

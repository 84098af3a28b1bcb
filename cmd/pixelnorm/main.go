// Command pixelnorm normalizes images from the command line.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dunamismax/pixelnorm/internal/config"
	"github.com/dunamismax/pixelnorm/internal/logging"
	"github.com/dunamismax/pixelnorm/internal/pipeline"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type app struct {
	cfg    config.Config
	logger zerolog.Logger
	stages *pipeline.Stages

	logLevel    string
	kernel      string
	vectorScale float64
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "pixelnorm",
		Short:         "Normalize images to a bounded size",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			pipeline.Shutdown()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	flags.StringVar(&a.kernel, "kernel", "", "resampling kernel (nearest, bilinear, catmullrom, lanczos3)")
	flags.Float64Var(&a.vectorScale, "vector-scale", 0, "rasterize SVG input at this multiple of its natural size")

	root.AddCommand(
		newNormalizeCommand(a),
		newSniffCommand(),
		newWatchCommand(a),
	)
	return root
}

// init loads the service config for defaults; flags override it.
func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.Log.Level = a.logLevel
	if cfg.Log.Format == "" || cfg.Log.Format == "json" {
		cfg.Log.Format = "console"
	}
	if cmd.Flags().Changed("kernel") {
		cfg.Normalize.Kernel = a.kernel
	}
	if cmd.Flags().Changed("vector-scale") {
		cfg.Normalize.VectorScale = a.vectorScale
	}
	a.cfg = cfg
	a.logger = logging.New(cfg.Log, "pixelnorm")

	if cmd.Name() == "sniff" {
		return nil
	}
	if err := pipeline.Startup(); err != nil {
		return err
	}
	a.stages, err = pipeline.NewStages(pipeline.DefaultCodec(), cfg.Normalize.Pipeline(), a.logger)
	return err
}

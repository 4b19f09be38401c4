// Package main implements the observer command, which polls the
// coordinator for progress and prints each status report.
//
// The observer stays silent until the coordinator sends start, then asks
// for status every N and logs sent, failed and average send time until a
// shutdown arrives.
//
// Example usage:
//
//	observer --port 5999 --producer-port 6000 --N 5s
package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dreamware/smsalert/internal/cli"
	"github.com/dreamware/smsalert/internal/config"
	"github.com/dreamware/smsalert/internal/metrics"
	"github.com/dreamware/smsalert/internal/observer"
)

func main() {
	cli.Execute(newCommand())
}

type roleFlags struct {
	port         int
	producerPort int
	interval     time.Duration
}

func (r *roleFlags) register(fs *pflag.FlagSet) {
	fs.IntVar(&r.port, "port", config.DefaultObserverPort, "port the observer listens on")
	fs.IntVar(&r.producerPort, "producer-port", config.DefaultCoordinatorPort, "port of the coordinator")
	fs.DurationVar(&r.interval, "N", observer.DefaultInterval, "time between status requests")
}

func (r *roleFlags) apply(cfg *config.Config, fs *pflag.FlagSet) {
	if fs.Changed("port") {
		cfg.Observer.Port = r.port
	}
	if fs.Changed("producer-port") {
		cfg.Observer.ProducerPort = r.producerPort
	}
	if fs.Changed("N") {
		cfg.Observer.Interval = r.interval
	}
}

func newCommand() *cobra.Command {
	var (
		flags cli.Flags
		role  roleFlags
	)
	cmd := &cobra.Command{
		Use:   "observer",
		Short: "Poll the coordinator and display progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.Load(cmd, role.apply)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	flags.Register(cmd.Flags())
	role.register(cmd.Flags())
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, err := cli.Logger(cfg, "observer", cfg.Observer.Port)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	metrics.Register()
	ctx, stop := cli.SignalContext(ctx)
	defer stop()

	o := observer.New(cfg.ObserverConfig(), cfg.Client(), observer.WithLogger(logger))
	return cli.Run(ctx, cfg.MetricsAddr, logger, o.Run)
}

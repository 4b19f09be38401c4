// Package main implements the worker command, a simulated SMS sender.
//
// A worker registers its port with the coordinator, then for every sendmsg
// it receives waits a random normally distributed time, decides success
// with the configured failure rate, and reports back.
//
// Configuration:
//   - --port: listen port, also the identity registered (default 6001)
//   - --producer-port: coordinator port (default 6000)
//   - --mean-time: mean simulated send time (default 10s)
//   - --failure-rate: probability a send fails (default 0.2)
//
// Example usage:
//
//	worker --port 6001 --producer-port 6000 --mean-time 2s --failure-rate 0.1
package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dreamware/smsalert/internal/cli"
	"github.com/dreamware/smsalert/internal/config"
	"github.com/dreamware/smsalert/internal/metrics"
	"github.com/dreamware/smsalert/internal/worker"
)

func main() {
	cli.Execute(newCommand())
}

type roleFlags struct {
	port         int
	producerPort int
	meanTime     time.Duration
	spread       time.Duration
	failureRate  float64
	seed         uint64
}

func (r *roleFlags) register(fs *pflag.FlagSet) {
	fs.IntVar(&r.port, "port", config.DefaultWorkerPort, "port the worker listens on")
	fs.IntVar(&r.producerPort, "producer-port", config.DefaultCoordinatorPort, "port of the coordinator")
	fs.DurationVar(&r.meanTime, "mean-time", config.DefaultMeanTime, "mean simulated send time")
	fs.DurationVar(&r.spread, "spread", worker.DefaultSpread, "standard deviation of the send time")
	fs.Float64Var(&r.failureRate, "failure-rate", config.DefaultFailureRate, "probability that a send fails")
	fs.Uint64Var(&r.seed, "seed", 0, "random seed, 0 for time based")
}

func (r *roleFlags) apply(cfg *config.Config, fs *pflag.FlagSet) {
	if fs.Changed("port") {
		cfg.Worker.Port = r.port
	}
	if fs.Changed("producer-port") {
		cfg.Worker.ProducerPort = r.producerPort
	}
	if fs.Changed("mean-time") {
		cfg.Worker.MeanTime = r.meanTime
	}
	if fs.Changed("spread") {
		cfg.Worker.Spread = r.spread
	}
	if fs.Changed("failure-rate") {
		cfg.Worker.SetFailureRate(r.failureRate)
	}
	if fs.Changed("seed") {
		cfg.Worker.Seed = r.seed
	}
}

func newCommand() *cobra.Command {
	var (
		flags cli.Flags
		role  roleFlags
	)
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Simulate an SMS sender serving the coordinator",
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
	logger, err := cli.Logger(cfg, "worker", cfg.Worker.Port)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	metrics.Register()
	ctx, stop := cli.SignalContext(ctx)
	defer stop()

	w := worker.New(cfg.WorkerConfig(), cfg.Client(), worker.WithLogger(logger))
	return cli.Run(ctx, cfg.MetricsAddr, logger, w.Run)
}

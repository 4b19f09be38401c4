// Package main implements simulate, which runs a coordinator, an observer
// and K workers in a single process on loopback ports.
//
// The run stops on its own once every generated message has been reported,
// or on SIGINT/SIGTERM, and prints the final totals.
//
// Example usage:
//
//	simulate --workers 4 --msg-num 200 --mean-time 50ms --failure-rate 0.1 --N 1s
package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreamware/smsalert/internal/cli"
	"github.com/dreamware/smsalert/internal/config"
	"github.com/dreamware/smsalert/internal/metrics"
	"github.com/dreamware/smsalert/internal/simulation"
)

func main() {
	cli.Execute(newCommand())
}

type runFlags struct {
	workers  int
	msgNum   int
	meanTime time.Duration
	spread   time.Duration
	failure  float64
	interval time.Duration
	seed     uint64
}

func newCommand() *cobra.Command {
	var (
		flags cli.Flags
		run   runFlags
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a whole SMS alert simulation in one process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.Load(cmd, nil)
			if err != nil {
				return err
			}
			return simulate(cmd.Context(), cmd.OutOrStdout(), cfg, run.config(cfg))
		},
	}
	flags.Register(cmd.Flags())

	fs := cmd.Flags()
	fs.IntVar(&run.workers, "workers", 3, "number of workers")
	fs.IntVar(&run.msgNum, "msg-num", 100, "number of messages to generate")
	fs.DurationVar(&run.meanTime, "mean-time", 100*time.Millisecond, "mean simulated send time")
	fs.DurationVar(&run.spread, "spread", 20*time.Millisecond, "standard deviation of the send time")
	fs.Float64Var(&run.failure, "failure-rate", config.DefaultFailureRate, "probability that a send fails")
	fs.DurationVar(&run.interval, "N", time.Second, "observer polling interval")
	fs.Uint64Var(&run.seed, "seed", 0, "random seed, 0 for time based")
	return cmd
}

func (r runFlags) config(cfg *config.Config) simulation.Config {
	return simulation.Config{
		Host:        cfg.Network.Host,
		Workers:     r.workers,
		Items:       r.msgNum,
		MeanTime:    r.meanTime,
		Spread:      r.spread,
		FailureRate: r.failure,
		Interval:    r.interval,
		GracePeriod: cfg.Coordinator.GracePeriod,
		DialTimeout: cfg.Network.DialTimeout,
		ReadTimeout: cfg.Network.ReadTimeout,
		Seed:        r.seed,
	}
}

func simulate(ctx context.Context, out io.Writer, cfg *config.Config, sim simulation.Config) error {
	logger, err := cli.Logger(cfg, "simulate", 0)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	metrics.Register()
	ctx, stop := cli.SignalContext(ctx)
	defer stop()

	var res simulation.Result
	err = cli.Run(ctx, cfg.MetricsAddr, logger, func(ctx context.Context) error {
		var err error
		res, err = simulation.Run(ctx, sim, logger)
		return err
	})
	if err != nil {
		return err
	}

	s := res.Coordinator.Stats
	fmt.Fprintf(out, "sent: %d  failed: %d  average time: %s  unsent: %d\n",
		s.Sent, s.Failed, s.AverageLatency, res.Coordinator.Pending)
	return nil
}

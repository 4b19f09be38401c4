// Package main implements the coordinator command, the producer role of the
// SMS alert simulator.
//
// The coordinator generates the configured number of work items, sends a
// start document to the observer, and then hands items to workers as they
// register and report completions. It answers status requests with its
// running totals and fans a shutdown out to every known role.
//
// Configuration:
//   - --config: YAML file (see internal/config)
//   - --port: listen port (default 6000)
//   - --monitor-port: observer port (default 5999)
//   - --msg-num: number of items to generate (default 1000)
//   - SMS_* environment variables override the file, flags override both
//
// Example usage:
//
//	coordinator --port 6000 --monitor-port 5999 --msg-num 1000
package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dreamware/smsalert/internal/cli"
	"github.com/dreamware/smsalert/internal/config"
	"github.com/dreamware/smsalert/internal/coordinator"
	"github.com/dreamware/smsalert/internal/metrics"
)

func main() {
	cli.Execute(newCommand())
}

// roleFlags are the flags specific to the coordinator.
type roleFlags struct {
	port        int
	monitorPort int
	msgNum      int
	grace       time.Duration
}

func (r *roleFlags) register(fs *pflag.FlagSet) {
	fs.IntVar(&r.port, "port", config.DefaultCoordinatorPort, "port the coordinator listens on")
	fs.IntVar(&r.monitorPort, "monitor-port", config.DefaultObserverPort, "port of the observer")
	fs.IntVar(&r.msgNum, "msg-num", config.DefaultItems, "number of messages to generate")
	fs.DurationVar(&r.grace, "grace", coordinator.DefaultGracePeriod, "pause after the shutdown fan-out")
}

func (r *roleFlags) apply(cfg *config.Config, fs *pflag.FlagSet) {
	if fs.Changed("port") {
		cfg.Coordinator.Port = r.port
	}
	if fs.Changed("monitor-port") {
		cfg.Coordinator.MonitorPort = r.monitorPort
	}
	if fs.Changed("msg-num") {
		cfg.Coordinator.SetMsgNum(r.msgNum)
	}
	if fs.Changed("grace") {
		cfg.Coordinator.GracePeriod = r.grace
	}
}

func newCommand() *cobra.Command {
	var (
		flags cli.Flags
		role  roleFlags
	)
	cmd := &cobra.Command{
		Use:   "coordinator",
		Short: "Generate SMS work items and dispatch them to workers",
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
	logger, err := cli.Logger(cfg, "coordinator", cfg.Coordinator.Port)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	metrics.Register()
	ctx, stop := cli.SignalContext(ctx)
	defer stop()

	c := coordinator.New(cfg.CoordinatorConfig(), cfg.Client(), coordinator.WithLogger(logger))
	return cli.Run(ctx, cfg.MetricsAddr, logger, c.Run)
}

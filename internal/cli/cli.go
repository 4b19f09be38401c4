// Package cli holds the flag wiring and process plumbing shared by the
// role commands.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/smsalert/internal/config"
	"github.com/dreamware/smsalert/internal/logging"
	"github.com/dreamware/smsalert/internal/metrics"
)

// Flags are the options every role command accepts.
type Flags struct {
	ConfigPath  string
	LogLevel    string
	MetricsAddr string
	Host        string
	Dev         bool
}

// Register adds the shared flags to fs.
func (f *Flags) Register(fs *pflag.FlagSet) {
	fs.StringVar(&f.ConfigPath, "config", "", "path to a YAML config file")
	fs.StringVar(&f.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.StringVar(&f.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	fs.StringVar(&f.Host, "host", "", "host every role listens on and dials")
	fs.BoolVar(&f.Dev, "dev", false, "human-readable console logs")
}

// Load resolves the configuration for cmd. Flags explicitly set on the
// command line win over the file and the environment. apply, when not nil,
// copies role-specific flags into the config.
func (f *Flags) Load(cmd *cobra.Command, apply func(cfg *config.Config, fs *pflag.FlagSet)) (*config.Config, error) {
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return nil, err
	}

	fs := cmd.Flags()
	if fs.Changed("log-level") {
		cfg.Log.Level = f.LogLevel
	}
	if fs.Changed("metrics-addr") {
		cfg.MetricsAddr = f.MetricsAddr
	}
	if fs.Changed("host") {
		cfg.Network.Host = f.Host
	}
	if fs.Changed("dev") {
		cfg.Log.Development = f.Dev
	}
	if apply != nil {
		apply(cfg, fs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Logger builds the logger for one role.
func Logger(cfg *config.Config, role string, port int) (*zap.Logger, error) {
	return logging.New(logging.Options{
		Level:       cfg.Log.Level,
		Role:        role,
		Port:        port,
		Development: cfg.Log.Development,
	})
}

// SignalContext returns a context canceled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// Run executes role, and the metrics endpoint when addr is set, until role
// returns. The metrics server is stopped once the role is done.
func Run(ctx context.Context, addr string, logger *zap.Logger, role func(context.Context) error) error {
	if addr == "" {
		return role(ctx)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return metrics.Serve(gctx, addr, logger)
	})
	g.Go(func() error {
		defer cancel()
		return role(gctx)
	})
	return g.Wait()
}

// Execute runs cmd and exits non-zero on error.
func Execute(cmd *cobra.Command) {
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", cmd.Name(), err)
		os.Exit(1)
	}
}

// Package main implements smsctl, a small operator tool that sends control
// documents to a running role.
//
// Example usage:
//
//	smsctl shutdown --port 6000          # stop the whole simulation
//	smsctl start --port 5999             # make the observer begin polling
//	smsctl status --port 6000 --listen-port 5999
//
// status stands in for the observer: it listens on the coordinator's
// monitor port, asks for status once and prints the report it receives.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreamware/smsalert/internal/cli"
	"github.com/dreamware/smsalert/internal/config"
	"github.com/dreamware/smsalert/internal/protocol"
	"github.com/dreamware/smsalert/internal/stats"
	"github.com/dreamware/smsalert/internal/transport"
)

// ErrNoReport is returned when status times out without a report.
var ErrNoReport = errors.New("no status report received")

// options are shared by every subcommand.
type options struct {
	host    string
	port    int
	timeout time.Duration
}

func main() {
	cli.Execute(newRootCommand())
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "smsctl",
		Short: "Send control documents to SMS simulator roles",
	}
	root.PersistentFlags().StringVar(&opts.host, "host", transport.DefaultHost, "host of the target role")
	root.PersistentFlags().IntVar(&opts.port, "port", config.DefaultCoordinatorPort, "port of the target role")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", transport.DefaultDialTimeout, "dial timeout")

	root.AddCommand(
		newSendCommand(opts, "shutdown", "Ask a role to shut down", protocol.Shutdown{}),
		newSendCommand(opts, "start", "Tell an observer to begin polling", protocol.Start{}),
		newStatusCommand(opts),
	)
	return root
}

func newSendCommand(opts *options, use, short string, msg protocol.Message) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := transport.NewClient(opts.host, opts.timeout)
			if err := client.Send(cmd.Context(), opts.port, msg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s to %s\n", msg.Kind(), client.Addr(opts.port))
			return nil
		},
	}
}

func newStatusCommand(opts *options) *cobra.Command {
	var (
		listenPort int
		wait       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Request and print the coordinator's progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()

			ln, err := transport.Listen(net.JoinHostPort(opts.host, strconv.Itoa(listenPort)))
			if err != nil {
				return err
			}
			defer ln.Close()

			snap, err := requestStatus(ctx, ln, transport.NewClient(opts.host, opts.timeout), opts.port)
			if err != nil {
				return err
			}
			printSnapshot(cmd.OutOrStdout(), snap)
			return nil
		},
	}
	cmd.Flags().IntVar(&listenPort, "listen-port", config.DefaultObserverPort, "port the coordinator sends its report to")
	cmd.Flags().DurationVar(&wait, "wait", 5*time.Second, "how long to wait for the report")
	return cmd
}

// requestStatus sends a status request to port and returns the first
// report ln receives before ctx ends.
func requestStatus(ctx context.Context, ln *transport.Listener, sender transport.Sender, port int) (stats.Snapshot, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reports := make(chan protocol.StatusReport, 1)
	done := make(chan error, 1)
	go func() {
		done <- ln.Serve(ctx, func(_ context.Context, msg protocol.Message) {
			if r, ok := msg.(protocol.StatusReport); ok {
				select {
				case reports <- r:
				default:
				}
				cancel()
			}
		})
	}()

	if err := sender.Send(ctx, port, protocol.StatusRequest{}); err != nil {
		cancel()
		<-done
		return stats.Snapshot{}, err
	}

	select {
	case r := <-reports:
		<-done
		return stats.FromReport(r), nil
	case <-ctx.Done():
		<-done
		select {
		case r := <-reports:
			return stats.FromReport(r), nil
		default:
		}
		return stats.Snapshot{}, fmt.Errorf("%w: %w", ErrNoReport, ctx.Err())
	}
}

func printSnapshot(w io.Writer, s stats.Snapshot) {
	fmt.Fprintf(w, "sent:         %d\n", s.Sent)
	fmt.Fprintf(w, "failed:       %d\n", s.Failed)
	fmt.Fprintf(w, "average time: %s\n", s.AverageLatency)
}

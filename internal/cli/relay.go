package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/canopy/internal/transport"
)

// RelayOptions holds flags for the relay command.
type RelayOptions struct {
	*RootOptions
	Addr     string
	RedisURL string
	Channel  string
}

// NewRelayCommand creates the relay command.
func NewRelayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RelayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Serve the websocket relay peers connect to",
		Long: `Serve the websocket relay. Every message a peer sends on /ops is
forwarded to every connected peer, the sender included. /healthz reports
the number of connected peers.

With --redis, several relays share one Redis channel so peers on
different relays still see each other's ops.

Examples:
  canopy relay --addr :8080
  canopy relay --addr :8080 --redis redis://localhost:6379/0 --channel doc-1`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&opts.RedisURL, "redis", "", "redis URL to bridge relays through")
	cmd.Flags().StringVar(&opts.Channel, "channel", transport.DefaultChannel, "redis channel")

	return cmd
}

func runRelay(opts *RelayOptions, cmd *cobra.Command) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	logger := opts.logger()
	relayOpts := []transport.RelayOption{transport.WithRelayLogger(logger)}
	if opts.RedisURL != "" {
		client, err := transport.ConnectRedis(ctx, opts.RedisURL)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to connect to redis", err)
		}
		defer client.Close()
		relayOpts = append(relayOpts, transport.WithRelayRedis(client, opts.Channel))
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Relay listening on %s. Press Ctrl-C to stop.\n", opts.Addr)
	if err := transport.NewRelay(relayOpts...).ListenAndServe(ctx, opts.Addr); err != nil {
		return WrapExitError(ExitFailure, "relay error", err)
	}
	logger.Info("relay stopped")
	return nil
}

// signalContext derives a context from the command's that is cancelled on
// SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			fmt.Fprintf(cmd.ErrOrStderr(), "received %s, shutting down\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

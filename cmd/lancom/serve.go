package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"lancom/codec"
	"lancom/node"
)

// serveCmd runs a node hosting the demo services: Echo (string in,
// "echo:"+s out), Ping (Empty in, "pong" out) and Sink (string in, Empty
// out). Handy as the far end when trying out call/pub/sub.
func serveCmd(flags *nodeFlags) *cobra.Command {
	var statusEvery time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a node hosting the demo services",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := flags.startNode(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = n.Stop() }()

			if err := node.RegisterService(n, "Echo", func(s string) (string, error) {
				return "echo:" + s, nil
			}); err != nil {
				return err
			}
			if err := node.RegisterService(n, "Ping", func(codec.Empty) (string, error) {
				return "pong", nil
			}); err != nil {
				return err
			}
			if err := node.RegisterService(n, "Sink", func(s string) (codec.Empty, error) {
				slog.Info("sink received", "len", len(s))
				return codec.Empty{}, nil
			}); err != nil {
				return err
			}

			info := n.Info()
			fmt.Printf("node %s (%s) serving Echo, Ping, Sink on %s\n",
				accentStyle.Render(info.Name), info.NodeID, info.IP)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				<-ctx.Done()
				return nil
			})
			if statusEvery > 0 {
				g.Go(func() error {
					ticker := time.NewTicker(statusEvery)
					defer ticker.Stop()
					for {
						select {
						case <-ctx.Done():
							return nil
						case <-ticker.C:
							slog.Info("node status", "phase", n.Phase().String(), "peers", len(n.Peers()))
						}
					}
				})
			}
			return g.Wait()
		},
	}
	cmd.Flags().DurationVar(&statusEvery, "status-every", 0, "Log node status at this interval (0 disables)")
	return cmd
}

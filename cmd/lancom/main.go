// Command lancom is a thin operator shell over the lancom library: spin
// up a node on the LAN, watch the peer table, call services, and publish
// or tail topics.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lancom/internal/logging"
)

func main() {
	var (
		debug bool
		trace bool
	)

	var traceOut *traceOutput

	root := &cobra.Command{
		Use:           "lancom",
		Short:         "Decentralized LAN pub/sub and RPC fabric",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := logging.LevelWarn
			if debug {
				level = logging.LevelDebug
			}
			if err := logging.Configure(level); err != nil {
				return err
			}
			configureColors()
			if trace {
				traceOut = installTraceOutput()
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			traceOut.Close()
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().BoolVar(&trace, "trace", false, "Print RPC spans to stderr")

	flags := registerNodeFlags(root)

	root.AddCommand(peersCmd(flags))
	root.AddCommand(serveCmd(flags))
	root.AddCommand(callCmd(flags))
	root.AddCommand(pubCmd(flags))
	root.AddCommand(subCmd(flags))

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

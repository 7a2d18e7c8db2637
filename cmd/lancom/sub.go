package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"lancom/node"
)

func subCmd(flags *nodeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sub <topic>...",
		Short: "Subscribe to topics and print messages until interrupted",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := flags.startNode(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = n.Stop() }()

			for _, topic := range args {
				topic := topic
				node.Subscribe(n, topic, func(msg string) {
					fmt.Printf("%s %s\n", mutedStyle.Render(topic+":"), msg)
				})
			}
			fmt.Fprintf(os.Stderr, "subscribed to %d topic(s), ctrl-c to stop\n", len(args))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			return nil
		},
	}
	return cmd
}

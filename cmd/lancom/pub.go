package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"lancom/node"
)

func pubCmd(flags *nodeFlags) *cobra.Command {
	var (
		linger   time.Duration
		count    int
		interval time.Duration
		local    bool
	)

	cmd := &cobra.Command{
		Use:   "pub <topic> <message>",
		Short: "Publish string messages on a topic",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic, message := args[0], args[1]

			n, err := flags.startNode(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = n.Stop() }()

			var opts []node.PublisherOption
			if local {
				opts = append(opts, node.WithLocalNamespace())
			}
			pub, err := node.NewPublisher[string](n, topic, opts...)
			if err != nil {
				return err
			}

			// Give remote subscribers a discovery round to find and
			// connect to the fresh endpoint; whoever is not connected by
			// then misses the messages, as topic semantics promise.
			time.Sleep(linger)

			for i := 0; i < count; i++ {
				if err := pub.Publish(message); err != nil {
					return err
				}
				if i < count-1 {
					time.Sleep(interval)
				}
			}
			fmt.Printf("published %d message(s) on %s\n", count, accentStyle.Render(pub.Topic()))

			// Flush: connected readers still need the bytes off the wire.
			time.Sleep(200 * time.Millisecond)
			return nil
		},
	}
	cmd.Flags().DurationVar(&linger, "linger", 2*time.Second, "How long to wait for subscribers before publishing")
	cmd.Flags().IntVar(&count, "count", 1, "How many copies to publish")
	cmd.Flags().DurationVar(&interval, "interval", 100*time.Millisecond, "Delay between copies")
	cmd.Flags().BoolVar(&local, "local", false, "Publish under the node-local namespace")
	return cmd
}

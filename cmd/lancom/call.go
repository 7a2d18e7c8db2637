package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"lancom/codec"
	"lancom/node"
)

func callCmd(flags *nodeFlags) *cobra.Command {
	var (
		maxWait time.Duration
		empty   bool
	)

	cmd := &cobra.Command{
		Use:   "call <service> [payload]",
		Short: "Call a service with a string payload and print the reply",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			service := args[0]
			payload := ""
			if len(args) == 2 {
				payload = args[1]
			}

			n, err := flags.startNode(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = n.Stop() }()

			var resp string
			if empty {
				err = node.Request(cmd.Context(), n, service, codec.Empty{}, &resp,
					node.WithMaxWait(maxWait))
			} else {
				err = node.Request(cmd.Context(), n, service, payload, &resp,
					node.WithMaxWait(maxWait))
			}
			if err != nil {
				return fmt.Errorf("call %s: %w", service, err)
			}

			if resp == "" {
				fmt.Println(mutedStyle.Render("(empty reply)"))
				return nil
			}
			fmt.Println(resp)
			return nil
		},
	}
	cmd.Flags().DurationVar(&maxWait, "max-wait", 5*time.Second, "How long to wait for the service to appear")
	cmd.Flags().BoolVar(&empty, "empty", false, "Send the Empty request instead of a string payload")
	return cmd
}

package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"lancom"
)

func peersCmd(flags *nodeFlags) *cobra.Command {
	var (
		wait  time.Duration
		watch bool
	)

	cmd := &cobra.Command{
		Use:   "peers",
		Short: "Show the nodes currently visible on the group",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := flags.startNode(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = n.Stop() }()

			if !watch {
				time.Sleep(wait)
				fmt.Println(peersTable(n.Peers()))
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ticker := time.NewTicker(wait)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					fmt.Println(peersTable(n.Peers()))
				}
			}
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 3*time.Second, "How long to listen for heartbeats")
	cmd.Flags().BoolVar(&watch, "watch", false, "Keep printing the table every --wait interval")
	return cmd
}

func peersTable(peers []lancom.NodeInfo) string {
	rows := make([][]string, 0, len(peers))
	for _, p := range peers {
		rows = append(rows, []string{
			p.NodeID, p.Name, p.IP,
			socketNames(p.Topics), socketNames(p.Services),
		})
	}
	if len(rows) == 0 {
		return mutedStyle.Render("no peers visible")
	}
	return renderTable([]string{"NODE ID", "NAME", "IP", "TOPICS", "SERVICES"}, rows)
}

func socketNames(socks []lancom.SocketInfo) string {
	names := make([]string, len(socks))
	for i, s := range socks {
		names[i] = fmt.Sprintf("%s:%d", s.Name, s.Port)
	}
	return strings.Join(names, ", ")
}

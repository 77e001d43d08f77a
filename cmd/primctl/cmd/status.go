package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sekia-ai/primbus/pkg/protocol"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show primd status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp protocol.StatusResponse
			if err := apiGet("/api/v1/status", &resp); err != nil {
				return err
			}

			fmt.Printf("Status:          %s\n", resp.Status)
			fmt.Printf("Uptime:          %s\n", resp.Uptime)
			fmt.Printf("NATS Running:    %v\n", resp.NATSRunning)
			fmt.Printf("Started At:      %s\n", resp.StartedAt.Format("2006-01-02 15:04:05"))
			fmt.Printf("Robots:          %d\n", resp.RobotCount)
			fmt.Printf("Primitive Types: %d\n", resp.PrimitiveTypes)
			fmt.Printf("Dispatched:      %d\n", resp.Dispatched)
			return nil
		},
	}
}

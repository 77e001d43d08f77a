package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sekia-ai/primbus/pkg/protocol"
)

func newRobotsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "robots",
		Short: "List registered robots",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp protocol.RobotsResponse
			if err := apiGet("/api/v1/robots", &resp); err != nil {
				return err
			}

			if len(resp.Robots) == 0 {
				fmt.Println("No robots registered.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tVERSION\tSTATUS\tPRIMITIVES\tEXECUTED\tREJECTED\tLAST HEARTBEAT")
			for _, r := range resp.Robots {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
					r.RobotID, r.Name, r.Version, r.Status,
					strings.Join(r.Primitives, ","),
					r.Executed, r.Rejected,
					r.LastHeartbeat.Format("15:04:05"),
				)
			}
			w.Flush()
			return nil
		},
	}
}

func newTypesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List primitive types primd can dispatch",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp protocol.PrimitiveTypesResponse
			if err := apiGet("/api/v1/primitives/types", &resp); err != nil {
				return err
			}
			for _, name := range resp.Types {
				fmt.Println(name)
			}
			return nil
		},
	}
}

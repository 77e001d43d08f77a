package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sekia-ai/primbus/pkg/protocol"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage daemon configuration",
	}

	cmd.AddCommand(newConfigReloadCmd())

	return cmd
}

func newConfigReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Ask primd to re-read its config file",
		Long: `Re-reads primd's config file and applies the command secret without a
restart. Equivalent to sending SIGHUP to primd. Robot agents pick up secret
changes by watching their own config file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp protocol.ReloadResponse
			if err := apiPost("/api/v1/config/reload", nil, &resp); err != nil {
				return err
			}
			fmt.Printf("primd config %s\n", resp.Status)
			return nil
		},
	}
}

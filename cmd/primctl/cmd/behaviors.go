package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sekia-ai/primbus/internal/behavior"
	"github.com/sekia-ai/primbus/pkg/protocol"
)

func newBehaviorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "behaviors",
		Short: "List and manage Lua behavior scripts",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp protocol.BehaviorsResponse
			if err := apiGet("/api/v1/behaviors", &resp); err != nil {
				return err
			}

			if len(resp.Behaviors) == 0 {
				fmt.Println("No behaviors loaded.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tPATTERNS\tEVENTS\tDISPATCHED\tERRORS\tLOADED")
			for _, b := range resp.Behaviors {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
					b.Name, strings.Join(b.Patterns, ","),
					b.Events, b.Dispatched, b.Errors,
					b.LoadedAt.Format("15:04:05"),
				)
			}
			w.Flush()
			return nil
		},
	}

	cmd.AddCommand(newBehaviorsReloadCmd())
	cmd.AddCommand(newBehaviorsManifestCmd())
	return cmd
}

func newBehaviorsReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Reload every behavior script from disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp protocol.ReloadResponse
			if err := apiPost("/api/v1/behaviors/reload", nil, &resp); err != nil {
				return err
			}
			fmt.Printf("Behaviors %s\n", resp.Status)
			return nil
		},
	}
}

func newBehaviorsManifestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "manifest <dir>",
		Short: "Write " + behavior.ManifestFilename + " for the scripts in dir",
		Long: `Hashes every .lua file in dir and writes the manifest primd checks when
behaviors.verify_integrity is on. Re-run after editing a script.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := behavior.GenerateManifest(args[0])
			if err != nil {
				return fmt.Errorf("generate manifest: %w", err)
			}
			if err := m.WriteFile(args[0]); err != nil {
				return fmt.Errorf("write manifest: %w", err)
			}
			fmt.Printf("Wrote %d entries to %s\n", len(m), behavior.ManifestFilename)
			return nil
		},
	}
}

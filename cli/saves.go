package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fable-labs/fableflow/config"
	"github.com/fable-labs/fableflow/engine"
)

// NewSavesCmd creates the "saves" subcommand.
func NewSavesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "saves",
		Short: "List save slots",
		Args:  cobra.NoArgs,
		RunE:  runSaves,
	}

	cmd.Flags().String("save-dir", "", "Directory for save slots (default: ~/.fableflow/saves)")

	return cmd
}

func runSaves(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()

	saveDir, _ := cmd.Flags().GetString("save-dir")
	if saveDir == "" {
		defaults, err := config.ResolveDefaults()
		if err != nil {
			return exitError(exitRuntime, "resolving defaults: %v", err)
		}
		saveDir = defaults.SaveDir
	}

	saves, err := engine.NewFSSaveStore(saveDir)
	if err != nil {
		return exitError(exitRuntime, "opening save directory: %v", err)
	}

	slots, err := saves.List()
	if err != nil {
		return exitError(exitRuntime, "listing save slots: %v", err)
	}
	if len(slots) == 0 {
		fmt.Fprintln(out, "No save slots.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SLOT\tWORKFLOW\tNODE\tSTEP\tTURNS")
	for _, slot := range slots {
		rs, err := saves.Load(slot)
		if err != nil {
			fmt.Fprintf(w, "%s\t(unreadable: %v)\t\t\t\n", slot, err)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n", slot, rs.WorkflowID, rs.NodeIndex, rs.StepIndex, len(rs.Context))
	}
	return w.Flush()
}

package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fable-labs/fableflow/engine"
)

// NewResumeCmd creates the "resume" subcommand.
func NewResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume <file> [slot]",
		Short: "Continue a suspended session from a save slot",
		Long: "Resume loads the save slot (default \"autosave\"), re-reads the workflow\n" +
			"document and continues the story from the last committed step boundary.",
		Args: cobra.RangeArgs(1, 2),
		RunE: runResume,
	}

	cmd.Flags().StringP("workflow", "w", "", "Workflow ID or name (default: the slot's workflow)")
	addSessionFlags(cmd)

	return cmd
}

func runResume(cmd *cobra.Command, args []string) error {
	filePath := args[0]
	loadSlot := "autosave"
	if len(args) == 2 {
		loadSlot = args[1]
	}

	cfg, saves, cleanup, err := buildSessionConfig(cmd)
	if err != nil {
		return err
	}

	rs, err := saves.Load(loadSlot)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cleanupAll(cleanup)
			return exitError(exitFileNotFound, "save slot %q not found", loadSlot)
		}
		var stateErr *engine.StateError
		if errors.As(err, &stateErr) {
			cleanupAll(cleanup)
			return exitError(exitRuntime, "save slot %q is unusable: %v", loadSlot, err)
		}
		cleanupAll(cleanup)
		return exitError(exitRuntime, "loading save slot %q: %v", loadSlot, err)
	}

	// The slot knows which workflow it belongs to; --workflow only needs to
	// be spelled out when the document reuses an ID for its display name.
	if flagged, _ := cmd.Flags().GetString("workflow"); flagged == "" {
		_ = cmd.Flags().Set("workflow", rs.WorkflowID)
	}
	wf, err := loadSessionWorkflow(cmd, filePath)
	if err != nil {
		cleanupAll(cleanup)
		return err
	}

	runner, err := engine.NewRunner(wf, cfg)
	if err != nil {
		cleanupAll(cleanup)
		return exitError(exitValidation, "building session: %v", err)
	}

	s := &session{runner: runner, slot: cfg.AutosaveSlot, cleanup: cleanup}
	defer s.close()

	if err := runner.Resume(cmd.Context(), rs); err != nil {
		var stateErr *engine.StateError
		if errors.As(err, &stateErr) {
			return exitError(exitRuntime, "save slot %q does not match %s: %v", loadSlot, filePath, err)
		}
		return exitError(exitRuntime, "resuming session: %v", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Resuming %q from slot %q.\n", wf.Name, loadSlot)
	return playSession(cmd, s)
}

func cleanupAll(fns []func()) {
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}

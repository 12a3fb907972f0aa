package cli

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/fable-labs/fableflow/engine"
	"github.com/fable-labs/fableflow/loader"
	"github.com/fable-labs/fableflow/script"
)

// NewRunCmd creates the "run" subcommand.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Play a workflow interactively",
		Long: "Run loads a workflow document, starts a fresh session against the\n" +
			"configured LLM provider, streams the story to stdout and reads player\n" +
			"input from stdin. The session autosaves at every step boundary;\n" +
			"interrupt with Ctrl-C and continue later with \"fableflow resume\".",
		Args: cobra.ExactArgs(1),
		RunE: runRun,
	}

	cmd.Flags().StringP("workflow", "w", "", "Workflow ID or name (default: first in the document)")
	addSessionFlags(cmd)

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	wf, err := loadSessionWorkflow(cmd, args[0])
	if err != nil {
		return err
	}

	cfg, _, cleanup, err := buildSessionConfig(cmd)
	if err != nil {
		return err
	}

	runner, err := engine.NewRunner(wf, cfg)
	if err != nil {
		return exitError(exitValidation, "building session: %v", err)
	}

	s := &session{runner: runner, slot: cfg.AutosaveSlot, cleanup: cleanup}
	defer s.close()

	if err := runner.Start(cmd.Context()); err != nil {
		return exitError(exitRuntime, "starting session: %v", err)
	}

	return playSession(cmd, s)
}

// loadSessionWorkflow reads the document and selects the workflow named by
// --workflow, defaulting to the document's first workflow.
func loadSessionWorkflow(cmd *cobra.Command, filePath string) (*script.Workflow, error) {
	idOrName, _ := cmd.Flags().GetString("workflow")

	doc, err := loader.LoadDocument(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, exitError(exitFileNotFound, "file not found: %s", filePath)
		}
		var diagErr *loader.DiagnosticError
		if errors.As(err, &diagErr) {
			return nil, exitError(exitValidation, "%v (run \"fableflow validate %s\" for details)", err, filePath)
		}
		return nil, exitError(exitValidation, "loading workflow: %v", err)
	}

	if idOrName == "" {
		if len(doc.Workflows) == 0 {
			return nil, exitError(exitValidation, "document %s contains no workflows", filePath)
		}
		return &doc.Workflows[0], nil
	}

	if wf, ok := doc.WorkflowByID(idOrName); ok {
		return wf, nil
	}
	if wf, ok := doc.WorkflowByName(idOrName); ok {
		return wf, nil
	}
	return nil, exitError(exitValidation, "workflow %q not found in %s", idOrName, filePath)
}

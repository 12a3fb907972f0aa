package loader

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/fable-labs/fableflow/script"
)

const jsonDoc = `{
  "workflows": [
    {
      "id": "wf-tavern",
      "name": "Tavern Adventure",
      "nodes": [
        {
          "id": "scene-1",
          "steps": [
            {"id": "s1", "prompt": "Describe the tavern."},
            {"id": "s2", "prompt": "Introduce the bartender.", "executionMode": "sequential"}
          ]
        }
      ]
    }
  ]
}`

const yamlDoc = `workflows:
  - id: wf-tavern
    name: Tavern Adventure
    nodes:
      - id: scene-1
        loopPolicy: conditional
        loopPrompt: Has the player left the tavern?
        maxIterations: 5
        steps:
          - id: s1
            prompt: Describe the tavern.
          - id: s2
            prompt: Roll ambient events.
            executionMode: parallel
`

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	return path
}

func TestLoadDocument_JSON(t *testing.T) {
	path := writeTemp(t, "flows.json", jsonDoc)

	doc, err := LoadDocument(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(doc.Workflows) != 1 {
		t.Fatalf("expected 1 workflow, got %d", len(doc.Workflows))
	}
	if doc.Workflows[0].Nodes[0].Steps[1].ExecutionMode != script.ExecSequential {
		t.Error("expected sequential execution mode on step 2")
	}
}

func TestLoadDocument_YAML(t *testing.T) {
	path := writeTemp(t, "flows.yaml", yamlDoc)

	doc, err := LoadDocument(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	node := doc.Workflows[0].Nodes[0]
	if node.LoopPolicy != script.LoopConditional {
		t.Errorf("expected conditional loop policy, got %q", node.LoopPolicy)
	}
	if node.MaxIterations != 5 {
		t.Errorf("expected maxIterations 5, got %d", node.MaxIterations)
	}
	if !node.Steps[1].Parallel() {
		t.Error("expected step 2 to be parallel")
	}
}

func TestLoadDocument_ValidationFailure(t *testing.T) {
	const bad = `{
  "workflows": [
    {
      "id": "wf-bad",
      "name": "Broken",
      "nodes": [
        {
          "id": "n1",
          "loopPolicy": "conditional",
          "steps": [{"id": "s1", "prompt": "x"}]
        }
      ]
    }
  ]
}`
	path := writeTemp(t, "bad.json", bad)

	_, err := LoadDocument(path)
	var diagErr *DiagnosticError
	if !errors.As(err, &diagErr) {
		t.Fatalf("expected DiagnosticError, got %v", err)
	}
	if !script.HasErrors(diagErr.Diagnostics) {
		t.Error("expected error diagnostics")
	}
}

func TestLoadDocument_MissingFile(t *testing.T) {
	if _, err := LoadDocument(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadWorkflow_ByIDAndName(t *testing.T) {
	path := writeTemp(t, "flows.json", jsonDoc)

	byID, err := LoadWorkflow(path, "wf-tavern")
	if err != nil {
		t.Fatalf("load by ID: %v", err)
	}
	byName, err := LoadWorkflow(path, "Tavern Adventure")
	if err != nil {
		t.Fatalf("load by name: %v", err)
	}
	if byID.ID != byName.ID {
		t.Error("expected same workflow from ID and name lookup")
	}

	if _, err := LoadWorkflow(path, "missing"); err == nil {
		t.Error("expected error for unknown workflow")
	}
}

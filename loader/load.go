// Package loader reads FableFlow workflow documents from JSON or YAML files
// and validates them before handing them to the engine.
package loader

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fable-labs/fableflow/script"
)

// LoadDocument reads a workflow document file, converts YAML to JSON when
// needed, validates it, and returns the typed document.
func LoadDocument(path string) (*script.Document, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from caller
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", path, err)
	}
	return ParseDocument(data, path)
}

// ParseDocument parses document bytes. The path is used only to detect the
// serialization format from its extension.
func ParseDocument(data []byte, path string) (*script.Document, error) {
	jsonData, err := toJSON(data, path)
	if err != nil {
		return nil, err
	}

	var doc script.Document
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return nil, fmt.Errorf("parsing workflow document: %w", err)
	}

	diags := doc.Validate()
	if script.HasErrors(diags) {
		return nil, &DiagnosticError{Diagnostics: diags}
	}

	return &doc, nil
}

// LoadWorkflow loads a document and selects one workflow by ID, falling back
// to display-name lookup so callers can pass either.
func LoadWorkflow(path, idOrName string) (*script.Workflow, error) {
	doc, err := LoadDocument(path)
	if err != nil {
		return nil, err
	}

	if wf, ok := doc.WorkflowByID(idOrName); ok {
		return wf, nil
	}
	if wf, ok := doc.WorkflowByName(idOrName); ok {
		return wf, nil
	}
	return nil, fmt.Errorf("workflow %q not found in %s", idOrName, path)
}

// toJSON converts data to JSON bytes, handling YAML conversion if the path
// indicates a YAML file.
func toJSON(data []byte, path string) ([]byte, error) {
	if isYAML(path) {
		return yamlToJSON(data)
	}
	return data, nil
}

// isYAML returns true if the file path has a YAML extension.
func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// yamlToJSON converts raw bytes from YAML format to JSON bytes:
// YAML -> map[string]any -> JSON bytes -> typed struct.
func yamlToJSON(data []byte) ([]byte, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	// yaml.v3 uses map[string]any by default, which is JSON-compatible
	return json.Marshal(raw)
}

// DiagnosticError wraps validation diagnostics as an error.
type DiagnosticError struct {
	Diagnostics []script.Diagnostic
}

func (e *DiagnosticError) Error() string {
	errs := script.Errors(e.Diagnostics)
	if len(errs) == 1 {
		return fmt.Sprintf("validation error: %s", errs[0].Message)
	}
	return fmt.Sprintf("%d validation errors (first: %s)", len(errs), errs[0].Message)
}

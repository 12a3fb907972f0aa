// Package script defines the authored workflow hierarchy executed by the
// FableFlow engine: Workflow → Node → Step. Documents are authored by the
// external editor and loaded read-only; the engine never mutates them.
package script

import (
	"fmt"
)

// LoopPolicy controls whether a node or step repeats.
type LoopPolicy string

const (
	// LoopNone runs the node/step exactly once.
	LoopNone LoopPolicy = "none"

	// LoopConditional repeats until the AI judges the loop prompt's
	// condition met, bounded by MaxIterations.
	LoopConditional LoopPolicy = "conditional"
)

// ExecutionMode controls how sibling steps are scheduled.
type ExecutionMode string

const (
	// ExecSequential runs the step alone, never overlapping another step.
	ExecSequential ExecutionMode = "sequential"

	// ExecParallel groups the step with adjacent parallel steps into one
	// concurrent batch.
	ExecParallel ExecutionMode = "parallel"
)

// Document is the serializable workflow source read by the loader.
type Document struct {
	Workflows []Workflow `json:"workflows"`
}

// Workflow is a top-level authored script: an ordered sequence of nodes.
type Workflow struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Nodes []Node `json:"nodes"`

	// Entry optionally names the node execution starts from.
	// Empty means the first node.
	Entry string `json:"entry,omitempty"`
}

// Node is a scene/stage grouping an ordered sequence of steps, with
// optional AI-judged conditional repetition.
type Node struct {
	ID            string     `json:"id"`
	Name          string     `json:"name,omitempty"`
	LoopPolicy    LoopPolicy `json:"loopPolicy,omitempty"`
	LoopPrompt    string     `json:"loopPrompt,omitempty"`
	MaxIterations int        `json:"maxIterations,omitempty"`
	Steps         []Step     `json:"steps"`
}

// Step is the smallest executable unit: one prompt dispatched to the model.
type Step struct {
	ID            string        `json:"id"`
	Name          string        `json:"name,omitempty"`
	Prompt        string        `json:"prompt,omitempty"`
	PromptRefs    []string      `json:"promptRefs,omitempty"`
	ExecutionMode ExecutionMode `json:"executionMode,omitempty"`
	LoopPolicy    LoopPolicy    `json:"loopPolicy,omitempty"`
	LoopPrompt    string        `json:"loopPrompt,omitempty"`
	MaxIterations int           `json:"maxIterations,omitempty"`

	// UseContext includes the accumulated conversation in the model call.
	UseContext bool `json:"useContext,omitempty"`

	// AwaitInput pauses the step until the player submits input, which
	// becomes the user turn of the call.
	AwaitInput bool `json:"awaitInput,omitempty"`

	// InputPrompt is shown to the player when AwaitInput is set.
	InputPrompt string `json:"inputPrompt,omitempty"`

	// Placeholder is the user turn used when no player input is involved.
	// Empty means the engine default.
	Placeholder string `json:"placeholder,omitempty"`

	// StoreAs names a world-state attribute that captures the reply text.
	StoreAs string `json:"storeAs,omitempty"`

	// ReadFrom names a reference file whose contents are appended to the
	// step's system prompt.
	ReadFrom string `json:"readFrom,omitempty"`

	// SaveTo writes the reply text to this file path after each iteration.
	SaveTo string `json:"saveTo,omitempty"`

	// Model optionally overrides the session's default model for this step.
	Model string `json:"model,omitempty"`

	// Temperature optionally overrides the sampling temperature.
	Temperature *float64 `json:"temperature,omitempty"`

	// MaxTokens optionally limits the output length.
	MaxTokens *int `json:"maxTokens,omitempty"`
}

// Parallel reports whether the step belongs in a concurrent batch.
func (s *Step) Parallel() bool {
	return s.ExecutionMode == ExecParallel
}

// Loops reports whether the step repeats conditionally.
func (s *Step) Loops() bool {
	return s.LoopPolicy == LoopConditional
}

// Loops reports whether the node repeats conditionally.
func (n *Node) Loops() bool {
	return n.LoopPolicy == LoopConditional
}

// Batches partitions the node's steps into maximal runs of consecutive
// parallel steps and singleton sequential steps, preserving declared order.
// Each batch is scheduled as one unit by the node executor.
func (n *Node) Batches() [][]*Step {
	var batches [][]*Step
	i := 0
	for i < len(n.Steps) {
		step := &n.Steps[i]
		if !step.Parallel() {
			batches = append(batches, []*Step{step})
			i++
			continue
		}
		group := []*Step{step}
		for i+1 < len(n.Steps) && n.Steps[i+1].Parallel() {
			i++
			group = append(group, &n.Steps[i])
		}
		batches = append(batches, group)
		i++
	}
	return batches
}

// EntryIndex returns the index of the workflow's entry node (0 when Entry
// is empty). An unknown entry is a validation error, reported by Validate.
func (w *Workflow) EntryIndex() int {
	if w.Entry == "" {
		return 0
	}
	for i := range w.Nodes {
		if w.Nodes[i].ID == w.Entry {
			return i
		}
	}
	return 0
}

// WorkflowByID returns the workflow with the given ID.
func (d *Document) WorkflowByID(id string) (*Workflow, bool) {
	for i := range d.Workflows {
		if d.Workflows[i].ID == id {
			return &d.Workflows[i], true
		}
	}
	return nil, false
}

// WorkflowByName returns the first workflow with the given display name.
func (d *Document) WorkflowByName(name string) (*Workflow, bool) {
	for i := range d.Workflows {
		if d.Workflows[i].Name == name {
			return &d.Workflows[i], true
		}
	}
	return nil, false
}

// Diagnostic represents a validation error or warning produced by document
// validation.
type Diagnostic struct {
	Code     string `json:"code"`           // e.g. "WF-001", "ND-002"
	Severity string `json:"severity"`       // "error" or "warning"
	Message  string `json:"message"`        // human-readable description
	Path     string `json:"path,omitempty"` // JSON path to offending field
}

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// HasErrors returns true if any diagnostic has error severity.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Errors returns only the error-severity diagnostics.
func Errors(diags []Diagnostic) []Diagnostic {
	var errs []Diagnostic
	for _, d := range diags {
		if d.Severity == SeverityError {
			errs = append(errs, d)
		}
	}
	return errs
}

// Warnings returns only the warning-severity diagnostics.
func Warnings(diags []Diagnostic) []Diagnostic {
	var warns []Diagnostic
	for _, d := range diags {
		if d.Severity == SeverityWarning {
			warns = append(warns, d)
		}
	}
	return warns
}

// Validate checks structural integrity of the document:
//   - WF-001: duplicate workflow IDs
//   - WF-002: workflow has at least one node
//   - WF-003: entry references an existing node
//   - ND-001: duplicate node IDs within a workflow
//   - ND-002: conditional loop requires a non-empty loopPrompt
//   - ND-003: conditional loop requires maxIterations > 0
//   - ST-001: duplicate step IDs within a node
//   - ST-002: conditional loop requires a non-empty loopPrompt
//   - ST-003: conditional loop requires maxIterations > 0
//   - ST-004: step needs a prompt, prompt refs, or awaitInput
//   - ST-005: parallel steps may not await player input
//   - ND-010/ST-010 (warning): loopPrompt set without a conditional loop
func (d *Document) Validate() []Diagnostic {
	var diags []Diagnostic

	wfIDs := make(map[string]bool, len(d.Workflows))
	for wi := range d.Workflows {
		wf := &d.Workflows[wi]
		base := fmt.Sprintf("workflows[%d]", wi)

		if wfIDs[wf.ID] {
			diags = append(diags, Diagnostic{
				Code:     "WF-001",
				Severity: SeverityError,
				Message:  fmt.Sprintf("duplicate workflow ID %q", wf.ID),
				Path:     base + ".id",
			})
		}
		wfIDs[wf.ID] = true

		if len(wf.Nodes) == 0 {
			diags = append(diags, Diagnostic{
				Code:     "WF-002",
				Severity: SeverityError,
				Message:  fmt.Sprintf("workflow %q has no nodes", wf.ID),
				Path:     base + ".nodes",
			})
		}

		if wf.Entry != "" {
			found := false
			for ni := range wf.Nodes {
				if wf.Nodes[ni].ID == wf.Entry {
					found = true
					break
				}
			}
			if !found {
				diags = append(diags, Diagnostic{
					Code:     "WF-003",
					Severity: SeverityError,
					Message:  fmt.Sprintf("entry %q references unknown node", wf.Entry),
					Path:     base + ".entry",
				})
			}
		}

		diags = append(diags, validateNodes(wf, base)...)
	}

	return diags
}

func validateNodes(wf *Workflow, base string) []Diagnostic {
	var diags []Diagnostic

	nodeIDs := make(map[string]bool, len(wf.Nodes))
	for ni := range wf.Nodes {
		node := &wf.Nodes[ni]
		npath := fmt.Sprintf("%s.nodes[%d]", base, ni)

		if nodeIDs[node.ID] {
			diags = append(diags, Diagnostic{
				Code:     "ND-001",
				Severity: SeverityError,
				Message:  fmt.Sprintf("duplicate node ID %q", node.ID),
				Path:     npath + ".id",
			})
		}
		nodeIDs[node.ID] = true

		diags = append(diags, validateLoop(node.LoopPolicy, node.LoopPrompt, node.MaxIterations,
			"ND", node.ID, npath)...)

		stepIDs := make(map[string]bool, len(node.Steps))
		for si := range node.Steps {
			step := &node.Steps[si]
			spath := fmt.Sprintf("%s.steps[%d]", npath, si)

			if stepIDs[step.ID] {
				diags = append(diags, Diagnostic{
					Code:     "ST-001",
					Severity: SeverityError,
					Message:  fmt.Sprintf("duplicate step ID %q", step.ID),
					Path:     spath + ".id",
				})
			}
			stepIDs[step.ID] = true

			diags = append(diags, validateLoop(step.LoopPolicy, step.LoopPrompt, step.MaxIterations,
				"ST", step.ID, spath)...)

			if step.Prompt == "" && len(step.PromptRefs) == 0 && !step.AwaitInput {
				diags = append(diags, Diagnostic{
					Code:     "ST-004",
					Severity: SeverityError,
					Message:  fmt.Sprintf("step %q has no prompt, prompt refs, or player input", step.ID),
					Path:     spath,
				})
			}

			if step.Parallel() && step.AwaitInput {
				diags = append(diags, Diagnostic{
					Code:     "ST-005",
					Severity: SeverityError,
					Message:  fmt.Sprintf("parallel step %q may not await player input", step.ID),
					Path:     spath + ".awaitInput",
				})
			}
		}
	}

	return diags
}

func validateLoop(policy LoopPolicy, loopPrompt string, maxIterations int, codePrefix, id, path string) []Diagnostic {
	if policy != LoopConditional {
		if loopPrompt != "" {
			return []Diagnostic{{
				Code:     codePrefix + "-010",
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("%q sets a loopPrompt but loopPolicy is not %q; it will be ignored", id, LoopConditional),
				Path:     path + ".loopPrompt",
			}}
		}
		return nil
	}

	var diags []Diagnostic
	if loopPrompt == "" {
		diags = append(diags, Diagnostic{
			Code:     codePrefix + "-002",
			Severity: SeverityError,
			Message:  fmt.Sprintf("%q has a conditional loop but no loopPrompt", id),
			Path:     path + ".loopPrompt",
		})
	}
	if maxIterations <= 0 {
		diags = append(diags, Diagnostic{
			Code:     codePrefix + "-003",
			Severity: SeverityError,
			Message:  fmt.Sprintf("%q has a conditional loop but no positive maxIterations", id),
			Path:     path + ".maxIterations",
		})
	}
	return diags
}

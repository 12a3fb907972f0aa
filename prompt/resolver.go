package prompt

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// Separator joins resolved fragments into the final system prompt.
const Separator = "\n\n"

// Resolver assembles an ordered list of fragment identifiers plus template
// variables into one formatted system prompt string.
type Resolver struct {
	library Library
}

// NewResolver creates a resolver over the given library.
func NewResolver(library Library) *Resolver {
	return &Resolver{library: library}
}

// Resolve looks up each fragment in caller order, applies template variables
// to its content, and joins the results with the fixed separator. Fragments
// with a known kind are rendered under their section header; a header is
// emitted once per consecutive run of the same kind.
//
// Resolution fails on the first unknown identifier rather than skipping it.
func (r *Resolver) Resolve(ids []string, vars map[string]any) (string, error) {
	var parts []string
	var lastKind FragmentKind

	for _, id := range ids {
		frag, err := r.library.ResolveFragment(id)
		if err != nil {
			return "", err
		}

		content, err := expand(id, frag.Content, vars)
		if err != nil {
			return "", err
		}

		if frag.Kind != "" && frag.Kind != lastKind {
			parts = append(parts, frag.Kind.Header())
		}
		lastKind = frag.Kind
		parts = append(parts, content)
	}

	return strings.Join(parts, Separator), nil
}

// expand applies Go template substitution to fragment content. Missing keys
// fail the resolution: a silently empty substitution changes model behavior
// the same way a missing fragment does.
func expand(id, content string, vars map[string]any) (string, error) {
	if !strings.Contains(content, "{{") {
		return content, nil
	}

	tmpl, err := template.New(id).Option("missingkey=error").Parse(content)
	if err != nil {
		return "", fmt.Errorf("fragment %q: invalid template: %w", id, err)
	}

	data := vars
	if data == nil {
		data = map[string]any{}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("fragment %q: template execution: %w", id, err)
	}
	return buf.String(), nil
}

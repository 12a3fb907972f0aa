package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fable-labs/fableflow/core"
	"github.com/fable-labs/fableflow/prompt"
	"github.com/fable-labs/fableflow/script"
)

// defaultPlaceholder is the user turn sent when a step involves no player
// input: a system-initiated nudge that makes the model act on its prompt.
const defaultPlaceholder = "Continue."

// stepExecutor runs exactly one step to completion, including its loop.
// One instance is shared by all steps of a run; it carries no per-step state.
type stepExecutor struct {
	client   core.ModelClient
	resolver *prompt.Resolver // nil when no prompt library is wired
	store    *ContextStore
	world    *WorldState
	retry    core.RetryPolicy
	call     core.CallOptions
	emit     EventEmitter
	input    <-chan string
	logger   *slog.Logger
	progress *progress
	elapsed  func() time.Duration
}

// run executes the step: resolve the prompt, invoke the model, commit the
// reply, then evaluate the step's loop predicate. It repeats while the loop
// condition is unmet and the iteration count is below maxIterations.
func (e *stepExecutor) run(ctx context.Context, node *script.Node, st *script.Step) error {
	iteration := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		e.emit(NewEvent(EventStepStarted, "").
			WithStep(node.ID, st.ID).
			WithElapsed(e.elapsed()).
			WithPayload("iteration", iteration+1))

		if err := e.runOnce(ctx, node, st); err != nil {
			return err
		}

		iteration++
		e.progress.recordStep(node.ID, st.ID, iteration)

		if !st.Loops() {
			return nil
		}

		if iteration >= st.MaxIterations {
			e.logger.Warn("step loop bound exceeded",
				"node", node.ID, "step", st.ID, "iterations", iteration)
			e.emit(NewEvent(EventLoopBoundExceeded, "").
				WithStep(node.ID, st.ID).
				WithElapsed(e.elapsed()).
				WithPayload("scope", "step").
				WithPayload("iterations", iteration))
			return nil
		}

		met, err := e.judgeCondition(ctx, node.ID, st.ID, st.LoopPrompt, e.callOptions(st))
		if err != nil {
			return err
		}
		if met {
			return nil
		}

		e.emit(NewEvent(EventLoopIterated, "").
			WithStep(node.ID, st.ID).
			WithElapsed(e.elapsed()).
			WithPayload("scope", "step").
			WithPayload("count", iteration))
	}
}

// runOnce performs a single iteration of the step body.
func (e *stepExecutor) runOnce(ctx context.Context, node *script.Node, st *script.Step) error {
	system, err := e.systemPrompt(st)
	if err != nil {
		return fmt.Errorf("step %s: %w", st.ID, err)
	}

	var conversation []core.Message
	if st.UseContext {
		conversation = e.store.Conversation()
	}

	inputTurn := st.Placeholder
	if inputTurn == "" {
		inputTurn = defaultPlaceholder
	}

	if st.AwaitInput {
		text, err := e.awaitPlayerInput(ctx, node, st)
		if err != nil {
			return err
		}
		e.store.Append(ContextEntry{
			Role:   core.RolePlayer,
			Text:   text,
			NodeID: node.ID,
			StepID: st.ID,
		})
		inputTurn = text
	}

	req := core.CompletionRequest{
		System:       system,
		Conversation: conversation,
		Input:        inputTurn,
		Options:      e.callOptions(st),
	}

	resp, err := completeWithRetry(ctx, e.client, req, e.retry, e.logger)
	if err != nil {
		return fmt.Errorf("step %s: %w", st.ID, err)
	}

	e.store.Append(ContextEntry{
		Role:   core.RoleAI,
		Text:   resp.Text,
		NodeID: node.ID,
		StepID: st.ID,
	})

	if st.StoreAs != "" {
		e.world.Set(st.StoreAs, resp.Text)
	}

	if st.SaveTo != "" {
		if err := os.WriteFile(st.SaveTo, []byte(resp.Text), 0o600); err != nil {
			return fmt.Errorf("step %s: saving reply: %w", st.ID, err)
		}
	}

	e.emit(NewEvent(EventStepCompleted, "").
		WithStep(node.ID, st.ID).
		WithElapsed(e.elapsed()).
		WithPayload("text", resp.Text))

	return nil
}

// awaitPlayerInput emits an input request and blocks the step (never the
// caller's thread) until the player submits input or the run is canceled.
func (e *stepExecutor) awaitPlayerInput(ctx context.Context, node *script.Node, st *script.Step) (string, error) {
	promptText := st.InputPrompt
	if promptText == "" {
		promptText = "Your move:"
	}

	e.emit(NewEvent(EventInputRequested, "").
		WithStep(node.ID, st.ID).
		WithElapsed(e.elapsed()).
		WithPayload("prompt", promptText))

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case text := <-e.input:
		return text, nil
	}
}

// systemPrompt assembles the step's system prompt: the static prompt text
// first, then resolved library fragments, then the contents of the step's
// reference file, joined with the fixed separator.
func (e *stepExecutor) systemPrompt(st *script.Step) (string, error) {
	var parts []string
	if st.Prompt != "" {
		parts = append(parts, st.Prompt)
	}

	if len(st.PromptRefs) > 0 {
		if e.resolver == nil {
			return "", fmt.Errorf("step references prompt fragments but no library is configured")
		}
		resolved, err := e.resolver.Resolve(st.PromptRefs, e.templateVars())
		if err != nil {
			return "", err
		}
		parts = append(parts, resolved)
	}

	if st.ReadFrom != "" {
		data, err := os.ReadFile(st.ReadFrom) // #nosec G304 -- path from the authored workflow
		if err != nil {
			return "", fmt.Errorf("reading reference file: %w", err)
		}
		parts = append(parts, "### Reference ###"+prompt.Separator+string(data))
	}

	return strings.Join(parts, prompt.Separator), nil
}

// templateVars exposes world attributes plus the most recent AI reply to
// fragment templates.
func (e *stepExecutor) templateVars() map[string]any {
	vars := e.world.Snapshot()
	entries := e.store.Snapshot()
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Role == core.RoleAI {
			vars["last_reply"] = entries[i].Text
			break
		}
	}
	return vars
}

// callOptions merges the session defaults with per-step overrides.
func (e *stepExecutor) callOptions(st *script.Step) core.CallOptions {
	opts := e.call
	if st.Model != "" {
		opts.Model = st.Model
	}
	if st.Temperature != nil {
		opts.Temperature = st.Temperature
	}
	if st.MaxTokens != nil {
		opts.MaxTokens = st.MaxTokens
	}
	return opts
}

// judgeCondition issues a dedicated judgment call: the loop prompt plus the
// current context snapshot, interpreted under the strict YES/NO grammar.
// The judgment runs with the same call options as the body it judges, so a
// step pinned to a specific model judges with it too. An unparsable reply is
// a policy violation, logged and treated as met (non-continuation), never a
// fatal error.
func (e *stepExecutor) judgeCondition(ctx context.Context, nodeID, stepID, loopPrompt string, opts core.CallOptions) (bool, error) {
	req := core.CompletionRequest{
		System:       judgeSystemPrompt,
		Conversation: e.store.Conversation(),
		Input:        "Condition: " + loopPrompt,
		Options:      opts,
	}

	resp, err := completeWithRetry(ctx, e.client, req, e.retry, e.logger)
	if err != nil {
		return false, fmt.Errorf("loop judgment: %w", err)
	}

	met, ok := parseJudgment(resp.Text)
	if !ok {
		e.logger.Warn("unparsable loop judgment reply, stopping loop",
			"node", nodeID, "step", stepID, "reply", resp.Text)
		ev := NewEvent(EventPolicyViolation, "").
			WithElapsed(e.elapsed()).
			WithPayload("reply", resp.Text)
		if stepID != "" {
			ev = ev.WithStep(nodeID, stepID)
		} else {
			ev = ev.WithNode(nodeID)
		}
		e.emit(ev)
		return true, nil
	}
	return met, nil
}

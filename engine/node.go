package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fable-labs/fableflow/script"
)

// progress tracks loop iteration counts across nodes and steps. Executors
// record into it concurrently during parallel batches; the runner snapshots
// it into each RunState capture.
type progress struct {
	mu    sync.Mutex
	nodes map[string]int
	steps map[string]int
}

func newProgress() *progress {
	return &progress{
		nodes: make(map[string]int),
		steps: make(map[string]int),
	}
}

func (p *progress) recordNode(nodeID string, iterations int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nodes[nodeID] = iterations
}

func (p *progress) nodeIterations(nodeID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nodes[nodeID]
}

func (p *progress) recordStep(nodeID, stepID string, iterations int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps[nodeID+"/"+stepID] = iterations
}

func (p *progress) snapshot() (nodes, steps map[string]int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	nodes = make(map[string]int, len(p.nodes))
	for k, v := range p.nodes {
		nodes[k] = v
	}
	steps = make(map[string]int, len(p.steps))
	for k, v := range p.steps {
		steps[k] = v
	}
	return nodes, steps
}

func (p *progress) restore(nodes, steps map[string]int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, v := range nodes {
		p.nodes[k] = v
	}
	for k, v := range steps {
		p.steps[k] = v
	}
}

// nodeExecutor runs one node: its step batches, then its loop predicate.
type nodeExecutor struct {
	steps *stepExecutor

	// afterBatch is called after each batch commits. stepIndex is the index
	// of the first step of the NEXT batch within the node (len(node.Steps)
	// when the node body just finished). Returning an error aborts the node;
	// the sentinel errSuspendRequested pauses the run at this boundary.
	afterBatch func(stepIndex int) error
}

// run executes the node from resumeStep (index into node.Steps, 0 on a fresh
// entry) and then evaluates the node-level loop. The iteration count is
// seeded from recorded progress so a session suspended inside a later loop
// pass resumes with the bound intact. Snapshots count completed passes only:
// a cursor taken inside pass N carries N-1, and completing the interrupted
// body (or skipping it entirely when the cursor sits at the pass boundary)
// re-counts pass N exactly once.
func (x *nodeExecutor) run(ctx context.Context, node *script.Node, resumeStep int) error {
	iteration := x.steps.progress.nodeIterations(node.ID)

	for {
		if err := x.runBody(ctx, node, resumeStep); err != nil {
			return err
		}
		resumeStep = 0

		iteration++
		x.steps.progress.recordNode(node.ID, iteration)

		if !node.Loops() {
			return nil
		}

		if iteration >= node.MaxIterations {
			x.steps.logger.Warn("node loop bound exceeded",
				"node", node.ID, "iterations", iteration)
			x.steps.emit(NewEvent(EventLoopBoundExceeded, "").
				WithNode(node.ID).
				WithElapsed(x.steps.elapsed()).
				WithPayload("scope", "node").
				WithPayload("iterations", iteration))
			return nil
		}

		met, err := x.steps.judgeCondition(ctx, node.ID, "", node.LoopPrompt, x.steps.call)
		if err != nil {
			return err
		}
		if met {
			return nil
		}

		x.steps.emit(NewEvent(EventLoopIterated, "").
			WithNode(node.ID).
			WithElapsed(x.steps.elapsed()).
			WithPayload("scope", "node").
			WithPayload("count", iteration))
	}
}

// runBody executes one pass over the node's steps, batch by batch.
func (x *nodeExecutor) runBody(ctx context.Context, node *script.Node, resumeStep int) error {
	offset := 0
	for _, batch := range node.Batches() {
		next := offset + len(batch)
		if next <= resumeStep {
			// Batch completed before the snapshot was taken.
			offset = next
			continue
		}

		if err := x.runBatch(ctx, node, batch); err != nil {
			return err
		}
		offset = next

		if x.afterBatch != nil {
			if err := x.afterBatch(offset); err != nil {
				return err
			}
		}
	}
	return nil
}

// runBatch executes one batch: a single sequential step, or a group of
// consecutive parallel steps run concurrently. The first failure cancels the
// remaining siblings; context entries already committed by siblings stay.
func (x *nodeExecutor) runBatch(ctx context.Context, node *script.Node, batch []*script.Step) error {
	if len(batch) == 1 {
		return x.steps.run(ctx, node, batch[0])
	}

	groupCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make([]error, len(batch))
	for i, st := range batch {
		wg.Add(1)
		go func(i int, st *script.Step) {
			defer wg.Done()
			if err := x.steps.run(groupCtx, node, st); err != nil {
				errs[i] = err
				cancel()
			}
		}(i, st)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	// Prefer the originating failure over cancellations it caused in siblings.
	var first error
	for i, err := range errs {
		if err == nil {
			continue
		}
		wrapped := fmt.Errorf("parallel step %s: %w", batch[i].ID, err)
		if !errors.Is(err, context.Canceled) {
			return wrapped
		}
		if first == nil {
			first = wrapped
		}
	}
	return first
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fable-labs/fableflow/core"
	"github.com/fable-labs/fableflow/prompt"
	"github.com/fable-labs/fableflow/script"
)

// RunnerState is the lifecycle state of a Runner.
type RunnerState string

const (
	// StateIdle means the runner has been created but not started.
	StateIdle RunnerState = "idle"

	// StateRunning means the session is executing.
	StateRunning RunnerState = "running"

	// StateSuspended means the session paused at a committed step boundary
	// and can be resumed from its last snapshot.
	StateSuspended RunnerState = "suspended"

	// StateCompleted means the final node finished.
	StateCompleted RunnerState = "completed"

	// StateFailed means an unrecoverable error ended the session.
	StateFailed RunnerState = "failed"
)

// errSuspendRequested aborts execution at the next committed boundary.
var errSuspendRequested = errors.New("suspend requested")

// ErrNotAcceptingInput is returned by SubmitInput when the runner is not
// running or an input is already queued.
var ErrNotAcceptingInput = errors.New("runner is not accepting input")

// Config carries the dependencies and tunables for a Runner. Client is
// required; everything else has a usable default.
type Config struct {
	// Client is the model backend all steps and loop judgments call.
	Client core.ModelClient

	// Library resolves prompt fragment references. Optional; steps that
	// reference fragments fail when it is absent.
	Library prompt.Library

	// Retry governs model-call retries. Zero value means core defaults.
	Retry core.RetryPolicy

	// Call holds the session-wide model call defaults. Steps may override
	// model, temperature and token limit individually.
	Call core.CallOptions

	// Saves persists RunState snapshots. Optional; without it the session
	// is not resumable.
	Saves SaveStore

	// AutosaveSlot is the slot written at every committed boundary.
	// Defaults to "autosave" when Saves is set.
	AutosaveSlot string

	// Handler receives every event in addition to the Events channel.
	// Optional; use MultiEventHandler to fan out.
	Handler EventHandler

	// Publisher receives every event for external distribution, typically
	// a bus.EventBus. Optional.
	Publisher EventPublisher

	// EmitterDecorator wraps the run's emitter so integrations can annotate
	// events in flight before delivery (otel.EmitterDecorator stamps trace
	// and span IDs). Optional.
	EmitterDecorator EventEmitterDecorator

	// Logger receives structured engine logs. Defaults to slog.Default().
	Logger *slog.Logger

	// EventBuffer is the Events channel capacity. Events are dropped when
	// the consumer falls behind. Defaults to 256.
	EventBuffer int
}

// Runner executes one workflow session. A Runner is single-use: create one
// per session, start it once (fresh or from a snapshot), and read its Events
// channel until it closes.
type Runner struct {
	workflow *script.Workflow
	client   core.ModelClient
	resolver *prompt.Resolver
	retry    core.RetryPolicy
	call     core.CallOptions
	saves     SaveStore
	slot      string
	handler   EventHandler
	publisher EventPublisher
	logger    *slog.Logger

	store    *ContextStore
	world    *WorldState
	progress *progress
	seq      *seqGen

	// emit is the decorated emitter chain ending at deliver.
	emit EventEmitter

	events chan Event
	input  chan string

	// emitMu makes sequence assignment and fan-out atomic together, so
	// events reach the channel, handler and publisher in Seq order even
	// when parallel steps emit concurrently.
	emitMu sync.Mutex

	mu        sync.Mutex
	state     RunnerState
	runErr    error
	runID     string
	cancel    context.CancelFunc
	suspend   bool
	lastSaved *RunState
	started   time.Time
	done      chan struct{}
}

// NewRunner creates a runner for one session over the given workflow.
func NewRunner(wf *script.Workflow, cfg Config) (*Runner, error) {
	if wf == nil {
		return nil, errors.New("engine: workflow is required")
	}
	if len(wf.Nodes) == 0 {
		return nil, fmt.Errorf("engine: workflow %s has no nodes", wf.ID)
	}
	if cfg.Client == nil {
		return nil, errors.New("engine: model client is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = core.DefaultRetryPolicy()
	}
	slot := cfg.AutosaveSlot
	if slot == "" {
		slot = "autosave"
	}
	buffer := cfg.EventBuffer
	if buffer <= 0 {
		buffer = 256
	}

	var resolver *prompt.Resolver
	if cfg.Library != nil {
		resolver = prompt.NewResolver(cfg.Library)
	}

	r := &Runner{
		workflow:  wf,
		client:    cfg.Client,
		resolver:  resolver,
		retry:     retry,
		call:      cfg.Call,
		saves:     cfg.Saves,
		slot:      slot,
		handler:   cfg.Handler,
		publisher: cfg.Publisher,
		logger:    logger.With("workflow", wf.ID),
		store:     NewContextStore(),
		world:     NewWorldState(),
		progress:  newProgress(),
		seq:       newSeqGen(),
		events:    make(chan Event, buffer),
		input:     make(chan string, 1),
		state:     StateIdle,
		done:      make(chan struct{}),
	}

	r.emit = r.deliver
	if cfg.EmitterDecorator != nil {
		r.emit = cfg.EmitterDecorator(r.emit)
	}
	return r, nil
}

// Events returns the channel delivering the run's events in sequence order.
// The channel is closed when the runner reaches a terminal state.
func (r *Runner) Events() <-chan Event {
	return r.events
}

// State returns the current lifecycle state.
func (r *Runner) State() RunnerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Err returns the error that ended the session, if the state is Failed.
func (r *Runner) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runErr
}

// RunID returns the session's unique identifier, set on Start or Resume.
func (r *Runner) RunID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runID
}

// Snapshot returns the last committed RunState, or nil before the first
// boundary. The returned state must be treated as read-only.
func (r *Runner) Snapshot() *RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSaved
}

// Transcript returns a copy of the session transcript accumulated so far,
// including turns after the last committed boundary.
func (r *Runner) Transcript() []ContextEntry {
	return r.store.Snapshot()
}

// Wait blocks until the runner reaches a terminal state.
func (r *Runner) Wait() {
	<-r.done
}

// Start begins a fresh session at the workflow's entry node.
func (r *Runner) Start(ctx context.Context) error {
	return r.begin(ctx, nil)
}

// Resume continues a session from a persisted snapshot. The snapshot must
// belong to this runner's workflow.
func (r *Runner) Resume(ctx context.Context, rs *RunState) error {
	if rs == nil {
		return errors.New("engine: nil run state")
	}
	if rs.WorkflowID != r.workflow.ID {
		return &StateError{Message: fmt.Sprintf(
			"snapshot belongs to workflow %s, runner executes %s", rs.WorkflowID, r.workflow.ID)}
	}
	if rs.NodeIndex < 0 || rs.NodeIndex > len(r.workflow.Nodes) {
		return &StateError{Message: fmt.Sprintf("node index %d out of range", rs.NodeIndex)}
	}
	return r.begin(ctx, rs)
}

// Suspend requests a pause at the next committed step boundary. The current
// step finishes; its result is saved before the runner stops.
func (r *Runner) Suspend() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateRunning {
		r.suspend = true
	}
}

// Cancel stops the run as soon as possible. In-flight model calls are
// abandoned; the session remains resumable from the last committed snapshot.
func (r *Runner) Cancel() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// SubmitInput hands a player turn to the step waiting for it. It never
// blocks: if no input slot is free, ErrNotAcceptingInput is returned.
func (r *Runner) SubmitInput(text string) error {
	if r.State() != StateRunning {
		return ErrNotAcceptingInput
	}
	select {
	case r.input <- text:
		return nil
	default:
		return ErrNotAcceptingInput
	}
}

func (r *Runner) begin(ctx context.Context, rs *RunState) error {
	r.mu.Lock()
	if r.state != StateIdle {
		r.mu.Unlock()
		return fmt.Errorf("engine: runner already started (state %s)", r.state)
	}

	if rs != nil {
		r.store.Restore(rs.Context)
		r.world.Restore(rs.World)
		r.progress.restore(rs.NodeIterations, rs.StepIterations)
		r.lastSaved = rs
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.runID = uuid.NewString()
	r.started = time.Now()
	r.state = StateRunning
	r.mu.Unlock()

	nodeIndex, stepIndex := r.workflow.EntryIndex(), 0
	if rs != nil {
		nodeIndex, stepIndex = rs.NodeIndex, rs.StepIndex
	}

	go r.work(runCtx, nodeIndex, stepIndex, rs != nil)
	return nil
}

// work is the session goroutine. All execution, event emission and state
// capture happen here (and in parallel-step goroutines it joins).
func (r *Runner) work(ctx context.Context, nodeIndex, stepIndex int, resumed bool) {
	defer close(r.done)
	defer close(r.events)
	defer r.Cancel()

	r.publish(NewEvent(EventRunStarted, "").
		WithPayload("workflow", r.workflow.ID).
		WithPayload("resumed", resumed))

	err := r.execute(ctx, nodeIndex, stepIndex)

	switch {
	case err == nil:
		r.setState(StateCompleted, nil)
		r.publish(NewEvent(EventRunCompleted, "").
			WithElapsed(r.elapsed()).
			WithPayload("turns", r.store.Len()))
		r.logger.Info("run completed", "run", r.runID, "elapsed", r.elapsed())

	case errors.Is(err, errSuspendRequested), errors.Is(err, context.Canceled):
		r.setState(StateSuspended, nil)
		r.publish(NewEvent(EventRunSuspended, "").WithElapsed(r.elapsed()))
		r.logger.Info("run suspended", "run", r.runID)

	default:
		r.setState(StateFailed, err)
		r.publish(NewEvent(EventRunFailed, "").
			WithElapsed(r.elapsed()).
			WithPayload("error", err.Error()))
		r.logger.Error("run failed", "run", r.runID, "error", err)
	}
}

func (r *Runner) execute(ctx context.Context, nodeIndex, stepIndex int) error {
	steps := &stepExecutor{
		client:   r.client,
		resolver: r.resolver,
		store:    r.store,
		world:    r.world,
		retry:    r.retry,
		call:     r.call,
		emit:     r.publish,
		input:    r.input,
		logger:   r.logger,
		progress: r.progress,
		elapsed:  r.elapsed,
	}

	for i := nodeIndex; i < len(r.workflow.Nodes); i++ {
		node := &r.workflow.Nodes[i]

		r.publish(NewEvent(EventNodeEntered, "").
			WithNode(node.ID).
			WithElapsed(r.elapsed()).
			WithPayload("name", node.Name))

		exec := &nodeExecutor{
			steps: steps,
			afterBatch: func(next int) error {
				return r.commit(i, next)
			},
		}

		resumeStep := 0
		if i == nodeIndex {
			resumeStep = stepIndex
		}

		if err := exec.run(ctx, node, resumeStep); err != nil {
			return err
		}

		r.publish(NewEvent(EventNodeCompleted, "").
			WithNode(node.ID).
			WithElapsed(r.elapsed()))

		if err := r.commit(i+1, 0); err != nil {
			return err
		}
	}
	return nil
}

// commit captures a RunState at a step boundary, autosaves it, and honors a
// pending suspend request. Boundaries are the only places the run can pause.
func (r *Runner) commit(nodeIndex, stepIndex int) error {
	nodes, steps := r.progress.snapshot()
	rs := &RunState{
		Version:        RunStateVersion,
		WorkflowID:     r.workflow.ID,
		NodeIndex:      nodeIndex,
		StepIndex:      stepIndex,
		NodeIterations: nodes,
		StepIterations: steps,
		Context:        r.store.Snapshot(),
		World:          r.world.Snapshot(),
	}

	r.mu.Lock()
	r.lastSaved = rs
	suspend := r.suspend
	r.mu.Unlock()

	if r.saves != nil {
		if err := r.saves.Save(r.slot, rs); err != nil {
			return fmt.Errorf("autosave: %w", err)
		}
	}

	if suspend {
		return errSuspendRequested
	}
	return nil
}

// publish stamps the run identity onto an event and hands it to the emitter
// chain (decorator, then deliver).
func (r *Runner) publish(ev Event) {
	ev.RunID = r.runID
	r.emit(ev)
}

// deliver assigns the event sequence and fans out to the Events channel, the
// configured handler and the external publisher.
func (r *Runner) deliver(ev Event) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	ev.Seq = r.seq.Next()

	select {
	case r.events <- ev:
	default:
		// Consumer fell behind; drop rather than stall the run.
	}
	if r.handler != nil {
		r.handler(ev)
	}
	if r.publisher != nil {
		r.publisher.Publish(ev)
	}
}

func (r *Runner) setState(s RunnerState, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
	r.runErr = err
}

func (r *Runner) elapsed() time.Duration {
	return time.Since(r.started)
}

package graph

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go-supervisor/internal/agents"
	"go-supervisor/internal/checkpoint"
	"go-supervisor/pkg/logger"
	"go-supervisor/pkg/models"
	"go-supervisor/pkg/payload"
	"go-supervisor/pkg/tools"
	"strings"
	"time"
)

const DefaultMaxSteps = 50

// SupervisorStep owns every transition of the SupervisorState.
type SupervisorStep interface {
	Step(ctx context.Context, state models.SupervisorState) (models.SupervisorState, error)
}

// Emitter receives the events of a run in execution order.
type Emitter func(models.Event)

type Options struct {
	MaxSteps       int
	RecursionLimit int
}

// Outcome is where a run stands after the driver committed a step.
type Outcome struct {
	Status  models.RunStatus
	Pending *models.ToolCall
	Result  *models.Result
}

func (o Outcome) Terminal() bool {
	return o.Status.Terminal()
}

// Driver executes runs one step at a time against a checkpoint store. It keeps
// no per-run state of its own, so one Driver serves any number of runs.
type Driver struct {
	supervisor SupervisorStep
	agents     *agents.Registry
	tools      *tools.Registry
	store      checkpoint.Store
	router     Router
	guard      Guard
	maxSteps   int
	newID      func() string
	now        func() time.Time
}

func New(supervisor SupervisorStep, registry *agents.Registry, toolbox *tools.Registry, store checkpoint.Store, opts Options) *Driver {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	return &Driver{
		supervisor: supervisor,
		agents:     registry,
		tools:      toolbox,
		store:      store,
		router:     NewRouter(registry.Names()...),
		guard:      NewGuard(opts.RecursionLimit),
		maxSteps:   opts.MaxSteps,
		newID:      uuid.NewString,
		now:        time.Now,
	}
}

// Start validates a submission and commits the initial checkpoint of a run.
// An empty runID gets a generated one.
func (d *Driver) Start(ctx context.Context, runID, task, contextID string, metadata payload.Map) (models.Checkpoint, error) {
	if strings.TrimSpace(task) == "" {
		return models.Checkpoint{}, models.NewRunError(models.CodeInvalidRequest, "task must not be empty", nil)
	}
	if _, err := payload.Normalize(map[string]any(metadata)); err != nil {
		return models.Checkpoint{}, models.NewRunError(models.CodeInvalidRequest, "invalid context metadata", err)
	}
	if runID == "" {
		runID = d.newID()
	}
	now := d.now()
	cp := models.Checkpoint{
		RunID:     runID,
		State:     models.NewGraphState(runID, contextID, task, metadata),
		Status:    models.RunRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := d.store.Create(ctx, cp)
	if errors.Is(err, checkpoint.ErrExists) {
		return models.Checkpoint{}, models.NewRunError(models.CodeInvalidRequest, fmt.Sprintf("run %q already exists", runID), nil)
	}
	if err != nil {
		return models.Checkpoint{}, fmt.Errorf("create checkpoint: %w", err)
	}
	logger.ForRun(runID).Info().Msg("run started")
	return cp, nil
}

// Inspect returns the last committed checkpoint of a run.
func (d *Driver) Inspect(ctx context.Context, runID string) (models.Checkpoint, error) {
	return d.load(ctx, runID)
}

// Run steps until the run finishes or suspends. Cancellation is only observed
// between steps and aborts the run.
func (d *Driver) Run(ctx context.Context, runID string, emit Emitter) (Outcome, error) {
	for {
		if ctx.Err() != nil {
			return d.Abort(context.WithoutCancel(ctx), runID, emit)
		}
		out, err := d.Step(ctx, runID, emit)
		if err != nil {
			return out, err
		}
		if out.Status != models.RunRunning {
			return out, nil
		}
	}
}

// Step routes, executes one node, commits the new checkpoint and then emits
// exactly one event for it. Fatal run errors end the run with an ERROR final
// event and are not returned; returned errors mean the step did not happen.
func (d *Driver) Step(ctx context.Context, runID string, emit Emitter) (Outcome, error) {
	cp, err := d.load(ctx, runID)
	if err != nil {
		return Outcome{}, err
	}
	switch {
	case cp.Status.Terminal():
		return outcomeOf(cp), models.ErrRunTerminal
	case cp.Status == models.RunSuspended:
		return outcomeOf(cp), nil
	}

	node, err := d.router.Route(cp.State.Supervisor)
	if err != nil {
		return d.fail(ctx, cp, err, emit)
	}
	l := logger.ForRun(runID).With().Str(logger.NodeField, node.Name).Int(logger.StepField, cp.Steps+1).Logger()
	if !node.Terminal() && cp.Steps >= d.maxSteps {
		return d.fail(ctx, cp, models.NewRunError(models.CodeStepLimit, fmt.Sprintf("run exceeded %d steps", d.maxSteps), nil), emit)
	}

	switch node.Kind {
	case KindFinalizer, KindEscalation:
		return d.finish(ctx, cp, node, emit, l)
	case KindSupervisor:
		return d.supervise(ctx, cp, emit, l)
	default:
		return d.act(ctx, cp, node.Name, emit, l)
	}
}

// Resume records the reply to the pending interactive tool call and makes the
// run runnable again. It commits no step and emits nothing.
func (d *Driver) Resume(ctx context.Context, runID string, reply models.ToolReply) (Outcome, error) {
	cp, err := d.suspended(ctx, runID, reply.ToolCallID)
	if err != nil {
		return outcomeOf(cp), err
	}
	value, err := payload.Normalize(reply.Value)
	if err != nil {
		return outcomeOf(cp), models.NewRunError(models.CodeInvalidRequest, "invalid tool reply value", err)
	}

	next := cp.Clone()
	settle(&next.State.Agent, models.ToolCompleted, value, "")
	next.Status = models.RunRunning
	if err := d.commit(ctx, &next); err != nil {
		return outcomeOf(cp), err
	}
	logger.ForRun(runID).Info().Str(logger.ToolCallIDField, reply.ToolCallID).Msg("tool reply received")
	return outcomeOf(next), nil
}

// Expire fails the pending interactive tool call of a run that got no reply in
// time and hands control back to the supervisor.
func (d *Driver) Expire(ctx context.Context, runID, toolCallID string, emit Emitter) (Outcome, error) {
	cp, err := d.suspended(ctx, runID, toolCallID)
	if err != nil {
		return outcomeOf(cp), err
	}

	next := cp.Clone()
	pending := next.State.Agent.Pending.Clone()
	settle(&next.State.Agent, models.ToolTimedOut, nil, "no reply before timeout")
	instructions := fmt.Sprintf("The %s request %s got no reply before the timeout; retry or re-plan.", pending.Tool, pending.ID)
	summary := models.AgentSummary{
		AgentName:                     pending.Agent,
		StepID:                        pending.StepID,
		Result:                        models.ResultFailed,
		ShortSummary:                  fmt.Sprintf("%s timed out", pending.Tool),
		KeyDecisions:                  []string{},
		NextInstructionsForSupervisor: instructions,
	}
	logger.ForRun(runID).Warn().Str(logger.ToolCallIDField, toolCallID).Msg("tool call timed out")
	return d.handoff(ctx, next, pending.Agent, summary, emit)
}

// Abort ends a run that has not finished yet. Its last state stays inspectable.
func (d *Driver) Abort(ctx context.Context, runID string, emit Emitter) (Outcome, error) {
	cp, err := d.load(ctx, runID)
	if err != nil {
		return Outcome{}, err
	}
	if cp.Status.Terminal() {
		return outcomeOf(cp), models.ErrRunTerminal
	}

	next := cp.Clone()
	result := models.Result{
		Status:          models.FinalAborted,
		Output:          "Run aborted before completion.",
		RunID:           runID,
		SupervisorState: cp.State.Supervisor.Clone(),
	}
	next.Status = models.RunAborted
	next.Result = &result
	if err := d.commit(ctx, &next); err != nil {
		return outcomeOf(cp), err
	}
	logger.ForRun(runID).Info().Msg("run aborted")
	publish(emit, models.NewFinalEvent(result))
	return outcomeOf(next), nil
}

func (d *Driver) finish(ctx context.Context, cp models.Checkpoint, node NodeRef, emit Emitter, l zerolog.Logger) (Outcome, error) {
	var (
		result models.Result
		status models.RunStatus
		err    error
	)
	if node.Kind == KindFinalizer {
		result, err = Finalize(cp.RunID, cp.State.Supervisor)
		status = models.RunDone
	} else {
		result, err = Escalate(cp.RunID, cp.State.Supervisor)
		status = models.RunEscalated
	}
	if err != nil {
		return d.fail(ctx, cp, err, emit)
	}

	next := cp.Clone()
	next.Steps++
	next.Status = status
	next.Result = &result
	if err := d.commit(ctx, &next); err != nil {
		return outcomeOf(cp), err
	}
	l.Info().Str(logger.StatusField, string(result.Status)).Msg("run finished")
	publish(emit, models.NewFinalEvent(result))
	return outcomeOf(next), nil
}

func (d *Driver) supervise(ctx context.Context, cp models.Checkpoint, emit Emitter, l zerolog.Logger) (Outcome, error) {
	prev := cp.State.Supervisor
	state, err := d.supervisor.Step(ctx, prev.Clone())
	if err != nil {
		return d.fail(ctx, cp, err, emit)
	}
	if err := checkTransition(prev, state); err != nil {
		return d.fail(ctx, cp, err, emit)
	}

	next := cp.Clone()
	next.State.Supervisor = state
	if state.ActiveAgent != "" {
		// every dispatch starts the agent on a clean scratch state
		next.State.Agent = models.NewAgentState()
	}
	next.Steps++
	if err := d.commit(ctx, &next); err != nil {
		return outcomeOf(cp), err
	}
	l.Info().Str(logger.StatusField, string(state.Status)).Str(logger.AgentNameField, state.ActiveAgent).Msg("supervisor step committed")
	publish(emit, models.NewStatusUpdate(SupervisorNode.Name, state, next.Steps))
	return outcomeOf(next), nil
}

func (d *Driver) act(ctx context.Context, cp models.Checkpoint, name string, emit Emitter, l zerolog.Logger) (Outcome, error) {
	agent, _ := d.agents.Get(name)
	todo, owned := models.SelectToDo(cp.State.Supervisor.Plan, name)
	next := cp.Clone()

	if _, err := d.guard.Check(name, next.State.Agent); err != nil {
		var limitErr *models.RecursionLimitError
		errors.As(err, &limitErr)
		l.Warn().Err(err).Msg("recursion guard refused agent step")
		return d.handoff(ctx, next, name, d.guard.Synthesize(name, todo.ID, limitErr), emit)
	}

	in := agents.Input{State: next.State.Agent.Clone()}
	if owned {
		in.ToDo = &todo
	}
	action, err := agent.Act(ctx, in)
	if err != nil {
		return d.fail(ctx, cp, models.NewRunError(models.CodeInternal, "agent "+name, err), emit)
	}
	if (action.Summary == nil) == (action.ToolCall == nil) {
		return d.fail(ctx, cp, models.NewRunError(models.CodeInternal,
			fmt.Sprintf("agent %s must return exactly one of a tool call or a summary", name), nil), emit)
	}

	next.State.Agent.Messages = next.State.Agent.Messages.Add(action.Messages...)
	if len(action.Scratchpad) > 0 {
		merged, err := next.State.Agent.Scratchpad.Merge(action.Scratchpad)
		if err != nil {
			return d.fail(ctx, cp, models.NewRunError(models.CodeInternal, "agent "+name+" scratchpad", err), emit)
		}
		next.State.Agent.Scratchpad = merged
	}

	if action.Summary != nil {
		summary := action.Summary.Clone()
		summary.AgentName = name
		if summary.StepID == "" {
			summary.StepID = todo.ID
		}
		if summary.KeyDecisions == nil {
			summary.KeyDecisions = []string{}
		}
		if !summary.Result.Valid() {
			return d.fail(ctx, cp, models.NewRunError(models.CodeInternal,
				fmt.Sprintf("agent %s returned result %q", name, summary.Result), nil), emit)
		}
		l.Info().Str(logger.ToDoField, summary.StepID).Str(logger.StatusField, string(summary.Result)).Msg("agent summary")
		return d.handoff(ctx, next, name, summary, emit)
	}
	return d.call(ctx, next, name, todo.ID, action.ToolCall.Clone(), emit, l)
}

// call executes or suspends on one tool call. Either way it counts toward the
// agent's recursion depth.
func (d *Driver) call(ctx context.Context, next models.Checkpoint, name, stepID string, call models.ToolCall, emit Emitter, l zerolog.Logger) (Outcome, error) {
	call.ID = d.newID()
	call.Agent = name
	call.StepID = stepID
	if call.Args == nil {
		call.Args = payload.Map{}
	}
	call.Interactive = d.tools.Interactive(call.Tool)
	next.State.Agent = d.guard.Observe(next.State.Agent, true)
	next.Status = models.RunRunning

	event := models.ToolEvent{ToolCall: call.Clone(), Status: models.ToolRequested}
	if call.Interactive {
		if err := d.tools.Validate(call.Tool, call.Args); err != nil {
			event.Status = models.ToolFailed
			event.Error = err.Error()
		} else {
			pending := call.Clone()
			next.State.Agent.Pending = &pending
			next.Status = models.RunSuspended
		}
	} else {
		out, err := d.tools.Invoke(ctx, call.Tool, call.Args)
		if err != nil {
			event.Status = models.ToolFailed
			event.Error = err.Error()
		} else {
			event.Status = models.ToolCompleted
			event.Result = map[string]any(out)
		}
	}
	next.State.Agent.ToolEvents = append(next.State.Agent.ToolEvents, event)

	next.Steps++
	if err := d.commit(ctx, &next); err != nil {
		return Outcome{}, err
	}
	l.Info().
		Str(logger.ToolField, call.Tool).
		Str(logger.ToolCallIDField, call.ID).
		Str(logger.StatusField, string(event.Status)).
		Int("depth", next.State.Agent.RecursionDepth).
		Msg("tool call")
	publish(emit, models.NewToolCallEvent(call))
	return outcomeOf(next), nil
}

// handoff appends the summary to the history and returns control to the
// supervisor.
func (d *Driver) handoff(ctx context.Context, next models.Checkpoint, name string, summary models.AgentSummary, emit Emitter) (Outcome, error) {
	next.State.Supervisor = next.State.Supervisor.Handoff(summary)
	next.State.Agent = d.guard.Observe(next.State.Agent, false)
	next.State.Agent.Pending = nil
	next.Status = models.RunRunning
	next.Steps++
	if err := d.commit(ctx, &next); err != nil {
		return Outcome{}, err
	}
	publish(emit, models.NewStatusUpdate(name, next.State.Supervisor, next.Steps))
	return outcomeOf(next), nil
}

// Fail ends a run whose last step could not complete, so the ERROR final it
// emits is the only final of the run. Runs already finished are left alone.
func (d *Driver) Fail(ctx context.Context, runID string, cause error, emit Emitter) (Outcome, error) {
	cp, err := d.load(ctx, runID)
	if err != nil {
		return Outcome{}, err
	}
	if cp.Status.Terminal() {
		return outcomeOf(cp), models.ErrRunTerminal
	}
	return d.fail(context.WithoutCancel(ctx), cp, cause, emit)
}

// fail ends the run with a typed error. The checkpoint keeps the state of the
// last committed step.
func (d *Driver) fail(ctx context.Context, cp models.Checkpoint, cause error, emit Emitter) (Outcome, error) {
	if ctx.Err() != nil {
		return d.Abort(context.WithoutCancel(ctx), cp.RunID, emit)
	}
	detail := models.Detail(cause)
	logger.ForRun(cp.RunID).Error().Err(cause).Str(logger.CodeField, string(detail.Code)).Msg("run failed")

	next := cp.Clone()
	result := models.Result{
		Status:          models.FinalError,
		Output:          detail.Message,
		RunID:           cp.RunID,
		SupervisorState: cp.State.Supervisor.Clone(),
		Error:           detail,
	}
	next.Status = models.RunFailed
	next.Result = &result
	next.Error = detail
	if err := d.commit(ctx, &next); err != nil {
		return outcomeOf(cp), err
	}
	publish(emit, models.NewFinalEvent(result))
	return outcomeOf(next), nil
}

func (d *Driver) suspended(ctx context.Context, runID, toolCallID string) (models.Checkpoint, error) {
	cp, err := d.load(ctx, runID)
	if err != nil {
		return cp, err
	}
	if cp.Status.Terminal() {
		return cp, models.ErrRunTerminal
	}
	pending := cp.State.Agent.Pending
	if cp.Status != models.RunSuspended || pending == nil || pending.ID != toolCallID {
		return cp, models.NewRunError(models.CodeToolCallMismatch,
			fmt.Sprintf("run is not waiting for tool call %q", toolCallID), nil)
	}
	return cp, nil
}

func (d *Driver) load(ctx context.Context, runID string) (models.Checkpoint, error) {
	cp, err := d.store.Get(ctx, runID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return cp, models.ErrRunNotFound
	}
	if err != nil {
		return cp, fmt.Errorf("load checkpoint: %w", err)
	}
	return cp, nil
}

// commit persists even when the caller's context is already cancelled, so a
// step that ran is never lost.
func (d *Driver) commit(ctx context.Context, cp *models.Checkpoint) error {
	cp.UpdatedAt = d.now()
	if err := d.store.Put(context.WithoutCancel(ctx), *cp); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

// checkTransition rejects supervisor output that breaks the state invariants.
func checkTransition(prev, next models.SupervisorState) error {
	switch {
	case !next.Status.Valid():
		return models.NewRunError(models.CodeInternal, fmt.Sprintf("supervisor set invalid status %q", next.Status), nil)
	case prev.Status.Terminal() && next.Status != prev.Status:
		return models.NewRunError(models.CodeInternal, fmt.Sprintf("supervisor left terminal status %s", prev.Status), nil)
	case len(next.History) != len(prev.History):
		return models.NewRunError(models.CodeInternal, "supervisor rewrote the agent history", nil)
	}
	if err := models.ValidatePlan(next.Plan); err != nil {
		return models.NewRunError(models.CodePlanningFailure, "invalid plan", err)
	}
	return nil
}

// settle records the outcome of the pending tool call and clears it.
func settle(state *models.AgentState, status models.ToolEventStatus, result any, errMsg string) {
	id := state.Pending.ID
	for i := len(state.ToolEvents) - 1; i >= 0; i-- {
		if state.ToolEvents[i].ID == id {
			state.ToolEvents[i].Status = status
			state.ToolEvents[i].Result = result
			state.ToolEvents[i].Error = errMsg
			break
		}
	}
	state.Pending = nil
}

func outcomeOf(cp models.Checkpoint) Outcome {
	out := Outcome{Status: cp.Status, Result: cp.Result}
	if cp.State.Agent.Pending != nil {
		p := cp.State.Agent.Pending.Clone()
		out.Pending = &p
	}
	return out
}

func publish(emit Emitter, event models.Event) {
	if emit != nil {
		emit(event)
	}
}

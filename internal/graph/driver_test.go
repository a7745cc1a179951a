package graph

import (
	"context"
	"errors"
	"go-supervisor/internal/agents"
	"go-supervisor/internal/checkpoint"
	"go-supervisor/pkg/models"
	"go-supervisor/pkg/payload"
	"go-supervisor/pkg/tools"
	"testing"
)

type supervisorFunc func(ctx context.Context, s models.SupervisorState) (models.SupervisorState, error)

func (f supervisorFunc) Step(ctx context.Context, s models.SupervisorState) (models.SupervisorState, error) {
	return f(ctx, s)
}

type fakeAgent struct {
	name  string
	calls int
	act   func(in agents.Input) (agents.Action, error)
}

func (a *fakeAgent) Name() string {
	return a.name
}

func (a *fakeAgent) Act(_ context.Context, in agents.Input) (agents.Action, error) {
	a.calls++
	return a.act(in)
}

type recorder struct {
	events []models.Event
}

func (r *recorder) emit(e models.Event) {
	r.events = append(r.events, e)
}

func (r *recorder) types() []models.EventType {
	out := make([]models.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *recorder) final(t *testing.T) models.FinalData {
	t.Helper()
	if len(r.events) == 0 {
		t.Fatal("no events emitted")
	}
	finals := 0
	for _, e := range r.events {
		if e.Final() {
			finals++
		}
	}
	last := r.events[len(r.events)-1]
	if finals != 1 || !last.Final() {
		t.Fatalf("stream must end with exactly one final event, got %v", r.types())
	}
	return last.Data.(models.FinalData)
}

// planOne plans a single ToDo for owner, finishes when it completes and
// escalates on anything else.
func planOne(owner string) supervisorFunc {
	return func(_ context.Context, s models.SupervisorState) (models.SupervisorState, error) {
		if len(s.Plan) == 0 {
			s.Plan = []models.ToDo{{ID: "todo-001", Description: "work", Status: models.ToDoInProgress, OwnerAgent: owner}}
			s.ActiveAgent = owner
			return s, nil
		}
		last := s.History[len(s.History)-1]
		if last.Result == models.ResultCompleted {
			s.Plan[0].Status = models.ToDoDone
			s.Status = models.StatusDone
		} else {
			s.Status = models.StatusEscalate
			s.Notes = last.ShortSummary
		}
		return s, nil
	}
}

func setupDriver(t *testing.T, sup SupervisorStep, opts Options, list ...agents.Agent) (*Driver, checkpoint.Store) {
	t.Helper()
	registry, err := agents.NewRegistry(list...)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	store := checkpoint.NewMemory()
	return New(sup, registry, tools.Default(), store, opts), store
}

func start(t *testing.T, d *Driver, runID string) {
	t.Helper()
	if _, err := d.Start(context.Background(), runID, "write a report", "ctx-1", payload.Map{"user": "u1"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
}

func TestDriverRunToCompletion(t *testing.T) {
	worker := &fakeAgent{name: "worker", act: func(in agents.Input) (agents.Action, error) {
		if len(in.State.ToolEvents) == 0 {
			return agents.Call("web_search", payload.Map{"query": in.ToDo.Description}), nil
		}
		if in.State.ToolEvents[0].Status != models.ToolCompleted {
			t.Errorf("tool event not completed: %+v", in.State.ToolEvents[0])
		}
		return agents.Finish(models.AgentSummary{Result: models.ResultCompleted, ShortSummary: "searched"}), nil
	}}
	d, store := setupDriver(t, planOne("worker"), Options{}, worker)
	start(t, d, "run-1")

	rec := &recorder{}
	out, err := d.Run(context.Background(), "run-1", rec.emit)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.Status != models.RunDone || out.Result == nil || out.Result.Status != models.FinalDone {
		t.Fatalf("unexpected outcome %+v", out)
	}

	want := []models.EventType{
		models.EventStatusUpdate, // supervisor plans
		models.EventToolCall,     // worker searches
		models.EventStatusUpdate, // worker summary
		models.EventStatusUpdate, // supervisor finishes
		models.EventFinal,
	}
	got := rec.types()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
	final := rec.final(t)
	if final.Status != models.FinalDone || final.RunID != "run-1" {
		t.Errorf("final = %+v", final)
	}
	first := rec.events[0].Data.(models.StatusUpdate)
	if first.ActiveAgent == nil || *first.ActiveAgent != "worker" || first.Step != 1 {
		t.Errorf("first status update = %+v", first)
	}
	call := rec.events[1].Data.(models.ToolCallData)
	if call.Tool != "web_search" || call.ToolCallID == "" || call.Interactive {
		t.Errorf("tool call = %+v", call)
	}

	cp, _ := store.Get(context.Background(), "run-1")
	if cp.Status != models.RunDone || cp.Steps != 5 {
		t.Errorf("checkpoint status %s steps %d", cp.Status, cp.Steps)
	}
	if h := cp.State.Supervisor.History; len(h) != 1 || h[0].AgentName != "worker" || h[0].StepID != "todo-001" {
		t.Errorf("history = %+v", h)
	}

	// terminal states are never revisited
	again := &recorder{}
	if _, err := d.Step(context.Background(), "run-1", again.emit); !errors.Is(err, models.ErrRunTerminal) {
		t.Errorf("expected ErrRunTerminal, got %v", err)
	}
	if len(again.events) != 0 {
		t.Errorf("no events may follow the final event, got %v", again.types())
	}
}

func TestDriverNoWorkSummary(t *testing.T) {
	idle := &fakeAgent{name: "idle", act: func(in agents.Input) (agents.Action, error) {
		if in.ToDo != nil {
			t.Errorf("expected no owned ToDo, got %+v", in.ToDo)
		}
		return agents.NoWork("idle"), nil
	}}
	sup := supervisorFunc(func(_ context.Context, s models.SupervisorState) (models.SupervisorState, error) {
		if len(s.History) == 0 {
			s.ActiveAgent = "idle"
			return s, nil
		}
		s.Status = models.StatusEscalate
		s.Notes = s.History[0].ShortSummary
		return s, nil
	})
	d, _ := setupDriver(t, sup, Options{}, idle)
	start(t, d, "run-1")

	out, err := d.Run(context.Background(), "run-1", nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.Result.Reason != "no work found for idle" {
		t.Errorf("Reason = %q", out.Result.Reason)
	}
	if idle.calls != 1 {
		t.Errorf("agent invoked %d times, want 1", idle.calls)
	}
}

func TestDriverUnknownAgentKeepsLastGoodState(t *testing.T) {
	d, store := setupDriver(t, planOne("worker"), Options{}, &fakeAgent{name: "worker"})
	start(t, d, "run-1")

	ctx := context.Background()
	cp, _ := store.Get(ctx, "run-1")
	cp.State.Supervisor.ActiveAgent = "ghost_agent"
	cp.Steps = 3
	if err := store.Put(ctx, cp); err != nil {
		t.Fatal(err)
	}

	rec := &recorder{}
	out, err := d.Step(ctx, "run-1", rec.emit)
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if out.Status != models.RunFailed {
		t.Fatalf("status = %s, want failed", out.Status)
	}
	final := rec.final(t)
	if final.Status != models.FinalError || final.Error == nil || final.Error.Code != models.CodeUnknownAgent {
		t.Errorf("final = %+v", final)
	}

	got, _ := store.Get(ctx, "run-1")
	if got.State.Supervisor.ActiveAgent != "ghost_agent" || got.Steps != 3 {
		t.Errorf("checkpoint lost the last good state: %+v", got.State.Supervisor)
	}
	if got.Error == nil || got.Error.Code != models.CodeUnknownAgent {
		t.Errorf("checkpoint error = %+v", got.Error)
	}
}

func TestDriverRecursionBound(t *testing.T) {
	for _, limit := range []int{1, 3, 5} {
		looper := &fakeAgent{name: "looper", act: func(agents.Input) (agents.Action, error) {
			return agents.Call("web_search", payload.Map{"query": "again"}), nil
		}}
		d, _ := setupDriver(t, planOne("looper"), Options{RecursionLimit: limit}, looper)
		start(t, d, "run-1")

		out, err := d.Run(context.Background(), "run-1", nil)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if looper.calls != limit {
			t.Errorf("limit %d: agent invoked %d times", limit, looper.calls)
		}
		if out.Status != models.RunEscalated || out.Result.Reason != "RECURSION_LIMIT_EXCEEDED" {
			t.Errorf("limit %d: outcome %+v", limit, out)
		}
		if h := out.Result.SupervisorState.History; len(h) != 1 || h[0].Result != models.ResultFailed {
			t.Errorf("limit %d: history %+v", limit, h)
		}
	}
}

func TestDriverStepLimit(t *testing.T) {
	pingPong := supervisorFunc(func(_ context.Context, s models.SupervisorState) (models.SupervisorState, error) {
		s.ActiveAgent = "worker"
		return s, nil
	})
	worker := &fakeAgent{name: "worker", act: func(agents.Input) (agents.Action, error) {
		return agents.NoWork("worker"), nil
	}}
	d, _ := setupDriver(t, pingPong, Options{MaxSteps: 4}, worker)
	start(t, d, "run-1")

	rec := &recorder{}
	out, err := d.Run(context.Background(), "run-1", rec.emit)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	final := rec.final(t)
	if out.Status != models.RunFailed || final.Error == nil || final.Error.Code != models.CodeStepLimit {
		t.Errorf("final = %+v", final)
	}
	if len(rec.events) != 5 {
		t.Errorf("expected 4 steps and a final event, got %v", rec.types())
	}
}

func TestDriverPlanningFailure(t *testing.T) {
	failing := supervisorFunc(func(context.Context, models.SupervisorState) (models.SupervisorState, error) {
		return models.SupervisorState{}, models.NewRunError(models.CodePlanningFailure, "planner answer could not be used", nil)
	})
	d, store := setupDriver(t, failing, Options{}, &fakeAgent{name: "worker"})
	start(t, d, "run-1")

	rec := &recorder{}
	if _, err := d.Run(context.Background(), "run-1", rec.emit); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if final := rec.final(t); final.Error == nil || final.Error.Code != models.CodePlanningFailure {
		t.Errorf("final = %+v", final)
	}
	cp, _ := store.Get(context.Background(), "run-1")
	if cp.Status != models.RunFailed || cp.State.Supervisor.Status != models.StatusRunning || cp.Steps != 0 {
		t.Errorf("checkpoint = status %s supervisor %s steps %d", cp.Status, cp.State.Supervisor.Status, cp.Steps)
	}
}

func TestDriverRejectsSupervisorRewritingHistory(t *testing.T) {
	sup := supervisorFunc(func(_ context.Context, s models.SupervisorState) (models.SupervisorState, error) {
		s.History = append(s.History, models.AgentSummary{AgentName: "forged"})
		return s, nil
	})
	d, _ := setupDriver(t, sup, Options{}, &fakeAgent{name: "worker"})
	start(t, d, "run-1")

	out, err := d.Step(context.Background(), "run-1", nil)
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if out.Status != models.RunFailed || out.Result.Error.Code != models.CodeInternal {
		t.Errorf("outcome = %+v", out)
	}
}

func approvalAgent() *fakeAgent {
	return &fakeAgent{name: "worker", act: func(in agents.Input) (agents.Action, error) {
		if len(in.State.ToolEvents) == 0 {
			return agents.Call("show_options", payload.Map{"question": "Which format?", "options": []any{"markdown", "html"}}), nil
		}
		choice, _ := in.State.ToolEvents[0].Result.(string)
		return agents.Finish(models.AgentSummary{Result: models.ResultCompleted, ShortSummary: "chose " + choice}), nil
	}}
}

func TestDriverSuspendAndResume(t *testing.T) {
	worker := approvalAgent()
	d, store := setupDriver(t, planOne("worker"), Options{}, worker)
	start(t, d, "run-1")
	ctx := context.Background()

	rec := &recorder{}
	out, err := d.Run(ctx, "run-1", rec.emit)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.Status != models.RunSuspended || out.Pending == nil || !out.Pending.Interactive {
		t.Fatalf("expected a suspended run, got %+v", out)
	}
	last := rec.events[len(rec.events)-1].Data.(models.ToolCallData)
	if last.ToolCallID != out.Pending.ID || !last.Interactive {
		t.Errorf("tool_call event = %+v, pending %+v", last, out.Pending)
	}

	// routing does not advance while suspended
	before := len(rec.events)
	if out, _ := d.Step(ctx, "run-1", rec.emit); out.Status != models.RunSuspended || len(rec.events) != before {
		t.Fatalf("a suspended run must not advance")
	}

	_, err = d.Resume(ctx, "run-1", models.ToolReply{ToolCallID: "other", Value: "html"})
	if models.CodeOf(err) != models.CodeToolCallMismatch {
		t.Fatalf("expected TOOL_CALL_MISMATCH, got %v", err)
	}
	if _, err := d.Resume(ctx, "run-1", models.ToolReply{ToolCallID: out.Pending.ID, Value: "html"}); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	cp, _ := store.Get(ctx, "run-1")
	if cp.Status != models.RunRunning || cp.State.Agent.Pending != nil || cp.State.Agent.ToolEvents[0].Status != models.ToolCompleted {
		t.Fatalf("resume did not settle the tool call: %+v", cp.State.Agent)
	}

	out, err = d.Run(ctx, "run-1", rec.emit)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.Status != models.RunDone {
		t.Fatalf("status = %s", out.Status)
	}
	if got := out.Result.SupervisorState.History[0].ShortSummary; got != "chose html" {
		t.Errorf("summary = %q", got)
	}
	rec.final(t)
}

func TestDriverExpire(t *testing.T) {
	d, _ := setupDriver(t, planOne("worker"), Options{}, approvalAgent())
	start(t, d, "run-1")
	ctx := context.Background()

	out, _ := d.Run(ctx, "run-1", nil)
	if out.Pending == nil {
		t.Fatal("expected a pending tool call")
	}

	rec := &recorder{}
	if _, err := d.Expire(ctx, "run-1", "stale-id", rec.emit); models.CodeOf(err) != models.CodeToolCallMismatch {
		t.Fatalf("expected TOOL_CALL_MISMATCH for a stale id, got %v", err)
	}
	expired, err := d.Expire(ctx, "run-1", out.Pending.ID, rec.emit)
	if err != nil {
		t.Fatalf("Expire failed: %v", err)
	}
	if expired.Status != models.RunRunning || len(rec.events) != 1 || rec.events[0].Type != models.EventStatusUpdate {
		t.Fatalf("expire outcome %+v events %v", expired, rec.types())
	}

	final, err := d.Run(ctx, "run-1", rec.emit)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if final.Status != models.RunEscalated {
		t.Errorf("a timed out tool call is a FAILED summary, got %s", final.Status)
	}
	h := final.Result.SupervisorState.History
	if len(h) != 1 || h[0].Result != models.ResultFailed || h[0].StepID != "todo-001" {
		t.Errorf("history = %+v", h)
	}
}

func TestDriverInvalidInteractiveArgs(t *testing.T) {
	worker := &fakeAgent{name: "worker", act: func(in agents.Input) (agents.Action, error) {
		if len(in.State.ToolEvents) == 0 {
			return agents.Call("show_options", payload.Map{"question": "missing options"}), nil
		}
		return agents.Finish(models.AgentSummary{Result: models.ResultFailed, ShortSummary: in.State.ToolEvents[0].Error}), nil
	}}
	d, _ := setupDriver(t, planOne("worker"), Options{}, worker)
	start(t, d, "run-1")

	out, err := d.Run(context.Background(), "run-1", nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.Status != models.RunEscalated {
		t.Errorf("invalid UI arguments must not suspend the run, got %s", out.Status)
	}
}

func TestDriverAbort(t *testing.T) {
	d, store := setupDriver(t, planOne("worker"), Options{}, approvalAgent())
	start(t, d, "run-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := &recorder{}
	out, err := d.Run(ctx, "run-1", rec.emit)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.Status != models.RunAborted || rec.final(t).Status != models.FinalAborted {
		t.Errorf("outcome = %+v", out)
	}
	cp, _ := store.Get(context.Background(), "run-1")
	if cp.Status != models.RunAborted || cp.State.Supervisor.Task != "write a report" {
		t.Errorf("checkpoint = %+v", cp)
	}
	if _, err := d.Abort(context.Background(), "run-1", nil); !errors.Is(err, models.ErrRunTerminal) {
		t.Errorf("expected ErrRunTerminal, got %v", err)
	}
}

func TestDriverStart(t *testing.T) {
	d, _ := setupDriver(t, planOne("worker"), Options{}, &fakeAgent{name: "worker"})
	ctx := context.Background()

	if _, err := d.Start(ctx, "", "  ", "", nil); models.CodeOf(err) != models.CodeInvalidRequest {
		t.Errorf("expected INVALID_REQUEST for an empty task, got %v", err)
	}
	cp, err := d.Start(ctx, "", "task", "", nil)
	if err != nil || cp.RunID == "" || cp.State.Supervisor.TaskID != cp.RunID {
		t.Fatalf("Start() = %+v, %v", cp, err)
	}
	if _, err := d.Start(ctx, cp.RunID, "task", "", nil); models.CodeOf(err) != models.CodeInvalidRequest {
		t.Errorf("expected INVALID_REQUEST for a duplicate run, got %v", err)
	}
	if _, err := d.Step(ctx, "missing", nil); !errors.Is(err, models.ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestDriverStartSameRunIDConcurrently(t *testing.T) {
	d, store := setupDriver(t, planOne("worker"), Options{}, &fakeAgent{name: "worker"})
	ctx := context.Background()

	tasks := []string{"first task", "second task", "third task", "fourth task"}
	errs := make(chan error, len(tasks))
	for _, task := range tasks {
		task := task
		go func() {
			_, err := d.Start(ctx, "run-dup", task, "", nil)
			errs <- err
		}()
	}
	started := 0
	for range tasks {
		err := <-errs
		switch {
		case err == nil:
			started++
		case models.CodeOf(err) != models.CodeInvalidRequest:
			t.Errorf("unexpected error %v", err)
		}
	}
	if started != 1 {
		t.Fatalf("%d submissions started, want 1", started)
	}
	if _, err := store.Get(ctx, "run-dup"); err != nil {
		t.Errorf("run missing: %v", err)
	}
}

func TestDriverFail(t *testing.T) {
	d, store := setupDriver(t, planOne("worker"), Options{}, &fakeAgent{name: "worker"})
	start(t, d, "run-1")
	ctx := context.Background()

	rec := &recorder{}
	cause := errors.New("disk full")
	out, err := d.Fail(ctx, "run-1", cause, rec.emit)
	if err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	final := rec.final(t)
	if out.Status != models.RunFailed || final.Status != models.FinalError || final.Error.Code != models.CodeInternal {
		t.Errorf("outcome %+v final %+v", out, final)
	}
	cp, _ := store.Get(ctx, "run-1")
	if cp.Status != models.RunFailed || cp.Error == nil {
		t.Errorf("checkpoint = %+v", cp)
	}

	if _, err := d.Fail(ctx, "run-1", cause, rec.emit); !errors.Is(err, models.ErrRunTerminal) {
		t.Errorf("expected ErrRunTerminal, got %v", err)
	}
	if _, err := d.Step(ctx, "run-1", rec.emit); !errors.Is(err, models.ErrRunTerminal) {
		t.Errorf("a failed run stepped again: %v", err)
	}
	if len(rec.events) != 1 {
		t.Errorf("got %d events, want the single final", len(rec.events))
	}
}

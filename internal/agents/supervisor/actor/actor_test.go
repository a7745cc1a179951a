package actor

import (
	"context"
	"errors"
	"github.com/asynkron/protoactor-go/actor"
	"go-supervisor/internal/agents"
	plannerHandler "go-supervisor/internal/agents/planner/handler"
	research "go-supervisor/internal/agents/research/handler"
	supervisorHandler "go-supervisor/internal/agents/supervisor/handler"
	transform "go-supervisor/internal/agents/transform/handler"
	"go-supervisor/internal/checkpoint"
	"go-supervisor/internal/graph"
	"go-supervisor/pkg/messages"
	"go-supervisor/pkg/models"
	"go-supervisor/pkg/tools"
	"sync/atomic"
	"testing"
	"time"
)

func TestStreamOrder(t *testing.T) {
	s := NewStream()
	for i := 0; i < 3; i++ {
		s.Publish(models.Event{Type: models.EventStatusUpdate, Data: i})
	}
	s.Publish(models.NewFinalEvent(models.Result{Status: models.FinalDone}))
	s.Publish(models.Event{Type: models.EventStatusUpdate, Data: 99})

	var got []models.Event
	for e := range s.Events() {
		got = append(got, e)
	}
	if len(got) != 4 || !got[3].Final() {
		t.Fatalf("events = %+v", got)
	}
	for i := 0; i < 3; i++ {
		if got[i].Data != i {
			t.Errorf("event %d carries %v", i, got[i].Data)
		}
	}
	select {
	case <-s.Done():
	default:
		t.Error("Done not closed after the final event")
	}
}

func TestStreamDiscard(t *testing.T) {
	s := NewStream()
	s.Publish(models.Event{Type: models.EventStatusUpdate})
	s.Discard()
	s.Discard()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-s.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream did not close after Discard")
		}
	}
}

func newDriver(t *testing.T) *graph.Driver {
	t.Helper()
	registry, err := agents.NewRegistry(research.New(nil), transform.New(nil))
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	sup := supervisorHandler.New(plannerHandler.NewStatic(), registry.Names(), 0)
	return graph.New(sup, registry, tools.Default(), checkpoint.NewMemory(), graph.Options{})
}

func spawn(t *testing.T, task string, timeout time.Duration) (*actor.RootContext, *actor.PID, *Stream) {
	t.Helper()
	d := newDriver(t)
	cp, err := d.Start(testContext(t), "", task, "ctx-1", nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	root := actor.NewActorSystem().Root
	pid, stream, err := Spawn(root, d, cp.RunID, timeout)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	return root, pid, stream
}

// next reads events until one satisfies stop.
func next(t *testing.T, s *Stream, stop func(models.Event) bool) models.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case e, ok := <-s.Events():
			if !ok {
				t.Fatal("stream closed early")
			}
			if stop(e) {
				return e
			}
		case <-deadline:
			t.Fatal("timed out waiting for an event")
		}
	}
}

func isFinal(e models.Event) bool {
	return e.Final()
}

func isApproval(e models.Event) bool {
	data, ok := e.Data.(models.ToolCallData)
	return ok && data.Tool == string(tools.ShowApprovalCard)
}

func ack(t *testing.T, root *actor.RootContext, pid *actor.PID, msg interface{}) error {
	t.Helper()
	res, err := root.RequestFuture(pid, msg, 5*time.Second).Result()
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	a, ok := res.(messages.Ack)
	if !ok {
		t.Fatalf("unexpected response %T", res)
	}
	return a.Err
}

func TestRunActorCompletes(t *testing.T) {
	_, _, stream := spawn(t, "summarize the Go 1.22 release notes", 0)
	final := next(t, stream, isFinal)
	if data := final.Data.(models.FinalData); data.Status != models.FinalDone {
		t.Errorf("final = %+v", data)
	}
	if _, ok := <-stream.Events(); ok {
		t.Error("stream still open after the final event")
	}
}

func TestRunActorToolReply(t *testing.T) {
	root, pid, stream := spawn(t, "draft a memo for review", 0)
	call := next(t, stream, isApproval).Data.(models.ToolCallData)

	if err := ack(t, root, pid, messages.ToolReply{Reply: models.ToolReply{ToolCallID: "nope", Value: "approve"}}); models.CodeOf(err) != models.CodeToolCallMismatch {
		t.Errorf("mismatched reply: %v", err)
	}
	if err := ack(t, root, pid, messages.ToolReply{Reply: models.ToolReply{ToolCallID: call.ToolCallID, Value: "approve"}}); err != nil {
		t.Fatalf("reply rejected: %v", err)
	}
	if data := next(t, stream, isFinal).Data.(models.FinalData); data.Status != models.FinalDone {
		t.Errorf("final = %+v", data)
	}
}

func TestRunActorStatus(t *testing.T) {
	root, pid, stream := spawn(t, "draft a memo for review", 0)
	next(t, stream, isApproval)

	res, err := root.RequestFuture(pid, messages.GetStatus{}, 5*time.Second).Result()
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	status := res.(messages.Status)
	if status.Err != nil || status.Checkpoint.Status != models.RunSuspended {
		t.Errorf("status = %+v", status)
	}
}

func TestRunActorTimeoutEscalates(t *testing.T) {
	_, _, stream := spawn(t, "draft a memo for review", 20*time.Millisecond)
	// every approval request times out until the failure threshold escalates
	data := next(t, stream, isFinal).Data.(models.FinalData)
	if data.Status != models.FinalEscalate {
		t.Errorf("final = %+v", data)
	}
}

func TestRunActorCancel(t *testing.T) {
	root, pid, stream := spawn(t, "draft a memo for review", 0)
	next(t, stream, isApproval)

	if err := ack(t, root, pid, messages.Cancel{}); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if data := next(t, stream, isFinal).Data.(models.FinalData); data.Status != models.FinalAborted {
		t.Errorf("final = %+v", data)
	}
}

// outageStore fails the next Get once broken is set.
type outageStore struct {
	checkpoint.Store
	broken atomic.Bool
}

func (s *outageStore) Get(ctx context.Context, runID string) (models.Checkpoint, error) {
	if s.broken.CompareAndSwap(true, false) {
		return models.Checkpoint{}, errors.New("database is locked")
	}
	return s.Store.Get(ctx, runID)
}

func TestRunActorStepErrorFailsRun(t *testing.T) {
	registry, err := agents.NewRegistry(research.New(nil), transform.New(nil))
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	store := &outageStore{Store: checkpoint.NewMemory()}
	sup := supervisorHandler.New(plannerHandler.NewStatic(), registry.Names(), 0)
	d := graph.New(sup, registry, tools.Default(), store, graph.Options{})
	cp, err := d.Start(testContext(t), "", "summarize the Go 1.22 release notes", "", nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	store.broken.Store(true)
	_, stream, err := Spawn(actor.NewActorSystem().Root, d, cp.RunID, 0)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	final := next(t, stream, isFinal).Data.(models.FinalData)
	if final.Status != models.FinalError || final.Error == nil || final.Error.Code != models.CodeInternal {
		t.Fatalf("final = %+v", final)
	}

	got, err := d.Inspect(testContext(t), cp.RunID)
	if err != nil || got.Status != models.RunFailed {
		t.Fatalf("checkpoint status = %s, %v", got.Status, err)
	}

	// a later actor for the same run replays the recorded final
	_, again, err := Spawn(actor.NewActorSystem().Root, d, cp.RunID, 0)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	replayed := next(t, again, isFinal).Data.(models.FinalData)
	if replayed.Status != models.FinalError {
		t.Errorf("replayed final = %+v", replayed)
	}
}

// testContext stands in for testing.T.Context (Go 1.24+): the context is
// canceled when the test finishes.
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

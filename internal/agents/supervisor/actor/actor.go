package actor

import (
	"context"
	"errors"
	"github.com/asynkron/protoactor-go/actor"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go-supervisor/internal/graph"
	"go-supervisor/pkg/logger"
	"go-supervisor/pkg/messages"
	"go-supervisor/pkg/models"
	"time"
)

// Run hosts one run. Steps are self-sent messages, so replies, timeouts and
// cancellation are only handled between steps.
type Run struct {
	driver  *graph.Driver
	runID   string
	timeout time.Duration
	stream  *Stream

	root    *actor.RootContext
	pending string
	timer   *time.Timer
	ended   bool
}

// New returns the producer of a run actor. A restarted actor continues from
// the last committed checkpoint.
func New(driver *graph.Driver, runID string, toolTimeout time.Duration, stream *Stream) actor.Producer {
	return func() actor.Actor {
		return &Run{
			driver:  driver,
			runID:   runID,
			timeout: toolTimeout,
			stream:  stream,
		}
	}
}

// Spawn starts the actor of a run. It fails when the run already has one.
func Spawn(root *actor.RootContext, driver *graph.Driver, runID string, toolTimeout time.Duration) (*actor.PID, *Stream, error) {
	stream := NewStream()
	pid, err := root.SpawnNamed(actor.PropsFromProducer(New(driver, runID, toolTimeout, stream)), "run-"+runID)
	if err != nil {
		stream.Discard()
		return nil, nil, err
	}
	return pid, stream, nil
}

func (r *Run) Receive(ac actor.Context) {
	l := log.With().Fields(map[string]interface{}{logger.ActorIDField: ac.Self().GetId(), logger.RunIDField: r.runID}).Logger()
	ctx := context.Background()
	switch msg := ac.Message().(type) {
	case *actor.Started:
		l.Debug().Msg("starting actor")
		r.root = ac.ActorSystem().Root
		ac.Send(ac.Self(), messages.Step{})
	case *actor.Stopping:
		l.Debug().Msg("stopping actor")
		r.disarm()
	case *actor.Stopped:
		l.Debug().Msg("stopped actor")
	case *actor.Restarting:
		l.Warn().Msg("restarting actor")
		r.disarm()
	case messages.Step:
		if r.ended {
			return
		}
		out, err := r.driver.Step(ctx, r.runID, r.stream.Publish)
		r.advance(ac, out, err, l)
	case messages.ToolReply:
		if r.ended {
			ac.Respond(messages.Ack{Err: models.ErrRunTerminal})
			return
		}
		out, err := r.driver.Resume(ctx, r.runID, msg.Reply)
		ac.Respond(messages.Ack{Err: err})
		if err != nil {
			l.Warn().Err(err).Str(logger.ToolCallIDField, msg.Reply.ToolCallID).Msg("tool reply rejected")
			return
		}
		r.disarm()
		r.advance(ac, out, nil, l)
	case messages.ToolTimeout:
		if r.ended || msg.ToolCallID != r.pending {
			l.Debug().Str(logger.ToolCallIDField, msg.ToolCallID).Msg("ignoring stale timeout")
			return
		}
		r.pending = ""
		out, err := r.driver.Expire(ctx, r.runID, msg.ToolCallID, r.stream.Publish)
		r.advance(ac, out, err, l)
	case messages.Cancel:
		if r.ended {
			ac.Respond(messages.Ack{Err: models.ErrRunTerminal})
			return
		}
		out, err := r.driver.Abort(ctx, r.runID, r.stream.Publish)
		ac.Respond(messages.Ack{Err: err})
		r.advance(ac, out, err, l)
	case messages.GetStatus:
		cp, err := r.driver.Inspect(ctx, r.runID)
		ac.Respond(messages.Status{Checkpoint: cp, Err: err})
	default:
		l.Warn().Msgf("unknown message: %v", msg)
	}
}

// advance schedules whatever comes after a driver call.
func (r *Run) advance(ac actor.Context, out graph.Outcome, err error, l zerolog.Logger) {
	switch {
	case errors.Is(err, models.ErrRunTerminal):
		if out.Result != nil {
			r.stream.Publish(models.NewFinalEvent(*out.Result))
		}
		r.end(ac)
	case err != nil:
		l.Error().Err(err).Msg("run step failed")
		r.fail(err, l)
		r.end(ac)
	case out.Terminal():
		l.Info().Str(logger.StatusField, string(out.Status)).Msg("run finished")
		r.end(ac)
	case out.Status == models.RunSuspended:
		r.arm(ac.Self(), out.Pending)
	default:
		ac.Send(ac.Self(), messages.Step{})
	}
}

// fail records the run as failed so nothing can emit a second final for it.
// When the store cannot take the failure either, the final is only published.
func (r *Run) fail(cause error, l zerolog.Logger) {
	out, err := r.driver.Fail(context.Background(), r.runID, cause, r.stream.Publish)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrRunTerminal) && out.Result != nil:
		r.stream.Publish(models.NewFinalEvent(*out.Result))
	default:
		l.Error().Err(err).Msg("could not record the run failure")
		r.stream.Publish(models.NewFinalEvent(models.Result{
			Status: models.FinalError,
			Output: "Run failed: " + cause.Error(),
			RunID:  r.runID,
			Error:  models.Detail(cause),
		}))
	}
}

func (r *Run) arm(self *actor.PID, pending *models.ToolCall) {
	if pending == nil || pending.ID == r.pending {
		return
	}
	r.disarm()
	r.pending = pending.ID
	if r.timeout <= 0 {
		return
	}
	root, id := r.root, pending.ID
	r.timer = time.AfterFunc(r.timeout, func() {
		root.Send(self, messages.ToolTimeout{ToolCallID: id})
	})
}

func (r *Run) disarm() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.pending = ""
}

func (r *Run) end(ac actor.Context) {
	r.ended = true
	r.disarm()
	ac.Stop(ac.Self())
}

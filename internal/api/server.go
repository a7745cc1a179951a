package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/asynkron/protoactor-go/actor"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/justinas/alice"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	supervisorActor "go-supervisor/internal/agents/supervisor/actor"
	"go-supervisor/internal/graph"
	"go-supervisor/pkg/logger"
	"go-supervisor/pkg/messages"
	"go-supervisor/pkg/models"
	"go-supervisor/pkg/payload"
	"io"
	"net/http"
	"time"
)

const requestTimeout = time.Minute

type runRequest struct {
	Input struct {
		Task    string `json:"task"`
		Context struct {
			ContextID string      `json:"context_id"`
			Metadata  payload.Map `json:"metadata"`
		} `json:"context"`
	} `json:"input"`
	Options struct {
		RunID string `json:"run_id"`
	} `json:"options"`
}

type runResult struct {
	Status          models.FinalStatus     `json:"status"`
	Output          string                 `json:"output"`
	HandoffRequired bool                   `json:"handoff_required"`
	Reason          string                 `json:"reason,omitempty"`
	SupervisorState models.SupervisorState `json:"supervisor_state"`
	Error           *models.ErrorDetail    `json:"error,omitempty"`
}

type runMetadata struct {
	RunID string `json:"run_id"`
}

type runResponse struct {
	Result   runResult   `json:"result"`
	Metadata runMetadata `json:"metadata"`
}

type runStatus struct {
	RunID  string           `json:"run_id"`
	Status models.RunStatus `json:"status"`
}

type errorResponse struct {
	Error models.ErrorDetail `json:"error"`
}

type Options struct {
	Port        int
	ToolTimeout time.Duration
}

type Server struct {
	ac          *actor.RootContext
	driver      *graph.Driver
	toolTimeout time.Duration
	runs        *runsCache
	server      *http.Server
}

func New(ac *actor.RootContext, driver *graph.Driver, opts Options) *Server {
	s := &Server{
		ac:          ac,
		driver:      driver,
		toolTimeout: opts.ToolTimeout,
		runs:        newRunsCache(),
	}

	r := chi.NewRouter()
	r.Use(logMiddleware())
	r.Get("/health", s.health)
	r.Route("/v1/agent", func(r chi.Router) {
		r.Post("/run", s.run)
		r.Post("/stream", s.stream)
		r.Get("/ws", s.serveWS)
		r.Get("/runs/{id}", s.inspect)
		r.Delete("/runs/{id}", s.cancel)
		r.Post("/runs/{id}/tool-response", s.toolResponse)
		r.Post("/runs/{id}/resume", s.resume)
	})

	s.server = &http.Server{
		Addr:    fmt.Sprint(":", opts.Port),
		Handler: r,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("http server starting")
	err := s.server.ListenAndServe()
	if err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]any{"status": "ok", "active_runs": s.runs.size()})
}

// run blocks until the run emits its final event.
func (s *Server) run(w http.ResponseWriter, r *http.Request) {
	req := runRequest{}
	if err := unmarshalRequestBody(r, &req); err != nil {
		writeError(w, r, models.NewRunError(models.CodeInvalidRequest, "unable to parse body", err))
		return
	}
	runID, stream, err := s.submit(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer stream.Discard()

	final, err := consume(r.Context(), stream, nil)
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Str(logger.RunIDField, runID).Msg("client went away before the run finished")
		return
	}
	cp, err := s.driver.Inspect(context.WithoutCancel(r.Context()), runID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, response(final, cp))
}

// stream sends the events of a new run as Server-Sent Events.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	req := runRequest{}
	if err := unmarshalRequestBody(r, &req); err != nil {
		writeError(w, r, models.NewRunError(models.CodeInvalidRequest, "unable to parse body", err))
		return
	}
	runID, stream, err := s.submit(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.sendEvents(w, r, runID, stream)
}

func (s *Server) inspect(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	cp, err := s.status(r.Context(), runID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, cp)
}

func (s *Server) toolResponse(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	reply := models.ToolReply{}
	if err := unmarshalRequestBody(r, &reply); err != nil || reply.ToolCallID == "" {
		writeError(w, r, models.NewRunError(models.CodeInvalidRequest, "body must carry tool_call_id and value", err))
		return
	}
	status, err := s.reply(r.Context(), runID, reply)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, runStatus{RunID: runID, Status: status})
}

// resume re-attaches a checkpointed run that has no live actor, for example
// after a restart, and streams its remaining events.
func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	cp, err := s.driver.Inspect(r.Context(), runID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if cp.Status.Terminal() {
		writeError(w, r, models.ErrRunTerminal)
		return
	}
	stream, err := s.attach(runID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.sendEvents(w, r, runID, stream)
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	var err error
	if run, ok := s.runs.get(runID); ok {
		err = s.ask(run.pid, messages.Cancel{})
	} else {
		_, err = s.driver.Abort(r.Context(), runID, nil)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, runStatus{RunID: runID, Status: models.RunAborted})
}

func (s *Server) submit(ctx context.Context, req runRequest) (string, *supervisorActor.Stream, error) {
	cp, err := s.driver.Start(ctx, req.Options.RunID, req.Input.Task, req.Input.Context.ContextID, req.Input.Context.Metadata)
	if err != nil {
		return "", nil, err
	}
	stream, err := s.attach(cp.RunID)
	if err != nil {
		return "", nil, err
	}
	log.Debug().Str(logger.RunIDField, cp.RunID).Msg("run has been started")
	return cp.RunID, stream, nil
}

// attach spawns the actor of a run and tracks it until its final event.
func (s *Server) attach(runID string) (*supervisorActor.Stream, error) {
	pid, stream, err := supervisorActor.Spawn(s.ac, s.driver, runID, s.toolTimeout)
	if err != nil {
		return nil, models.NewRunError(models.CodeInvalidRequest, "run is already attached", err)
	}
	s.runs.add(runID, attachedRun{pid: pid, stream: stream})
	go func() {
		<-stream.Done()
		s.runs.remove(runID)
	}()
	return stream, nil
}

// reply delivers a tool reply to the live actor of a run. Runs without one get
// the reply recorded in their checkpoint and continue once resumed.
func (s *Server) reply(ctx context.Context, runID string, reply models.ToolReply) (models.RunStatus, error) {
	run, ok := s.runs.get(runID)
	if !ok {
		out, err := s.driver.Resume(ctx, runID, reply)
		return out.Status, err
	}
	if err := s.ask(run.pid, messages.ToolReply{Reply: reply}); err != nil {
		return "", err
	}
	return models.RunRunning, nil
}

func (s *Server) status(ctx context.Context, runID string) (models.Checkpoint, error) {
	run, ok := s.runs.get(runID)
	if !ok {
		return s.driver.Inspect(ctx, runID)
	}
	future := s.ac.RequestFuture(run.pid, messages.GetStatus{}, requestTimeout) // blocking
	res, err := future.Result()
	if err != nil {
		// the actor stopped in between; the store has the final word
		return s.driver.Inspect(ctx, runID)
	}
	status, ok := res.(messages.Status)
	if !ok {
		return models.Checkpoint{}, fmt.Errorf("unexpected status reply %T", res)
	}
	return status.Checkpoint, status.Err
}

func (s *Server) ask(pid *actor.PID, msg interface{}) error {
	res, err := s.ac.RequestFuture(pid, msg, requestTimeout).Result()
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	ack, ok := res.(messages.Ack)
	if !ok {
		return fmt.Errorf("unexpected reply %T", res)
	}
	return ack.Err
}

func (s *Server) sendEvents(w http.ResponseWriter, r *http.Request, runID string, stream *supervisorActor.Stream) {
	defer stream.Discard()
	sse := newSSEWriter(w)
	if sse == nil {
		writeError(w, r, errors.New("streaming is not supported by the connection"))
		return
	}
	if _, err := consume(r.Context(), stream, sse.send); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Str(logger.RunIDField, runID).Msg("event stream ended early")
	}
}

// consume forwards events until the final one, which it returns.
func consume(ctx context.Context, stream *supervisorActor.Stream, each func(models.Event) error) (models.FinalData, error) {
	for {
		select {
		case <-ctx.Done():
			return models.FinalData{}, ctx.Err()
		case e, ok := <-stream.Events():
			if !ok {
				return models.FinalData{}, errors.New("stream closed without a final event")
			}
			if each != nil {
				if err := each(e); err != nil {
					return models.FinalData{}, err
				}
			}
			if e.Final() {
				return e.Data.(models.FinalData), nil
			}
		}
	}
}

func response(final models.FinalData, cp models.Checkpoint) runResponse {
	res := runResult{
		Status:          final.Status,
		Output:          final.Output,
		SupervisorState: cp.State.Supervisor,
		Error:           final.Error,
	}
	if cp.Result != nil {
		res.HandoffRequired = cp.Result.HandoffRequired
		res.Reason = cp.Result.Reason
		res.SupervisorState = cp.Result.SupervisorState
	}
	return runResponse{Result: res, Metadata: runMetadata{RunID: final.RunID}}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, models.ErrRunTerminal) {
		err = models.NewRunError(models.CodeInvalidRequest, "run already finished", nil)
	}
	detail := models.Detail(err)
	status := http.StatusInternalServerError
	switch detail.Code {
	case models.CodeInvalidRequest:
		status = http.StatusBadRequest
	case models.CodeRunNotFound:
		status = http.StatusNotFound
	case models.CodeToolCallMismatch:
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
	}
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: *detail})
}

func logMiddleware() func(http.Handler) http.Handler {
	c := alice.New()
	c = c.Append(hlog.NewHandler(log.Logger))
	c = c.Append(hlog.RemoteAddrHandler("ip"))
	c = c.Append(hlog.UserAgentHandler("agent"))
	c = c.Append(hlog.RefererHandler("referer"))
	c = c.Append(hlog.RequestIDHandler("req_id", "Request-Id"))
	c = c.Append(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("verb", r.Method).
			Stringer("url", r.URL).
			Int("size", size).
			Int("status", status).
			Int64("duration", duration.Milliseconds()).
			Msg("REQ")
	}))

	return c.Then
}

func unmarshalRequestBody(req *http.Request, output interface{}) error {
	if req.Body == nil {
		return errors.New("invalid body in request")
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return err
	}
	if err = req.Body.Close(); err != nil {
		return err
	}
	if err = json.Unmarshal(body, output); err != nil {
		return err
	}

	return nil
}

package api

import (
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/hlog"
	"go-supervisor/pkg/logger"
	"go-supervisor/pkg/models"
	"net/http"
	"time"
)

const closeGracePeriod = time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// serveWS runs one submission per connection. The first client frame is the
// submission; later frames are tool replies. The server sends one event per
// frame and closes after the final event.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	l := hlog.FromRequest(r)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	req := runRequest{}
	if err := conn.ReadJSON(&req); err != nil {
		closeWithError(conn, models.NewRunError(models.CodeInvalidRequest, "unable to parse submission", err))
		return
	}
	runID, stream, err := s.submit(r.Context(), req)
	if err != nil {
		closeWithError(conn, err)
		return
	}
	defer stream.Discard()

	go func() {
		for {
			reply := models.ToolReply{}
			if err := conn.ReadJSON(&reply); err != nil {
				return
			}
			if _, err := s.reply(r.Context(), runID, reply); err != nil {
				l.Warn().Err(err).Str(logger.RunIDField, runID).Str(logger.ToolCallIDField, reply.ToolCallID).Msg("tool reply rejected")
			}
		}
	}()

	if _, err := consume(r.Context(), stream, func(e models.Event) error { return conn.WriteJSON(e) }); err != nil {
		l.Warn().Err(err).Str(logger.RunIDField, runID).Msg("websocket stream ended early")
		return
	}
	closeNormally(conn, "run finished")
}

func closeWithError(conn *websocket.Conn, err error) {
	detail := models.Detail(err)
	_ = conn.WriteJSON(errorResponse{Error: *detail})
	closeNormally(conn, string(detail.Code))
}

func closeNormally(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
}

package server

import (
	"context"

	"NutriPlan/internal/utility"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// streamFrame is one message sent to a streaming client.
type streamFrame struct {
	Type  string        `json:"type"` // "delta", "done" or "error"
	Delta string        `json:"delta,omitempty"`
	Plan  *planResponse `json:"plan,omitempty"`
	Error string        `json:"error,omitempty"`
}

func activeStreams() int { return utility.ActiveClients() }

// planStreamHandler upgrades to a WebSocket, reads one {profile, message} request
// per message and streams the reply back as delta frames followed by done or error.
// If a frame cannot be delivered the request is abandoned and nothing is committed.
func (s *Server) planStreamHandler(c echo.Context) error {
	ws, err := utility.Upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	streamID := uuid.New().String()
	utility.RegisterClient(streamID, ws)
	defer utility.UnregisterClient(streamID)

	ctx := c.Request().Context()
	log := zerolog.Ctx(ctx).With().Str("stream_id", streamID).Logger()
	ctx = log.WithContext(ctx)

	for {
		var req planRequest
		if err := ws.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("Stream closed")
			}
			return nil
		}

		prof, msg, err := s.parsePlanRequest(req)
		if err != nil {
			if werr := ws.WriteJSON(streamFrame{Type: "error", Error: err.Error()}); werr != nil {
				return nil
			}
			continue
		}

		reqCtx, cancel := context.WithCancel(ctx)
		var writeErr error
		out := s.pipeline.HandleStream(reqCtx, prof, msg, func(delta string) {
			if writeErr != nil {
				return
			}
			if writeErr = ws.WriteJSON(streamFrame{Type: "delta", Delta: delta}); writeErr != nil {
				cancel()
			}
		})
		cancel()
		if writeErr != nil {
			log.Warn().Err(writeErr).Msg("Client went away mid-stream")
			return nil
		}

		resp := newPlanResponse(out)
		frame := streamFrame{Type: "done", Plan: &resp}
		if out.Failure != nil {
			frame = streamFrame{Type: "error", Plan: &resp, Error: resp.Error}
		}
		if err := ws.WriteJSON(frame); err != nil {
			return nil
		}
	}
}

package server

import (
	"net/http"

	"NutriPlan/internal/transcript"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

/* ====================================================================
                   		History Handlers
==================================================================== */

func (s *Server) getHistoryHandler(c echo.Context) error {
	turns := s.pipeline.Turns()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"turns": turns,
		"count": len(turns),
	})
}

// resetHistoryHandler is the explicit session reset.
func (s *Server) resetHistoryHandler(c echo.Context) error {
	if f := s.pipeline.Reset(); f != nil {
		return c.JSON(statusFor(f.Kind), map[string]string{"error": f.UserMessage()})
	}
	zerolog.Ctx(c.Request().Context()).Info().Msg("Conversation cleared")
	return c.JSON(http.StatusOK, map[string]string{"message": "Conversation cleared"})
}

func (s *Server) saveHistoryHandler(c echo.Context) error {
	ctx := c.Request().Context()
	records := transcript.FromTurns(s.pipeline.Turns())

	if err := s.store.Save(ctx, records); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("Failed to save transcript")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to save chat history"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"message": "Chat history saved", "count": len(records)})
}

// loadHistoryHandler replaces the conversation with the stored transcript. No merge.
func (s *Server) loadHistoryHandler(c echo.Context) error {
	ctx := c.Request().Context()

	records, err := s.store.Load(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("Failed to load transcript")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to load chat history"})
	}

	turns := transcript.ToTurns(records)
	if f := s.pipeline.Restore(turns); f != nil {
		return c.JSON(statusFor(f.Kind), map[string]string{"error": f.UserMessage()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"message": "Chat history loaded", "count": len(turns)})
}

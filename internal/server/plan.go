package server

import (
	"errors"
	"net/http"
	"strings"

	"NutriPlan/internal/completion"
	"NutriPlan/internal/planner"
	"NutriPlan/internal/profile"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

/* ====================================================================
                   		Plan Handlers
==================================================================== */

type planRequest struct {
	Profile profile.Submission `json:"profile"`
	Message string             `json:"message"`
}

type planResponse struct {
	State     planner.State   `json:"state"`
	Reply     string          `json:"reply,omitempty"`
	Error     string          `json:"error,omitempty"`
	Kind      completion.Kind `json:"kind,omitempty"`
	Slot      string          `json:"slot,omitempty"`
	Retryable bool            `json:"retryable,omitempty"`
}

func newPlanResponse(out planner.Outcome) planResponse {
	resp := planResponse{State: out.State}
	if out.Failure == nil {
		resp.Reply = out.Text
		return resp
	}
	resp.Error = out.Failure.UserMessage()
	resp.Kind = out.Failure.Kind
	resp.Slot = out.Failure.Slot
	resp.Retryable = out.Failure.Retryable()
	return resp
}

// statusFor maps a failure kind onto the HTTP status the API answers with.
func statusFor(kind completion.Kind) int {
	switch kind {
	case completion.KindMissingSlot:
		return http.StatusUnprocessableEntity
	case completion.KindAuthentication, completion.KindBackend:
		return http.StatusBadGateway
	case completion.KindRateLimit:
		return http.StatusTooManyRequests
	case completion.KindNetwork:
		return http.StatusGatewayTimeout
	case completion.KindBackendUnavailable:
		return http.StatusServiceUnavailable
	case completion.KindBusy:
		return http.StatusConflict
	case completion.KindCanceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// parsePlanRequest validates the form against the active catalogue. Values out of
// their domain are rejected here; missing fields are left for the pipeline to report.
func (s *Server) parsePlanRequest(req planRequest) (profile.Data, string, error) {
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return profile.Data{}, "", errors.New("message is required")
	}
	prof, err := profile.Build(s.pipeline.Variant().Fields, req.Profile)
	if err != nil {
		return profile.Data{}, "", err
	}
	return prof, req.Message, nil
}

// planHandler runs one blocking plan request.
func (s *Server) planHandler(c echo.Context) error {
	log := zerolog.Ctx(c.Request().Context())

	var req planRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	prof, msg, err := s.parsePlanRequest(req)
	if err != nil {
		log.Info().Err(err).Msg("Rejected plan request")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	out := s.pipeline.Handle(c.Request().Context(), prof, msg)
	if out.Failure != nil {
		return c.JSON(statusFor(out.Failure.Kind), newPlanResponse(out))
	}
	return c.JSON(http.StatusOK, newPlanResponse(out))
}

// statusHandler reports the pipeline state and the size of the conversation.
func (s *Server) statusHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"state":          s.pipeline.State(),
		"variant":        s.pipeline.Variant().Name,
		"turns":          s.pipeline.TurnCount(),
		"active_streams": activeStreams(),
	})
}

// formHandler returns the field catalogue of the active variant.
func (s *Server) formHandler(c echo.Context) error {
	v := s.pipeline.Variant()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"variant": v.Name,
		"fields":  v.Fields,
	})
}

package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/viralforge/internal/engine"
	"github.com/mohammad-safakhou/viralforge/internal/runtime"
	"github.com/mohammad-safakhou/viralforge/internal/store"
)

type SessionsHandler struct {
	Store *store.Store
	Orch  *engine.Orchestrator
}

type createSessionRequest struct {
	Topic    string `json:"topic"`
	Platform string `json:"platform"`
	Tone     string `json:"tone"`
}

// advanceResponse is the envelope every trigger caller receives, success or
// not, so polling callers can distinguish "still working", "try again" and
// "permanently failed".
type advanceResponse struct {
	Success        bool                   `json:"success"`
	Phase          int                    `json:"phase"`
	Step           string                 `json:"step"`
	PhaseCompleted bool                   `json:"phase_completed"`
	NextStep       *string                `json:"next_step"`
	Busy           bool                   `json:"busy,omitempty"`
	Result         map[string]interface{} `json:"result"`
	Error          *responseError         `json:"error"`
}

type responseError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (h *SessionsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.POST("", h.create)
	g.GET("/:id", h.show)
	g.GET("/:id/phases", h.phases)
	g.POST("/:id/advance", h.advance)
}

func (h *SessionsHandler) create(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Topic == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "topic is required")
	}
	s, err := h.Orch.CreateSession(c.Request().Context(), req.Topic, req.Platform, req.Tone)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, s)
}

func (h *SessionsHandler) show(c echo.Context) error {
	s, err := h.Orch.Session(c.Request().Context(), c.Param("id"))
	if err != nil {
		if engine.KindOf(err) == engine.KindSessionNotFound {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, s)
}

func (h *SessionsHandler) phases(c echo.Context) error {
	s, err := h.Orch.Session(c.Request().Context(), c.Param("id"))
	if err != nil {
		if engine.KindOf(err) == engine.KindSessionNotFound {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	records, err := h.Store.ListPhases(c.Request().Context(), s.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"session_id": s.ID, "phases": records})
}

func (h *SessionsHandler) advance(c echo.Context) error {
	res, err := h.Orch.Advance(c.Request().Context(), c.Param("id"))
	body, code := buildAdvanceResponse(res, err)
	return c.JSON(code, body)
}

// buildAdvanceResponse maps an advance outcome onto the response envelope.
// Classified engine failures come back as a well-formed body, not an HTTP
// error; only session_not_found changes the status code.
func buildAdvanceResponse(res engine.AdvanceResult, err error) (advanceResponse, int) {
	body := advanceResponse{
		Success:        err == nil,
		Phase:          res.Phase,
		Step:           res.Step,
		PhaseCompleted: res.PhaseCompleted,
		Busy:           res.Busy,
		Result:         res.Result,
	}
	if res.NextStep != "" {
		next := res.NextStep
		body.NextStep = &next
	}
	if err == nil {
		return body, http.StatusOK
	}

	kind := engine.KindOf(err)
	if kind == "" {
		// unexpected internal fault, not part of the taxonomy
		body.Error = &responseError{Kind: "internal", Message: err.Error()}
		return body, http.StatusInternalServerError
	}
	body.Error = &responseError{Kind: kind, Message: err.Error()}
	if kind == engine.KindSessionNotFound {
		return body, http.StatusNotFound
	}
	return body, http.StatusOK
}

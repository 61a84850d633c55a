package api

import (
	stderrors "errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/helloworlde/meshkeeper/internal/agent"
	"github.com/helloworlde/meshkeeper/internal/errors"
	"github.com/helloworlde/meshkeeper/internal/models"
	"github.com/helloworlde/meshkeeper/internal/queue"
)

func (s *Server) getHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (s *Server) getState(c echo.Context) error {
	return c.JSON(http.StatusOK, s.ctl.State())
}

func (s *Server) getSnapshot(c echo.Context) error {
	snap := s.ctl.State().Snapshot
	if snap == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no snapshot yet")
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Server) getQueue(c echo.Context) error {
	entries := s.ctl.State().Queue
	if entries == nil {
		entries = []models.QueuedAction{}
	}
	return c.JSON(http.StatusOK, entries)
}

// RefreshResponse carries the state after a manual refresh. Error is set
// when the cycle failed; State then holds the degraded view.
type RefreshResponse struct {
	State agent.State `json:"state"`
	Error string      `json:"error,omitempty"`
}

func (s *Server) postRefresh(c echo.Context) error {
	err := s.ctl.Refresh(c.Request().Context())
	resp := RefreshResponse{State: s.ctl.State()}
	if err != nil {
		resp.Error = errors.Message(err)
		return c.JSON(http.StatusBadGateway, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) postProbes(c echo.Context) error {
	snap := s.ctl.RunProbes(c.Request().Context(), true)
	if snap == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "local probes are disabled")
	}
	return c.JSON(http.StatusOK, snap)
}

type VisibilityRequest struct {
	PopoverOpen   bool `json:"popover_open"`
	WindowVisible bool `json:"window_visible"`
}

func (s *Server) postVisibility(c echo.Context) error {
	var req VisibilityRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid visibility body")
	}
	mode := s.ctl.SetVisibility(req.PopoverOpen, req.WindowVisible)
	return c.JSON(http.StatusOK, map[string]string{"mode": string(mode)})
}

// ActionRequest is the body of POST /api/actions.
type ActionRequest struct {
	queue.Request
	Confirmed bool `json:"confirmed"`
}

func (s *Server) postAction(c echo.Context) error {
	var req ActionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid action body")
	}
	res, err := s.ctl.Submit(c.Request().Context(), req.Request, req.Confirmed)
	switch {
	case stderrors.Is(err, errors.ErrConfirmationRequired):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusBadRequest, errors.Message(err))
	}

	status := http.StatusOK
	switch res.Outcome {
	case models.OutcomeQueued:
		status = http.StatusAccepted
	case models.OutcomeRejected:
		status = http.StatusServiceUnavailable
	case models.OutcomeFailed:
		status = http.StatusBadGateway
	}
	return c.JSON(status, res)
}

func (s *Server) postReplay(c echo.Context) error {
	summary, err := s.ctl.ReplayQueuedActions(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, summary)
}

func (s *Server) deleteQueued(c echo.Context) error {
	err := s.ctl.RemoveQueuedAction(c.Param("id"))
	switch {
	case stderrors.Is(err, errors.ErrActionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case err != nil:
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

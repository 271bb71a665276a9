package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/yamori310/craftdock/domain"
	"github.com/yamori310/craftdock/service"
)

type ConflictHandler struct {
	orch *service.Orchestrator
}

func NewConflictHandler(orch *service.Orchestrator) *ConflictHandler {
	return &ConflictHandler{orch: orch}
}

func (h *ConflictHandler) List(c echo.Context) error {
	views, err := h.orch.Conflicts(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	if views == nil {
		views = []service.ConflictView{}
	}
	return c.JSON(http.StatusOK, views)
}

type resolveRequest struct {
	Action domain.Resolution `json:"action"`
}

func (h *ConflictHandler) Resolve(c echo.Context) error {
	var req resolveRequest
	if err := c.Bind(&req); err != nil {
		return c.NoContent(http.StatusBadRequest)
	}
	if !req.Action.Valid() {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "unknown action " + string(req.Action)})
	}

	if err := h.orch.ResolveConflict(c.Request().Context(), c.Param("name"), req.Action); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/yamori310/craftdock/service"
)

type ConsoleHandler struct {
	orch *service.Orchestrator
}

func NewConsoleHandler(orch *service.Orchestrator) *ConsoleHandler {
	return &ConsoleHandler{orch: orch}
}

type commandRequest struct {
	Command string `json:"command"`
}

func (h *ConsoleHandler) Send(c echo.Context) error {
	var req commandRequest
	if err := c.Bind(&req); err != nil {
		return c.NoContent(http.StatusBadRequest)
	}
	if req.Command == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "command is required"})
	}

	if err := h.orch.SendCommand(c.Request().Context(), c.Param("name"), req.Command); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *ConsoleHandler) History(c echo.Context) error {
	entries, err := h.orch.Console(c.Request().Context(), c.Param("name"))
	if err != nil {
		return writeError(c, err)
	}
	if entries == nil {
		entries = []service.ConsoleEntry{}
	}
	return c.JSON(http.StatusOK, entries)
}

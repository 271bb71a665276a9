package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/yamori310/craftdock/service"
)

type CatalogHandler struct {
	orch *service.Orchestrator
}

func NewCatalogHandler(orch *service.Orchestrator) *CatalogHandler {
	return &CatalogHandler{orch: orch}
}

type searchRequest struct {
	Source string `json:"source"`
	Query  string `json:"query"`
}

func (h *CatalogHandler) Search(c echo.Context) error {
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	if err := h.orch.SearchCatalog(c.Request().Context(), req.Source, req.Query); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

type selectRequest struct {
	Source string `json:"source"`
	PackID string `json:"pack_id"`
}

func (h *CatalogHandler) Select(c echo.Context) error {
	var req selectRequest
	if err := c.Bind(&req); err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	if err := h.orch.SelectPack(c.Request().Context(), req.Source, req.PackID); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *CatalogHandler) View(c echo.Context) error {
	view, err := h.orch.Catalog(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

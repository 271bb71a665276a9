package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/yamori310/craftdock/backup"
	"github.com/yamori310/craftdock/service"
)

type BackupHandler struct {
	orch *service.Orchestrator
}

func NewBackupHandler(orch *service.Orchestrator) *BackupHandler {
	return &BackupHandler{orch: orch}
}

func (h *BackupHandler) List(c echo.Context) error {
	infos, err := h.orch.ListBackups(c.Request().Context(), c.Param("name"))
	if err != nil {
		return writeError(c, err)
	}
	if infos == nil {
		infos = []backup.Info{}
	}
	return c.JSON(http.StatusOK, infos)
}

func (h *BackupHandler) Create(c echo.Context) error {
	if err := h.orch.CreateBackup(c.Request().Context(), c.Param("name")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *BackupHandler) Restore(c echo.Context) error {
	if err := h.orch.RestoreBackup(c.Request().Context(), c.Param("name"), c.Param("backup")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *BackupHandler) Delete(c echo.Context) error {
	if err := h.orch.DeleteBackup(c.Request().Context(), c.Param("name"), c.Param("backup")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

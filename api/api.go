// Package api exposes the orchestrator over HTTP. Handlers translate
// REST calls into intents and read models; they hold no state of their
// own.
package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/yamori310/craftdock/domain"
	"github.com/yamori310/craftdock/service"
)

func Register(e *echo.Echo, orch *service.Orchestrator) {
	ih := NewInstanceHandler(orch)
	ch := NewConflictHandler(orch)
	bh := NewBackupHandler(orch)
	oh := NewConsoleHandler(orch)
	gh := NewCatalogHandler(orch)

	e.GET("/instances", ih.List)
	e.POST("/instances", ih.Create)
	e.GET("/instances/:name", ih.Get)
	e.PUT("/instances/:name", ih.Edit)
	e.DELETE("/instances/:name", ih.Delete)
	e.POST("/instances/:name/start", ih.Start)
	e.POST("/instances/:name/stop", ih.Stop)
	e.POST("/instances/:name/clear-error", ih.ClearError)
	e.GET("/instances/:name/logs", ih.Logs)

	e.GET("/conflicts", ch.List)
	e.POST("/conflicts/:name/resolve", ch.Resolve)

	e.GET("/instances/:name/backups", bh.List)
	e.POST("/instances/:name/backups", bh.Create)
	e.POST("/instances/:name/backups/:backup/restore", bh.Restore)
	e.DELETE("/instances/:name/backups/:backup", bh.Delete)

	e.POST("/instances/:name/command", oh.Send)
	e.GET("/instances/:name/console", oh.History)

	e.POST("/catalog/search", gh.Search)
	e.POST("/catalog/select", gh.Select)
	e.GET("/catalog", gh.View)

	e.GET("/templates", ih.Templates)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInstanceNotFound), errors.Is(err, domain.ErrNoConflictPending):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInstanceAlreadyExists),
		errors.Is(err, domain.ErrInstanceBusy),
		errors.Is(err, domain.ErrInstanceNotStopped),
		errors.Is(err, domain.ErrConflictPending):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrInvalidName), errors.Is(err, domain.ErrInvalidConfig):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrShuttingDown):
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, errorResponse{Error: err.Error()})
}

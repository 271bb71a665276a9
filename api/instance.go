package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/yamori310/craftdock/domain"
	"github.com/yamori310/craftdock/service"
)

type InstanceHandler struct {
	orch *service.Orchestrator
}

func NewInstanceHandler(orch *service.Orchestrator) *InstanceHandler {
	return &InstanceHandler{orch: orch}
}

func (h *InstanceHandler) List(c echo.Context) error {
	views, err := h.orch.ListInstances(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	if views == nil {
		views = []service.InstanceView{}
	}
	return c.JSON(http.StatusOK, views)
}

func (h *InstanceHandler) Get(c echo.Context) error {
	view, err := h.orch.GetInstance(c.Request().Context(), c.Param("name"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

type createRequest struct {
	Name     string                 `json:"name"`
	Template string                 `json:"template,omitempty"`
	Config   *domain.InstanceConfig `json:"config,omitempty"`
}

// Create accepts either a template name or a full configuration. The
// response is 202: creation completes asynchronously once the conflict
// check (and any required resolution) finishes.
func (h *InstanceHandler) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	var cfg *domain.InstanceConfig
	switch {
	case req.Config != nil:
		cfg = req.Config
		if cfg.Name == "" {
			cfg.Name = req.Name
		}
		if cfg.RconPassword == "" {
			cfg.RconPassword = domain.GeneratePassphrase()
		}
	case req.Template != "":
		for _, t := range domain.BuiltinTemplates() {
			if t.Name == req.Template {
				cfg = domain.FromTemplate(req.Name, t)
				break
			}
		}
		if cfg == nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "unknown template " + req.Template})
		}
	default:
		cfg = domain.NewInstanceConfig(req.Name, domain.Pack{
			Name:   req.Name,
			Loader: domain.LoaderVanilla,
			Source: domain.PackSource{Kind: domain.SourceDirectURL},
		})
	}

	if err := h.orch.CreateInstance(c.Request().Context(), cfg); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"name": cfg.Name, "status": "checking"})
}

func (h *InstanceHandler) Edit(c echo.Context) error {
	var cfg domain.InstanceConfig
	if err := c.Bind(&cfg); err != nil {
		return c.NoContent(http.StatusBadRequest)
	}
	cfg.Name = c.Param("name")

	if err := h.orch.EditInstance(c.Request().Context(), &cfg); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *InstanceHandler) Delete(c echo.Context) error {
	if err := h.orch.DeleteInstance(c.Request().Context(), c.Param("name")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *InstanceHandler) Start(c echo.Context) error {
	if err := h.orch.StartInstance(c.Request().Context(), c.Param("name")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *InstanceHandler) Stop(c echo.Context) error {
	if err := h.orch.StopInstance(c.Request().Context(), c.Param("name")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *InstanceHandler) ClearError(c echo.Context) error {
	if err := h.orch.ClearError(c.Request().Context(), c.Param("name")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *InstanceHandler) Logs(c echo.Context) error {
	maxLines := 100
	if n := c.QueryParam("lines"); n != "" {
		v, err := strconv.Atoi(n)
		if err != nil || v <= 0 {
			return c.NoContent(http.StatusBadRequest)
		}
		maxLines = v
	}

	lines, err := h.orch.FetchLogs(c.Request().Context(), c.Param("name"), maxLines)
	if err != nil {
		return writeError(c, err)
	}
	if lines == nil {
		lines = []string{}
	}
	return c.JSON(http.StatusOK, map[string][]string{"lines": lines})
}

func (h *InstanceHandler) Templates(c echo.Context) error {
	return c.JSON(http.StatusOK, domain.BuiltinTemplates())
}

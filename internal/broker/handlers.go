package broker

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"taskfabric.dev/internal/store"
	"taskfabric.dev/internal/task"
)

// Handlers adapts an Engine to echo.HandlerFuncs. It carries no state beyond
// the Engine, so the same value serves every request concurrently.
type Handlers struct {
	Engine *Engine
}

func priorityFromQuery(c echo.Context) (*int, error) {
	raw := c.QueryParam("priority")
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusPreconditionFailed, "priority argument must be an int")
	}
	return &v, nil
}

func decodeBody(c echo.Context) (map[string]interface{}, error) {
	data := map[string]interface{}{}
	if c.Request().ContentLength == 0 {
		return data, nil
	}
	if err := c.Bind(&data); err != nil {
		return nil, echo.NewHTTPError(http.StatusNotImplemented, "body is not JSON serializable")
	}
	return data, nil
}

// Action handles PUT /v1/tasks/:task/:key/action/:action.
func (h *Handlers) Action(c echo.Context) error {
	priority, err := priorityFromQuery(c)
	if err != nil {
		return err
	}
	data, err := decodeBody(c)
	if err != nil {
		return err
	}

	taskName := c.Param("task")
	key := c.Param("key")
	action := task.Action(strings.ToLower(c.Param("action")))

	res, err := h.Engine.Action(c.Request().Context(), taskName, key, action, data, priority)
	if err != nil {
		return translateActionError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"changed": res.Changed,
		"before":  res.Before,
		"after":   res.After,
	})
}

// Force handles PUT /v1/tasks/:task/:key/force/:status.
func (h *Handlers) Force(c echo.Context) error {
	priority, err := priorityFromQuery(c)
	if err != nil {
		return err
	}
	data, err := decodeBody(c)
	if err != nil {
		return err
	}

	taskName := c.Param("task")
	key := c.Param("key")
	status := task.Status(strings.ToLower(c.Param("status")))

	res, err := h.Engine.Force(c.Request().Context(), taskName, key, status, data, priority)
	if err != nil {
		return translateActionError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"changed": res.Changed,
		"before":  res.Before,
		"after":   res.After,
	})
}

// AssignOne handles PUT /v1/tasks/:task/assign.
func (h *Handlers) AssignOne(c echo.Context) error {
	taskName := c.Param("task")

	picked, err := h.Engine.AssignOne(c.Request().Context(), taskName)
	if err != nil {
		if errors.Is(err, ErrNoTaskToAssign) {
			return c.NoContent(http.StatusNoContent)
		}
		return translateActionError(err)
	}
	return c.JSON(http.StatusOK, picked)
}

// GetByKey handles GET /v1/tasks/:task/:key.
func (h *Handlers) GetByKey(c echo.Context) error {
	taskName := c.Param("task")
	key := c.Param("key")

	found, err := h.Engine.GetByKey(c.Request().Context(), taskName, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.NoContent(http.StatusNoContent)
		}
		return translateActionError(err)
	}
	return c.JSON(http.StatusOK, found)
}

// GetByStatus handles GET /v1/tasks/:task/status/:statuses, where :statuses
// is a comma-separated list.
func (h *Handlers) GetByStatus(c echo.Context) error {
	taskName := c.Param("task")
	raw := strings.ToLower(c.Param("statuses"))

	var statuses []task.Status
	for _, s := range strings.Split(raw, ",") {
		statuses = append(statuses, task.Status(s))
	}

	out, err := h.Engine.GetByStatus(c.Request().Context(), taskName, statuses)
	if err != nil {
		return translateActionError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func translateActionError(err error) error {
	var unknownAction *task.ErrUnknownAction
	if errors.As(err, &unknownAction) {
		return echo.NewHTTPError(http.StatusLengthRequired, unknownAction.Error())
	}
	var illegal *task.ErrIllegalTransition
	if errors.As(err, &illegal) {
		return echo.NewHTTPError(http.StatusLengthRequired, illegal.Error())
	}
	var unknownStatus *task.ErrUnknownStatus
	if errors.As(err, &unknownStatus) {
		return echo.NewHTTPError(http.StatusLengthRequired, unknownStatus.Error())
	}
	if errors.Is(err, ErrRetryBudgetExhausted) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "conflict-exhausted")
	}
	var unavailable *store.ErrUnavailable
	if errors.As(err, &unavailable) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, unavailable.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// Routes registers the broker's HTTP surface on e.
func Routes(e *echo.Echo, h *Handlers) {
	g := e.Group("/v1/tasks")
	g.PUT("/:task/:key/action/:action", h.Action)
	g.PUT("/:task/:key/force/:status", h.Force)
	g.PUT("/:task/assign", h.AssignOne)
	g.GET("/:task/:key", h.GetByKey)
	g.GET("/:task/status/:statuses", h.GetByStatus)
}

package registry

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"taskfabric.dev/internal/metrics"
)

// Handlers adapts a Store to echo.HandlerFuncs for registration and lookup;
// proxy dispatch is handled separately by ProxyHandler. Metrics is optional;
// nil disables recording.
type Handlers struct {
	Store   *Store
	TTL     time.Duration
	Log     *logrus.Logger
	Metrics *metrics.Metrics
}

func (h *Handlers) recordOutcome(route string, err error) {
	if h.Metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	h.Metrics.RecordRegistryRequest(route, outcome)
}

type registerRequest struct {
	Name string                 `json:"name"`
	URL  string                 `json:"url"`
	Info map[string]interface{} `json:"info"`
}

// Register handles POST /register/:name.
func (h *Handlers) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		h.recordOutcome("register", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid registration payload")
	}
	name := c.Param("name")
	if req.URL == "" {
		h.recordOutcome("register", echo.ErrBadRequest)
		return echo.NewHTTPError(http.StatusBadRequest, "url is required")
	}

	entry := Entry{
		Name:         name,
		URL:          req.URL,
		RegisteredAt: time.Now().UnixNano(),
		Info:         req.Info,
	}
	err := h.Store.Register(entry)
	h.recordOutcome("register", err)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.Log.WithFields(logrus.Fields{"name": name, "url": req.URL}).Info("registry: registered service")
	return c.JSON(http.StatusOK, entry)
}

// List handles GET /register/:name.
func (h *Handlers) List(c echo.Context) error {
	entries, err := h.Store.List(c.Param("name"))
	h.recordOutcome("list", err)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, entries)
}

// ListAll handles GET /register/all.
func (h *Handlers) ListAll(c echo.Context) error {
	grouped, err := h.Store.ListAll()
	h.recordOutcome("list-all", err)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, grouped)
}

// Unregister handles DELETE /register/:name.
func (h *Handlers) Unregister(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil || req.URL == "" {
		h.recordOutcome("unregister", echo.ErrBadRequest)
		return echo.NewHTTPError(http.StatusBadRequest, "url is required")
	}
	err := h.Store.Unregister(req.URL)
	h.recordOutcome("unregister", err)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

// Health handles GET /health.
func (h *Handlers) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "healthy", "service": "registry"})
}

// Routes registers the registry's HTTP surface on e, including the
// catch-all reverse proxy.
func Routes(e *echo.Echo, h *Handlers) {
	e.GET("/health", h.Health)
	e.POST("/register/:name", h.Register)
	e.GET("/register/all", h.ListAll)
	e.GET("/register/:name", h.List)
	e.DELETE("/register/:name", h.Unregister)
	e.Any("/:name/*", ProxyHandler(h.Store, h.TTL, h.Log, h.Metrics))
}

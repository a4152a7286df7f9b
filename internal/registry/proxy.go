package registry

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"taskfabric.dev/internal/metrics"
)

// proxyTimeout is deliberately generous: a proxied call can legitimately
// take much longer than a direct API call.
const proxyTimeout = 300 * time.Second

// hopByHopResponseHeaders are stripped when copying a proxied response back
// to the caller, since they describe the proxy's own connection to the
// upstream service and are meaningless (or actively wrong) once re-framed.
var hopByHopResponseHeaders = []string{"Transfer-Encoding", "Content-Encoding"}

// ProxyHandler builds an echo.HandlerFunc that forwards requests under
// /:name/* to the most-recently-registered live instance of :name: method,
// headers (minus Host) and body pass through unchanged; basic auth is added
// from the entry's info.user/info.password if present; a 304 response
// passes through with no body; everything else copies status, headers
// (minus the hop-by-hop ones above) and body.
func ProxyHandler(store *Store, ttl time.Duration, log *logrus.Logger, m *metrics.Metrics) echo.HandlerFunc {
	client := &http.Client{Timeout: proxyTimeout}

	return func(c echo.Context) error {
		name := c.Param("name")
		upstreamPath := c.Param("*")
		start := time.Now()
		if m != nil {
			defer func() { m.RecordProxy(name, time.Since(start)) }()
		}

		entry, err := store.Pick(name, ttl, time.Now())
		if err != nil {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}

		targetURL := strings.TrimRight(entry.URL, "/") + "/" + strings.TrimLeft(upstreamPath, "/")
		if rawQuery := c.Request().URL.RawQuery; rawQuery != "" {
			targetURL += "?" + rawQuery
		}

		req, err := http.NewRequestWithContext(c.Request().Context(), c.Request().Method, targetURL, c.Request().Body)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
		for key, values := range c.Request().Header {
			if strings.EqualFold(key, "Host") {
				continue
			}
			for _, v := range values {
				req.Header.Add(key, v)
			}
		}

		if user, ok := entry.Info["user"].(string); ok && user != "" {
			password, _ := entry.Info["password"].(string)
			req.SetBasicAuth(user, password)
		}

		resp, err := client.Do(req)
		if err != nil {
			log.WithError(err).WithField("target", targetURL).Warn("proxy: upstream request failed")
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotModified {
			return c.NoContent(http.StatusNotModified)
		}

		for key, values := range resp.Header {
			if isHopByHop(key) {
				continue
			}
			for _, v := range values {
				c.Response().Header().Add(key, v)
			}
		}
		c.Response().WriteHeader(resp.StatusCode)
		_, err = io.Copy(c.Response(), resp.Body)
		return err
	}
}

func isHopByHop(header string) bool {
	for _, h := range hopByHopResponseHeaders {
		if strings.EqualFold(h, header) {
			return true
		}
	}
	return false
}

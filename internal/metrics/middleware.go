// Package metrics provides Prometheus metrics middleware for Gin, used by
// the cmd/statecraftd admin surface.
package metrics

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMiddleware returns a Gin middleware that records HTTP metrics
// for every admin route except /metrics itself.
func PrometheusMiddleware() gin.HandlerFunc {
	m := Get()

	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()

		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		c.Next()

		duration := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}

		m.RecordHTTPRequest(route, c.Request.Method, c.Writer.Status(), duration)
	}
}

// PrometheusHandler returns the Prometheus scrape handler as a Gin route.
func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// PrometheusHandlerHTTP returns a standard HTTP handler for metrics, for
// hosting outside of Gin.
func PrometheusHandlerHTTP() http.Handler {
	return promhttp.Handler()
}

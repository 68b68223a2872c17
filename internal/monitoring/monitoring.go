// Package monitoring exposes health and Prometheus metrics for the bot over
// a small HTTP endpoint. The polling core works without it; a nil *Metrics
// disables collection.
package monitoring

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CheckResult is one health check's outcome.
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthChecker aggregates named health checks.
type HealthChecker struct {
	service string
	version string
	checks  map[string]func() CheckResult
}

// NewHealthChecker creates a health checker for the service.
func NewHealthChecker(service, version string) *HealthChecker {
	return &HealthChecker{
		service: service,
		version: version,
		checks:  map[string]func() CheckResult{},
	}
}

// AddCheck registers a named health check.
func (h *HealthChecker) AddCheck(name string, check func() CheckResult) {
	h.checks[name] = check
}

// Handler serves the aggregated health status.
func (h *HealthChecker) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		status := http.StatusOK
		overall := "healthy"
		results := map[string]CheckResult{}
		for name, check := range h.checks {
			result := check()
			results[name] = result
			if result.Status != "healthy" {
				overall = "unhealthy"
				status = http.StatusServiceUnavailable
			}
		}
		c.JSON(status, gin.H{
			"status":  overall,
			"service": h.service,
			"version": h.version,
			"checks":  results,
		})
	}
}

// Metrics holds the bot's Prometheus counters. All methods are safe on a nil
// receiver so the core never has to branch on whether metrics are enabled.
type Metrics struct {
	pollCycles      prometheus.Counter
	fetchFailures   prometheus.Counter
	postsPublished  *prometheus.CounterVec
	publishFailures *prometheus.CounterVec
}

// NewMetrics registers and returns the bot's counters.
func NewMetrics(service string) *Metrics {
	m := &Metrics{
		pollCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: service + "_poll_cycles_total",
			Help: "Completed polling cycles",
		}),
		fetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: service + "_fetch_failures_total",
			Help: "Minutes fetches that failed and were retried",
		}),
		postsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: service + "_posts_published_total",
			Help: "Posts published per destination",
		}, []string{"platform"}),
		publishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: service + "_publish_failures_total",
			Help: "Publish attempts that failed per destination",
		}, []string{"platform"}),
	}
	prometheus.MustRegister(m.pollCycles, m.fetchFailures, m.postsPublished, m.publishFailures)
	return m
}

// IncPollCycle counts a completed polling cycle.
func (m *Metrics) IncPollCycle() {
	if m == nil {
		return
	}
	m.pollCycles.Inc()
}

// IncFetchFailure counts a failed minutes fetch.
func (m *Metrics) IncFetchFailure() {
	if m == nil {
		return
	}
	m.fetchFailures.Inc()
}

// IncPostPublished counts a post delivered to a destination.
func (m *Metrics) IncPostPublished(platform string) {
	if m == nil {
		return
	}
	m.postsPublished.WithLabelValues(platform).Inc()
}

// IncPublishFailure counts a failed publish attempt to a destination.
func (m *Metrics) IncPublishFailure(platform string) {
	if m == nil {
		return
	}
	m.publishFailures.WithLabelValues(platform).Inc()
}

// SetupRouter builds the monitoring HTTP router.
func SetupRouter(health *HealthChecker) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", health.Handler())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}

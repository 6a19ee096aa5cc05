package handler

import "github.com/gin-gonic/gin"

// Handlers groups every HTTP handler the agent serves.
type Handlers struct {
	Metrics      *MetricsHandler
	Modification *ModificationHandler
	Display      *SessionDisplayHandler
	Calendar     *CalendarSyncHandler
}

// Register mounts probes at the root and the agent API under prefix.
func Register(r *gin.Engine, prefix string, h Handlers) {
	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Ready)
	r.GET("/metrics", h.Metrics.Prometheus)

	api := r.Group(prefix)
	api.POST("/modifications/preview", h.Modification.Preview)
	api.POST("/sessions/display", h.Display.Display)

	calendar := api.Group("/calendar")
	calendar.GET("/status", h.Calendar.Status)
	calendar.PUT("/enabled", h.Calendar.SetEnabled)
	calendar.POST("/permission", h.Calendar.RequestPermission)
	calendar.POST("/sync", h.Calendar.Sync)
	calendar.DELETE("/entries", h.Calendar.Clear)
}

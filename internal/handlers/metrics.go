package handlers

import (
	"errors"
	"time"

	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/models"
	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/services"
	"github.com/Significant-Gravitas/AutoModerate-sub000/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

var startTime = time.Now()

// Metrics serves the Prometheus registry. The pipeline counters live in the
// moderation package; the gauges below are sampled at scrape time.
func Metrics(db *gorm.DB, sse *services.SSEHub, ws *services.WebSocketHub, queue services.TaskQueue) gin.HandlerFunc {
	registerGauge("automoderate_uptime_seconds", "Time since server start in seconds", func() float64 {
		return time.Since(startTime).Seconds()
	})
	if db != nil {
		registerGauge("automoderate_db_open_connections", "Number of open DB connections", func() float64 {
			if sqlDB, err := db.DB(); err == nil {
				return float64(sqlDB.Stats().OpenConnections)
			}
			return 0
		})
		registerGauge("automoderate_content_pending", "Number of content items awaiting moderation", func() float64 {
			var n int64
			db.Model(&models.Content{}).Where("status = ?", models.ContentStatusPending).Count(&n)
			return float64(n)
		})
	}
	if sse != nil {
		registerGauge("automoderate_sse_active_clients", "Number of active SSE connections", func() float64 {
			return float64(sse.ClientCount())
		})
		register("automoderate_sse_dropped_events_total", prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "automoderate_sse_dropped_events_total",
			Help: "Moderation events discarded because an SSE client fell behind",
		}, func() float64 { return float64(sse.Dropped()) }))
	}
	if ws != nil {
		registerGauge("automoderate_ws_active_clients", "Number of active WebSocket connections", func() float64 {
			return float64(ws.ClientCount())
		})
	}
	registerGauge("automoderate_queue_async_enabled", "Whether async queue (Redis) is enabled (1=yes, 0=no)", func() float64 {
		if queue != nil && queue.IsAsync() {
			return 1
		}
		return 0
	})

	return gin.WrapH(promhttp.Handler())
}

func registerGauge(name, help string, fn func() float64) {
	register(name, prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn))
}

func register(name string, c prometheus.Collector) {
	err := prometheus.Register(c)
	var already prometheus.AlreadyRegisteredError
	if err != nil && !errors.As(err, &already) {
		logger.Warnf("[Metrics] Failed to register %s: %v", name, err)
	}
}

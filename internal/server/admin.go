package server

import (
	"net/http"
	"sort"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/okaneko/policylink/internal/observability"
)

const adminVersion = "0.1.0"

// Admin is the HTTP sidecar surface for one policy server: health,
// readiness, session status, prometheus metrics. It never touches the
// inference path.
type Admin struct {
	srv     *Server
	router  *gin.Engine
	started time.Time
}

// NewAdmin builds the admin router around a running policy server.
func NewAdmin(srv *Server) *Admin {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.HTTPTelemetry(log.Logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(srv.cfg.CorsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	a := &Admin{srv: srv, router: r, started: time.Now()}
	a.registerRoutes()
	return a
}

func (a *Admin) registerRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  a.srv.Uptime().String(),
			"model":   a.srv.iface.ModelID,
			"version": adminVersion,
		})
	})

	a.router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready":   true,
			"uptime":  a.srv.Uptime().String(),
			"model":   a.srv.iface.ModelID,
			"version": adminVersion,
		})
	})

	a.router.GET("/status", func(c *gin.Context) {
		sessions := a.srv.SnapshotSessions()
		sort.Slice(sessions, func(i, j int) bool {
			return sessions[i].ConnectedAt.Before(sessions[j].ConnectedAt)
		})
		c.JSON(http.StatusOK, gin.H{
			"model": gin.H{
				"id":             a.srv.iface.ModelID,
				"action_horizon": a.srv.iface.ActionHorizon,
				"action_dim":     a.srv.iface.ActionDim,
				"state_dim":      a.srv.iface.StateDim,
				"camera_slots":   a.srv.iface.CameraSlots,
			},
			"sessions": sessions,
			"uptime":   a.srv.Uptime().String(),
		})
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Router exposes the underlying engine, mainly for tests.
func (a *Admin) Router() *gin.Engine { return a.router }

// Serve blocks on the admin listener.
func (a *Admin) Serve() error {
	return a.router.Run(a.srv.cfg.AdminAddr)
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}

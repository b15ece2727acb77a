// Package adminapi is the gin HTTP server SPEC_FULL.md adds for remote
// observability: GET /status (the same data display_info renders, as
// JSON) and GET /metrics (prometheus scrape). Grounded on
// common/server.go's InitServer/runServer (gin.New, a custom recovery
// writer routed through the process logger, graceful shutdown on the
// group's context) and master/status.go's handler shape.
package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/InSimo/fastbuild/internal/apienvelope"
	"github.com/InSimo/fastbuild/internal/config"
	"github.com/InSimo/fastbuild/internal/control/render"
	"github.com/InSimo/fastbuild/internal/logger"
	"github.com/InSimo/fastbuild/internal/procgroup"
	"github.com/InSimo/fastbuild/internal/serverstate"
)

// Server is the admin HTTP server for one cmd/fbuild or cmd/fworker
// process.
type Server struct {
	cfg      config.AdminAPIConfig
	table    *serverstate.Table
	registry *prometheus.Registry

	Router *gin.Engine
}

// New builds a Server. table may be nil for a worker process (which has
// no ServerState table of its own); registry is the Collector's backing
// *prometheus.Registry.
func New(cfg config.AdminAPIConfig, table *serverstate.Table, registry *prometheus.Registry) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{cfg: cfg, table: table, registry: registry, Router: gin.New()}

	s.Router.Use(gin.CustomRecoveryWithWriter(
		logger.CreateWriter(logger.LevelError, "adminapi: panic in handler:"),
		s.recover,
	))

	s.Router.GET("/status", s.handleStatus)
	s.Router.GET("/metrics", s.handleMetrics)
	return s
}

func (s *Server) recover(c *gin.Context, err any) {
	logger.Error("adminapi: panic handling %s: %v", c.Request.URL.Path, err)
	c.AbortWithStatus(http.StatusInternalServerError)
}

// handleStatus serves the same rows display_info renders (spec.md
// §4.F), as a JSON array.
func (s *Server) handleStatus(c *gin.Context) {
	if s.table == nil {
		apienvelope.RespErr(c, http.StatusNotFound, "no worker table on this process")
		return
	}
	detailed := c.Query("detailed") == "1"
	rows := render.Collect(s.table.Entries())
	raw, err := render.JSON(rows, detailed)
	if err != nil {
		apienvelope.RespErr(c, http.StatusInternalServerError, "render status: %s", err)
		return
	}
	apienvelope.RespOK(c, json.RawMessage(raw))
}

func (s *Server) handleMetrics(c *gin.Context) {
	promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}).ServeHTTP(c.Writer, c.Request)
}

// Run serves until group's context is cancelled, then shuts down
// gracefully. Intended to be called via group.Go.
func (s *Server) Run(group *procgroup.Group) {
	host := ""
	if s.cfg.Host != nil {
		host = *s.cfg.Host
	}
	addr := host + ":" + strconv.Itoa(s.cfg.Port)
	httpServer := &http.Server{Addr: addr, Handler: s.Router}

	group.Go(func() {
		<-group.Context().Done()
		logger.Info("adminapi: shutting down %s", addr)
		_ = httpServer.Shutdown(context.Background())
	})

	logger.Info("adminapi: listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("adminapi: serve %s: %v", addr, err)
	}
}

// Package api exposes the engine over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"notifyd/internal/core"
	"notifyd/internal/storage"
	logx "notifyd/pkg/logx"
)

type Config struct {
	Enabled bool
	Addr    string
}

type Server struct {
	cfg    Config
	engine *core.Engine
	store  storage.Store
	log    logx.Logger
	srv    *http.Server

	// onRulesChanged fires after successful rule CRUD so the scheduler can
	// rebuild its entries. Optional.
	onRulesChanged func()
}

// OnRulesChanged registers the rule-change hook. Call before Start.
func (s *Server) OnRulesChanged(fn func()) { s.onRulesChanged = fn }

func New(cfg Config, engine *core.Engine, store storage.Store, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8087"
	}
	return &Server{
		cfg:    cfg,
		engine: engine,
		store:  store,
		log:    log.With(logx.String("comp", "api")),
	}
}

// Router builds the gin engine with all routes mounted. Exposed separately
// so tests can drive it with httptest.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	r.GET("/healthz", s.health)

	apiGrp := r.Group("/api")
	{
		apiGrp.POST("/notifications/send", s.sendNotification)
		apiGrp.GET("/notifications", s.listNotifications)
		apiGrp.GET("/notifications/:id", s.getNotification)
		apiGrp.POST("/notifications/:id/ack", s.ackNotification)
		apiGrp.POST("/notifications/:id/delivered", s.confirmDelivery)

		apiGrp.GET("/dashboard", s.getDashboard)
		apiGrp.POST("/events", s.ingestEvent)

		apiGrp.GET("/channels", s.listChannels)
		apiGrp.GET("/channels/:id", s.getChannel)
		apiGrp.POST("/channels", s.createChannel)
		apiGrp.PUT("/channels/:id", s.updateChannel)
		apiGrp.POST("/channels/:id/enabled", s.setChannelEnabled)

		apiGrp.GET("/templates", s.listTemplates)
		apiGrp.GET("/templates/:id", s.getTemplate)
		apiGrp.POST("/templates", s.createTemplate)
		apiGrp.PUT("/templates/:id", s.updateTemplate)
		apiGrp.DELETE("/templates/:id", s.deleteTemplate)

		apiGrp.GET("/rules", s.listRules)
		apiGrp.GET("/rules/:id", s.getRule)
		apiGrp.POST("/rules", s.createRule)
		apiGrp.PUT("/rules/:id", s.updateRule)
		apiGrp.DELETE("/rules/:id", s.deleteRule)

		apiGrp.GET("/preferences/:userId", s.getPreference)
		apiGrp.PUT("/preferences/:userId", s.putPreference)
	}
	return r
}

// Start begins serving. Returns immediately; serve errors are logged.
func (s *Server) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		return
	}
	s.srv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		s.log.Info("http api listening", logx.String("addr", s.cfg.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http api serve failed", logx.Err(err))
		}
	}()
}

func (s *Server) Stop(ctx context.Context) {
	if s.srv == nil {
		return
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.Warn("http api shutdown", logx.Err(err))
	}
	s.srv = nil
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			logx.String("method", c.Request.Method),
			logx.String("path", c.FullPath()),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("dur", time.Since(start)))
	}
}

func (s *Server) health(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

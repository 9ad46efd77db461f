package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"benchlink/internal/api/websocket"
	"benchlink/internal/config"
	"benchlink/internal/interfaces"
)

type Server struct {
	router *gin.Engine
	lm     interfaces.LifecycleManager
	logger *zap.Logger
	server *http.Server
	wsHub  *websocket.Hub
}

func NewServer(cfg *config.Config, lm interfaces.LifecycleManager, logger *zap.Logger, wsHub *websocket.Hub) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router: gin.New(),
		lm:     lm,
		logger: logger,
		wsHub:  wsHub,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

// Router exposes the handler tree, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())
	s.router.Use(gin.Recovery())

	// Public routes
	s.router.GET("/health", s.healthCheck)

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		// ==================== SYSTEM ====================
		system := v1.Group("/system")
		{
			system.GET("/status", s.getSystemStatus)
			system.POST("/shutdown", s.shutdown)
		}

		// ==================== DEVICES ====================
		devices := v1.Group("/devices")
		{
			devices.GET("", s.listDevices)
			devices.GET("/types", s.listDeviceTypes)
			devices.POST("/:alias/command", s.executeDeviceCommand)
		}

		// ==================== RUN CONTROL ====================
		run := v1.Group("/run")
		{
			run.GET("/status", s.getRunStatus)
			run.POST("/start", s.startRun)
			run.POST("/pause", s.pauseRun)
			run.POST("/resume", s.resumeRun)
			run.POST("/step", s.stepRun)
			run.POST("/step-mode", s.setStepMode)
			run.POST("/stop", s.stopRun)
			run.POST("/reset", s.resetRun)
			run.POST("/message", s.recordRunMessage)
		}

		// ==================== SCRIPTS ====================
		scripts := v1.Group("/scripts")
		{
			scripts.POST("/validate", s.validateScript)
		}

		// ==================== RUN ARCHIVE ====================
		runs := v1.Group("/runs")
		{
			runs.GET("", s.listRuns)
			runs.GET("/:id", s.getRun)
			runs.GET("/:id/events", s.getRunEvents)
			runs.GET("/:id/log", s.downloadRunLog)
		}

		// ==================== CALIBRATION ====================
		cal := v1.Group("/calibration")
		{
			cal.GET("", s.listCalibration)
			cal.GET("/:key", s.getCalibration)
			cal.PUT("/:key", s.putCalibration)
		}

		// ==================== WEBSOCKET ====================
		ws := v1.Group("/ws")
		{
			ws.GET("/live", s.wsLiveConnection)
			ws.GET("/status", s.wsStatus)
		}
	}
}

// WebSocket handlers
func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

// Health check (public)
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

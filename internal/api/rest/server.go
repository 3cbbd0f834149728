package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenTransportCore/internal/api/websocket"
	"github.com/KevinKickass/OpenTransportCore/internal/auth"
	"github.com/KevinKickass/OpenTransportCore/internal/config"
	"github.com/KevinKickass/OpenTransportCore/internal/interfaces"
)

type Server struct {
	router      *gin.Engine
	lm          interfaces.LifecycleManager
	logger      *zap.Logger
	server      *http.Server
	wsHub       *websocket.Hub
	authService *auth.Service
}

func NewServer(cfg *config.Config, lm interfaces.LifecycleManager, logger *zap.Logger, wsHub *websocket.Hub, authService *auth.Service) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:      gin.New(),
		lm:          lm,
		logger:      logger,
		wsHub:       wsHub,
		authService: authService,
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

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
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

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	// Public routes (no auth required)
	s.router.GET("/health", s.healthCheck)

	v1 := s.router.Group("/api/v1")
	{
		// ==================== AUTH (PUBLIC) ====================
		v1.POST("/auth/token", s.issueToken)

		// ==================== SYSTEM ====================
		system := v1.Group("/system")
		system.Use(s.authService.Middleware())
		{
			system.GET("/status", auth.RequirePermission(auth.PermRead), s.getSystemStatus)
			system.POST("/shutdown", auth.RequirePermission(auth.PermConfigure), s.shutdown)
		}

		// ==================== CHANNEL MAP & RAW REGISTERS ====================
		v1.GET("/channels", s.authService.Middleware(), auth.RequirePermission(auth.PermRead), s.listChannels)

		registers := v1.Group("/registers")
		registers.Use(s.authService.Middleware())
		registers.Use(auth.RequirePermission(auth.PermConfigure))
		{
			registers.GET("/inputs", s.readInputRegisters)
			registers.GET("/outputs", s.readOutputRegisters)
		}

		v1.GET("/sensors", s.authService.Middleware(), auth.RequirePermission(auth.PermRead), s.readAllSensors)

		// ==================== CONVEYORS ====================
		conveyors := v1.Group("/conveyors")
		conveyors.Use(s.authService.Middleware())
		{
			// Read: Operator+
			conveyors.GET("", auth.RequirePermission(auth.PermRead), s.listConveyors)
			conveyors.GET("/:id", auth.RequirePermission(auth.PermRead), s.getConveyor)

			// Actuation: Operator+, locked out during emergency stop except stop
			conveyors.POST("/stop", auth.RequirePermission(auth.PermOperate), s.stopAllConveyors)
			conveyors.PUT("/speed", auth.RequirePermission(auth.PermOperate), s.machineInterlock(), s.setAllConveyorSpeeds)
			conveyors.POST("/:id/forward", auth.RequirePermission(auth.PermOperate), s.machineInterlock(), s.conveyorForward)
			conveyors.POST("/:id/backward", auth.RequirePermission(auth.PermOperate), s.machineInterlock(), s.conveyorBackward)
			conveyors.POST("/:id/stop", auth.RequirePermission(auth.PermOperate), s.conveyorStop)
			conveyors.PUT("/:id/speed", auth.RequirePermission(auth.PermOperate), s.machineInterlock(), s.setConveyorSpeed)
		}

		// ==================== SWITCHES ====================
		switches := v1.Group("/switches")
		switches.Use(s.authService.Middleware())
		{
			switches.GET("", auth.RequirePermission(auth.PermRead), s.listSwitches)
			switches.GET("/:id", auth.RequirePermission(auth.PermRead), s.getSwitch)
			switches.PUT("/:id/position", auth.RequirePermission(auth.PermOperate), s.machineInterlock(), s.setSwitchPosition)
		}

		// ==================== SEPARATORS ====================
		separators := v1.Group("/separators")
		separators.Use(s.authService.Middleware())
		{
			separators.GET("", auth.RequirePermission(auth.PermRead), s.listSeparators)
			separators.GET("/:id", auth.RequirePermission(auth.PermRead), s.getSeparator)
			separators.POST("/:id/set", auth.RequirePermission(auth.PermOperate), s.machineInterlock(), s.setSeparator)
			separators.POST("/:id/reset", auth.RequirePermission(auth.PermOperate), s.machineInterlock(), s.resetSeparator)
		}

		// ==================== MACHINE CONTROL ====================
		machine := v1.Group("/machine")
		machine.Use(s.authService.Middleware())
		{
			machine.GET("/status", auth.RequirePermission(auth.PermRead), s.getMachineStatus)
			machine.POST("/command", auth.RequirePermission(auth.PermOperate), s.executeMachineCommand)
		}

		// ==================== EVENT JOURNAL ====================
		v1.GET("/events", s.authService.Middleware(), auth.RequirePermission(auth.PermRead), s.listEvents)

		// ==================== WEBSOCKET (Auth via first message) ====================
		ws := v1.Group("/ws")
		{
			ws.GET("/live", s.wsLiveConnection)
			ws.GET("/status", s.authService.Middleware(), auth.RequirePermission(auth.PermRead), s.wsStatus)
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

// Health check (public). Reports 503 while the PLC link is down.
func (s *Server) healthCheck(c *gin.Context) {
	status := s.lm.GetCurrentStatus()

	code := http.StatusOK
	state := "ok"
	if !status.LinkHealthy {
		code = http.StatusServiceUnavailable
		state = "degraded"
	}

	c.JSON(code, gin.H{
		"status":    state,
		"link":      status.LinkHealthy,
		"timestamp": time.Now().Unix(),
	})
}

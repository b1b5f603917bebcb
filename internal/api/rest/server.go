package rest

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenLockIn/internal/api/websocket"
	"github.com/KevinKickass/OpenLockIn/internal/auth"
	"github.com/KevinKickass/OpenLockIn/internal/config"
	"github.com/KevinKickass/OpenLockIn/internal/interfaces"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	router      *gin.Engine
	lm          interfaces.LifecycleManager
	logger      *zap.Logger
	server      *http.Server
	listener    net.Listener
	wsHub       *websocket.Hub
	authService *auth.AuthService // nil when auth is disabled
}

func NewServer(cfg *config.Config, lm interfaces.LifecycleManager, logger *zap.Logger, wsHub *websocket.Hub, authService *auth.AuthService) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:      gin.New(),
		lm:          lm,
		logger:      logger,
		wsHub:       wsHub,
		authService: authService,
	}

	// Device names contain slashes, so clients send them URL-encoded
	// ("lab%2Flockin%2F1") and routing must see the raw path.
	s.router.UseRawPath = true
	s.router.UnescapePathValues = true

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

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	s.logger.Info("Starting REST API server", zap.String("address", ln.Addr().String()))
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.server.Addr
	}
	return s.listener.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

// guard returns the middleware chain protecting a route. Without an auth
// service every route is open.
func (s *Server) guard(perm auth.Permission, handler gin.HandlerFunc) []gin.HandlerFunc {
	if s.authService == nil {
		return []gin.HandlerFunc{handler}
	}
	return []gin.HandlerFunc{s.authService.AuthMiddleware(), auth.RequirePermission(perm), handler}
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	s.router.GET("/health", s.healthCheck)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/system/status", s.getSystemStatus)

		devices := v1.Group("/devices")
		{
			devices.GET("", s.listDevices)
			devices.GET("/:name", s.getDevice)
			devices.GET("/:name/state", s.getDeviceState)
			devices.GET("/:name/snapshot", s.getSnapshot)
			devices.GET("/:name/attributes/:attr", s.readAttribute)
			devices.GET("/:name/attributes/:attr/history", s.getHistory)

			devices.POST("/:name/commands/:cmd", s.guard(auth.PermOperator, s.executeCommand)...)
			devices.POST("/:name/init", s.guard(auth.PermTechnician, s.reinitDevice)...)
		}

		// Auth via first message
		ws := v1.Group("/ws")
		{
			ws.GET("/live", s.wsLiveConnection)
			ws.GET("/status", s.wsStatus)
		}
	}
}

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

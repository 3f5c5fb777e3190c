// Package httpapi exposes the session management operations over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/akarpov87/schoolauth/internal/logging"
	"github.com/akarpov87/schoolauth/internal/server/auth"
	"github.com/akarpov87/schoolauth/internal/server/config"
	"github.com/akarpov87/schoolauth/internal/server/services"
)

// Server wires the auth service into a gin router and owns the listener.
type Server struct {
	auth   *services.AuthService
	issuer *auth.Issuer
	logger logging.Logger
	http   *http.Server
}

// NewServer builds the router and binds it to the configured address.
func NewServer(cfg *config.Config, authSvc *services.AuthService, issuer *auth.Issuer, logger logging.Logger) *Server {
	s := &Server{
		auth:   authSvc,
		issuer: issuer,
		logger: logger.With("module", "httpapi"),
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{cfg.CORSOrigin},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	s.registerRoutes(engine)

	s.http = &http.Server{
		Addr:              cfg.EndpointAddrHTTP,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes(engine *gin.Engine) {
	api := engine.Group("/api/auth")

	api.POST("/login", s.handleLogin)
	api.POST("/register", s.handleRegister)
	// refresh is public: its access token is typically already expired
	api.POST("/refresh", s.handleRefresh)
	api.GET("/check-username/:username", s.handleCheckUsername)
	api.GET("/check-email/:email", s.handleCheckEmail)

	protected := api.Group("")
	protected.Use(s.requireAuth())
	protected.POST("/logout", s.handleLogout)
	protected.GET("/me", s.handleMe)
	protected.GET("/sessions", s.handleSessions)
	protected.DELETE("/sessions/:id", s.handleRevokeSession)
	protected.POST("/change-password", s.handleChangePassword)
}

// Handler returns the underlying HTTP handler. Test seam.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info(ctx, "http server starting", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "http server stopping")
	return s.http.Shutdown(ctx)
}

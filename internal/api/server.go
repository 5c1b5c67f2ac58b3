// Package api exposes a read-only backtest reporting surface over HTTP:
// listing and inspecting stored BacktestResults, fetching stored recipe
// definitions, and running a new backtest synchronously against a stored
// recipe and candle range. Every GET route is unauthenticated; the single
// POST route is gated by the bearer-JWT middleware in jwt_middleware.go.
// There is no order-placement or account-management surface here — this
// engine never routes orders to a real exchange.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/quantloop/enginecore/internal/storage"
)

// Server is the reporting API's HTTP server.
type Server struct {
	router *gin.Engine
	addr   string
	server *http.Server
}

// Config contains server configuration.
type Config struct {
	Host string
	Port int

	Results *storage.BacktestResultStore
	Recipes *storage.RecipeStore
	Candles *storage.CandleStore

	// JWTSecret signs and verifies bearer tokens for the POST route. An
	// empty secret disables the POST route entirely rather than running
	// unauthenticated.
	JWTSecret string
}

// NewServer creates a new reporting API server.
func NewServer(config Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	server := &Server{router: router, addr: addr}

	backtests := &BacktestHandler{results: config.Results, recipes: config.Recipes, candles: config.Candles}
	recipes := &RecipeHandler{recipes: config.Recipes}
	setupRoutes(router, backtests, recipes, config.JWTSecret)

	return server
}

// Start starts the HTTP server; it blocks until Stop is called or the
// listener fails.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting reporting API server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("Stopping reporting API server")
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
	}
	return nil
}

// LoggerMiddleware is a Gin request logging middleware.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		logEvent := log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", query).
			Int("status", c.Writer.Status()).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP())

		if len(c.Errors) > 0 {
			logEvent.Str("errors", c.Errors.String())
		}
		logEvent.Msg("API request")
	}
}

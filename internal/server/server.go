// Package server provides the main HTTP server implementation.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/relaycc/cloudcode-gateway/internal/config"
	"github.com/relaycc/cloudcode-gateway/internal/executor"
	"github.com/relaycc/cloudcode-gateway/internal/format"
	"github.com/relaycc/cloudcode-gateway/internal/pool"
	"github.com/relaycc/cloudcode-gateway/internal/quota"
	"github.com/relaycc/cloudcode-gateway/internal/server/handlers"
	"github.com/relaycc/cloudcode-gateway/internal/utils"
	"github.com/relaycc/cloudcode-gateway/pkg/redis"
)

// Server represents the main HTTP server
type Server struct {
	engine           *gin.Engine
	pool             *pool.Manager
	client           *executor.Client
	refresher        *quota.Refresher
	usage            *redis.UsageStore
	cfg              *config.Config
	fallbackEnabled  bool
	strategyOverride string

	// Initialization state
	initOnce    sync.Once
	initError   error
	initialized bool
}

// Options holds server configuration options
type Options struct {
	FallbackEnabled  bool
	StrategyOverride string
	Debug            bool
	// RedisClient, when set, backs the admin usage-totals surface. A nil
	// client means usage is not tracked (the file/SQLite storage path).
	RedisClient *redis.Client
}

// New creates a new Server instance
func New(cfg *config.Config, manager *pool.Manager, opts Options) *Server {
	if opts.Debug || cfg.IsDebug() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.SetTrustedProxies(nil)
	engine.Use(gin.Recovery())

	s := &Server{
		engine:           engine,
		pool:             manager,
		cfg:              cfg,
		fallbackEnabled:  opts.FallbackEnabled,
		strategyOverride: opts.StrategyOverride,
	}

	if opts.RedisClient != nil {
		s.usage = redis.NewUsageStore(opts.RedisClient)
	}

	return s
}

// Initialize initializes the server, account pool, executor client, and the
// background quota refresher.
func (s *Server) Initialize(ctx context.Context) error {
	s.initOnce.Do(func() {
		if err := s.pool.Initialize(ctx, s.strategyOverride); err != nil {
			s.initError = err
			utils.Error("[Server] Failed to initialize account pool: %v", err)
			return
		}

		s.client = executor.NewClient(s.pool, s.cfg)

		s.refresher = quota.New(s.pool, s.client, s.cfg)
		// The refresher outlives ctx, which only bounds initialization.
		s.refresher.Start(context.Background())

		status := s.pool.GetStatus()
		utils.Success("[Server] Account pool initialized: %s", status.Summary)

		s.initialized = true
	})

	return s.initError
}

// ensureInitialized ensures the server is initialized
func (s *Server) ensureInitialized(c *gin.Context) bool {
	if s.initialized {
		return true
	}

	if err := s.Initialize(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"type": "error",
			"error": gin.H{
				"type":    "api_error",
				"message": "Server not initialized: " + err.Error(),
			},
		})
		return false
	}

	return true
}

// SetupRoutes sets up all HTTP routes
func (s *Server) SetupRoutes() {
	s.engine.Use(CORSMiddleware())
	s.engine.Use(SilentHandlerMiddleware())
	s.engine.Use(RequestLoggingMiddleware())

	s.engine.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, config.RequestBodyLimit)
		c.Next()
	})

	healthHandler := handlers.NewHealthHandler(s.pool)
	modelsHandler := handlers.NewModelsHandler(s.pool)
	accountsHandler := handlers.NewAccountsHandler(s.pool, s.cfg)
	messagesHandler := handlers.NewMessagesHandler(
		s.pool,
		s.client,
		s.cfg,
		s.fallbackEnabled,
		s.usage,
	)
	refreshHandler := handlers.NewRefreshTokenHandler(s.pool)
	usageHandler := handlers.NewUsageHandler(s.usage)

	// Silent handler for clients that probe the root endpoint
	s.engine.POST("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	s.engine.POST("/test/clear-signature-cache", func(c *gin.Context) {
		format.ClearThinkingSignatureCache()
		utils.Debug("[Test] Cleared thinking signature cache")
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Thinking signature cache cleared",
		})
	})

	s.engine.GET("/health", func(c *gin.Context) {
		if !s.ensureInitialized(c) {
			return
		}
		healthHandler.Health(c)
	})

	s.engine.GET("/account-limits", func(c *gin.Context) {
		if !s.ensureInitialized(c) {
			return
		}
		accountsHandler.AccountLimits(c)
	})

	s.engine.POST("/refresh-token", func(c *gin.Context) {
		if !s.ensureInitialized(c) {
			return
		}
		refreshHandler.RefreshToken(c)
	})

	v1 := s.engine.Group("/v1")
	v1.Use(APIKeyAuthMiddleware(s.cfg))
	{
		v1.GET("/models", func(c *gin.Context) {
			if !s.ensureInitialized(c) {
				return
			}
			modelsHandler.ListModels(c)
		})

		v1.POST("/messages/count_tokens", messagesHandler.CountTokens)

		v1.POST("/messages", func(c *gin.Context) {
			if !s.ensureInitialized(c) {
				return
			}
			messagesHandler.Messages(c)
		})

		v1.GET("/admin/usage", usageHandler.GetUsage)
	}

	s.engine.NoRoute(func(c *gin.Context) {
		if utils.IsDebug() {
			utils.Debug("[API] 404 Not Found: %s %s", c.Request.Method, c.Request.URL.Path)
		}
		c.JSON(http.StatusNotFound, gin.H{
			"type": "error",
			"error": gin.H{
				"type":    "not_found_error",
				"message": fmt.Sprintf("Endpoint %s %s not found", c.Request.Method, c.Request.URL.Path),
			},
		})
	})
}

// Run starts the HTTP server
func (s *Server) Run(addr string) error {
	s.SetupRoutes()

	utils.Info("[Server] Starting on %s", addr)

	srv := &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // long timeout for generative responses
		IdleTimeout:  120 * time.Second,
	}

	return srv.ListenAndServe()
}

// Engine returns the Gin engine for testing or custom configuration
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// GetPoolManager returns the account pool manager
func (s *Server) GetPoolManager() *pool.Manager {
	return s.pool
}

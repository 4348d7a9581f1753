// Package main runs the cloudcode-gateway server process.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/relaycc/cloudcode-gateway/internal/config"
	"github.com/relaycc/cloudcode-gateway/internal/executor"
	"github.com/relaycc/cloudcode-gateway/internal/format"
	"github.com/relaycc/cloudcode-gateway/internal/pool"
	"github.com/relaycc/cloudcode-gateway/internal/pool/strategies"
	"github.com/relaycc/cloudcode-gateway/internal/server"
	"github.com/relaycc/cloudcode-gateway/internal/utils"
	"github.com/relaycc/cloudcode-gateway/pkg/redis"
)

const version = "1.0.0"

func main() {
	var (
		debugMode    bool
		fallback     bool
		strategyName string
		port         int
		host         string
	)

	flag.BoolVar(&debugMode, "debug", false, "Enable debug mode (verbose logging)")
	flag.BoolVar(&fallback, "fallback", false, "Enable model fallback on quota exhaust")
	flag.StringVar(&strategyName, "strategy", "", "Account selection strategy (sticky/round-robin/least-used/hybrid)")
	flag.IntVar(&port, "port", 0, "Server port (default: 8080)")
	flag.StringVar(&host, "host", "", "Bind address (default: 0.0.0.0)")
	flag.Parse()

	if os.Getenv("GATEWAY_DEBUG") == "true" {
		debugMode = true
	}
	if os.Getenv("GATEWAY_FALLBACK") == "true" {
		fallback = true
	}

	if port == 0 {
		if envPort := os.Getenv("GATEWAY_PORT"); envPort != "" {
			fmt.Sscanf(envPort, "%d", &port)
		}
	}
	if port == 0 {
		port = config.DefaultPort
	}

	if host == "" {
		host = os.Getenv("GATEWAY_HOST")
	}
	if host == "" {
		host = "0.0.0.0"
	}

	if strategyName != "" {
		validStrategies := []string{strategies.StrategySticky, strategies.StrategyRoundRobin, strategies.StrategyLeastUsed, strategies.StrategyHybrid}
		valid := false
		for _, s := range validStrategies {
			if strings.ToLower(strategyName) == s {
				valid = true
				strategyName = s
				break
			}
		}
		if !valid {
			utils.Warn("[Startup] Invalid strategy \"%s\". Valid options: %s. Using default.",
				strategyName, strings.Join(validStrategies, ", "))
			strategyName = ""
		}
	}

	utils.SetDebug(debugMode)

	cfg := config.DefaultConfig()
	cfg.Load()
	if debugMode {
		cfg.Debug = true
		utils.Debug("Debug mode enabled")
	}
	if fallback {
		cfg.FallbackEnabled = true
		utils.Info("Model fallback mode enabled")
	}
	if port != 0 {
		cfg.Port = port
	}
	if host != "" {
		cfg.Host = host
	}

	var accountStore *redis.AccountStore
	var redisClient *redis.Client
	var store pool.Store

	if cfg.RedisAddr != "" {
		var err error
		redisClient, err = redis.NewClient(redis.Config{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		if err != nil {
			utils.Error("[Startup] Failed to connect to Redis: %v", err)
			utils.Warn("[Startup] Starting without Redis - using file-backed storage")
		} else {
			accountStore = redis.NewAccountStore(redisClient)
			store = accountStore
		}
	}

	if store == nil && cfg.SQLitePath != "" {
		sqliteStore, err := pool.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			utils.Error("[Startup] Failed to open SQLite store: %v", err)
			utils.Warn("[Startup] Falling back to file-backed storage")
		} else {
			store = sqliteStore
		}
	}

	if store == nil {
		if err := cfg.EnsureStorageDir(); err != nil {
			utils.Warn("[Startup] Failed to prepare storage directory: %v", err)
		}
		store = pool.NewFileStore(cfg.StoragePath)
	}

	format.InitGlobalSignatureCache(redisClient)

	credentials := pool.NewCredentials(accountStore)
	manager := pool.NewManager(store, cfg, credentials)
	executor.StartRateLimitStateCleanup()

	srv := server.New(cfg, manager, server.Options{
		FallbackEnabled:  fallback,
		StrategyOverride: strategyName,
		Debug:            debugMode,
		RedisClient:      redisClient,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := srv.Initialize(ctx); err != nil {
		utils.Error("[Startup] Failed to initialize server: %v", err)
		cancel()
		os.Exit(1)
	}
	cancel()

	srv.SetupRoutes()
	engine := srv.Engine()

	printBanner(cfg.Port, cfg.Host, strategyName, debugMode, fallback, manager, cfg)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // long timeout for generative responses
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		utils.Info("[Server] Starting on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			utils.Error("[Server] Failed to start: %v", err)
			os.Exit(1)
		}
	}()

	utils.Success("Server started successfully on port %d", cfg.Port)
	if debugMode {
		utils.Warn("Running in debug mode - verbose logs enabled")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	utils.Info("Shutting down server...")

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		utils.Error("Server forced to shutdown: %v", err)
		os.Exit(1)
	}

	if redisClient != nil {
		redisClient.Close()
	}

	utils.Success("Server stopped")
}

// printBanner prints the startup banner
func printBanner(port int, host, strategy string, debugMode, fallback bool, m *pool.Manager, cfg *config.Config) {
	fmt.Print("\033[H\033[2J")

	status := m.GetStatus()
	strategyLabel := strategies.GetStrategyLabel(m.GetStrategyName())

	configDir := filepath.Dir(cfg.StoragePath)

	displayHost := host
	if host == "0.0.0.0" {
		displayHost = "localhost"
	}

	statusLines := []string{
		fmt.Sprintf("    - Strategy: %s", strategyLabel),
		fmt.Sprintf("    - Accounts: %s", status.Summary),
	}
	if debugMode {
		statusLines = append(statusLines, "    - Debug mode enabled")
	}
	if fallback {
		statusLines = append(statusLines, "    - Model fallback enabled")
	}

	controlLines := []string{
		"    --strategy=<s>     Set account selection strategy",
		"                      (sticky/round-robin/least-used/hybrid)",
	}
	if !debugMode {
		controlLines = append(controlLines, "    --debug            Enable debug mode")
	}
	if !fallback {
		controlLines = append(controlLines, "    --fallback         Enable model fallback on quota exhaust")
	}
	controlLines = append(controlLines, "    Ctrl+C             Stop server")

	fmt.Println(`
╔══════════════════════════════════════════════════════════════╗
║                cloudcode-gateway server v` + version + `                ║
╠══════════════════════════════════════════════════════════════╣
║                                                              ║`)
	fmt.Printf("║  Listening at: http://%s:%-26d ║\n", displayHost, port)
	fmt.Printf("║  Bound to: %s:%-42d ║\n", host, port)
	fmt.Println("║                                                              ║")
	fmt.Println("║  Active Modes:                                               ║")
	for _, line := range statusLines {
		fmt.Printf("║  %-60s ║\n", line)
	}
	fmt.Println("║                                                              ║")
	fmt.Println("║  Control:                                                    ║")
	for _, line := range controlLines {
		fmt.Printf("║  %-60s ║\n", line)
	}
	fmt.Println("║                                                              ║")
	fmt.Println("║  Endpoints:                                                  ║")
	fmt.Println("║    POST /v1/messages         - Anthropic Messages API        ║")
	fmt.Println("║    GET  /v1/models           - List available models         ║")
	fmt.Println("║    GET  /health              - Health check                  ║")
	fmt.Println("║    GET  /account-limits      - Account status & quotas       ║")
	fmt.Println("║    POST /refresh-token       - Force token refresh           ║")
	fmt.Println("║                                                              ║")
	fmt.Println("║  Configuration:                                              ║")
	fmt.Printf("║    Storage: %-50s ║\n", configDir)
	fmt.Println("║                                                              ║")
	fmt.Println("║  Usage:                                                      ║")
	fmt.Printf("║    export ANTHROPIC_BASE_URL=http://localhost:%-15d ║\n", port)
	fmt.Printf("║    export ANTHROPIC_API_KEY=%-33s ║\n", cfg.APIKey)
	fmt.Println("║                                                              ║")
	fmt.Println("║  Manage accounts:                                            ║")
	fmt.Println("║    cloudcode-accounts add                                    ║")
	fmt.Println("║                                                              ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
}

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang-updown-settler/internal/entity"
	"golang-updown-settler/internal/settler/config"
	delivery "golang-updown-settler/internal/settler/delivery/http"
	"golang-updown-settler/internal/settler/dto"
	"golang-updown-settler/internal/settler/repository"
	"golang-updown-settler/internal/settler/service"
	"golang-updown-settler/pkg/logger"
	"golang-updown-settler/pkg/postgres"
	"golang-updown-settler/pkg/redis"
	"golang-updown-settler/pkg/redislock"
	"golang-updown-settler/pkg/telegram"
	"golang-updown-settler/pkg/tradingcal"

	"github.com/labstack/echo/v4"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	swagger "github.com/swaggo/echo-swagger"
)

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Starts the settlement service",
	Run:   runServe,
}

func runServe(cmd *cobra.Command, args []string) {
	// Create a context that is canceled on interrupt signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	appLogger, err := logger.New(cfg.Logger.Level, cfg.Logger.Encoding)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()

	appLogger.Info("Starting Settlement Service", logger.Field("name", cfg.App.Name))

	// The trading calendar is mandatory: without holiday data a pass could
	// settle the wrong day, so this aborts instead of guessing.
	calendar, err := tradingcal.New(cfg.Calendar)
	if err != nil {
		appLogger.Fatal("Failed to initialize trading calendar", logger.ErrorField(err))
	}

	// Initialize database
	postgresCfg := postgres.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		DBName:          cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		LogLevel:        cfg.Database.LogLevel,
	}
	db, err := postgres.NewDB(postgresCfg)
	if err != nil {
		appLogger.Fatal("Failed to initialize database", logger.ErrorField(err))
	}
	if sqlDB, err := db.DB.DB(); err == nil {
		defer sqlDB.Close()
	}

	// Initialize Redis
	redisCfg := redis.Config{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	}
	redisClient, err := redis.NewClient(redisCfg)
	if err != nil {
		appLogger.Fatal("Failed to initialize Redis", logger.ErrorField(err))
	}
	defer redisClient.Close()

	// Initialize operator notifier
	notifier := telegram.NewNoop()
	if cfg.Telegram.Enabled {
		notifier, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			appLogger.Fatal("Failed to initialize Telegram notifier", logger.ErrorField(err))
		}
	}

	// Initialize repositories and the price gateway
	predictionRepo := repository.NewPredictionRepository(db.DB)
	priceRepo := repository.NewEODPriceRepository(db.DB)
	recordRepo := repository.NewSettlementRecordRepository(db.DB)
	runRepo := repository.NewSettlementRunRepository(db.DB)
	ledgerRepo := repository.NewLedgerRepository(db.DB)
	gateway := repository.NewEODHTTPGateway(cfg, appLogger)
	locker := redislock.New(redisClient.Client)

	// Initialize services
	settlementSvc, err := service.NewSettlementService(cfg, appLogger, calendar, gateway,
		predictionRepo, priceRepo, recordRepo, runRepo, ledgerRepo, locker, notifier)
	if err != nil {
		appLogger.Fatal("Failed to initialize settlement service", logger.ErrorField(err))
	}
	ledgerSvc := service.NewLedgerService(cfg, appLogger, ledgerRepo, notifier)

	// Scheduled daily settlement: the cron fire instant is passed through as
	// the explicit as-of, the engine itself never reads the clock for this.
	cronRunner := cron.New()
	if cfg.Settlement.CronSpec != "" {
		_, err = cronRunner.AddFunc(cfg.Settlement.CronSpec, func() {
			runCtx, cancel := context.WithTimeout(ctx, cfg.Settlement.DayLockLease)
			defer cancel()

			result, err := settlementSvc.RunSettlement(runCtx, &dto.RunSettlementRequest{
				TriggeredBy: entity.RunTriggerSchedule,
				AsOf:        time.Now().UTC(),
			})
			if err != nil {
				appLogger.Error("Scheduled settlement pass failed", logger.ErrorField(err))
				return
			}
			appLogger.Info("Scheduled settlement pass completed",
				logger.StringField("trading_day", result.TradingDay),
				logger.IntField("symbols", len(result.Symbols)))
		})
		if err != nil {
			appLogger.Fatal("Invalid settlement cron spec", logger.ErrorField(err))
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	// Initialize Echo server
	e := echo.New()
	e.HideBanner = true

	// Initialize handlers and routes
	settlementHandler := delivery.NewSettlementHandler(settlementSvc, appLogger)
	ledgerHandler := delivery.NewLedgerHandler(ledgerSvc, appLogger)

	apiV1 := e.Group("/api/v1")
	settlementHandler.RegisterRoutes(apiV1.Group("/settlements"))
	ledgerHandler.RegisterUserRoutes(apiV1.Group("/users"))
	ledgerHandler.RegisterLedgerRoutes(apiV1.Group("/ledger"))

	e.GET("/swagger/*", swagger.WrapHandler)

	// Start server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.API.Port)
		appLogger.Info("HTTP server starting", logger.Field("address", addr))
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			appLogger.Error("HTTP server failed to start", logger.ErrorField(err))
			stop() // trigger shutdown
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()

	appLogger.Info("Shutting down server...")

	// Gracefully shutdown the server
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		appLogger.Fatal("Server forced to shutdown", logger.ErrorField(err))
	}

	appLogger.Info("Server exiting")
}

// @title Settlement Service API
// @version 1.0
// @description Admin surface for the up/down prediction settlement engine.
// @BasePath /api/v1
func main() {
	rootCmd := &cobra.Command{Use: "settlement-service"}

	serveCmd.Flags().StringVarP(&configPath, "config", "c", "configs/config-settler.yaml", "Path to the configuration file")

	rootCmd.AddCommand(serveCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing settlement-service CLI: %s\n", err)
		os.Exit(1)
	}
}

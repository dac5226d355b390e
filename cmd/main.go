package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"onsei/voicegate/internal/config"
	"onsei/voicegate/internal/handler"
	"onsei/voicegate/internal/model"
	"onsei/voicegate/internal/repository"
	"onsei/voicegate/internal/seed"
	"onsei/voicegate/internal/service"
	"onsei/voicegate/pkg/twilio"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Initialize logger
	var logger *zap.Logger
	if cfg.Log.Format == "json" {
		logger, _ = zap.NewProduction()
	} else {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	// 3. Open the code store
	var codeRepo repository.CodeRepository
	if cfg.Database.Driver == "memory" {
		codeRepo = repository.NewMemoryCodeRepository()
		logger.Warn("using in-memory code store; codes do not survive restarts")
	} else {
		db, err := config.NewDB(cfg.Database)
		if err != nil {
			logger.Fatal("failed to open database", zap.Error(err))
		}

		autoMigrate := cfg.Database.Postgres.AutoMigrate
		if cfg.Database.Driver == "sqlite" {
			autoMigrate = cfg.Database.SQLite.AutoMigrate
		}
		if autoMigrate {
			if err := model.AutoMigrate(db); err != nil {
				logger.Fatal("failed to auto-migrate", zap.Error(err))
			}
			logger.Info("database migration completed")
		}
		codeRepo = repository.NewGormCodeRepository(db)
	}

	// 4. Initialize call state store (Redis or in-memory)
	var callState repository.CallStateStore
	switch cfg.State.Backend {
	case "redis":
		redisClient, err := config.NewRedisClient(cfg.Database.Redis)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		callState = repository.NewRedisCallStateStore(redisClient)
		logger.Info("using Redis call state store")
	case "memory":
		callState = repository.NewMemoryCallStateStore()
		logger.Info("using in-memory call state store")
	default:
		logger.Fatal("unknown state backend", zap.String("backend", cfg.State.Backend))
	}

	// 5. Seed the store when empty
	if cfg.Seed.LoadOnStart {
		seedWhenEmpty(codeRepo, cfg.Seed.File, logger)
	}

	// 6. Initialize the voice provider client
	dialer := twilio.NewClient(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.PhoneNumber)
	if cfg.Twilio.AccountSID == "" || cfg.Twilio.AuthToken == "" || cfg.Twilio.PhoneNumber == "" {
		logger.Warn("twilio credentials incomplete; outbound dispatch will fail until configured")
	}

	// 7. Initialize services
	redemptionService := service.NewRedemptionService(codeRepo, callState, dialer, cfg.Redemption.ConsumeDedupTTL)
	adminService := service.NewAdminService(codeRepo)

	// 8. Initialize handlers and router
	voiceHandler := handler.NewVoiceHandler(redemptionService, cfg, logger)
	adminHandler := handler.NewAdminHandler(adminService, cfg.Seed.File)
	router := handler.SetupRouter(cfg, logger, voiceHandler, adminHandler)

	// 9. Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 10. Start server with graceful shutdown
	go func() {
		logger.Info("server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}
	logger.Info("server exited gracefully")
}

// seedWhenEmpty loads the seed file into an empty store. A missing file is
// only a warning, matching first-run setups without seed data yet.
func seedWhenEmpty(codeRepo repository.CodeRepository, seedFile string, logger *zap.Logger) {
	ctx := context.Background()

	existing, err := codeRepo.List(ctx)
	if err != nil {
		logger.Error("failed to inspect code store for seeding", zap.Error(err))
		return
	}
	if len(existing) > 0 {
		return
	}

	entries, err := seed.Load(seedFile)
	if err != nil {
		logger.Warn("seed file not loaded", zap.String("file", seedFile), zap.Error(err))
		return
	}

	report, err := service.NewAdminService(codeRepo).Sync(ctx, entries)
	if err != nil {
		logger.Error("seed sync failed", zap.Error(err))
		return
	}
	logger.Info("seeded code store",
		zap.String("file", seedFile),
		zap.Int("created", report.Created),
	)
}

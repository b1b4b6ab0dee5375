package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	rbac "github.com/bohemiyan/TenantRBAC"
	"github.com/bohemiyan/TenantRBAC/internal/config"
	"github.com/bohemiyan/TenantRBAC/internal/db"
	"github.com/bohemiyan/TenantRBAC/internal/routes"
	"github.com/bohemiyan/TenantRBAC/zapLogger"
	"github.com/gofiber/fiber/v2"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logFile := zapLogger.Init(cfg.LogFile, cfg.Debug)
	defer zapLogger.Log.Sync()

	if cfg.JWTSecret == "" {
		zapLogger.Log.Fatal("JWT_SECRET is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pgDB, err := db.NewPostgresDB(cfg)
	if err != nil {
		zapLogger.Log.Fatalf("Failed to initialize PostgreSQL: %v", err)
	}
	zapLogger.Log.Info("Successfully connected to PostgreSQL database")
	defer pgDB.Close()

	redisDB, err := db.NewRedisClient(ctx, cfg)
	if err != nil {
		zapLogger.Log.Fatalf("Failed to initialize Redis: %v", err)
	}
	if redisDB != nil {
		zapLogger.Log.Info("Successfully connected to Redis")
		defer redisDB.Close()
	}

	svc, err := rbac.New(rbac.Config{
		DB:                 pgDB.GormDB,
		RedisClient:        redisDB,
		Tokens:             rbac.NewTokenVerifier(cfg.JWTSecret, cfg.JWTIssuer),
		Logger:             zapLogger.Log,
		AppName:            cfg.AppName,
		AutoMigrate:        true,
		EnableAuditLogging: cfg.AuditEnabled,
		ReconcileLockTTL:   cfg.ReconcileLockTTL,
	})
	if err != nil {
		zapLogger.Log.Fatalf("Failed to initialize RBAC service: %v", err)
	}

	if _, err := svc.SeedGlobalTemplates(ctx); err != nil {
		zapLogger.Log.Fatalf("Failed to seed global role templates: %v", err)
	}

	app := fiber.New(fiber.Config{AppName: cfg.AppName})
	app.Use(zapLogger.FiberLoggingMiddleware(logFile))
	routes.Setup(app, svc)

	go func() {
		<-ctx.Done()
		zapLogger.Log.Info("Shutting down")
		if err := app.Shutdown(); err != nil {
			zapLogger.Log.Errorf("Shutdown failed: %v", err)
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.AppPort)
	zapLogger.Log.Infof("Server started on port %d", cfg.AppPort)
	if err := app.Listen(addr); err != nil {
		zapLogger.Log.Fatalf("Server stopped: %v", err)
	}
}

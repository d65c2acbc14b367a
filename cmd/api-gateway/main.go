package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/tarang-school/pay-api/api/swagger"
	"github.com/tarang-school/pay-api/internal/handler"
	"github.com/tarang-school/pay-api/internal/middleware"
	"github.com/tarang-school/pay-api/internal/models"
	"github.com/tarang-school/pay-api/internal/repository"
	"github.com/tarang-school/pay-api/internal/service"
	"github.com/tarang-school/pay-api/pkg/cache"
	"github.com/tarang-school/pay-api/pkg/config"
	"github.com/tarang-school/pay-api/pkg/database"
	"github.com/tarang-school/pay-api/pkg/jobs"
	"github.com/tarang-school/pay-api/pkg/logger"
	corsmiddleware "github.com/tarang-school/pay-api/pkg/middleware/cors"
	reqidmiddleware "github.com/tarang-school/pay-api/pkg/middleware/requestid"
	"github.com/tarang-school/pay-api/pkg/storage"
	"github.com/tarang-school/pay-api/pkg/swish"
)

// @title Tarang Pay API
// @version 1.0.0
// @description Enrollment and ledger backend for the school payment app
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	if err := database.EnsureSchema(context.Background(), db); err != nil {
		logr.Fatal("failed to apply schema", zap.Error(err))
	}

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, catalogue cache disabled", zap.Error(err))
		redisClient = nil
	}

	validate := validator.New()

	// Repositories.
	store := repository.NewDocumentStore(db)
	studentRepo := repository.NewStudentRepository(store)
	accountRepo := repository.NewAccountRepository(store)
	catalogRepo := repository.NewCatalogRepository(store)
	notificationRepo := repository.NewNotificationRepository(store)
	statementRepo := repository.NewStatementRepository(store)
	authRepo := repository.NewAuthRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	// Services.
	metricsSvc := service.NewMetricsService()
	notificationSvc := service.NewNotificationService(notificationRepo, cfg.Notifications.Retention, logr).WithMetrics(metricsSvc)
	catalogSvc := service.NewCatalogService(catalogRepo, cacheRepo, cfg.Catalog.CacheTTL, validate, logr)
	calculator := service.NewEnrollmentCalculator(cfg.Billing.DueDatePolicy, service.NewDueDateScheduler())
	enrollmentSvc := service.NewEnrollmentService(studentRepo, accountRepo, catalogSvc, notificationSvc, calculator, validate, logr)
	accountSvc := service.NewAccountService(accountRepo, studentRepo, validate, logr)
	swishClient := swish.NewClient(cfg.Swish.BaseURL, cfg.Swish.PayeeNumber, cfg.Swish.Timeout)
	ledgerSvc := service.NewLedgerService(studentRepo, swishClient, notificationSvc, validate, logr).WithMetrics(metricsSvc)
	authSvc := service.NewAuthService(authRepo, accountRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})

	// Statement pipeline: job documents, local PDF storage, signed
	// download links and an in-process render queue.
	statementStorage, err := storage.NewLocalStorage(cfg.Statements.StorageDir)
	if err != nil {
		logr.Fatal("failed to init statement storage", zap.Error(err))
	}
	signer := storage.NewSignedURLSigner(cfg.Statements.SignedURLSecret, cfg.Statements.SignedURLTTL)
	statementSvc := service.NewStatementService(statementRepo, studentRepo, statementStorage, signer, logr).WithMetrics(metricsSvc)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// With statements disabled the routes stay up but requests fail fast
	// because no queue is attached.
	if cfg.Statements.Enabled {
		statementQueue := jobs.NewQueue("statements", statementSvc.Process, jobs.QueueConfig{
			Workers:    cfg.Statements.WorkerConcurrency,
			MaxRetries: cfg.Statements.WorkerRetries,
			Logger:     logr,
		})
		statementSvc.SetQueue(statementQueue)
		statementQueue.Start(ctx)
		defer statementQueue.Stop()
	}

	if cfg.Statements.Enabled && cfg.Statements.CleanupInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.Statements.CleanupInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					removed, err := statementStorage.CleanupOlderThan(cfg.Statements.SignedURLTTL)
					if err != nil {
						logr.Warn("statement cleanup failed", zap.Error(err))
						continue
					}
					if len(removed) > 0 {
						logr.Info("statement files cleaned up", zap.Int("count", len(removed)))
					}
				}
			}
		}()
	}

	// Handlers.
	authHandler := handler.NewAuthHandler(authSvc)
	accountHandler := handler.NewAccountHandler(accountSvc)
	catalogHandler := handler.NewCatalogHandler(catalogSvc)
	studentHandler := handler.NewStudentHandler(enrollmentSvc, ledgerSvc, accountSvc)
	notificationHandler := handler.NewNotificationHandler(notificationSvc)
	statementHandler := handler.NewStatementHandler(statementSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
	}

	// Statement downloads authenticate through the signed token itself.
	api.GET("/statements/download/:token", statementHandler.ServeFile)

	authed := api.Group("")
	authed.Use(middleware.JWT(authSvc))
	{
		authed.POST("/auth/logout", authHandler.Logout)
		authed.POST("/auth/change-password", authHandler.ChangePassword)

		authed.GET("/accounts/me", accountHandler.Me)
		authed.PUT("/accounts/me", accountHandler.UpdateMe)
		authed.POST("/accounts/me/device-tokens", accountHandler.RegisterDeviceToken)

		authed.GET("/courses", catalogHandler.List)

		authed.GET("/students", studentHandler.List)
		authed.POST("/students", studentHandler.Register)
		authed.GET("/students/:ssn", studentHandler.Get)
		authed.PUT("/students/:ssn/courses", studentHandler.UpdateCourses)
		authed.DELETE("/students/:ssn/link", studentHandler.Unlink)
		authed.GET("/students/:ssn/balance", studentHandler.Balance)
		authed.GET("/students/:ssn/transactions", studentHandler.Transactions)
		authed.POST("/students/:ssn/payments", studentHandler.InitiatePayment)

		authed.GET("/notifications", notificationHandler.List)
		authed.PUT("/notifications/read-all", notificationHandler.MarkAllRead)
		authed.PUT("/notifications/:id/read", notificationHandler.ToggleRead)
		authed.DELETE("/notifications/:id", notificationHandler.Dismiss)

		authed.POST("/statements", statementHandler.Request)
		authed.GET("/statements/:id", statementHandler.Status)
		authed.GET("/statements/:id/download", statementHandler.Download)
	}

	admin := api.Group("")
	admin.Use(middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin))
	{
		admin.POST("/courses", catalogHandler.Create)
		admin.PUT("/courses/:id", catalogHandler.Update)
		admin.DELETE("/courses/:id", catalogHandler.Delete)

		admin.PUT("/students/:ssn/vacation", studentHandler.SetVacation)
		admin.POST("/students/:ssn/transactions", studentHandler.AppendTransaction)

		admin.POST("/notifications", notificationHandler.Append)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Info("server starting", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("shutdown incomplete", zap.Error(err))
	}
}

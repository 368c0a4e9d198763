package router

import (
	"chainpay/config"
	"chainpay/internal/handler"
	"chainpay/internal/middleware"
	"chainpay/internal/repository"
	"chainpay/internal/service"
	"chainpay/internal/ws"
	"chainpay/pkg/chain"
	"chainpay/pkg/rates"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

func Setup(cfg *config.Config, db *gorm.DB, chainClient chain.Client, rateProvider rates.Provider) *gin.Engine {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	// Repositories
	userRepo := repository.NewUserRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	batchRepo := repository.NewBatchRepository(db)
	migrationRepo := repository.NewMigrationRepository(db)
	auditRepo := repository.NewAuditLogRepository(db)

	hub := ws.NewHub()

	// Services
	authSvc := service.NewAuthService(cfg, userRepo)
	batchSvc := service.NewBatchService(userRepo, ledgerRepo, batchRepo, migrationRepo, cfg.Saga.MaxRetries)
	migrationSvc := service.NewMigrationService(migrationRepo, ledgerRepo, batchSvc, chainClient, rateProvider, cfg.Saga, cfg.Chain, hub)

	// Handlers
	authHandler := handler.NewAuthHandler(authSvc)
	batchHandler := handler.NewBatchHandler(batchSvc, auditRepo)
	migrationHandler := handler.NewMigrationHandler(migrationSvc, auditRepo)

	authMw := middleware.AuthRequired(&cfg.JWT)
	operatorMw := middleware.OperatorRequired()

	api := r.Group("/api/v1")
	{
		api.POST("/auth/login", authHandler.Login)

		admin := api.Group("/admin")
		admin.Use(authMw, operatorMw)
		{
			admin.POST("/batches", batchHandler.Create)
			admin.GET("/batches", batchHandler.List)
			admin.GET("/batches/:id", batchHandler.Get)
			admin.POST("/migrations/:id/process", migrationHandler.Process)
			admin.POST("/migrations/:id/retry", migrationHandler.Retry)
			admin.POST("/migrations/:id/rollback", migrationHandler.Rollback)
		}
	}

	r.GET("/ws/batches/:id", ws.UpgradeBatchWS(&cfg.JWT, hub))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })

	return r
}

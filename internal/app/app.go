package app

import (
	"context"
	"fmt"
	"time"

	"gongbu_payments/database"
	"gongbu_payments/internal/config"
	"gongbu_payments/internal/email"
	"gongbu_payments/internal/gateway"
	"gongbu_payments/internal/handlers"
	"gongbu_payments/internal/logger"
	"gongbu_payments/internal/middleware"
	"gongbu_payments/internal/models"
	"gongbu_payments/internal/repositories"
	"gongbu_payments/internal/routes"
	"gongbu_payments/internal/services"
	"gongbu_payments/internal/validator"
	"gongbu_payments/internal/workers"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func Run() {
	config.LoadConfig()
	cfg := config.AppConfig
	logger.Init(cfg.Server.Env)
	logger.Info("Logger initialized", "env", cfg.Server.Env)

	logger.Info("Connecting to database...")
	gormDB, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{})
	if err != nil {
		logger.Fatal("Failed to connect to GORM", "error", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		logger.Fatal("Failed to get *sql.DB from GORM", "error", err)
	}
	if err = sqlDB.Ping(); err != nil {
		logger.Fatal("Database unavailable", "error", err)
	}
	logger.Info("Database connected")

	if err := database.AutoMigrate(gormDB); err != nil {
		logger.Fatal("Failed to run migrations", "error", err)
	}

	ginRouter := SetupRouter(cfg, gormDB)

	address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	logger.Info(fmt.Sprintf("🚀 Server starting on %s", address))
	if err := ginRouter.Run(address); err != nil {
		logger.Fatal("Server startup error", "error", err)
	}
}

func SetupRouter(cfg *config.Config, gormDB *gorm.DB) *gin.Engine {
	// 1. Инициализируем сервисы
	serviceContainer := initializeServices(cfg, gormDB)

	// 2. Инициализируем хэндлеры
	appHandlers := initializeHandlers(serviceContainer)

	// 3. Инициализируем Gin
	ginRouter := initializeGinRouter()

	// 4. Делегируем регистрацию маршрутов пакету 'routes'
	routes.RegisterRoutes(ginRouter, appHandlers)

	// 5. Запускаем фоновый reconciliation
	startWorkers(cfg, gormDB, serviceContainer)

	return ginRouter
}

func initializeServices(cfg *config.Config, gormDB *gorm.DB) *services.ServiceContainer {
	var emailProvider email.Provider
	if cfg.Email.SMTPHost == "" {
		logger.Warn("--- SMTP не сконфигурирован. Используется MOCK email-провайдер. ---")
		emailProvider = &MockEmailProvider{}
	} else {
		emailProvider = email.NewGomailProvider(
			cfg.Email.SMTPHost,
			cfg.Email.SMTPPort,
			cfg.Email.SMTPUsername,
			cfg.Email.SMTPPassword,
			cfg.Email.FromEmail,
			cfg.Email.FromName,
		)
	}

	gatewayTimeout := time.Duration(cfg.Payments.GatewayTimeout) * time.Second

	// --- Инициализация платежных шлюзов ---
	var registry *gateway.Registry
	if cfg.Payments.Stripe.SecretKey == "" && cfg.Payments.YooKassa.SecretKey == "" {
		logger.Warn("--- Ключи провайдеров не сконфигурированы. Используются MOCK-шлюзы. ---")
		registry = gateway.NewRegistry(
			NewMockGateway(models.ProviderStripe),
			NewMockGateway(models.ProviderYooKassa),
		)
	} else {
		registry = gateway.NewRegistry(
			gateway.NewStripeGateway(
				cfg.Payments.Stripe.SecretKey,
				cfg.Payments.Stripe.WebhookSecret,
				cfg.Payments.Stripe.PlanPrices,
			),
			gateway.NewYooKassaGateway(
				cfg.Payments.YooKassa.APIURL,
				cfg.Payments.YooKassa.ShopID,
				cfg.Payments.YooKassa.SecretKey,
				cfg.Payments.YooKassa.WebhookSecret,
				gatewayTimeout,
			),
		)
	}
	logger.Info("Payment gateways registered", "providers", registry.Providers())

	// --- Инициализация репозиториев ---
	paymentRepo := repositories.NewPaymentRepository(gormDB)
	subscriptionRepo := repositories.NewSubscriptionRepository(gormDB)
	webhookEventRepo := repositories.NewWebhookEventRepository(gormDB)

	// --- Инициализация сервисов ---
	minAmount, err := decimal.NewFromString(cfg.Payments.MinAmount)
	if err != nil {
		logger.Fatal("Invalid payments.min_amount in config", "error", err)
	}
	maxAmount, err := decimal.NewFromString(cfg.Payments.MaxAmount)
	if err != nil {
		logger.Fatal("Invalid payments.max_amount in config", "error", err)
	}

	paymentService := services.NewPaymentService(
		paymentRepo, registry, emailProvider, minAmount, maxAmount, gatewayTimeout)
	subscriptionService := services.NewSubscriptionService(
		subscriptionRepo, registry, gatewayTimeout)
	webhookService := services.NewWebhookService(
		registry, webhookEventRepo, paymentService, subscriptionRepo)

	return &services.ServiceContainer{
		PaymentService:      paymentService,
		SubscriptionService: subscriptionService,
		WebhookService:      webhookService,
		EmailProvider:       emailProvider,
	}
}

func initializeHandlers(services *services.ServiceContainer) *handlers.AppHandlers {
	customValidator := validator.New()
	baseHandler := handlers.NewBaseHandler(customValidator)

	return &handlers.AppHandlers{
		PaymentHandler:      handlers.NewPaymentHandler(baseHandler, services.PaymentService),
		SubscriptionHandler: handlers.NewSubscriptionHandler(baseHandler, services.SubscriptionService),
		WebhookHandler:      handlers.NewWebhookHandler(baseHandler, services.WebhookService),
	}
}

func initializeGinRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggingMiddleware())
	router.Use(middleware.CORSMiddleware())
	return router
}

func startWorkers(cfg *config.Config, gormDB *gorm.DB, serviceContainer *services.ServiceContainer) {
	paymentRepo := repositories.NewPaymentRepository(gormDB)
	worker := workers.NewReconciliationWorker(
		paymentRepo,
		serviceContainer.PaymentService,
		time.Duration(cfg.Workers.ReconcileInterval)*time.Second,
		time.Duration(cfg.Workers.ReconcileAfter)*time.Minute,
	)
	worker.Start(context.Background())
}

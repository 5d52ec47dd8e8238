package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"gorm.io/gorm"

	awspkg "github.com/mamun007molla/blood-donation-server/pkg/aws"
	dynamopkg "github.com/mamun007molla/blood-donation-server/pkg/dynamodb"
	"github.com/mamun007molla/blood-donation-server/services/common/auth"
	apperrors "github.com/mamun007molla/blood-donation-server/services/common/errors"
	"github.com/mamun007molla/blood-donation-server/services/common/logger"
	commonmw "github.com/mamun007molla/blood-donation-server/services/common/middleware"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/config"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/controllers"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/database"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/events"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/middleware"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/providers"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/repository"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/routes"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/services"
	"github.com/mamun007molla/blood-donation-server/services/donation-service/workers"
)

const serviceName = "donation-service"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Initialize(os.Getenv("APP_ENV")).Fatal("Failed to load config", zap.Error(err))
	}

	ctx := context.Background()

	// --- Logging (console, tee'd to CloudWatch Logs when enabled) ---
	var log *zap.Logger
	cwLogs, err := awspkg.NewCloudWatchLogsClient(ctx, serviceName)
	if err == nil && cwLogs.IsEnabled() {
		log = logger.InitializeWithWriter(cfg.Env, cwLogs)
	} else {
		log = logger.Initialize(cfg.Env)
		if err != nil {
			log.Warn("CloudWatch logs client init failed (non-fatal)", zap.Error(err))
		}
	}
	defer log.Sync() //nolint:errcheck

	// --- Metrics ---
	var recorder awspkg.MetricsRecorder
	metricsClient, err := awspkg.NewMetricsClient(ctx)
	if err != nil {
		log.Warn("CloudWatch metrics client init failed (non-fatal)", zap.Error(err))
	} else {
		recorder = metricsClient
	}

	awsCfg, awsErr := awspkg.LoadAWSConfig(ctx)
	if awsErr != nil {
		log.Warn("AWS config unavailable, SNS and SQS disabled", zap.Error(awsErr))
	}

	// --- Stores ---
	mongoClient, mongoDB, err := database.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDB, log)
	if err != nil {
		log.Fatal("MongoDB connection failed", zap.Error(err))
	}
	defer database.DisconnectMongo(mongoClient) //nolint:errcheck

	requestRepo := buildRequestRepository(ctx, cfg, mongoDB, log)

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Warn("Redis unavailable, request cache disabled", zap.Error(err))
		} else {
			defer redisClient.Close()
			requestRepo = repository.NewCachedRequestRepository(requestRepo, redisClient, cfg.RequestCacheTTL, log)
			log.Info("Request cache enabled", zap.Duration("ttl", cfg.RequestCacheTTL))
		}
	}

	ledger, pg := buildLedger(ctx, cfg, mongoDB, log)
	if pg != nil {
		defer database.ClosePostgres(pg) //nolint:errcheck
	}

	donorRepo := repository.NewMongoDonorRepository(mongoDB)

	// --- Events ---
	publisher, closePublisher := buildPublisher(cfg, awsCfg, awsErr, log)
	defer closePublisher()

	// --- Services ---
	gateway := providers.NewStripeGateway(providers.StripeConfig{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookKey,
		Timeout:       cfg.StripeTimeout,
		MaxRetries:    1,
	})

	lifecycle := services.NewLifecycleService(requestRepo, publisher, recorder, log)
	queries := services.NewRequestQueryService(requestRepo, log)
	reconciler := services.NewReconciliationService(gateway, ledger, publisher, recorder,
		services.ReconciliationConfig{Currency: cfg.PaymentCurrency, SiteDomain: cfg.SiteDomain}, log)
	donors := services.NewDonorService(donorRepo, log)

	// --- Router ---
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(commonmw.RequestID())
	if metricsClient.IsEnabled() {
		r.Use(commonmw.MetricsMiddleware(metricsClient, serviceName))
	}
	r.Use(commonmw.RequestLogger(log, "/health"))
	r.Use(commonmw.SecurityHeaders())
	if origins := commonmw.ParseOrigins(cfg.AllowedOrigins); len(origins) > 0 {
		r.Use(commonmw.CORSMiddleware(origins))
	}
	r.Use(commonmw.Timeout(30 * time.Second))
	r.Use(apperrors.ErrorMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": serviceName})
	})

	authenticate := middleware.Authenticate(middleware.AuthConfig{
		Verifier:            auth.NewTokenVerifier(cfg.JWTSecret),
		TrustGatewayHeaders: cfg.TrustGatewayHeaders,
		Roles:               donors,
		Logger:              log,
	})
	routes.RegisterRoutes(r, routes.Controllers{
		Requests: controllers.NewRequestController(lifecycle, queries, log),
		Payments: controllers.NewPaymentController(reconciler, gateway, log),
		Donors:   controllers.NewDonorController(donors),
	}, authenticate, routes.Options{
		PaymentRatePerMinute: cfg.PaymentRatePerMinute,
		PaymentBurst:         cfg.PaymentBurst,
	})

	// --- Checkout event consumer ---
	consumerCtx, consumerCancel := context.WithCancel(ctx)
	defer consumerCancel()
	if cfg.CheckoutEventsQueueURL != "" && awsErr == nil {
		consumer := awspkg.NewSQSConsumer(awsCfg, cfg.CheckoutEventsQueueURL, log)
		handler := workers.NewCheckoutEventHandler(reconciler, log)
		go func() {
			if err := consumer.StartPolling(consumerCtx, handler.Handle); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("Checkout event consumer stopped", zap.Error(err))
			}
		}()
	}

	// --- HTTP server ---
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("Donation service started", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Initiating graceful shutdown...")
	consumerCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", zap.Error(err))
	}
	log.Info("Donation service stopped gracefully")
}

func buildRequestRepository(ctx context.Context, cfg *config.Config, db *mongo.Database, log *zap.Logger) repository.RequestRepository {
	if cfg.RequestStore == config.StoreDynamoDB {
		client, err := dynamopkg.NewClient(ctx)
		if err != nil {
			log.Fatal("DynamoDB client init failed", zap.Error(err))
		}
		if cfg.DynamoDBAutoCreate {
			created, err := dynamopkg.EnsureTable(ctx, client, cfg.DynamoDBRequestsTable, 2*time.Minute)
			if err != nil {
				log.Fatal("DynamoDB table bootstrap failed", zap.Error(err))
			}
			if created {
				log.Info("Created DynamoDB requests table", zap.String("table", cfg.DynamoDBRequestsTable))
			}
		}
		log.Info("Using DynamoDB request store", zap.String("table", cfg.DynamoDBRequestsTable))
		return repository.NewDynamoRequestRepository(client, cfg.DynamoDBRequestsTable)
	}

	repo := repository.NewMongoRequestRepository(db)
	if err := repo.EnsureIndexes(ctx); err != nil {
		log.Warn("Failed to ensure request indexes", zap.Error(err))
	}
	return repo
}

func buildLedger(ctx context.Context, cfg *config.Config, db *mongo.Database, log *zap.Logger) (repository.PaymentLedger, *gorm.DB) {
	if cfg.LedgerStore == config.StorePostgres {
		pg, err := database.ConnectPostgres(ctx, cfg.PostgresDSN(), database.DefaultPostgresOptions, log)
		if err != nil {
			log.Fatal("PostgreSQL connection failed", zap.Error(err))
		}
		ledger := repository.NewGormPaymentLedger(pg)
		if err := ledger.Migrate(); err != nil {
			log.Fatal("Ledger migration failed", zap.Error(err))
		}
		return ledger, pg
	}

	ledger := repository.NewMongoPaymentLedger(db)
	// without the unique index duplicate confirmations could double-insert
	if err := ledger.EnsureIndexes(ctx); err != nil {
		log.Fatal("Failed to ensure ledger indexes", zap.Error(err))
	}
	return ledger, nil
}

func buildPublisher(cfg *config.Config, awsCfg sdkaws.Config, awsErr error, log *zap.Logger) (events.Publisher, func()) {
	var (
		pubs    events.MultiPublisher
		closers []func()
	)
	if cfg.DonationSNSTopicARN != "" && awsErr == nil {
		pubs = append(pubs, events.NewSNSPublisher(awspkg.NewSNSClient(awsCfg), cfg.DonationSNSTopicARN))
		log.Info("SNS event publishing enabled", zap.String("topic", cfg.DonationSNSTopicARN))
	}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic))
		pubs = append(pubs, kp)
		closers = append(closers, func() {
			if err := kp.Close(); err != nil {
				log.Warn("Kafka writer close failed", zap.Error(err))
			}
		})
		log.Info("Kafka event publishing enabled", zap.String("topic", cfg.KafkaTopic))
	}

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	if len(pubs) == 0 {
		return events.NopPublisher{}, closeAll
	}
	return pubs, closeAll
}

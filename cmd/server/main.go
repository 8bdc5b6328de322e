package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/classroom/classroom/internal/activity"
	"github.com/classroom/classroom/internal/config"
	"github.com/classroom/classroom/internal/handlers"
	"github.com/classroom/classroom/internal/locale"
	"github.com/classroom/classroom/internal/middleware"
	"github.com/classroom/classroom/internal/notify"
	"github.com/classroom/classroom/internal/repository"
	"github.com/classroom/classroom/internal/security"
	"github.com/classroom/classroom/internal/service"
	"github.com/classroom/classroom/internal/validation"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file loaded")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if cfg.Server.Env == config.EnvDevelopment {
		logger.SetLevel(logrus.DebugLevel)
	}

	b, err := initBackends(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize storage")
	}
	defer b.close(logger)

	users, otps, err := b.stores(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize repositories")
	}

	var recorder activity.Recorder = activity.NewLogRecorder(logger)
	if b.db != nil {
		recorder = activity.NewGormRecorder(b.db, logger)
	}

	catalog := locale.New(cfg.Server.Lang)
	authService := service.NewAuthService(
		users,
		otps,
		security.NewBcryptHasher(cfg.Security.BcryptCost),
		newNotifier(cfg, logger),
		recorder,
		catalog,
		&cfg.OTP,
		logger,
	)
	if cfg.OTP.DebugLogCode {
		logger.Warn("OTP debug logging is enabled; plaintext codes will be written to the log")
	}

	authHandlers := handlers.NewAuthHandlers(authService, validation.New(catalog, cfg.OTP.Length), catalog, logger)
	healthHandler := handlers.NewHealthHandler(b.checks(), logger)
	router := setupRouter(authHandlers, healthHandler, catalog, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"port":       cfg.Server.Port,
			"user_store": cfg.Storage.Users,
			"otp_store":  cfg.Storage.OTP,
		}).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}

// backends holds the clients the configured stores need; unused ones stay nil.
type backends struct {
	dynamo *dynamodb.Client
	db     *gorm.DB
	redis  *redis.Client
}

func initBackends(cfg *config.Config, logger *logrus.Logger) (*backends, error) {
	b := &backends{}
	uses := func(kind string) bool {
		return cfg.Storage.Users == kind || cfg.Storage.OTP == kind
	}

	var err error
	if uses("dynamodb") {
		if b.dynamo, err = initDynamoDB(cfg, logger); err != nil {
			return nil, err
		}
	}
	if uses("postgres") {
		if b.db, err = initPostgres(cfg, logger); err != nil {
			return nil, err
		}
	}
	if uses("redis") {
		if b.redis, err = initRedis(cfg, logger); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *backends) stores(cfg *config.Config, logger *logrus.Logger) (repository.UserDirectory, repository.OTPStore, error) {
	var users repository.UserDirectory
	switch cfg.Storage.Users {
	case "dynamodb":
		users = repository.NewDynamoUserRepository(b.dynamo, cfg.DynamoDB.TableName, logger)
	case "postgres":
		users = repository.NewGormUserRepository(b.db, logger)
	case "memory":
		users = repository.NewMemoryUserRepository()
	default:
		return nil, nil, fmt.Errorf("unsupported user store %q", cfg.Storage.Users)
	}

	var otps repository.OTPStore
	switch cfg.Storage.OTP {
	case "dynamodb":
		otps = repository.NewDynamoOTPRepository(b.dynamo, cfg.DynamoDB.TableName, logger)
	case "postgres":
		otps = repository.NewGormOTPRepository(b.db, logger)
	case "redis":
		otps = repository.NewRedisOTPRepository(b.redis, cfg.Redis.KeyPrefix, logger)
	case "memory":
		otps = repository.NewMemoryOTPRepository()
	default:
		return nil, nil, fmt.Errorf("unsupported OTP store %q", cfg.Storage.OTP)
	}

	return users, otps, nil
}

func (b *backends) checks() map[string]handlers.Check {
	checks := map[string]handlers.Check{}
	if b.db != nil {
		checks["postgres"] = func(ctx context.Context) error {
			sqlDB, err := b.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}
	}
	if b.redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return b.redis.Ping(ctx).Err()
		}
	}
	return checks
}

func (b *backends) close(logger *logrus.Logger) {
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close Redis client")
		}
	}
	if b.db != nil {
		if sqlDB, err := b.db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				logger.WithError(err).Warn("Failed to close database")
			}
		}
	}
}

func initDynamoDB(cfg *config.Config, logger *logrus.Logger) (*dynamodb.Client, error) {
	var awsCfg aws.Config
	var err error

	if cfg.DynamoDB.Endpoint != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.TODO(),
			awsconfig.WithRegion(cfg.DynamoDB.Region),
			awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
				func(service, region string, options ...interface{}) (aws.Endpoint, error) {
					return aws.Endpoint{
						URL:           cfg.DynamoDB.Endpoint,
						SigningRegion: cfg.DynamoDB.Region,
					}, nil
				})),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.TODO(), awsconfig.WithRegion(cfg.DynamoDB.Region))
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg)
	logger.WithField("table", cfg.DynamoDB.TableName).Info("DynamoDB client initialized")
	return client, nil
}

func initPostgres(cfg *config.Config, logger *logrus.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Postgres.ConnMaxLife)

	if err := repository.Migrate(db); err != nil {
		return nil, err
	}

	logger.Info("PostgreSQL connection initialized")
	return db, nil
}

func initRedis(cfg *config.Config, logger *logrus.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Endpoint,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.WithField("endpoint", cfg.Redis.Endpoint).Info("Redis client initialized")
	return client, nil
}

func newNotifier(cfg *config.Config, logger *logrus.Logger) notify.Notifier {
	if cfg.Mail.Driver == "smtp" {
		return notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
		}, logger)
	}
	logger.Warn("Using log mail driver; emails are written to the log")
	return notify.NewLogNotifier(logger)
}

func setupRouter(
	authHandlers *handlers.AuthHandlers,
	healthHandler *handlers.HealthHandler,
	catalog *locale.Catalog,
	logger *logrus.Logger,
) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.CORSMiddleware)
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.Language(catalog))

	router.HandleFunc("/health", healthHandler.Health).Methods("GET", "OPTIONS")

	api := router.PathPrefix("/api/v1").Subrouter()

	auth := api.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/register", authHandlers.Register).Methods("POST", "OPTIONS")
	auth.HandleFunc("/forgot-password", authHandlers.ForgotPassword).Methods("POST", "OPTIONS")
	auth.HandleFunc("/reset-password", authHandlers.ResetPassword).Methods("POST", "OPTIONS")

	users := api.PathPrefix("/users").Subrouter()
	users.HandleFunc("/change-password", authHandlers.ChangePassword).Methods("PUT", "OPTIONS")

	return router
}

// Command mockserver runs the library account backend for local
// development of clients.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/jonboulle/clockwork"
	"github.com/qcom/librarian/internal/config"
	"github.com/qcom/librarian/internal/handlers"
	"github.com/qcom/librarian/internal/middleware"
	"github.com/qcom/librarian/internal/models"
	"github.com/qcom/librarian/internal/repository"
	"github.com/qcom/librarian/internal/service"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	if cfg.JWT.SecretKey == "" {
		key, err := service.GenerateSecretKey()
		if err != nil {
			logger.WithError(err).Fatal("Failed to generate JWT secret")
		}
		cfg.JWT.SecretKey = key
		logger.Warn("JWT_SECRET_KEY not set, using an ephemeral key; tokens will not survive a restart")
	}

	ctx := context.Background()

	userRepo, err := initUserRepository(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize user store")
	}

	tokenRepo, closeTokens, err := initTokenRepository(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize refresh token store")
	}
	defer closeTokens()

	jwtService, err := service.NewJWTService(&cfg.JWT, clockwork.NewRealClock(), logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize JWT service")
	}

	userService := service.NewUserService(userRepo, logger)
	refreshTokenService := service.NewRefreshTokenService(jwtService, tokenRepo, userRepo, logger)

	if cfg.Backend.AdminPassword != "" {
		if _, err := userService.Seed(ctx, models.SignUpRequest{
			FirstName: "Library",
			LastName:  "Admin",
			UserName:  cfg.Backend.AdminUserName,
			Email:     cfg.Backend.AdminEmail,
			Password:  cfg.Backend.AdminPassword,
			Gender:    models.GenderOther,
		}, models.RoleAdmin); err != nil {
			logger.WithError(err).Fatal("Failed to seed admin account")
		}
	}

	router := handlers.NewRouter(
		handlers.NewAuthHandlers(userService, refreshTokenService, logger),
		middleware.NewAuthMiddleware(jwtService, logger),
		logger,
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}

func initUserRepository(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (repository.UserRepository, error) {
	if cfg.Backend.UserStore == "memory" {
		logger.Info("Using in-memory user store")
		return repository.NewMemoryUserRepository(), nil
	}

	client, err := initDynamoDB(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	repo := repository.NewDynamoUserRepository(client, cfg.DynamoDB.TableName, logger)
	if err := repo.EnsureTable(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

func initTokenRepository(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (repository.RefreshTokenRepository, func(), error) {
	if cfg.Backend.TokenStore == "memory" {
		logger.Info("Using in-memory refresh token store")
		return repository.NewMemoryRefreshTokenRepository(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Endpoint,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Endpoint, err)
	}
	logger.WithField("endpoint", cfg.Redis.Endpoint).Info("Redis client initialized")

	return repository.NewRedisRefreshTokenRepository(client, logger), func() { client.Close() }, nil
}

func initDynamoDB(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*dynamodb.Client, error) {
	var awsCfg aws.Config
	var err error

	if cfg.DynamoDB.Endpoint != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
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
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.DynamoDB.Region))
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg)
	logger.Info("DynamoDB client initialized")
	return client, nil
}

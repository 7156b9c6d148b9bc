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
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/singlespine-new/otp-service/internal/clock"
	"github.com/singlespine-new/otp-service/internal/config"
	"github.com/singlespine-new/otp-service/internal/handlers"
	"github.com/singlespine-new/otp-service/internal/middleware"
	"github.com/singlespine-new/otp-service/internal/repository"
	"github.com/singlespine-new/otp-service/internal/service"
	"github.com/singlespine-new/otp-service/internal/sms"
	"github.com/singlespine-new/otp-service/internal/store"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient := initRedis(cfg, logger)
	defer redisClient.Close()

	dynamoClient, err := initDynamoDB(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize DynamoDB")
	}

	clk := clock.New()
	otpStore := initOTPStore(ctx, cfg, redisClient, clk, logger)
	sender := initSender(cfg, logger)

	userRepo := repository.NewUserRepository(dynamoClient, cfg.DynamoDB.TableName, logger)

	jwtService, err := service.NewJWTService(&cfg.JWT, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize JWT service")
	}

	metrics := service.NewMetrics(prometheus.DefaultRegisterer)
	otpService := service.NewOTPService(otpStore, sender, clk, &cfg.OTP, metrics, logger)
	refreshTokenService := service.NewRefreshTokenService(redisClient, logger)

	authHandlers := handlers.NewAuthHandlers(
		otpService,
		jwtService,
		refreshTokenService,
		userRepo,
		logger,
	)

	authMiddleware := middleware.NewAuthMiddleware(jwtService, logger)
	router := setupRouter(authHandlers, authMiddleware, logger)

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
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}

func initRedis(cfg *config.Config, logger *logrus.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Endpoint,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}

	logger.Info("Redis client initialized")
	return client
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
		awsCfg, err = awsconfig.LoadDefaultConfig(context.TODO())
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg)
	logger.Info("DynamoDB client initialized")
	return client, nil
}

func initOTPStore(ctx context.Context, cfg *config.Config, redisClient *redis.Client, clk clock.Clock, logger *logrus.Logger) store.Store {
	switch cfg.Store.Backend {
	case "redis":
		logger.Info("Using Redis OTP store")
		return store.NewRedis(redisClient, cfg.OTP.MaxAttempts, logger)
	default:
		logger.Info("Using in-memory OTP store")
		mem := store.NewMemory(clk, cfg.OTP.MaxAttempts, logger)
		mem.StartSweeper(ctx, cfg.OTP.SweepInterval)
		return mem
	}
}

func initSender(cfg *config.Config, logger *logrus.Logger) sms.Sender {
	switch cfg.SMS.Provider {
	case "arkesel":
		logger.Info("Using Arkesel SMS gateway")
		return sms.NewArkeselClient(cfg.SMS.APIKey, cfg.SMS.SenderID, cfg.SMS.Endpoint, cfg.SMS.Timeout, logger)
	default:
		logger.Warn("Using log-only SMS sender; OTP codes will not be delivered")
		return sms.NewLogSender(logger)
	}
}

func setupRouter(
	authHandlers *handlers.AuthHandlers,
	authMiddleware *middleware.AuthMiddleware,
	logger *logrus.Logger,
) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.CORS)
	router.Use(middleware.Logging(logger))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET", "OPTIONS")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()

	// One bucket of 10 with a 6s refill gives a sustained 10 req/min per IP.
	otpLimiter := middleware.NewIPRateLimiter(10, 6*time.Second)

	auth := api.PathPrefix("/auth").Subrouter()
	auth.Use(otpLimiter.Middleware)
	auth.HandleFunc("/request-otp", authHandlers.RequestOTP).Methods("POST", "OPTIONS")
	auth.HandleFunc("/verify-otp", authHandlers.VerifyOTP).Methods("POST", "OPTIONS")
	auth.HandleFunc("/refresh", authHandlers.RefreshToken).Methods("POST", "OPTIONS")

	protected := api.PathPrefix("/").Subrouter()
	protected.Use(authMiddleware.RequireAuth)
	protected.HandleFunc("/auth/logout", authHandlers.Logout).Methods("POST")
	protected.HandleFunc("/me", authHandlers.Me).Methods("GET")

	return router
}

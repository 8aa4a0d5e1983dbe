package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/face-redact/internal/auth"
	"github.com/example/face-redact/internal/config"
	"github.com/example/face-redact/internal/detector"
	"github.com/example/face-redact/internal/detector/rekognition"
	"github.com/example/face-redact/internal/detector/vision"
	"github.com/example/face-redact/internal/handlers"
	"github.com/example/face-redact/internal/logging"
	"github.com/example/face-redact/internal/redactor"
	"github.com/example/face-redact/internal/repository"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logger, err := logging.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	var repo redactor.Repository
	if cfg.DatabaseDSN != "" {
		db := initDatabase(ctx, cfg.DatabaseDSN, logger)
		r := repository.NewRedactionRepository(db)
		if err := r.AutoMigrate(ctx); err != nil {
			logger.Fatal("auto migrate failed", zap.Error(err))
		}
		repo = r
	}

	var cache redactor.Cache
	if cfg.RedisAddr != "" {
		redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
		cache = redactor.NewRedisCache(initRedis(redisCtx, cfg.RedisAddr, logger))
		redisCancel()
	}

	det := initDetector(ctx, cfg, logger)

	red := redactor.New(det, cache, repo, logger, redactor.Options{
		BlurStrength:        cfg.BlurStrength,
		Mode:                cfg.BlurMode,
		PixelateBlocks:      cfg.PixelateBlocks,
		MaxRetries:          cfg.MaxRetries,
		Timeout:             cfg.DetectionTimeout,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		OutputFormat:        cfg.OutputFormat,
		JPEGQuality:         cfg.JPEGQuality,
	})

	r := gin.Default()
	r.MaxMultipartMemory = handlers.MaxUploadSize

	var authMiddleware gin.HandlerFunc
	if cfg.JWTSecret != "" {
		authMiddleware = auth.JWTMiddleware(cfg.JWTSecret, cfg.JWTAudience)
	}
	handlers.RegisterRoutes(r, red, authMiddleware)

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: r,
	}

	logger.Info("face redaction API listening",
		zap.String("addr", cfg.Addr),
		zap.String("detector", cfg.Provider))
	if err := serveHTTPServer(server, 15*time.Second, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initDetector(ctx context.Context, cfg *config.Config, logger *zap.Logger) detector.Detector {
	switch cfg.Provider {
	case config.ProviderRekognition:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			logger.Fatal("failed to load AWS config", zap.Error(err))
		}
		return rekognition.NewFromConfig(awsCfg, logger)
	default:
		det, err := vision.New(ctx, logger, cfg.VisionMaxFaces)
		if err != nil {
			logger.Fatal("failed to create vision client", zap.Error(err))
		}
		return det
	}
}

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}

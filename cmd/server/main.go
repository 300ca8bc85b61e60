package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/altrix0/pcit-crd-sub000/internal/audit"
	"github.com/altrix0/pcit-crd-sub000/internal/auth"
	"github.com/altrix0/pcit-crd-sub000/internal/config"
	"github.com/altrix0/pcit-crd-sub000/internal/db"
	"github.com/altrix0/pcit-crd-sub000/internal/delivery"
	internalhttp "github.com/altrix0/pcit-crd-sub000/internal/http"
	"github.com/altrix0/pcit-crd-sub000/internal/metrics"
	"github.com/altrix0/pcit-crd-sub000/internal/otp"
	"github.com/altrix0/pcit-crd-sub000/internal/repository"
	"github.com/altrix0/pcit-crd-sub000/internal/session"
)

// store is the combined persistence surface. *repository.Store and
// *repository.Memory both satisfy it.
type store interface {
	auth.AccountStore
	otp.Store
	session.TokenStore
}

func main() {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var repo store
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("db connection failed", zap.Error(err))
		}
		defer pool.Close()
		repo = repository.NewStore(pool)
	} else {
		logger.Warn("DATABASE_URL not set, using in-process store")
		repo = repository.NewMemory()
	}

	var sessions session.Store = session.NewMemoryStore()
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis connection failed", zap.Error(err))
		}
		defer client.Close()
		sessions = session.NewRedisStore(client)
	} else {
		logger.Warn("REDIS_ADDR not set, sessions will not survive restarts")
	}

	var senders []delivery.Sender
	if cfg.SMSGatewayURL != "" {
		senders = append(senders, delivery.NewSMSSender(cfg.SMSGatewayURL, cfg.SMSGatewayToken))
	} else {
		logger.Warn("SMS_GATEWAY_URL not set, OTP codes go to the log sender only")
		senders = append(senders, &delivery.LogSender{Logger: logger})
	}

	engine := otp.NewEngine(repo, senders, otp.Config{
		TTL:           cfg.OTPTTL,
		CodeLength:    cfg.OTPLength,
		MaxRetries:    cfg.OTPMaxRetries,
		LockoutWindow: cfg.LockoutWindow,
	})
	manager := session.NewManager(sessions, repo, repo, session.Config{
		IdleTimeout:   cfg.SessionIdleTimeout,
		TokenTTL:      cfg.DeviceTokenTTL,
		RefreshWindow: cfg.TokenRefreshWindow,
	})
	svc := auth.NewService(repo, engine, manager, audit.New(logger), metrics.New(nil), auth.Config{
		JWTSecret:         cfg.JWTSecret,
		JWTIssuer:         cfg.JWTIssuer,
		StepUpAccessLevel: cfg.StepUpAccessLevel,
		MinPasswordLength: cfg.MinPasswordLength,
	})

	server := internalhttp.NewServer(cfg, svc)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("portal auth listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}

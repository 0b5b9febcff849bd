package apiapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lucaszub/background-remover/internal/config"
	s3infra "github.com/lucaszub/background-remover/internal/infra/s3"
	pgrepo "github.com/lucaszub/background-remover/internal/repo/postgres"
	redrepo "github.com/lucaszub/background-remover/internal/repo/redis"
	authsvc "github.com/lucaszub/background-remover/internal/services/auth"
	gallerysvc "github.com/lucaszub/background-remover/internal/services/gallery"
	quotasvc "github.com/lucaszub/background-remover/internal/services/quota"
	removalsvc "github.com/lucaszub/background-remover/internal/services/removal"
	storagesvc "github.com/lucaszub/background-remover/internal/services/storage"
)

type App struct {
	cfg        config.Config
	logger     *zap.Logger
	server     *http.Server
	postgres   *pgxpool.Pool
	redis      *goredis.Client
	s3         *minio.Client
	httpRouter http.Handler
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	r := chi.NewRouter()
	ApplyMiddlewares(r, log)

	var pool *pgxpool.Pool
	if p, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN); err != nil {
		log.Warn("postgres init failed, continuing in degraded mode", zap.Error(err))
	} else {
		pool = p
	}

	redisClient := redrepo.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)

	var s3Client *minio.Client
	if c, err := s3infra.NewClient(s3infra.Config{
		Endpoint:  cfg.S3.Endpoint,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		UseSSL:    cfg.S3.UseSSL,
	}); err != nil {
		log.Warn("s3 init failed, continuing in degraded mode", zap.Error(err))
	} else {
		s3Client = c
	}

	dayLoc := time.UTC
	if cfg.Quota.DayBoundaryTZ != "" {
		if loaded, err := time.LoadLocation(cfg.Quota.DayBoundaryTZ); err != nil {
			log.Warn("load quota timezone, falling back to UTC",
				zap.String("tz", cfg.Quota.DayBoundaryTZ), zap.Error(err))
		} else {
			dayLoc = loaded
		}
	}

	sessionRepo := redrepo.NewSessionRepo(redisClient)
	anonQuotaRepo := redrepo.NewAnonQuotaRepo(redisClient)
	userRepo := pgrepo.NewUserRepo(pool)
	quotaRepo := pgrepo.NewQuotaRepo(pool)
	usageRepo := pgrepo.NewUsageRepo(pool)
	imageRepo := pgrepo.NewImageRepo(pool)

	jwtManager := authsvc.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTAccessTTL)
	provider := authsvc.NewProviderClient(authsvc.ProviderConfig{
		ClientID:     cfg.Auth.OAuth.ClientID,
		ClientSecret: cfg.Auth.OAuth.ClientSecret,
		TokenURL:     cfg.Auth.OAuth.TokenURL,
		UserinfoURL:  cfg.Auth.OAuth.UserinfoURL,
	})
	authService := authsvc.NewService(jwtManager, sessionRepo, userRepo, provider, cfg.Auth.RefreshTTL, log)

	quotaService := quotasvc.NewService(quotaRepo, anonQuotaRepo, usageRepo, quotasvc.Limits{
		AnonymousDaily: cfg.Quota.AnonymousDailyLimit,
		FreeDaily:      cfg.Quota.FreeDailyLimit,
		PremiumDaily:   cfg.Quota.PremiumDailyLimit,
		PremiumMonthly: cfg.Quota.PremiumMonthlyLimit,
	}, dayLoc, log)

	objectStore := storagesvc.NewS3Store(s3Client, cfg.S3.Bucket)
	storageService := storagesvc.NewService(objectStore, storagesvc.NewImageCodec(log), cfg.Quota.SignedURLTTL, log)
	if s3Client != nil {
		if err := storageService.EnsureBucket(ctx); err != nil {
			log.Warn("ensure s3 bucket failed, continuing in degraded mode", zap.Error(err))
		}
	}

	galleryService := gallerysvc.NewService(imageRepo, storageService, log)

	processor := removalsvc.NewMLClient(cfg.ML.BaseURL, cfg.ML.APIKey, cfg.ML.Timeout)
	removalService := removalsvc.NewService(quotaService, processor, galleryService, cfg.Upload.MaxBytes, log)

	RegisterRoutes(r, Dependencies{
		AuthService:    authService,
		QuotaService:   quotaService,
		RemovalService: removalService,
		GalleryService: galleryService,
		Logger:         log,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	return &App{
		cfg:        cfg,
		logger:     log,
		server:     server,
		postgres:   pool,
		redis:      redisClient,
		s3:         s3Client,
		httpRouter: r,
	}, nil
}

func (a *App) Run() error {
	a.logger.Info("api server started", zap.String("addr", a.cfg.HTTP.Addr))
	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error

	if err := a.server.Shutdown(ctx); err != nil {
		shutdownErr = err
	}
	if a.postgres != nil {
		a.postgres.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	}

	return shutdownErr
}

func (a *App) Handler() http.Handler {
	return a.httpRouter
}

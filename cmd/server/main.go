package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailbucket/backend/internal/cache"
	"mailbucket/backend/internal/config"
	"mailbucket/backend/internal/domain"
	"mailbucket/backend/internal/health"
	"mailbucket/backend/internal/inbound"
	"mailbucket/backend/internal/logger"
	"mailbucket/backend/internal/middleware"
	"mailbucket/backend/internal/monitoring"
	"mailbucket/backend/internal/pool"
	"mailbucket/backend/internal/service"
	"mailbucket/backend/internal/smtp"
	"mailbucket/backend/internal/storage"
	"mailbucket/backend/internal/storage/hybrid"
	"mailbucket/backend/internal/storage/memory"
	"mailbucket/backend/internal/storage/postgres"
	"mailbucket/backend/internal/storage/redis"
	httptransport "mailbucket/backend/internal/transport/http"
	"mailbucket/backend/internal/websocket"
)

// 后端资源句柄，关闭时按顺序释放
type backends struct {
	store  storage.Store
	probe  *postgres.Client
	redis  *redis.Client
	events *redis.EventBus
}

// main 启动同时包含 HTTP webhook 与可选 SMTP 的综合服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 初始化日志系统
	log, err := logger.NewLogger(logger.DefaultRotation(cfg.Log.Level, cfg.Log.Development, cfg.Log.File))
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting mailbucket server",
		zap.String("receiving_domain", cfg.Inbound.ReceivingDomain),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	be, err := initializeStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer be.close(log)

	// 初始化监控与健康检查
	metrics := monitoring.NewMetrics()
	healthChecker := health.NewHealthChecker(be.store, log)
	if be.probe != nil {
		healthChecker.AddReadinessCheck("postgres", be.probe.Check(2*time.Second))
	}
	if be.redis != nil {
		healthChecker.AddReadinessCheck("redis", be.redis.Check(time.Second))
	}

	group, groupCtx := errgroup.WithContext(ctx)

	// 通知链路：WebSocket Hub，多实例部署时经 Redis 转发
	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, log)
	wsHub.OnClientCount(metrics.SetWebsocketClients)

	var notifier service.Notifier = wsHub
	if be.events != nil {
		notifier = be.events
		group.Go(func() error {
			err := be.events.Subscribe(groupCtx, func(event *domain.BucketEvent) {
				wsHub.Notify(event)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error("bucket event subscription stopped", zap.Error(err))
			}
			return nil
		})
	}

	workers := pool.NewWorkerPool(8, 1024, log)
	workers.Start(groupCtx)

	// 初始化服务层
	streamCache := cache.NewLocalCache(groupCtx, 10000, time.Second)

	recordService := service.NewRecordService(be.store, cfg.Bucket, log)
	recordService.SetMetrics(metrics)
	recordService.SetNotifier(notifier, workers)
	recordService.SetStreamCache(streamCache)

	bucketService := service.NewBucketService(be.store, cfg.Bucket, log)
	bucketService.SetMetrics(metrics)
	bucketService.SetNotifier(notifier)
	bucketService.SetStreamCache(streamCache)

	resolver := inbound.NewResolver(cfg.Inbound.ReceivingDomain)
	processor := inbound.NewProcessor(resolver, recordService, log)

	var limiter *middleware.IPRateLimiter
	if cfg.Inbound.RateLimit > 0 {
		limiter = middleware.NewIPRateLimiter(cfg.Inbound.RateLimit, cfg.Inbound.RateBurst, log, metrics)
	}

	// 创建 HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:    cfg,
		Processor: processor,
		Buckets:   bucketService,
		Store:     be.store,
		Hub:       wsHub,
		Health:    healthChecker,
		Metrics:   metrics,
		Limiter:   limiter,
		Logger:    log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// SMTP 服务器 goroutine
	var smtpServer *gosmtp.Server
	if cfg.SMTP.Enabled {
		smtpBackend := smtp.NewBackend(processor, resolver, smtp.NewConnectionLimiter(cfg.SMTP.MaxConns, cfg.SMTP.ConnRate), metrics, log)
		smtpServer = smtp.NewServer(smtpBackend, cfg.SMTP.BindAddr, cfg.SMTP.Domain)

		group.Go(func() error {
			log.Info("starting SMTP server",
				zap.String("address", cfg.SMTP.BindAddr),
				zap.String("domain", cfg.SMTP.Domain),
			)
			if err := smtpServer.ListenAndServe(); err != nil && !smtp.IsClosed(err) {
				log.Error("SMTP server error", zap.Error(err))
				return err
			}
			return nil
		})
	}

	// 定时清理过期收件桶 goroutine
	group.Go(func() error {
		if cfg.Bucket.DefaultTTL > 0 {
			log.Info("starting expired bucket cleanup task", zap.Duration("interval", cfg.Bucket.CleanupInterval))
		}
		bucketService.RunCleanup(groupCtx, cfg.Bucket.CleanupInterval)
		return nil
	})

	if limiter != nil {
		group.Go(func() error {
			limiter.Cleanup(groupCtx, time.Minute)
			return nil
		})
	}

	// WebSocket Hub goroutine
	group.Go(func() error {
		log.Info("starting WebSocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// 关闭 HTTP 服务器
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		// 关闭 SMTP 服务器
		if smtpServer != nil {
			if err := smtpServer.Close(); err != nil {
				log.Warn("SMTP server close warning", zap.Error(err))
			}
		}

		workers.Stop()
		log.Info("servers stopped")
		return nil
	})

	// 等待所有 goroutine 完成
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server error", zap.Error(err))
		return
	}

	log.Info("server exited cleanly")
}

// initializeStorage 根据配置选择存储：
// 未配置数据库时使用内存存储；配置数据库时使用 GORM 存储，
// 启用 Redis 后再叠加缓存层与事件总线。
func initializeStorage(ctx context.Context, cfg *config.Config, log *zap.Logger) (*backends, error) {
	be := &backends{}

	if cfg.Database.Type == "" || cfg.Database.DSN == "" {
		be.store = memory.NewStore()
		log.Info("using memory storage (development mode)")
	} else {
		db, err := postgres.Open(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if err := db.Migrate(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		be.store = db
		log.Info("using database storage", zap.String("type", cfg.Database.Type))

		if cfg.Database.Type != "mysql" {
			probe, err := postgres.NewClient(ctx, &cfg.Database, log)
			if err != nil {
				log.Warn("postgres readiness probe unavailable", zap.Error(err))
			} else {
				be.probe = probe
			}
		}

		if cfg.Redis.Enabled {
			client, err := redis.New(&cfg.Redis, log)
			if err != nil {
				be.close(log)
				return nil, fmt.Errorf("connect redis: %w", err)
			}
			be.redis = client
			be.store = hybrid.NewStore(db, redis.NewCache(client), log)
			log.Info("redis cache enabled", zap.String("address", cfg.Redis.Address))
		}
	}

	// 内存存储也可以通过 Redis 在多个实例间转发事件
	if cfg.Redis.Enabled {
		if be.redis == nil {
			client, err := redis.New(&cfg.Redis, log)
			if err != nil {
				be.close(log)
				return nil, fmt.Errorf("connect redis: %w", err)
			}
			be.redis = client
		}
		be.events = redis.NewEventBus(be.redis, log)
	}

	return be, nil
}

func (b *backends) close(log *zap.Logger) {
	if b.store != nil {
		if err := b.store.Close(); err != nil {
			log.Warn("store close warning", zap.Error(err))
		}
	}
	if b.probe != nil {
		b.probe.Close()
	}
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			log.Warn("redis close warning", zap.Error(err))
		}
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/Gopher0727/KaifLake/config"
	"github.com/Gopher0727/KaifLake/internal/api"
	"github.com/Gopher0727/KaifLake/internal/handler"
	"github.com/Gopher0727/KaifLake/internal/pkg/kafka"
	"github.com/Gopher0727/KaifLake/internal/pkg/metrics"
	"github.com/Gopher0727/KaifLake/internal/pkg/objectstore"
	"github.com/Gopher0727/KaifLake/internal/pkg/redis"
	"github.com/Gopher0727/KaifLake/internal/repository"
	"github.com/Gopher0727/KaifLake/internal/service"
	"github.com/Gopher0727/KaifLake/internal/storage"
	"github.com/Gopher0727/KaifLake/middleware/jwt"
	logger "github.com/Gopher0727/KaifLake/middleware/log"
	"github.com/Gopher0727/KaifLake/utils/ratelimit"
	"github.com/Gopher0727/KaifLake/utils/snowflake"
)

// eventSink is what the services publish to, plus shutdown.
type eventSink interface {
	service.EventPublisher
	Close() error
}

func main() {
	configPath := flag.String("config", "./config.toml", "配置文件路径")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("配置初始化失败: %v", err)
	}

	appLogger, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		log.Fatalf("日志初始化失败: %v", err)
	}
	defer appLogger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 初始化链路追踪 (默认关闭)
	if cfg.Tracing.Enabled {
		shutdown, err := initOTEL(ctx, &cfg.Tracing)
		if err != nil {
			appLogger.Fatal("otel 初始化失败", zap.Error(err))
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(sctx)
		}()
	}

	// 初始化 PostgreSQL
	db, err := storage.InitPostgres(&cfg.Postgres, appLogger)
	if err != nil {
		appLogger.Fatal("postgres 初始化失败", zap.Error(err))
	}

	// 初始化 Redis
	rdb, err := storage.InitRedis(&cfg.Redis)
	if err != nil {
		appLogger.Fatal("redis 初始化失败", zap.Error(err))
	}
	redisClient := redis.NewClient(rdb)
	defer redisClient.Close()

	// 初始化 ID 生成器
	ids, err := snowflake.NewGenerator(snowflake.Config{
		DatacenterID: cfg.Snowflake.DatacenterID,
		WorkerID:     cfg.Snowflake.WorkerID,
	})
	if err != nil {
		appLogger.Fatal("snowflake 初始化失败", zap.Error(err))
	}

	// 初始化仓储层, 用户资料走 Redis 缓存
	userRepo := repository.NewCachedUserRepository(
		repository.NewUserRepository(db),
		rdb,
		time.Duration(cfg.Redis.UserCacheTTL)*time.Second,
		appLogger.Named("user_cache").Logger,
	)
	sessionRepo := repository.NewSessionRepository(db)
	contactRepo := repository.NewContactRepository(db)
	chatRepo := repository.NewChatRepository(db)
	messageRepo := repository.NewMessageRepository(db)

	// 初始化 Kafka Producer, 关闭时事件直接丢弃
	var events eventSink = kafka.NoopPublisher{}
	if cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(&cfg.Kafka)
		if err != nil {
			appLogger.Warn("Kafka 生产者初始化失败, 事件流已停用", zap.Error(err))
		} else {
			events = producer
		}
	}
	defer events.Close()

	// 初始化对象存储, 未启用时上传返回 503
	var store objectstore.ObjectStore
	if cfg.Minio.Enabled {
		minioStore, err := objectstore.NewMinioStore(&cfg.Minio)
		if err != nil {
			appLogger.Fatal("minio 初始化失败", zap.Error(err))
		}
		bctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = minioStore.EnsureBucket(bctx)
		cancel()
		if err != nil {
			appLogger.Warn("minio bucket 检查失败, 媒体上传不可用", zap.Error(err))
		} else {
			store = minioStore
		}
	}

	m := metrics.New()
	tokenManager := jwt.NewTokenManager(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	// 初始化服务层
	guard := service.NewAccessGuard(chatRepo)
	authService := service.NewAuthService(userRepo, sessionRepo, tokenManager, redisClient, ids, appLogger)
	userService := service.NewUserService(userRepo)
	contactService := service.NewContactService(contactRepo, userRepo, ids)
	chatService := service.NewChatService(chatRepo, messageRepo, userRepo, guard, ids, events, m, appLogger)
	messageService := service.NewMessageService(messageRepo, chatRepo, userRepo, guard, ids, events, m, appLogger)
	mediaService := service.NewMediaService(store, cfg.Minio.MaxUploadMB, m, appLogger)

	// 配置并创建 Gin 引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.MaxMultipartMemory = 8 << 20

	limiter := ratelimit.NewWindowLimiter(rdb, appLogger.Named("ratelimit").Logger, true)
	mw := api.NewMiddlewareManager(authService, limiter, m, appLogger, &cfg.RateLimit)
	api.SetupRoutes(r, mw, &api.Handlers{
		Auth:    handler.NewAuthHandler(authService),
		User:    handler.NewUserHandler(userService, contactService),
		Chat:    handler.NewChatHandler(chatService),
		Message: handler.NewMessageHandler(messageService),
		Media:   handler.NewMediaHandler(mediaService, cfg.Minio.MaxUploadMB),
	}, m)

	var h http.Handler = r
	if cfg.Tracing.Enabled {
		h = otelhttp.NewHandler(r, "http.server")
	}
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	// 启动服务器
	go func() {
		appLogger.Info("正在启动服务器", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal("启动服务器失败", zap.Error(err))
		}
	}()

	<-ctx.Done()
	appLogger.Info("正在关闭服务器")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("服务器关闭失败", zap.Error(err))
	}
}

package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"nova_progress_backend/internal/cache"
	"nova_progress_backend/internal/config"
	"nova_progress_backend/internal/controller"
	"nova_progress_backend/internal/middleware"
	"nova_progress_backend/internal/service"
	"nova_progress_backend/internal/util"
	"nova_progress_backend/pkg/configwatcher"
	"nova_progress_backend/pkg/database"
	"nova_progress_backend/pkg/logger"
	"nova_progress_backend/pkg/monitoring"
	"nova_progress_backend/pkg/security"
	"nova_progress_backend/pkg/tracing"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config          *config.Config
	ConfigFile      string
	Router          *gin.Engine
	DB              *gorm.DB
	Redis           *redis.Client
	services        *services
	tracer          *sdktrace.TracerProvider
	ctx             context.Context
	cancel          context.CancelFunc
	configCallbacks []func(*config.Config)
}

type services struct {
	hub        *service.RealtimeHub
	storage    *service.StorageService
	backend    *service.BackendClient
	cache      *cache.LocalCache
	dispatcher *service.OutboxDispatcher
	store      *service.GameStore
	oracle     *service.OracleService
	auth       *service.AuthService
	checkout   *service.CheckoutService
}

type controllers struct {
	health   *controller.HealthController
	auth     *controller.AuthController
	game     *controller.GameController
	task     *controller.TaskController
	oracle   *controller.OracleController
	checkout *controller.CheckoutController
	realtime *controller.RealtimeController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

func (a *App) reloadConfig(cfg *config.Config) {
	for _, cb := range a.configCallbacks {
		cb(cfg)
	}
}

func (a *App) initServices(cfg *config.Config, db *gorm.DB, rdb *redis.Client) *services {
	s := &services{}

	s.hub = service.NewRealtimeHub(rdb, cfg.CORS.AllowedOrigins)
	s.storage = service.NewStorageService(cfg)
	s.backend = service.NewBackendClient(db, s.hub, s.storage, cfg.Functions)
	s.cache = cache.NewLocalCache(rdb, cfg.Game.SchemaVersion, cfg.Game.CacheTTL)
	s.dispatcher = service.NewOutboxDispatcher(s.backend, cfg.Outbox, cfg.Game.LevelCost)
	s.store = service.NewGameStore(s.backend, s.cache, s.dispatcher, cfg.Game)
	s.oracle = service.NewOracleService(cfg.AI, s.cache, s.store, s.backend)
	s.auth = service.NewAuthService(s.backend.Users, rdb, cfg, service.LogMailer{})
	s.checkout = service.NewCheckoutService(s.backend, s.store, cfg.Payments)

	return s
}

func (a *App) initControllers(s *services, cfg *config.Config, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		health:   controller.NewHealthController(db, rdb),
		auth:     controller.NewAuthController(s.auth, s.store, cfg),
		game:     controller.NewGameController(s.store),
		task:     controller.NewTaskController(s.store),
		oracle:   controller.NewOracleController(s.oracle),
		checkout: controller.NewCheckoutController(s.checkout, cfg.Functions),
		realtime: controller.NewRealtimeController(s.hub),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())
	router.Use(security.RateLimiter(cfg.RateLimit.MaxRequests, time.Duration(cfg.RateLimit.WindowMinutes)*time.Minute))

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

// startBackgroundTasks 实时订阅、同步队列与配置监听，都随 a.ctx 结束
func (a *App) startBackgroundTasks(s *services) {
	go func() {
		if err := s.hub.Run(a.ctx); err != nil {
			logger.Log.Error("Realtime subscription stopped", zap.Error(err))
		}
	}()

	s.store.Start(a.ctx)

	if a.ConfigFile != "" {
		go func() {
			if err := configwatcher.WatchConfig(a.ctx, a.ConfigFile, a.reloadConfig); err != nil {
				logger.Log.Error("Config watcher stopped", zap.Error(err))
			}
		}()
	}
}

func NewApp(cfg *config.Config, configFile string) *App {
	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(&cfg.Database, cfg.Server.Mode, cfg.ForceMigrate)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
		log.Fatalf("Failed to initialize database: %v", err)
	}

	app := &App{
		Config:     cfg,
		ConfigFile: configFile,
		DB:         db,
	}
	if cfg.MigrateOnly {
		return app
	}

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Log.Fatal("Failed to initialize redis", zap.Error(err))
		log.Fatalf("Failed to initialize redis: %v", err)
	}
	app.Redis = rdb
	app.ctx, app.cancel = context.WithCancel(context.Background())

	services := app.initServices(cfg, db, rdb)
	app.services = services
	controllers := app.initControllers(services, cfg, db, rdb)

	app.RegisterConfigCallback(logger.SetLevel)
	app.RegisterConfigCallback(func(c *config.Config) {
		services.oracle.Reload(c.AI)
	})

	// 监控初始化
	monitoring.Init()

	gin.SetMode(cfg.Server.Mode)
	router := gin.Default()
	app.Router = router

	app.setupMiddlewares(router, cfg)

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer(cfg.Tracing.ServiceName, cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		app.tracer = tp
	}

	dev := devClaims(cfg)
	app.registerRoutes(router, controllers, middleware.AuthMiddleware(cfg, services.auth, dev))

	if cfg.Storage.Type == "local" {
		router.Static("/uploads", cfg.Storage.LocalPath)
		router.Static("/api/uploads", cfg.Storage.LocalPath)
	}

	app.startBackgroundTasks(services)

	return app
}

// devClaims 开发模式下无令牌请求使用的固定身份
func devClaims(cfg *config.Config) *util.Claims {
	if !cfg.Auth.DevBypass {
		return nil
	}
	logger.Log.Warn("Auth bypass enabled, unauthenticated requests act as dev user", zap.String("email", cfg.Auth.DevUserEmail))
	return middleware.DevClaims(cfg, service.DevUserID(cfg.Auth.DevUserEmail))
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	// 启动服务器
	go func() {
		logger.Log.Info("Server running", zap.String("port", a.Config.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error("Server forced to shutdown", zap.Error(err))
	}

	// 先停同步队列，让正在处理的批次写完
	a.services.store.Stop()
	a.services.hub.Stop()
	a.cancel()

	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		sqlDB.Close()
	}

	logger.Log.Info("Server exiting")
}

// ConfigDir LoadConfig 需要目录，监听需要文件
func ConfigDir(configFile string) string {
	return filepath.Dir(configFile)
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tempmailhub/backend/internal/config"
	"tempmailhub/backend/internal/domain"
	"tempmailhub/backend/internal/health"
	"tempmailhub/backend/internal/logger"
	"tempmailhub/backend/internal/monitoring"
	"tempmailhub/backend/internal/provider"
	"tempmailhub/backend/internal/provider/etempmail"
	"tempmailhub/backend/internal/provider/mailtm"
	"tempmailhub/backend/internal/provider/minmail"
	"tempmailhub/backend/internal/provider/tempmailplus"
	"tempmailhub/backend/internal/provider/vanishpost"
	"tempmailhub/backend/internal/service"
	httptransport "tempmailhub/backend/internal/transport/http"
)

// main 启动临时邮箱聚合网关。
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
	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     "",
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	log.Info("starting tempmailhub gateway",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
		zap.Strings("channel_priority", cfg.Priority),
	)

	// 初始化监控系统
	metrics := monitoring.NewMetrics()

	// 渠道配置与适配器工厂
	channelConfigs := make(map[string]domain.ChannelConfiguration, len(cfg.Channels))
	for name, ch := range cfg.Channels {
		channelConfigs[name] = domain.ChannelConfiguration{
			Name:        name,
			Enabled:     ch.Enabled,
			BaseURL:     ch.BaseURL,
			Timeout:     ch.Timeout,
			Retries:     ch.Retries,
			Credentials: ch.Credentials,
		}
	}

	factories := []provider.Factory{
		{Name: "etempmail", New: func(cc domain.ChannelConfiguration) (provider.Provider, error) {
			return etempmail.New(cc, log), nil
		}},
		{Name: "mailtm", New: func(cc domain.ChannelConfiguration) (provider.Provider, error) {
			return mailtm.New(cc, log), nil
		}},
		{Name: "minmail", New: func(cc domain.ChannelConfiguration) (provider.Provider, error) {
			return minmail.New(cc, log), nil
		}},
		{Name: "tempmailplus", New: func(cc domain.ChannelConfiguration) (provider.Provider, error) {
			return tempmailplus.New(cc, log), nil
		}},
		{Name: "vanishpost", New: func(cc domain.ChannelConfiguration) (provider.Provider, error) {
			return vanishpost.New(cc, log), nil
		}},
	}

	registry := provider.NewRegistry(factories, channelConfigs, cfg.Priority, log)
	mailService := service.NewMailService(registry, metrics, log)

	// 初始化健康检查
	healthHandler := health.NewHandler(mailService)

	// 创建 HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:      cfg,
		MailService: mailService,
		Metrics:     metrics,
		Health:      healthHandler,
		Logger:      log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 渠道注册表预热：失败不致命，首个请求会重试初始化
	group.Go(func() error {
		warmupCtx, cancel := context.WithTimeout(groupCtx, 30*time.Second)
		defer cancel()
		if err := registry.Initialize(warmupCtx); err != nil {
			log.Warn("channel registry warmup failed, will retry on first request", zap.Error(err))
		} else {
			log.Info("channel registry initialized", zap.Strings("channels", registry.Names()))
		}
		return nil
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
			return err
		}
		log.Info("HTTP server stopped")
		return nil
	})

	if err := group.Wait(); err != nil {
		log.Error("server exited with error", zap.Error(err))
	}

	log.Info("tempmailhub gateway stopped")
	_ = log.Sync()
}

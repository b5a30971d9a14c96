package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"tempmailhub/backend/internal/config"
	"tempmailhub/backend/internal/middleware"
	"tempmailhub/backend/internal/monitoring"
	"tempmailhub/backend/internal/service"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config      *config.Config
	MailService *service.MailService
	Metrics     *monitoring.Metrics
	Health      healthcheck.Handler
	Logger      *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	mon := middleware.NewMonitoringMiddleware(deps.Metrics, deps.Logger)

	// 使用自定义中间件替代默认中间件
	router.Use(mon.PanicRecovery())
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(mon.HTTPMetrics())

	// 网关只接收小的 JSON 控制请求
	router.Use(middleware.RequestSizeLimit(1 * 1024 * 1024))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	if deps.Config.RateLimit.Enabled {
		router.Use(middleware.NewRateLimiter(deps.Config.RateLimit, deps.Metrics).Handler())
	}

	handler := NewMailHandler(deps.MailService, deps.Logger)

	// 服务横幅
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data": gin.H{
				"name":        "TempMailHub",
				"description": "Unified temp mail gateway over multiple upstream providers",
			},
		})
	})

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		status := "ok"
		if !deps.MailService.Ready() {
			status = "initializing"
		}
		c.JSON(http.StatusOK, gin.H{"status": status})
	})
	router.GET("/live", gin.WrapF(deps.Health.LiveEndpoint))
	router.GET("/ready", gin.WrapF(deps.Health.ReadyEndpoint))

	// Prometheus 指标
	router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	// 业务 API
	api := router.Group("/api")
	api.Use(middleware.APIKeyAuth(deps.Config.Auth.APIKey))
	{
		api.GET("/info", handler.info)

		mail := api.Group("/mail")
		{
			mail.POST("/create", handler.createMail)
			mail.POST("/list", handler.listMail)
			mail.POST("/content", handler.mailContent)

			mail.GET("/providers/health", handler.providersHealth)
			mail.POST("/providers/test-connections", handler.testConnections)
			mail.GET("/providers/stats", handler.providersStats)

			mail.GET("/:address/verify", handler.verifyMail)

			// 兼容端点：查询串风格
			mail.GET("/:address/emails", handler.listMailCompat)
			mail.GET("/:address/emails/:emailId", handler.mailContentCompat)
		}
	}

	return router
}

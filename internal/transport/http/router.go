package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailbucket/backend/internal/config"
	"mailbucket/backend/internal/health"
	"mailbucket/backend/internal/inbound"
	"mailbucket/backend/internal/middleware"
	"mailbucket/backend/internal/monitoring"
	"mailbucket/backend/internal/service"
	"mailbucket/backend/internal/storage"
	"mailbucket/backend/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config    *config.Config
	Processor *inbound.Processor
	Buckets   *service.BucketService
	Store     storage.Store             // WebSocket 握手前确认收件桶存在
	Hub       *websocket.Hub            // 可选
	Health    *health.HealthChecker     // 可选
	Metrics   *monitoring.Metrics       // 可选
	Limiter   *middleware.IPRateLimiter // 可选，仅作用于 /record
	Logger    *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()

	router.Use(middleware.RecoveryHandler(log, deps.Metrics))
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.SecurityHeaders())
	if deps.Metrics != nil {
		router.Use(middleware.HTTPMetrics(deps.Metrics))
	}

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.OwnerTokenHeader, "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID", "Retry-After"},
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

	inboundHandler := NewInboundHandler(deps.Processor, deps.Metrics, log)
	bucketHandler := NewBucketHandler(deps.Buckets, deps.Config.Inbound.ReceivingDomain, log)

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Health != nil {
		router.GET("/live", gin.WrapF(deps.Health.LiveEndpoint))
		router.GET("/ready", gin.WrapF(deps.Health.ReadyEndpoint))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.UptimeMiddleware(deps.Metrics.HTTPHandler())))
	}

	// ========== 入站 webhook ==========
	maxBody := deps.Config.Inbound.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = middleware.WebhookBodyLimit
	}
	record := []gin.HandlerFunc{middleware.BodySizeLimit(maxBody)}
	if deps.Limiter != nil {
		record = append(record, deps.Limiter.Middleware("record"))
	}
	record = append(record, inboundHandler.Record)
	router.POST("/record", record...)

	// ========== 收件桶 ==========
	bucketRoutes := router.Group("/buckets")
	bucketRoutes.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit))
	bucketRoutes.Use(middleware.OwnerToken())
	{
		bucketRoutes.POST("", bucketHandler.Create)
		bucketRoutes.GET("/:token", bucketHandler.Show)
		bucketRoutes.DELETE("/:token", bucketHandler.Destroy)
		bucketRoutes.GET("/:token/requests_count", bucketHandler.RequestsCount)
		bucketRoutes.GET("/:token/emails/:id", bucketHandler.Email)
		bucketRoutes.DELETE("/:token/emails", bucketHandler.Clear)
	}

	// ========== 实时推送 ==========
	if deps.Hub != nil && deps.Store != nil {
		router.GET("/ws/buckets/:token", websocket.HandleWebSocket(deps.Hub, deps.Store))
	}

	return router
}

package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/josecalderon2/CAI-backend/config"
	"github.com/josecalderon2/CAI-backend/internal/api/handler"
	"github.com/josecalderon2/CAI-backend/internal/api/middleware"
	"github.com/josecalderon2/CAI-backend/pkg/jwt"
	"github.com/josecalderon2/CAI-backend/pkg/redis"
)

// Setup 初始化并返回 Gin 路由引擎
// rdb 为 nil 时黑名单与限流降级放行
func Setup(cfg *config.Config, h *handler.Handler, jwtMgr *jwt.Manager, rdb *redis.Client, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	var (
		blacklist middleware.TokenBlacklist
		limiter   middleware.RateLimiter
	)
	if rdb != nil {
		blacklist, limiter = rdb, rdb
	}
	writeLimit := middleware.RateLimit(limiter, cfg.RateLimit.WriteLimit, cfg.RateLimit.WriteWindow)

	r := gin.New()

	// ── 全局中间件 ──
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.CORS.AllowOrigins))
	r.Use(middleware.BodyLimit(cfg.Server.MaxBodyBytes))

	// ── 健康检查 / 指标 ──
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ── API v1 ──
	v1 := r.Group("/api/v1")
	authorized := v1.Group("")
	authorized.Use(middleware.JWTAuth(jwtMgr, blacklist))
	{
		staffRoles := middleware.RoleAuth(middleware.RoleAdmin, middleware.RolePA)
		adminOnly := middleware.RoleAuth(middleware.RoleAdmin)

		// 任课分配模块
		assignments := authorized.Group("/assignments")
		{
			assignments.GET("", staffRoles, h.Assignment.ListAssignments)
			assignments.POST("", staffRoles, writeLimit, h.Assignment.CreateAssignment)
			assignments.GET("/history", adminOnly, h.Assignment.ListHistory)
			assignments.POST("/projection/refresh", adminOnly, h.Assignment.RefreshProjection)
			assignments.GET("/:id", staffRoles, h.Assignment.GetAssignment)
			assignments.PATCH("/:id", staffRoles, writeLimit, h.Assignment.UpdateAssignment)
			assignments.DELETE("/:id", adminOnly, writeLimit, h.Assignment.DeleteAssignment)
		}

		// 课程班主任（以历史记录为准）
		authorized.GET("/courses/:id/principal", staffRoles, h.Assignment.GetCoursePrincipal)

		// 导出模块
		export := authorized.Group("/export")
		{
			export.GET("/assignments", staffRoles, h.Export.ExportAssignments)
		}
	}

	return r
}

package router

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/user/movierec/internal/handler"
	"github.com/user/movierec/internal/middleware"
)

// New 创建引擎并注册中间件与路由
func New(h *handler.Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	// 启用 gzip，默认压缩级别
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	RegisterRoutes(r, h)
	return r
}

// RegisterRoutes 注册所有路由
func RegisterRoutes(r *gin.Engine, h *handler.Handler) {
	// 健康检查
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ==================== 推荐 ====================
	r.POST("/recommendations", h.Recommend)
	r.GET("/movies/:id/similar", h.Similar)

	// ==================== 运维（需要管理员）====================
	admin := r.Group("")
	admin.Use(middleware.RequireAuth(h.AppSecret))
	admin.Use(middleware.RequireAdmin())
	{
		admin.GET("/embeddings/generate", h.GenerateEmbeddings)
		admin.GET("/movies/store/:page", h.StoreMovies)
	}
}

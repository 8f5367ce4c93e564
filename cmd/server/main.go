package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata" // 确保在精简镜像中也能识别时区

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/user/movierec/internal/config"
	"github.com/user/movierec/internal/embedding"
	"github.com/user/movierec/internal/handler"
	"github.com/user/movierec/internal/logging"
	"github.com/user/movierec/internal/repository"
	"github.com/user/movierec/internal/router"
	"github.com/user/movierec/internal/service"
	"github.com/user/movierec/internal/utils"
	"github.com/user/movierec/internal/vectorindex"
	"gorm.io/gorm"
)

func main() {
	// 加载环境变量
	envErr := godotenv.Load()

	// 加载配置
	cfg := config.Load()
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if envErr != nil {
		logging.Info().Msg("未找到 .env 文件，使用系统环境变量")
	}

	// 初始化数据库
	db, err := repository.InitDB(cfg.DatabaseURL)
	if err != nil {
		logging.Fatal().Err(err).Msg("数据库连接失败")
	}
	sqlDB, _ := db.DB()
	defer sqlDB.Close()

	if err := repository.Migrate(db); err != nil {
		logging.Fatal().Err(err).Msg("数据库迁移失败")
	}
	repos := repository.NewRepositories(db)

	// 向量服务与向量索引
	embedder, err := embedding.New(cfg.Embedding, cfg.Pipeline.CallTimeout)
	if err != nil {
		logging.Fatal().Err(err).Msg("初始化向量服务失败")
	}
	index, err := newIndex(cfg, db, embedder)
	if err != nil {
		logging.Fatal().Err(err).Str("backend", cfg.Vector.Backend).Msg("初始化向量索引失败")
	}

	// 推荐结果缓存：任何批次写入新向量后清空，手动触发与定时任务都会经过这里
	resultCache := utils.NewTTLCache(cfg.RecommendCacheTTL, 10*time.Minute)
	pipeline := service.NewEmbeddingPipeline(repos.Movie, index, service.PipelineOptions{
		BatchSize:   cfg.Pipeline.BatchSize,
		Limiter:     service.NewRateLimiter(cfg.Pipeline),
		CallTimeout: cfg.Pipeline.CallTimeout,
		MaxRetries:  cfg.Pipeline.MaxRetries,
		RetryDelay:  cfg.Pipeline.RetryDelay,
		OnEmbedded:  func([]uint) { resultCache.Flush() },
	})
	recommender := service.NewRecommendationService(repos.Movie, index, service.RecommendOptions{
		QueryTimeout: cfg.Pipeline.CallTimeout,
	})
	ingester := service.NewTMDBIngester(utils.NewHTTPClient(15*time.Second), cfg.TMDBBaseURL, cfg.TMDBAPIKey, repos.Movie)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 启动定时嵌入任务
	scheduler := service.NewEmbeddingScheduler(pipeline, cfg.Pipeline.Interval)
	scheduler.Start(ctx)

	// 初始化 Gin
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	h := handler.NewHandler(recommender, pipeline, ingester, cfg.AppSecret, resultCache)
	r := router.New(h)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		// 嵌入任务同步执行，批次间隔可达数十秒
		WriteTimeout:   30 * time.Minute,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logging.Info().Str("port", cfg.Port).Str("vector_backend", cfg.Vector.Backend).Msg("服务器启动")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Msg("服务器启动失败")
		}
	}()

	// 等待中断信号以优雅地关闭服务器
	<-ctx.Done()
	logging.Info().Msg("正在关闭服务器...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("服务器强制关闭")
	}
	scheduler.Stop()

	logging.Info().Msg("服务器已退出")
}

func newIndex(cfg *config.Config, db *gorm.DB, embedder embedding.Embedder) (vectorindex.Index, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch cfg.Vector.Backend {
	case "pgvector":
		idx := vectorindex.NewPgvectorIndex(db, embedder, cfg.Vector.CacheSize)
		if err := idx.Migrate(ctx); err != nil {
			return nil, err
		}
		return idx, nil
	case "qdrant":
		client := utils.NewHTTPClient(cfg.Pipeline.CallTimeout)
		if cfg.Vector.QdrantAPIKey != "" {
			client.WithHeader("api-key", cfg.Vector.QdrantAPIKey)
		}
		idx := vectorindex.NewQdrantIndex(client, cfg.Vector.QdrantURL, embedder, cfg.Vector.CacheSize)
		if err := idx.EnsureCollection(ctx); err != nil {
			return nil, err
		}
		return idx, nil
	case "memory":
		logging.Warn().Msg("使用内存向量索引，重启后向量丢失")
		return vectorindex.NewMemoryIndex(embedder, cfg.Vector.CacheSize), nil
	default:
		return nil, fmt.Errorf("未知的向量索引后端: %s", cfg.Vector.Backend)
	}
}

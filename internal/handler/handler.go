package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/user/movierec/internal/logging"
	"github.com/user/movierec/internal/model"
	"github.com/user/movierec/internal/service"
	"github.com/user/movierec/internal/utils"
)

// Recommender 推荐能力
type Recommender interface {
	Recommend(ctx context.Context, movieID uint, k int) ([]model.Movie, error)
}

// EmbeddingRunner 触发一次嵌入任务
type EmbeddingRunner interface {
	Run(ctx context.Context) (*service.RunReport, error)
}

// PageIngester 按页入库 TMDB 电影
type PageIngester interface {
	StorePage(ctx context.Context, page int) ([]model.Movie, error)
}

// Handler HTTP 处理器
type Handler struct {
	Recommender Recommender
	Pipeline    EmbeddingRunner
	Ingester    PageIngester
	AppSecret   string

	cache  *utils.TTLCache
	logger zerolog.Logger
}

// NewHandler 创建处理器。cache 为推荐结果缓存，与嵌入流水线共用，新向量写入后由流水线清空
func NewHandler(rec Recommender, pipeline EmbeddingRunner, ingester PageIngester, appSecret string, cache *utils.TTLCache) *Handler {
	return &Handler{
		Recommender: rec,
		Pipeline:    pipeline,
		Ingester:    ingester,
		AppSecret:   appSecret,
		cache:       cache,
		logger:      logging.Component("handler"),
	}
}

// Health 健康检查
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// writeServiceError 把服务层错误映射为状态码，只在这里做一次
func (h *Handler) writeServiceError(c *gin.Context, err error) {
	var ve *service.ValidationError
	var up *service.UpstreamError
	switch {
	case errors.As(err, &ve):
		utils.BadRequest(c, ve.Error())
	case errors.Is(err, service.ErrNotFound):
		utils.NotFound(c, err.Error())
	case errors.Is(err, service.ErrPipelineBusy):
		utils.Conflict(c, err.Error())
	case errors.As(err, &up):
		h.logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("上游服务不可用")
		utils.Error(c, http.StatusServiceUnavailable, "上游服务暂不可用")
	default:
		h.logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("请求处理失败")
		utils.InternalServerError(c, "")
	}
}

// bindingMessage 把 validator 的错误转成可读信息
func bindingMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "请求体格式错误"
	}
	fe := verrs[0]
	field := fe.Field()
	if tagged, ok := jsonNames[field]; ok {
		field = tagged
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("invalid %s: is required", field)
	case "min":
		return fmt.Sprintf("invalid %s: must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("invalid %s: must not exceed %s", field, fe.Param())
	default:
		return fmt.Sprintf("invalid %s", field)
	}
}

var jsonNames = map[string]string{"ID": "id", "K": "k"}

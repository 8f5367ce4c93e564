package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/user/movierec/internal/metrics"
	"github.com/user/movierec/internal/model"
	"github.com/user/movierec/internal/service"
	"github.com/user/movierec/internal/utils"
)

// DefaultK 未指定 k 时返回的推荐数
const DefaultK = 10

type recommendRequest struct {
	ID uint `json:"id" binding:"required"`
	K  *int `json:"k" binding:"omitempty,min=0,max=50"`
}

type recommendResponse struct {
	Success         bool          `json:"success"`
	Recommendations []model.Movie `json:"recommendations"`
	Degraded        bool          `json:"degraded,omitempty"`
}

// Recommend POST /recommendations
func (h *Handler) Recommend(c *gin.Context) {
	var req recommendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		metrics.RecommendRequests.WithLabelValues("invalid").Inc()
		utils.BadRequest(c, bindingMessage(err))
		return
	}
	k := DefaultK
	if req.K != nil {
		k = *req.K
	}
	h.respondRecommendations(c, req.ID, k)
}

// Similar GET /movies/:id/similar?k=
func (h *Handler) Similar(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		metrics.RecommendRequests.WithLabelValues("invalid").Inc()
		utils.BadRequest(c, "invalid id")
		return
	}
	k := DefaultK
	if raw := c.Query("k"); raw != "" {
		if k, err = strconv.Atoi(raw); err != nil {
			metrics.RecommendRequests.WithLabelValues("invalid").Inc()
			utils.BadRequest(c, "invalid k")
			return
		}
	}
	h.respondRecommendations(c, uint(id), k)
}

func (h *Handler) respondRecommendations(c *gin.Context, id uint, k int) {
	key := fmt.Sprintf("rec:%d:%d", id, k)
	if cached, ok := h.cache.Get(key); ok {
		metrics.RecommendRequests.WithLabelValues("cached").Inc()
		c.JSON(http.StatusOK, recommendResponse{Success: true, Recommendations: cached.([]model.Movie)})
		return
	}

	movies, err := h.Recommender.Recommend(c.Request.Context(), id, k)
	if err != nil {
		var up *service.UpstreamError
		if errors.As(err, &up) {
			// 上游失败降级为空列表，不返回 5xx
			metrics.RecommendRequests.WithLabelValues("degraded").Inc()
			h.logger.Warn().Err(err).Uint("movie_id", id).Msg("推荐降级")
			c.JSON(http.StatusOK, recommendResponse{Success: true, Recommendations: []model.Movie{}, Degraded: true})
			return
		}
		if errors.Is(err, service.ErrNotFound) {
			metrics.RecommendRequests.WithLabelValues("not_found").Inc()
		} else {
			metrics.RecommendRequests.WithLabelValues("invalid").Inc()
		}
		h.writeServiceError(c, err)
		return
	}

	metrics.RecommendRequests.WithLabelValues("ok").Inc()
	h.cache.Set(key, movies)
	c.JSON(http.StatusOK, recommendResponse{Success: true, Recommendations: movies})
}

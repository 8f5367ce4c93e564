package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/user/movierec/internal/utils"
)

// GenerateEmbeddings GET /embeddings/generate，同步执行一次嵌入任务
func (h *Handler) GenerateEmbeddings(c *gin.Context) {
	report, err := h.Pipeline.Run(c.Request.Context())
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	if report.Err != nil {
		h.logger.Warn().Err(report.Err).Int("failed_batch", report.FailedBatch).Msg("嵌入任务部分完成")
	}

	utils.Success(c, gin.H{
		"embedded":     len(report.EmbeddedIDs),
		"requested":    report.Requested,
		"complete":     report.Complete(),
		"embedded_ids": report.EmbeddedIDs,
		"batches":      report.Batches,
		"duration_ms":  report.Duration.Milliseconds(),
	})
}

// StoreMovies GET /movies/store/:page，入库一页 TMDB 电影
func (h *Handler) StoreMovies(c *gin.Context) {
	page, err := strconv.Atoi(c.Param("page"))
	if err != nil {
		utils.BadRequest(c, "invalid page")
		return
	}

	movies, err := h.Ingester.StorePage(c.Request.Context(), page)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	ids := make([]int64, 0, len(movies))
	reset := false
	for _, m := range movies {
		ids = append(ids, m.TMDBID)
		reset = reset || !m.IsEmbedded
	}
	if reset {
		// 文本改写的电影已不再是合法近邻，缓存里的旧结果作废
		h.cache.Flush()
	}
	utils.SuccessWithMessage(c, "stored", gin.H{
		"page":     page,
		"stored":   len(movies),
		"tmdb_ids": ids,
	})
}

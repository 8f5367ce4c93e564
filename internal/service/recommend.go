package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/user/movierec/internal/logging"
	"github.com/user/movierec/internal/metrics"
	"github.com/user/movierec/internal/model"
	"github.com/user/movierec/internal/vectorindex"
)

// MaxRecommendations 单次推荐允许的最大 k
const MaxRecommendations = 50

// MovieLookup 推荐需要的电影读取能力
type MovieLookup interface {
	FindByID(ctx context.Context, id uint) (*model.Movie, error)
	FindByIDs(ctx context.Context, ids []uint) ([]model.Movie, error)
}

// RecommendOptions 推荐参数
type RecommendOptions struct {
	QueryTimeout    time.Duration
	BreakerFailures uint32        // 连续失败多少次后熔断
	BreakerCooldown time.Duration // 熔断后多久进入半开
}

// RecommendationService 根据源电影的文档查询近邻，返回按相似度排序的电影
type RecommendationService struct {
	movies  MovieLookup
	index   vectorindex.Index
	breaker *gobreaker.CircuitBreaker[[]model.Neighbor]
	timeout time.Duration
	logger  zerolog.Logger
}

// NewRecommendationService 创建推荐服务
func NewRecommendationService(movies MovieLookup, index vectorindex.Index, opts RecommendOptions) *RecommendationService {
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 10 * time.Second
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = 30 * time.Second
	}
	logger := logging.Component("recommend")

	breaker := gobreaker.NewCircuitBreaker[[]model.Neighbor](gobreaker.Settings{
		Name:    "vector-index-query",
		Timeout: opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerFailures
		},
		// 调用方主动断开不计入失败
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("熔断器状态变化")
		},
	})

	return &RecommendationService{
		movies:  movies,
		index:   index,
		breaker: breaker,
		timeout: opts.QueryTimeout,
		logger:  logger,
	}
}

// Recommend 返回与 movieID 最相似的至多 k 部电影，最相似的在前，不含源电影本身。
//   - k < 0 或 k > MaxRecommendations 返回 *ValidationError
//   - 源电影不存在返回 *NotFoundError
//   - 向量服务或电影存储失败返回 *UpstreamError
func (s *RecommendationService) Recommend(ctx context.Context, movieID uint, k int) ([]model.Movie, error) {
	start := time.Now()
	defer func() { metrics.RecommendDuration.Observe(time.Since(start).Seconds()) }()

	if k < 0 {
		return nil, &ValidationError{Field: "k", Message: "must not be negative"}
	}
	if k > MaxRecommendations {
		return nil, &ValidationError{Field: "k", Message: "must not exceed 50"}
	}
	if movieID == 0 {
		return nil, &ValidationError{Field: "id", Message: "is required"}
	}

	source, err := s.movies.FindByID(ctx, movieID)
	if err != nil {
		return nil, &UpstreamError{Op: "load source movie", Err: err}
	}
	if source == nil {
		return nil, &NotFoundError{ID: movieID}
	}
	if k == 0 {
		return []model.Movie{}, nil
	}

	// 源电影已嵌入时它一定会出现在近邻里，多取一个以便排除后仍有 k 个
	limit := k
	if source.IsEmbedded {
		limit = k + 1
	}

	text := DocumentText(source)
	neighbors, err := s.breaker.Execute(func() ([]model.Neighbor, error) {
		qctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		return s.index.QueryNearest(qctx, text, limit)
	})
	if err != nil {
		metrics.IndexQueryErrors.Inc()
		s.logger.Error().Err(err).Uint("movie_id", movieID).Msg("近邻查询失败")
		return nil, &UpstreamError{Op: "query nearest", Err: err}
	}

	ids := rankedIDs(neighbors, source.ID, k)
	if len(ids) == 0 {
		return []model.Movie{}, nil
	}

	found, err := s.movies.FindByIDs(ctx, ids)
	if err != nil {
		return nil, &UpstreamError{Op: "load recommended movies", Err: err}
	}
	return inRankOrder(ids, found), nil
}

// rankedIDs 按近邻顺序取内部 ID，排除源电影和重复项，最多 k 个
func rankedIDs(neighbors []model.Neighbor, self uint, k int) []uint {
	ids := make([]uint, 0, k)
	seen := make(map[uint]struct{}, len(neighbors))
	for _, n := range neighbors {
		if len(ids) == k {
			break
		}
		if n.InternalID == 0 || n.InternalID == self {
			continue
		}
		if _, dup := seen[n.InternalID]; dup {
			continue
		}
		seen[n.InternalID] = struct{}{}
		ids = append(ids, n.InternalID)
	}
	return ids
}

// inRankOrder 存储返回顺序不可靠，按 ids 重新排列；
// 已删除或尚未标记为已嵌入的记录不返回
func inRankOrder(ids []uint, found []model.Movie) []model.Movie {
	byID := make(map[uint]model.Movie, len(found))
	for _, m := range found {
		byID[m.ID] = m
	}
	out := make([]model.Movie, 0, len(ids))
	for _, id := range ids {
		m, ok := byID[id]
		if !ok || !m.IsEmbedded {
			continue
		}
		out = append(out, m)
	}
	return out
}

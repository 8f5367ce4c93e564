package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/user/movierec/internal/logging"
	"github.com/user/movierec/internal/metrics"
	"github.com/user/movierec/internal/model"
	"github.com/user/movierec/internal/vectorindex"
)

// EmbeddingStore 流水线需要的电影存储能力
type EmbeddingStore interface {
	FindUnembedded(ctx context.Context) ([]model.Movie, error)
	// MarkEmbedded 只翻转 document_hash 未变的记录，返回实际翻转的 ID
	MarkEmbedded(ctx context.Context, docs []model.DocumentMetadata) ([]uint, error)
}

// PipelineOptions 流水线参数
type PipelineOptions struct {
	BatchSize   int
	Limiter     RateLimiter
	CallTimeout time.Duration    // 每次调用向量索引 / 写库的超时，与批次间隔无关
	MaxRetries  int              // 可重试错误在批内的重试次数
	RetryDelay  time.Duration    // 指数退避的基准间隔
	OnEmbedded  func(ids []uint) // 每个批次标记成功后调用，如失效推荐结果缓存
}

// DefaultPipelineOptions 默认每批 50 条，批次间隔 20 秒
func DefaultPipelineOptions() PipelineOptions {
	return PipelineOptions{
		BatchSize:   50,
		Limiter:     FixedDelay{Delay: 20 * time.Second},
		CallTimeout: 30 * time.Second,
		MaxRetries:  2,
		RetryDelay:  2 * time.Second,
	}
}

// RunReport 一次运行的结果。EmbeddedIDs 短于 Requested 即表示部分完成
type RunReport struct {
	Requested        int
	EmbeddedIDs      []uint
	Batches          int
	CompletedBatches int
	FailedBatch      int // 从 1 开始，0 表示没有失败
	Err              error
	Duration         time.Duration
}

// Complete 是否全部嵌入
func (r *RunReport) Complete() bool {
	return r.Err == nil && len(r.EmbeddedIDs) == r.Requested
}

// EmbeddingPipeline 分批嵌入电影文档，批次严格串行
type EmbeddingPipeline struct {
	store  EmbeddingStore
	index  vectorindex.Index
	opts   PipelineOptions
	mu     sync.Mutex
	logger zerolog.Logger
}

// NewEmbeddingPipeline 创建流水线
func NewEmbeddingPipeline(store EmbeddingStore, index vectorindex.Index, opts PipelineOptions) *EmbeddingPipeline {
	def := DefaultPipelineOptions()
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.Limiter == nil {
		opts.Limiter = def.Limiter
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = def.CallTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &EmbeddingPipeline{
		store:  store,
		index:  index,
		opts:   opts,
		logger: logging.Component("embedding-pipeline"),
	}
}

// Run 选出全部 is_embedded=false 的电影并嵌入。同一时间只允许一个 Run
func (p *EmbeddingPipeline) Run(ctx context.Context) (*RunReport, error) {
	if !p.mu.TryLock() {
		return nil, ErrPipelineBusy
	}
	defer p.mu.Unlock()

	movies, err := p.store.FindUnembedded(ctx)
	if err != nil {
		return nil, &UpstreamError{Op: "select unembedded movies", Err: err}
	}
	p.logger.Info().Int("movies", len(movies)).Msg("开始嵌入任务")
	return p.process(ctx, movies), nil
}

// EmbedAll 嵌入给定记录，返回成功写入并标记的内部 ID。
// 上游失败不会返回错误：返回列表短于输入即为部分完成，调用方稍后重新运行即可。
// 只有已有任务在运行（ErrPipelineBusy）或在批次之间被取消（ctx.Err()）时返回错误
func (p *EmbeddingPipeline) EmbedAll(ctx context.Context, movies []model.Movie) ([]uint, error) {
	if !p.mu.TryLock() {
		return []uint{}, ErrPipelineBusy
	}
	defer p.mu.Unlock()
	report := p.process(ctx, movies)
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(report.Err, ctxErr) {
		return report.EmbeddedIDs, ctxErr
	}
	return report.EmbeddedIDs, nil
}

func (p *EmbeddingPipeline) process(ctx context.Context, movies []model.Movie) *RunReport {
	start := time.Now()
	docs := BuildDocuments(movies)
	batches := partition(docs, p.opts.BatchSize)
	report := &RunReport{
		Requested:   len(docs),
		EmbeddedIDs: make([]uint, 0, len(docs)),
		Batches:     len(batches),
	}
	defer func() {
		report.Duration = time.Since(start)
		metrics.PipelineRunDuration.Observe(report.Duration.Seconds())
		p.logger.Info().
			Int("requested", report.Requested).
			Int("embedded", len(report.EmbeddedIDs)).
			Int("batches", report.Batches).
			Int("completed_batches", report.CompletedBatches).
			Dur("duration", report.Duration).
			Msg("嵌入任务结束")
	}()

	for i, batch := range batches {
		// 只在批次之间检查取消，进行中的批次总会完成写库
		if i > 0 {
			if err := p.opts.Limiter.Wait(ctx); err != nil {
				p.stopCanceled(report, i, err)
				return report
			}
		} else if err := ctx.Err(); err != nil {
			p.stopCanceled(report, i, err)
			return report
		}

		p.logger.Info().
			Int("batch", i+1).
			Int("of", len(batches)).
			Int("size", len(batch)).
			Msg("嵌入批次")

		ids, err := p.embedBatch(ctx, batch)
		if err != nil {
			report.Err = err
			report.FailedBatch = i + 1
			p.logger.Error().Err(err).Int("batch", i+1).Int("embedded_so_far", len(report.EmbeddedIDs)).Msg("批次失败，停止本次任务")
			return report
		}

		report.EmbeddedIDs = append(report.EmbeddedIDs, ids...)
		report.CompletedBatches++
		if len(ids) > 0 && p.opts.OnEmbedded != nil {
			p.opts.OnEmbedded(ids)
		}
		metrics.EmbeddingBatches.WithLabelValues("success").Inc()
		metrics.EmbeddedMovies.Add(float64(len(ids)))
	}
	return report
}

func (p *EmbeddingPipeline) stopCanceled(report *RunReport, i int, err error) {
	report.Err = err
	metrics.EmbeddingBatches.WithLabelValues("canceled").Inc()
	p.logger.Warn().Err(err).Int("next_batch", i+1).Msg("嵌入任务在批次之间被取消")
}

// embedBatch 写入向量索引，成功后一次性把整批标记为已嵌入。
// 批次使用脱离取消的 context，避免出现向量已写入但标记未完成的半批状态
func (p *EmbeddingPipeline) embedBatch(ctx context.Context, batch []model.Document) ([]uint, error) {
	batchCtx := context.WithoutCancel(ctx)

	err := retryWithBackoff(ctx, p.opts.MaxRetries, p.opts.RetryDelay, func() error {
		callCtx, cancel := context.WithTimeout(batchCtx, p.opts.CallTimeout)
		defer cancel()
		return p.index.AddDocuments(callCtx, batch)
	})
	if err != nil {
		metrics.EmbeddingBatches.WithLabelValues("index_error").Inc()
		return nil, &UpstreamError{Op: "add vectors", Err: err}
	}

	flipCtx, cancel := context.WithTimeout(batchCtx, p.opts.CallTimeout)
	defer cancel()
	flipped, err := p.store.MarkEmbedded(flipCtx, batchMarks(batch))
	if err != nil {
		metrics.EmbeddingBatches.WithLabelValues("store_error").Inc()
		return nil, &UpstreamError{Op: "mark embedded", Err: err}
	}

	ids := inBatchOrder(batch, flipped)
	if stale := len(batch) - len(ids); stale > 0 {
		// 向量已按旧文本写入，记录保持未嵌入，下次任务会用新文本覆盖
		p.logger.Warn().Int("stale", stale).Msg("部分电影在嵌入期间被改写，等待重新嵌入")
	}
	return ids, nil
}

// retryWithBackoff 只重试可重试的写入错误；父 context 取消后不再发起新的尝试
func retryWithBackoff(ctx context.Context, maxRetries int, baseDelay time.Duration, op func() error) error {
	var err error
	delay := baseDelay
	for attempt := 0; ; attempt++ {
		err = op()
		if err == nil || attempt >= maxRetries || !isRetryable(err) {
			return err
		}
		metrics.EmbeddingRetries.Inc()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w (重试被取消: %v)", err, ctx.Err())
		case <-timer.C:
		}
		delay *= 2
	}
}

func isRetryable(err error) bool {
	var we *vectorindex.IndexWriteError
	return errors.As(err, &we) && we.Retryable()
}

func partition(docs []model.Document, size int) [][]model.Document {
	if size <= 0 {
		size = max(len(docs), 1)
	}
	batches := make([][]model.Document, 0, (len(docs)+size-1)/size)
	for start := 0; start < len(docs); start += size {
		end := min(start+size, len(docs))
		batches = append(batches, docs[start:end])
	}
	return batches
}

func batchMarks(batch []model.Document) []model.DocumentMetadata {
	marks := make([]model.DocumentMetadata, len(batch))
	for i, d := range batch {
		marks[i] = d.Metadata
	}
	return marks
}

// inBatchOrder 按批次顺序返回已翻转的 ID
func inBatchOrder(batch []model.Document, flipped []uint) []uint {
	set := make(map[uint]struct{}, len(flipped))
	for _, id := range flipped {
		set[id] = struct{}{}
	}
	ids := make([]uint, 0, len(flipped))
	for _, d := range batch {
		if _, ok := set[d.Metadata.InternalID]; ok {
			ids = append(ids, d.Metadata.InternalID)
		}
	}
	return ids
}

// Package vectorindex 向量索引网关：写入带元数据的文档向量，按文本查询近邻。
// 整个系统只使用一个逻辑集合 "movies"。
package vectorindex

import (
	"context"
	"fmt"
	"time"

	"github.com/user/movierec/internal/embedding"
	"github.com/user/movierec/internal/model"
	"github.com/user/movierec/internal/utils"
)

// Collection 唯一的逻辑集合名
const Collection = "movies"

// Index 向量索引网关
type Index interface {
	// AddDocuments 嵌入并写入一批文档，单次调用要么全部成功要么全部失败
	AddDocuments(ctx context.Context, docs []model.Document) error
	// QueryNearest 返回最多 k 个近邻，最相似的在前
	QueryNearest(ctx context.Context, text string, k int) ([]model.Neighbor, error)
	// Collection 集合名
	Collection() string
}

// IndexWriteError 写入向量失败
type IndexWriteError struct {
	Collection string
	Count      int
	Err        error
}

func (e *IndexWriteError) Error() string {
	return fmt.Sprintf("vectorindex: 写入 %s 失败 (%d 条): %v", e.Collection, e.Count, e.Err)
}

func (e *IndexWriteError) Unwrap() error { return e.Err }

// Retryable 网络、超时、限流、5xx 可重试；文档格式错误等不可重试
func (e *IndexWriteError) Retryable() bool { return utils.IsRetryable(e.Err) }

// IndexQueryError 查询近邻失败
type IndexQueryError struct {
	Collection string
	Err        error
}

func (e *IndexQueryError) Error() string {
	return fmt.Sprintf("vectorindex: 查询 %s 失败: %v", e.Collection, e.Err)
}

func (e *IndexQueryError) Unwrap() error { return e.Err }

// queryVectors 查询侧向量生成，同一段查询文本命中 LRU 后不再调用向量服务
type queryVectors struct {
	embedder embedding.Embedder
	cache    *utils.LRUCache[[]float32]
}

func newQueryVectors(e embedding.Embedder, cacheSize int) *queryVectors {
	return &queryVectors{
		embedder: e,
		cache:    utils.NewLRUCache[[]float32](cacheSize, 6*time.Hour),
	}
}

func (q *queryVectors) embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := q.cache.Get(text); ok {
		return v, nil
	}
	vectors, err := q.embedder.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, embedding.ErrEmptyResponse
	}
	q.cache.Set(text, vectors[0])
	return vectors[0], nil
}

// embedAll 嵌入整批文档，条数不符视为写入失败
func embedAll(ctx context.Context, e embedding.Embedder, docs []model.Document) ([][]float32, error) {
	vectors, err := e.EmbedTexts(ctx, texts(docs))
	if err == nil && len(vectors) != len(docs) {
		err = fmt.Errorf("期望 %d 条向量, 实际 %d: %w", len(docs), len(vectors), embedding.ErrEmptyResponse)
	}
	if err != nil {
		return nil, &IndexWriteError{Collection: Collection, Count: len(docs), Err: err}
	}
	return vectors, nil
}

func texts(docs []model.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Text
	}
	return out
}

package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/user/movierec/internal/embedding"
	"github.com/user/movierec/internal/model"
	"github.com/user/movierec/internal/utils"
)

type qdrantPayload struct {
	InternalID uint   `json:"internal_id"`
	ExternalID int64  `json:"external_id"`
	Content    string `json:"content,omitempty"`
}

type qdrantPoint struct {
	ID      uint          `json:"id"`
	Vector  []float32     `json:"vector"`
	Payload qdrantPayload `json:"payload"`
}

type qdrantSearchResponse struct {
	Result []struct {
		ID      uint          `json:"id"`
		Score   float32       `json:"score"`
		Payload qdrantPayload `json:"payload"`
	} `json:"result"`
}

// QdrantIndex 通过 Qdrant REST API 存取向量，point id 即电影内部 id
type QdrantIndex struct {
	client  *utils.HTTPClient
	baseURL string
	embed   embedding.Embedder
	query   *queryVectors
}

// NewQdrantIndex 创建 Qdrant 索引
func NewQdrantIndex(client *utils.HTTPClient, baseURL string, e embedding.Embedder, cacheSize int) *QdrantIndex {
	return &QdrantIndex{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		embed:   e,
		query:   newQueryVectors(e, cacheSize),
	}
}

func (q *QdrantIndex) Collection() string { return Collection }

func (q *QdrantIndex) collectionURL() string {
	return fmt.Sprintf("%s/collections/%s", q.baseURL, Collection)
}

// EnsureCollection 集合不存在时按向量维度创建
func (q *QdrantIndex) EnsureCollection(ctx context.Context) error {
	err := q.client.GetJSON(ctx, q.collectionURL(), nil)
	if err == nil {
		return nil
	}
	var se *utils.StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
		return fmt.Errorf("qdrant 查询集合失败: %w", err)
	}

	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     q.embed.Dimensions(),
			"distance": "Cosine",
		},
	}
	if err := q.client.PutJSON(ctx, q.collectionURL(), body, nil); err != nil {
		return fmt.Errorf("qdrant 创建集合失败: %w", err)
	}
	return nil
}

// AddDocuments 一次 upsert 请求写入整批，wait=true 保证返回时已落盘
func (q *QdrantIndex) AddDocuments(ctx context.Context, docs []model.Document) error {
	if len(docs) == 0 {
		return nil
	}
	vectors, err := embedAll(ctx, q.embed, docs)
	if err != nil {
		return err
	}

	points := make([]qdrantPoint, len(docs))
	for i, d := range docs {
		points[i] = qdrantPoint{
			ID:     d.Metadata.InternalID,
			Vector: vectors[i],
			Payload: qdrantPayload{
				InternalID: d.Metadata.InternalID,
				ExternalID: d.Metadata.ExternalID,
				Content:    d.Text,
			},
		}
	}

	body := map[string]interface{}{"points": points}
	if err := q.client.PutJSON(ctx, q.collectionURL()+"/points?wait=true", body, nil); err != nil {
		return &IndexWriteError{Collection: Collection, Count: len(docs), Err: err}
	}
	return nil
}

// QueryNearest 相似度检索
func (q *QdrantIndex) QueryNearest(ctx context.Context, text string, k int) ([]model.Neighbor, error) {
	if k <= 0 {
		return []model.Neighbor{}, nil
	}
	vec, err := q.query.embed(ctx, text)
	if err != nil {
		return nil, &IndexQueryError{Collection: Collection, Err: err}
	}

	body := map[string]interface{}{
		"vector":       vec,
		"limit":        k,
		"with_payload": []string{"internal_id", "external_id"},
	}
	var resp qdrantSearchResponse
	if err := q.client.PostJSON(ctx, q.collectionURL()+"/points/search", body, &resp); err != nil {
		return nil, &IndexQueryError{Collection: Collection, Err: err}
	}

	out := make([]model.Neighbor, len(resp.Result))
	for i, r := range resp.Result {
		id := r.Payload.InternalID
		if id == 0 {
			id = r.ID
		}
		out[i] = model.Neighbor{InternalID: id, ExternalID: r.Payload.ExternalID, Rank: i}
	}
	return out, nil
}

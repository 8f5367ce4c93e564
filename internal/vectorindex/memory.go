package vectorindex

import (
	"context"
	"sort"
	"sync"

	"github.com/user/movierec/internal/embedding"
	"github.com/user/movierec/internal/model"
)

type memoryEntry struct {
	meta   model.DocumentMetadata
	vector []float32
}

// MemoryIndex 进程内暴力余弦检索，用于本地开发与测试
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[uint]memoryEntry
	embed   embedding.Embedder
	query   *queryVectors
}

// NewMemoryIndex 创建内存索引
func NewMemoryIndex(e embedding.Embedder, cacheSize int) *MemoryIndex {
	return &MemoryIndex{
		entries: make(map[uint]memoryEntry),
		embed:   e,
		query:   newQueryVectors(e, cacheSize),
	}
}

func (m *MemoryIndex) Collection() string { return Collection }

// AddDocuments 先全部嵌入成功再一次性写入，按 InternalID 覆盖
func (m *MemoryIndex) AddDocuments(ctx context.Context, docs []model.Document) error {
	if len(docs) == 0 {
		return nil
	}
	vectors, err := embedAll(ctx, m.embed, docs)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, d := range docs {
		m.entries[d.Metadata.InternalID] = memoryEntry{meta: d.Metadata, vector: vectors[i]}
	}
	return nil
}

// QueryNearest 余弦相似度降序，相同分数按 InternalID 升序
func (m *MemoryIndex) QueryNearest(ctx context.Context, text string, k int) ([]model.Neighbor, error) {
	if k <= 0 {
		return []model.Neighbor{}, nil
	}
	q, err := m.query.embed(ctx, text)
	if err != nil {
		return nil, &IndexQueryError{Collection: Collection, Err: err}
	}

	type scored struct {
		meta  model.DocumentMetadata
		score float32
	}

	m.mu.RLock()
	candidates := make([]scored, 0, len(m.entries))
	for _, e := range m.entries {
		candidates = append(candidates, scored{meta: e.meta, score: dot(q, e.vector)})
	}
	m.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].meta.InternalID < candidates[j].meta.InternalID
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}
	out := make([]model.Neighbor, len(candidates))
	for i, c := range candidates {
		out[i] = model.Neighbor{InternalID: c.meta.InternalID, ExternalID: c.meta.ExternalID, Rank: i}
	}
	return out, nil
}

// Len 当前向量条数
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// dot 向量已归一化，内积即余弦相似度
func dot(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var s float32
	for i := 0; i < n; i++ {
		s += a[i] * b[i]
	}
	return s
}

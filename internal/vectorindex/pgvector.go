package vectorindex

import (
	"context"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/user/movierec/internal/embedding"
	"github.com/user/movierec/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// defaultEfSearch pgvector hnsw.ef_search 的默认值，HNSW 扫描最多返回这么多行
const defaultEfSearch = 40

// MovieEmbedding 向量表一行：向量 id 即电影内部 id
type MovieEmbedding struct {
	MovieID    uint            `gorm:"column:movie_id;primaryKey;autoIncrement:false"`
	TMDBID     int64           `gorm:"column:tmdb_id;not null"`
	Collection string          `gorm:"column:collection;not null"`
	Content    string          `gorm:"column:content;not null"`
	Embedding  pgvector.Vector `gorm:"column:embedding"`
	UpdatedAt  time.Time       `gorm:"column:updated_at"`
}

// TableName 固定表名
func (MovieEmbedding) TableName() string {
	return "movie_embeddings"
}

// PgvectorIndex 基于 Postgres pgvector 扩展的向量索引
type PgvectorIndex struct {
	db    *gorm.DB
	embed embedding.Embedder
	query *queryVectors
	dims  int
}

// NewPgvectorIndex 创建 pgvector 索引
func NewPgvectorIndex(db *gorm.DB, e embedding.Embedder, cacheSize int) *PgvectorIndex {
	return &PgvectorIndex{
		db:    db,
		embed: e,
		query: newQueryVectors(e, cacheSize),
		dims:  e.Dimensions(),
	}
}

// Migrate 创建扩展、向量表与 HNSW 余弦索引。维度取自向量服务配置
func (p *PgvectorIndex) Migrate(ctx context.Context) error {
	if p.dims <= 0 {
		return fmt.Errorf("pgvector: 需要固定的向量维度")
	}
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS movie_embeddings (
			movie_id   BIGINT PRIMARY KEY,
			tmdb_id    BIGINT NOT NULL,
			collection TEXT NOT NULL DEFAULT '%s',
			content    TEXT NOT NULL,
			embedding  vector(%d) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, Collection, p.dims),
		`CREATE INDEX IF NOT EXISTS movie_embeddings_hnsw_idx ON movie_embeddings USING hnsw (embedding vector_cosine_ops)`,
	}
	db := p.db.WithContext(ctx)
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("pgvector 迁移失败: %w", err)
		}
	}
	return nil
}

func (p *PgvectorIndex) Collection() string { return Collection }

// AddDocuments 嵌入后在一个事务内按 movie_id upsert，重新嵌入会覆盖旧向量
func (p *PgvectorIndex) AddDocuments(ctx context.Context, docs []model.Document) error {
	if len(docs) == 0 {
		return nil
	}
	vectors, err := embedAll(ctx, p.embed, docs)
	if err != nil {
		return err
	}

	now := time.Now()
	rows := make([]MovieEmbedding, len(docs))
	for i, d := range docs {
		rows[i] = MovieEmbedding{
			MovieID:    d.Metadata.InternalID,
			TMDBID:     d.Metadata.ExternalID,
			Collection: Collection,
			Content:    d.Text,
			Embedding:  pgvector.NewVector(vectors[i]),
			UpdatedAt:  now,
		}
	}

	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "movie_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"tmdb_id", "content", "embedding", "updated_at"}),
		}).Create(&rows).Error
	})
	if err != nil {
		return &IndexWriteError{Collection: Collection, Count: len(docs), Err: err}
	}
	return nil
}

// QueryNearest 按余弦距离升序取前 k 条
func (p *PgvectorIndex) QueryNearest(ctx context.Context, text string, k int) ([]model.Neighbor, error) {
	if k <= 0 {
		return []model.Neighbor{}, nil
	}
	vec, err := p.query.embed(ctx, text)
	if err != nil {
		return nil, &IndexQueryError{Collection: Collection, Err: err}
	}

	var rows []struct {
		MovieID uint  `gorm:"column:movie_id"`
		TMDBID  int64 `gorm:"column:tmdb_id"`
	}
	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// SET LOCAL 只作用于当前事务，k 超过默认候选数时放大，否则 LIMIT 会被截断
		if err := tx.Exec(fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", efSearch(k))).Error; err != nil {
			return err
		}
		return tx.Raw(`
			SELECT movie_id, tmdb_id
			FROM movie_embeddings
			WHERE collection = ?
			ORDER BY embedding <=> ?
			LIMIT ?
		`, Collection, pgvector.NewVector(vec), k).Scan(&rows).Error
	})
	if err != nil {
		return nil, &IndexQueryError{Collection: Collection, Err: err}
	}

	out := make([]model.Neighbor, len(rows))
	for i, r := range rows {
		out[i] = model.Neighbor{InternalID: r.MovieID, ExternalID: r.TMDBID, Rank: i}
	}
	return out, nil
}

func efSearch(k int) int {
	return max(defaultEfSearch, k)
}

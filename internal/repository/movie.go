package repository

import (
	"context"
	"errors"

	"github.com/user/movierec/internal/model"
	"gorm.io/gorm"
)

type MovieRepository struct {
	db *gorm.DB
}

func NewMovieRepository(db *gorm.DB) *MovieRepository {
	return &MovieRepository{db: db}
}

// FindByID 根据内部 ID 查找电影，不存在时返回 (nil, nil)
func (r *MovieRepository) FindByID(ctx context.Context, id uint) (*model.Movie, error) {
	var movie model.Movie
	err := r.db.WithContext(ctx).First(&movie, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &movie, nil
}

// FindByIDs 批量查找，返回顺序不保证与 ids 一致
func (r *MovieRepository) FindByIDs(ctx context.Context, ids []uint) ([]model.Movie, error) {
	if len(ids) == 0 {
		return []model.Movie{}, nil
	}
	var movies []model.Movie
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&movies).Error
	return movies, err
}

// FindUnembedded 所有尚未写入向量索引的电影，按 ID 升序
func (r *MovieRepository) FindUnembedded(ctx context.Context) ([]model.Movie, error) {
	var movies []model.Movie
	err := r.db.WithContext(ctx).
		Where("is_embedded = ?", false).
		Order("id ASC").
		Find(&movies).Error
	return movies, err
}

// MarkEmbedded 单条 UPDATE 把整批置为已嵌入，读者不会看到半批状态。
// 只翻转 document_hash 与生成文档时一致的行：嵌入期间文本被改写的电影保持未嵌入，返回实际翻转的 ID
func (r *MovieRepository) MarkEmbedded(ctx context.Context, docs []model.DocumentMetadata) ([]uint, error) {
	if len(docs) == 0 {
		return []uint{}, nil
	}
	pairs := make([][]interface{}, len(docs))
	for i, d := range docs {
		pairs[i] = []interface{}{d.InternalID, d.DocumentHash}
	}
	var ids []uint
	err := r.db.WithContext(ctx).Raw(`
		UPDATE movies SET is_embedded = true
		WHERE (id, document_hash) IN ?
		RETURNING id
	`, pairs).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// CountEmbedded 返回已嵌入数与总数
func (r *MovieRepository) CountEmbedded(ctx context.Context) (embedded, total int64, err error) {
	db := r.db.WithContext(ctx).Model(&model.Movie{})
	if err = db.Count(&total).Error; err != nil {
		return 0, 0, err
	}
	err = r.db.WithContext(ctx).Model(&model.Movie{}).Where("is_embedded = ?", true).Count(&embedded).Error
	return embedded, total, err
}

// UpsertByTMDBID 按 tmdb_id 创建或更新电影。
// 文档文本（document_hash）发生变化时 is_embedded 重置为 false，下次任务会重新嵌入并覆盖旧向量
func (r *MovieRepository) UpsertByTMDBID(ctx context.Context, movie *model.Movie) error {
	var out struct {
		ID         uint
		IsEmbedded bool
	}
	err := r.db.WithContext(ctx).Raw(`
		INSERT INTO movies (tmdb_id, original_title, original_language, overview, tagline, release_date,
		                    genres, actors, directors, adult, popularity, poster_path, runtime,
		                    vote_average, vote_count, revenue, is_embedded, document_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, false, ?, NOW(), NOW())
		ON CONFLICT (tmdb_id) DO UPDATE SET
			original_title = EXCLUDED.original_title,
			original_language = EXCLUDED.original_language,
			overview = EXCLUDED.overview,
			tagline = EXCLUDED.tagline,
			release_date = EXCLUDED.release_date,
			genres = EXCLUDED.genres,
			actors = EXCLUDED.actors,
			directors = EXCLUDED.directors,
			adult = EXCLUDED.adult,
			popularity = EXCLUDED.popularity,
			poster_path = EXCLUDED.poster_path,
			runtime = EXCLUDED.runtime,
			vote_average = EXCLUDED.vote_average,
			vote_count = EXCLUDED.vote_count,
			revenue = EXCLUDED.revenue,
			is_embedded = movies.is_embedded AND movies.document_hash = EXCLUDED.document_hash,
			document_hash = EXCLUDED.document_hash,
			updated_at = NOW()
		RETURNING id, is_embedded
	`, movie.TMDBID, movie.OriginalTitle, movie.OriginalLanguage, movie.Overview, movie.Tagline, movie.ReleaseDate,
		movie.Genres, movie.Actors, movie.Directors, movie.Adult, movie.Popularity, movie.PosterPath, movie.Runtime,
		movie.VoteAverage, movie.VoteCount, movie.Revenue, movie.DocumentHash).Scan(&out).Error
	if err != nil {
		return err
	}

	movie.ID = out.ID
	movie.IsEmbedded = out.IsEmbedded
	return nil
}

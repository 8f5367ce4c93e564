package model

import (
	"time"

	"github.com/lib/pq"
)

// Movie 电影记录（TMDB 信息）
// IsEmbedded 只有在向量成功写入向量索引后才会置为 true
type Movie struct {
	ID               uint           `json:"id" gorm:"primaryKey"`
	TMDBID           int64          `json:"tmdb_id" gorm:"column:tmdb_id;uniqueIndex;not null"`
	OriginalTitle    string         `json:"original_title" gorm:"not null"`
	OriginalLanguage string         `json:"original_language"`
	Overview         string         `json:"overview"`
	Tagline          string         `json:"tagline"`
	ReleaseDate      *time.Time     `json:"release_date"`
	Genres           pq.StringArray `json:"genres" gorm:"type:text[]"`
	Actors           pq.StringArray `json:"actors" gorm:"type:text[]"`
	Directors        pq.StringArray `json:"directors" gorm:"type:text[]"`
	Adult            bool           `json:"adult" gorm:"default:false"`
	Popularity       float64        `json:"popularity"`
	PosterPath       string         `json:"poster_path"`
	Runtime          int            `json:"runtime"`
	VoteAverage      float64        `json:"vote_average"`
	VoteCount        int            `json:"vote_count"`
	Revenue          int64          `json:"revenue"`
	IsEmbedded       bool           `json:"is_embedded" gorm:"index;default:false"`
	DocumentHash     string         `json:"-"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at" gorm:"index"`
}

// TableName 固定表名
func (Movie) TableName() string {
	return "movies"
}

package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/user/movierec/internal/logging"
	"github.com/user/movierec/internal/model"
	"github.com/user/movierec/internal/utils"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	// TMDBPageSize 每页抓取的 TMDB ID 数
	TMDBPageSize = 20
	// maxCast 只保留前 10 位演员
	maxCast = 10
	// fetchConcurrency 同时请求 TMDB 的电影数
	fetchConcurrency = 4
)

// MovieUpserter 入库需要的电影写能力
type MovieUpserter interface {
	UpsertByTMDBID(ctx context.Context, movie *model.Movie) error
}

// TMDBIngester 按 TMDB ID 抓取电影详情与演职员表并写入电影存储
type TMDBIngester struct {
	client  *utils.HTTPClient
	baseURL string
	apiKey  string
	movies  MovieUpserter
	group   singleflight.Group
	logger  zerolog.Logger
}

// NewTMDBIngester 创建 TMDB 入库服务
func NewTMDBIngester(client *utils.HTTPClient, baseURL, apiKey string, movies MovieUpserter) *TMDBIngester {
	return &TMDBIngester{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		movies:  movies,
		logger:  logging.Component("tmdb"),
	}
}

type tmdbDetailsResponse struct {
	ID               int64   `json:"id"`
	Title            string  `json:"title"`
	OriginalTitle    string  `json:"original_title"`
	OriginalLanguage string  `json:"original_language"`
	Overview         string  `json:"overview"`
	Tagline          string  `json:"tagline"`
	ReleaseDate      string  `json:"release_date"`
	Adult            bool    `json:"adult"`
	Popularity       float64 `json:"popularity"`
	PosterPath       string  `json:"poster_path"`
	Runtime          int     `json:"runtime"`
	VoteAverage      float64 `json:"vote_average"`
	VoteCount        int     `json:"vote_count"`
	Revenue          int64   `json:"revenue"`
	Genres           []struct {
		Name string `json:"name"`
	} `json:"genres"`
}

type tmdbCreditsResponse struct {
	Cast []struct {
		Name  string `json:"name"`
		Order int    `json:"order"`
	} `json:"cast"`
	Crew []struct {
		Name string `json:"name"`
		Job  string `json:"job"`
	} `json:"crew"`
}

// StorePage 抓取第 page 页（TMDB ID (page-1)*20+1 到 page*20）并入库。
// 不存在或抓取失败的 ID 被跳过；返回值保持 ID 顺序
func (s *TMDBIngester) StorePage(ctx context.Context, page int) ([]model.Movie, error) {
	if page < 1 {
		return nil, &ValidationError{Field: "page", Message: "must be at least 1"}
	}
	first := int64(page-1)*TMDBPageSize + 1

	results := make([]*model.Movie, TMDBPageSize)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i := range TMDBPageSize {
		tmdbID := first + int64(i)
		g.Go(func() error {
			movie, err := s.FetchAndStore(gctx, tmdbID)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logFetchError(tmdbID, err)
				return nil
			}
			results[i] = movie
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stored := make([]model.Movie, 0, len(results))
	for _, m := range results {
		if m != nil {
			stored = append(stored, *m)
		}
	}
	s.logger.Info().Int("page", page).Int("stored", len(stored)).Msg("TMDB 页面入库完成")
	return stored, nil
}

func (s *TMDBIngester) logFetchError(tmdbID int64, err error) {
	var se *utils.StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
		s.logger.Debug().Int64("tmdb_id", tmdbID).Msg("TMDB 无此电影，跳过")
		return
	}
	s.logger.Warn().Err(err).Int64("tmdb_id", tmdbID).Msg("抓取 TMDB 电影失败，跳过")
}

// FetchAndStore 抓取单部电影并入库，并发请求同一 ID 只会抓取一次
func (s *TMDBIngester) FetchAndStore(ctx context.Context, tmdbID int64) (*model.Movie, error) {
	key := strconv.FormatInt(tmdbID, 10)
	val, err, _ := s.group.Do(key, func() (interface{}, error) {
		return s.fetchAndStore(ctx, tmdbID)
	})
	if err != nil {
		return nil, err
	}
	return val.(*model.Movie), nil
}

func (s *TMDBIngester) fetchAndStore(ctx context.Context, tmdbID int64) (*model.Movie, error) {
	var details tmdbDetailsResponse
	if err := s.client.GetJSON(ctx, s.url(fmt.Sprintf("/movie/%d", tmdbID)), &details); err != nil {
		return nil, fmt.Errorf("获取详情失败: %w", err)
	}

	var credits tmdbCreditsResponse
	if err := s.client.GetJSON(ctx, s.url(fmt.Sprintf("/movie/%d/credits", tmdbID)), &credits); err != nil {
		// 没有演职员表的电影仍然入库
		s.logger.Warn().Err(err).Int64("tmdb_id", tmdbID).Msg("获取演职员表失败")
	}

	movie := toMovie(tmdbID, &details, &credits)
	if err := s.movies.UpsertByTMDBID(ctx, movie); err != nil {
		return nil, fmt.Errorf("保存电影失败: %w", err)
	}
	return movie, nil
}

func (s *TMDBIngester) url(path string) string {
	return s.baseURL + path + "?api_key=" + s.apiKey
}

func toMovie(tmdbID int64, d *tmdbDetailsResponse, c *tmdbCreditsResponse) *model.Movie {
	movie := &model.Movie{
		TMDBID:           tmdbID,
		OriginalTitle:    d.OriginalTitle,
		OriginalLanguage: d.OriginalLanguage,
		Overview:         d.Overview,
		Tagline:          d.Tagline,
		Adult:            d.Adult,
		Popularity:       d.Popularity,
		PosterPath:       d.PosterPath,
		Runtime:          d.Runtime,
		VoteAverage:      d.VoteAverage,
		VoteCount:        d.VoteCount,
		Revenue:          d.Revenue,
		Genres:           []string{},
		Actors:           []string{},
		Directors:        []string{},
	}
	if movie.OriginalTitle == "" {
		movie.OriginalTitle = d.Title
	}
	if t, err := time.Parse("2006-01-02", d.ReleaseDate); err == nil {
		movie.ReleaseDate = &t
	}
	for _, g := range d.Genres {
		movie.Genres = append(movie.Genres, g.Name)
	}

	if c != nil {
		// TMDB 已按 order 排好 cast
		for i, cast := range c.Cast {
			if i == maxCast {
				break
			}
			movie.Actors = append(movie.Actors, cast.Name)
		}
		for _, crew := range c.Crew {
			if crew.Job == "Director" {
				movie.Directors = append(movie.Directors, crew.Name)
			}
		}
	}

	movie.DocumentHash = DocumentHash(movie)
	return movie
}

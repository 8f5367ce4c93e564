//go:build integration

package repository_test

import (
	"context"
	"fmt"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/user/movierec/internal/embedding"
	"github.com/user/movierec/internal/model"
	"github.com/user/movierec/internal/repository"
	"github.com/user/movierec/internal/service"
	"github.com/user/movierec/internal/vectorindex"
	"gorm.io/gorm"
)

// genreEmbedder 按第一个字符生成确定性向量，同首字母的文本彼此最近
type genreEmbedder struct{}

func (genreEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, 4)
		// 文档以 "{Movie title: X" 开头，取标题首字母
		c := text[len("{Movie title: ")]
		v[int(c)%4] = 1
		v[(int(c)+1)%4] = 0.1
		out[i] = embedding.Normalize(v)
	}
	return out, nil
}

func (genreEmbedder) Dimensions() int { return 4 }

func skipIfNoDocker(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if exec.CommandContext(ctx, "docker", "info").Run() != nil {
		t.Skip("Skipping test: Docker not available")
	}
}

func startPostgres(t *testing.T) *gorm.DB {
	t.Helper()
	skipIfNoDocker(t)
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "pgvector/pgvector:pg16",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "postgres",
				"POSTGRES_PASSWORD": "postgres",
				"POSTGRES_DB":       "movierec",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	db, err := repository.InitDB(fmt.Sprintf("postgres://postgres:postgres@%s:%s/movierec?sslmode=disable", host, port.Port()))
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(db))
	return db
}

func seed(t *testing.T, repo *repository.MovieRepository, titles ...string) []model.Movie {
	t.Helper()
	out := make([]model.Movie, 0, len(titles))
	for i, title := range titles {
		m := &model.Movie{
			TMDBID:           int64(100 + i),
			OriginalTitle:    title,
			OriginalLanguage: "en",
			Genres:           []string{"Drama"},
			Actors:           []string{},
			Directors:        []string{},
			Overview:         "overview of " + title,
		}
		m.DocumentHash = service.DocumentHash(m)
		require.NoError(t, repo.UpsertByTMDBID(context.Background(), m))
		out = append(out, *m)
	}
	return out
}

func TestPgvectorEndToEnd(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()
	repo := repository.NewMovieRepository(db)

	index := vectorindex.NewPgvectorIndex(db, genreEmbedder{}, 100)
	require.NoError(t, index.Migrate(ctx))

	movies := seed(t, repo, "Alpha", "Delta", "Bravo", "Apex", "Aria")

	pipeline := service.NewEmbeddingPipeline(repo, index, service.PipelineOptions{
		BatchSize:   2,
		Limiter:     service.NoDelay{},
		CallTimeout: 10 * time.Second,
	})
	report, err := pipeline.Run(ctx)
	require.NoError(t, err)
	assert.True(t, report.Complete())
	assert.Equal(t, 3, report.Batches)

	embedded, total, err := repo.CountEmbedded(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), embedded)
	assert.Equal(t, int64(5), total)

	again, err := pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, again.EmbeddedIDs)

	recommender := service.NewRecommendationService(repo, index, service.RecommendOptions{})
	got, err := recommender.Recommend(ctx, movies[0].ID, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, m := range got {
		assert.NotEqual(t, movies[0].ID, m.ID)
		assert.Equal(t, byte('A'), m.OriginalTitle[0])
	}
}

func TestUpsertResetsEmbeddedOnTextChange(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()
	repo := repository.NewMovieRepository(db)

	m := seed(t, repo, "Original")[0]
	_, err := repo.MarkEmbedded(ctx, []model.DocumentMetadata{service.BuildDocument(&m).Metadata})
	require.NoError(t, err)

	// 文本未变：保持已嵌入
	same := m
	same.Popularity = 42
	require.NoError(t, repo.UpsertByTMDBID(ctx, &same))
	assert.Equal(t, m.ID, same.ID)
	assert.True(t, same.IsEmbedded)

	// 文本变化：重置为未嵌入
	changed := m
	changed.Overview = "a new overview"
	changed.DocumentHash = service.DocumentHash(&changed)
	require.NoError(t, repo.UpsertByTMDBID(ctx, &changed))
	assert.Equal(t, m.ID, changed.ID)
	assert.False(t, changed.IsEmbedded)

	pending, err := repo.FindUnembedded(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, m.ID, pending[0].ID)
}

func TestMarkEmbeddedSkipsRewrittenText(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()
	repo := repository.NewMovieRepository(db)

	movies := seed(t, repo, "Kept", "Rewritten")
	marks := []model.DocumentMetadata{
		service.BuildDocument(&movies[0]).Metadata,
		service.BuildDocument(&movies[1]).Metadata,
	}

	// 嵌入进行中第二部电影的文本被改写
	rewritten := movies[1]
	rewritten.Overview = "rewritten overview"
	rewritten.DocumentHash = service.DocumentHash(&rewritten)
	require.NoError(t, repo.UpsertByTMDBID(ctx, &rewritten))

	flipped, err := repo.MarkEmbedded(ctx, marks)
	require.NoError(t, err)
	assert.Equal(t, []uint{movies[0].ID}, flipped)

	pending, err := repo.FindUnembedded(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, movies[1].ID, pending[0].ID)
	assert.Equal(t, "rewritten overview", pending[0].Overview)
}

func TestPgvectorReturnsMoreThanDefaultEfSearch(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()
	repo := repository.NewMovieRepository(db)

	index := vectorindex.NewPgvectorIndex(db, genreEmbedder{}, 100)
	require.NoError(t, index.Migrate(ctx))

	letters := "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	titles := make([]string, 0, 60)
	for i := range 60 {
		titles = append(titles, fmt.Sprintf("%c%02d", letters[i%len(letters)], i))
	}
	movies := seed(t, repo, titles...)

	pipeline := service.NewEmbeddingPipeline(repo, index, service.PipelineOptions{
		BatchSize:   20,
		Limiter:     service.NoDelay{},
		CallTimeout: 10 * time.Second,
	})
	report, err := pipeline.Run(ctx)
	require.NoError(t, err)
	require.True(t, report.Complete())

	neighbors, err := index.QueryNearest(ctx, service.DocumentText(&movies[0]), 51)
	require.NoError(t, err)
	assert.Len(t, neighbors, 51)

	recommender := service.NewRecommendationService(repo, index, service.RecommendOptions{})
	got, err := recommender.Recommend(ctx, movies[0].ID, service.MaxRecommendations)
	require.NoError(t, err)
	assert.Len(t, got, service.MaxRecommendations)
}

func TestFindByIDs(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()
	repo := repository.NewMovieRepository(db)

	movies := seed(t, repo, "One", "Two", "Three")

	found, err := repo.FindByIDs(ctx, []uint{movies[2].ID, movies[0].ID, 9999})
	require.NoError(t, err)
	assert.Len(t, found, 2)

	missing, err := repo.FindByID(ctx, 9999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/movierec/internal/model"
	"github.com/user/movierec/internal/service"
	"github.com/user/movierec/internal/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeRecommender struct {
	calls int
	fn    func(id uint, k int) ([]model.Movie, error)
}

func (f *fakeRecommender) Recommend(_ context.Context, id uint, k int) ([]model.Movie, error) {
	f.calls++
	return f.fn(id, k)
}

type fakeRunner struct {
	fn func() (*service.RunReport, error)
}

func (f *fakeRunner) Run(context.Context) (*service.RunReport, error) { return f.fn() }

type fakeIngester struct {
	fn func(page int) ([]model.Movie, error)
}

func (f *fakeIngester) StorePage(_ context.Context, page int) ([]model.Movie, error) { return f.fn(page) }

func newCache() *utils.TTLCache {
	return utils.NewTTLCache(time.Minute, time.Minute)
}

func newTestEngine(h *Handler) *gin.Engine {
	r := gin.New()
	r.POST("/recommendations", h.Recommend)
	r.GET("/movies/:id/similar", h.Similar)
	r.GET("/embeddings/generate", h.GenerateEmbeddings)
	r.GET("/movies/store/:page", h.StoreMovies)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestRecommendEndpoint(t *testing.T) {
	rec := &fakeRecommender{fn: func(id uint, k int) ([]model.Movie, error) {
		return []model.Movie{{ID: 3, OriginalTitle: "C"}, {ID: 2, OriginalTitle: "B"}}, nil
	}}
	h := NewHandler(rec, nil, nil, "s", newCache())

	w := do(newTestEngine(h), http.MethodPost, "/recommendations", `{"id":1,"k":2}`)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	recs := body["recommendations"].([]any)
	require.Len(t, recs, 2)
	assert.Equal(t, float64(3), recs[0].(map[string]any)["id"])
	assert.NotContains(t, body, "degraded")
}

func TestRecommendDefaultsKAndCaches(t *testing.T) {
	var gotK int
	rec := &fakeRecommender{fn: func(_ uint, k int) ([]model.Movie, error) {
		gotK = k
		return []model.Movie{}, nil
	}}
	r := newTestEngine(NewHandler(rec, nil, nil, "s", newCache()))

	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/recommendations", `{"id":5}`).Code)
	assert.Equal(t, DefaultK, gotK)
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/recommendations", `{"id":5}`).Code)
	assert.Equal(t, 1, rec.calls)
}

func TestRecommendValidation(t *testing.T) {
	rec := &fakeRecommender{fn: func(uint, int) ([]model.Movie, error) { return nil, nil }}
	r := newTestEngine(NewHandler(rec, nil, nil, "s", newCache()))

	tests := []struct {
		name string
		body string
	}{
		{"missing id", `{"k":3}`},
		{"k too large", `{"id":1,"k":51}`},
		{"negative k", `{"id":1,"k":-1}`},
		{"malformed", `{"id":`},
		{"negative id", `{"id":-4}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodPost, "/recommendations", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, false, decode(t, w)["success"])
		})
	}
	assert.Equal(t, 0, rec.calls)
}

func TestRecommendErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		degraded bool
	}{
		{"not found", &service.NotFoundError{ID: 9}, http.StatusNotFound, false},
		{"upstream", &service.UpstreamError{Op: "query nearest", Err: errors.New("down")}, http.StatusOK, true},
		{"validation", &service.ValidationError{Field: "k", Message: "bad"}, http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &fakeRecommender{fn: func(uint, int) ([]model.Movie, error) { return nil, tt.err }}
			r := newTestEngine(NewHandler(rec, nil, nil, "s", newCache()))

			w := do(r, http.MethodPost, "/recommendations", `{"id":9,"k":2}`)
			assert.Equal(t, tt.status, w.Code)
			body := decode(t, w)
			if tt.degraded {
				assert.Equal(t, true, body["degraded"])
				assert.Empty(t, body["recommendations"])
				// 降级结果不缓存
				do(r, http.MethodPost, "/recommendations", `{"id":9,"k":2}`)
				assert.Equal(t, 2, rec.calls)
			}
		})
	}
}

func TestSimilarEndpoint(t *testing.T) {
	var gotID uint
	var gotK int
	rec := &fakeRecommender{fn: func(id uint, k int) ([]model.Movie, error) {
		gotID, gotK = id, k
		return []model.Movie{{ID: 4}}, nil
	}}
	r := newTestEngine(NewHandler(rec, nil, nil, "s", newCache()))

	w := do(r, http.MethodGet, "/movies/7/similar?k=3", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, uint(7), gotID)
	assert.Equal(t, 3, gotK)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/movies/abc/similar", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/movies/7/similar?k=x", "").Code)
}

func TestGenerateEmbeddings(t *testing.T) {
	runner := &fakeRunner{fn: func() (*service.RunReport, error) {
		return &service.RunReport{Requested: 3, EmbeddedIDs: []uint{1, 2}, Batches: 2, CompletedBatches: 1,
			FailedBatch: 2, Err: errors.New("batch failed")}, nil
	}}
	r := newTestEngine(NewHandler(nil, runner, nil, "s", newCache()))

	w := do(r, http.MethodGet, "/embeddings/generate", "")
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, float64(2), data["embedded"])
	assert.Equal(t, float64(3), data["requested"])
	assert.Equal(t, false, data["complete"])
	assert.Equal(t, []any{float64(1), float64(2)}, data["embedded_ids"])
}

func TestGenerateEmbeddingsBusy(t *testing.T) {
	runner := &fakeRunner{fn: func() (*service.RunReport, error) { return nil, service.ErrPipelineBusy }}
	r := newTestEngine(NewHandler(nil, runner, nil, "s", newCache()))

	assert.Equal(t, http.StatusConflict, do(r, http.MethodGet, "/embeddings/generate", "").Code)
}

func TestStoreMovies(t *testing.T) {
	ingester := &fakeIngester{fn: func(page int) ([]model.Movie, error) {
		if page < 1 {
			return nil, &service.ValidationError{Field: "page", Message: "must be at least 1"}
		}
		return []model.Movie{{ID: 1, TMDBID: 21}, {ID: 2, TMDBID: 22}}, nil
	}}
	r := newTestEngine(NewHandler(nil, nil, ingester, "s", newCache()))

	w := do(r, http.MethodGet, "/movies/store/2", "")
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, float64(2), data["stored"])

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/movies/store/0", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/movies/store/x", "").Code)
}

func TestStoreMoviesFlushesCacheWhenMovieReset(t *testing.T) {
	rec := &fakeRecommender{fn: func(uint, int) ([]model.Movie, error) {
		return []model.Movie{{ID: 2, IsEmbedded: true}}, nil
	}}
	stored := []model.Movie{{ID: 2, TMDBID: 22, IsEmbedded: true}}
	ingester := &fakeIngester{fn: func(int) ([]model.Movie, error) { return stored, nil }}
	h := NewHandler(rec, nil, ingester, "s", newCache())
	r := newTestEngine(h)

	do(r, http.MethodPost, "/recommendations", `{"id":1}`)
	require.Equal(t, 1, h.cache.ItemCount())

	// 文本未变，缓存仍有效
	do(r, http.MethodGet, "/movies/store/2", "")
	assert.Equal(t, 1, h.cache.ItemCount())

	// 重新入库后 is_embedded 被重置
	stored = []model.Movie{{ID: 2, TMDBID: 22, IsEmbedded: false}}
	do(r, http.MethodGet, "/movies/store/2", "")
	assert.Equal(t, 0, h.cache.ItemCount())

	do(r, http.MethodPost, "/recommendations", `{"id":1}`)
	assert.Equal(t, 2, rec.calls)
}

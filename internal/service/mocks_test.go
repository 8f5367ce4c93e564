package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/user/movierec/internal/model"
	"github.com/user/movierec/internal/vectorindex"
)

// memoryStore 内存版电影存储
type memoryStore struct {
	mu      sync.Mutex
	movies  map[uint]*model.Movie
	nextID  uint
	shuffle bool // FindByIDs 按 ID 降序返回，模拟存储不保证顺序

	findErr  error
	markErr  error
	markCall int
}

func newMemoryStore(movies ...model.Movie) *memoryStore {
	s := &memoryStore{movies: map[uint]*model.Movie{}}
	for i := range movies {
		m := movies[i]
		s.movies[m.ID] = &m
		if m.ID >= s.nextID {
			s.nextID = m.ID
		}
	}
	return s
}

func (s *memoryStore) FindByID(_ context.Context, id uint) (*model.Movie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	m, ok := s.movies[id]
	if !ok {
		return nil, nil
	}
	out := *m
	return &out, nil
}

func (s *memoryStore) FindByIDs(_ context.Context, ids []uint) ([]model.Movie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	out := make([]model.Movie, 0, len(ids))
	for _, id := range ids {
		if m, ok := s.movies[id]; ok {
			out = append(out, *m)
		}
	}
	if s.shuffle {
		sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	}
	return out, nil
}

func (s *memoryStore) FindUnembedded(_ context.Context) ([]model.Movie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	out := []model.Movie{}
	for _, m := range s.movies {
		if !m.IsEmbedded {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) MarkEmbedded(_ context.Context, docs []model.DocumentMetadata) ([]uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markCall++
	if s.markErr != nil {
		return nil, s.markErr
	}
	ids := []uint{}
	for _, d := range docs {
		if m, ok := s.movies[d.InternalID]; ok && m.DocumentHash == d.DocumentHash {
			m.IsEmbedded = true
			ids = append(ids, d.InternalID)
		}
	}
	return ids, nil
}

func (s *memoryStore) UpsertByTMDBID(_ context.Context, movie *model.Movie) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.movies {
		if m.TMDBID == movie.TMDBID {
			embedded := m.IsEmbedded && m.DocumentHash == movie.DocumentHash
			id := m.ID
			*m = *movie
			m.ID = id
			m.IsEmbedded = embedded
			movie.ID = id
			movie.IsEmbedded = embedded
			return nil
		}
	}
	s.nextID++
	movie.ID = s.nextID
	movie.IsEmbedded = false
	m := *movie
	s.movies[m.ID] = &m
	return nil
}

func (s *memoryStore) get(id uint) model.Movie {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.movies[id]
}

func (s *memoryStore) embedded(id uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.movies[id]
	return ok && m.IsEmbedded
}

// fakeIndex 可编程的向量索引
type fakeIndex struct {
	mu        sync.Mutex
	addCalls  int
	added     []model.Document
	addFunc   func(call int, docs []model.Document) error
	queryFunc func(text string, k int) ([]model.Neighbor, error)
	lastK     int
	queries   int
}

func (f *fakeIndex) AddDocuments(ctx context.Context, docs []model.Document) error {
	f.mu.Lock()
	f.addCalls++
	call := f.addCalls
	fn := f.addFunc
	f.mu.Unlock()

	if fn != nil {
		if err := fn(call, docs); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.added = append(f.added, docs...)
	f.mu.Unlock()
	return nil
}

func (f *fakeIndex) QueryNearest(ctx context.Context, text string, k int) ([]model.Neighbor, error) {
	f.mu.Lock()
	f.queries++
	f.lastK = k
	fn := f.queryFunc
	f.mu.Unlock()
	if fn == nil {
		return []model.Neighbor{}, nil
	}
	return fn(text, k)
}

func (f *fakeIndex) Collection() string { return vectorindex.Collection }

// countingLimiter 记录 Wait 调用次数
type countingLimiter struct {
	mu    sync.Mutex
	calls int
	onCall func(call int)
}

func (l *countingLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	l.calls++
	call := l.calls
	fn := l.onCall
	l.mu.Unlock()
	if fn != nil {
		fn(call)
	}
	return ctx.Err()
}

func (l *countingLimiter) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func makeMovies(n int) []model.Movie {
	movies := make([]model.Movie, n)
	for i := range movies {
		id := uint(i + 1)
		movies[i] = model.Movie{
			ID:               id,
			TMDBID:           int64(1000 + i + 1),
			OriginalTitle:    fmt.Sprintf("Movie %d", id),
			OriginalLanguage: "en",
			Genres:           []string{"Drama"},
			Overview:         fmt.Sprintf("overview %d", id),
		}
	}
	return movies
}

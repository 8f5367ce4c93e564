package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/movierec/internal/model"
)

func TestDocumentText(t *testing.T) {
	release := time.Date(1999, 3, 31, 0, 0, 0, 0, time.UTC)
	m := &model.Movie{
		ID:               7,
		TMDBID:           603,
		OriginalTitle:    "The Matrix",
		OriginalLanguage: "en",
		ReleaseDate:      &release,
		Genres:           []string{"Action", "Science Fiction"},
		Overview:         "Set in the 22nd century.",
		Actors:           []string{"Keanu Reeves", "Laurence Fishburne"},
		Directors:        []string{"Lana Wachowski", "Lilly Wachowski"},
	}

	want := "{Movie title: The Matrix,\n\n" +
		"Movie release Date: 1999-03-31,\n\n" +
		"Movie language: en,\n\n" +
		"Movie genre: Action,Science Fiction,\n\n" +
		"Description: Set in the 22nd century.,\n\n" +
		"Movie Actors: Keanu Reeves,Laurence Fishburne,\n\n" +
		"Movie Director: Lana Wachowski,Lilly Wachowski,\n\n" +
		"Is movie adult: false}"
	assert.Equal(t, want, DocumentText(m))
	assert.Equal(t, DocumentText(m), DocumentText(m))
}

func TestDocumentTextEmptyFields(t *testing.T) {
	m := &model.Movie{ID: 1, OriginalTitle: "Untitled", Adult: true}
	text := DocumentText(m)
	assert.Contains(t, text, "Movie release Date: ,")
	assert.Contains(t, text, "Movie genre: ,")
	assert.Contains(t, text, "Is movie adult: true}")
}

func TestDocumentTextUsesUTCDate(t *testing.T) {
	tz := time.FixedZone("UTC+9", 9*3600)
	release := time.Date(2001, 7, 20, 3, 0, 0, 0, tz) // 2001-07-19 18:00 UTC
	m := &model.Movie{ID: 1, ReleaseDate: &release}
	assert.Contains(t, DocumentText(m), "Movie release Date: 2001-07-19,")
}

func TestBuildDocuments(t *testing.T) {
	movies := makeMovies(3)
	movies = append(movies, model.Movie{OriginalTitle: "unsaved"})

	docs := BuildDocuments(movies)
	require.Len(t, docs, 3)
	for i, d := range docs {
		assert.Equal(t, movies[i].ID, d.Metadata.InternalID)
		assert.Equal(t, movies[i].TMDBID, d.Metadata.ExternalID)
		assert.Equal(t, DocumentText(&movies[i]), d.Text)
	}
	assert.Empty(t, BuildDocuments(nil))
}

func TestDocumentHash(t *testing.T) {
	m := makeMovies(1)[0]
	h1 := DocumentHash(&m)
	assert.Len(t, h1, 64)
	assert.Equal(t, h1, DocumentHash(&m))

	m.Popularity = 99.5
	assert.Equal(t, h1, DocumentHash(&m), "fields outside the document do not change the hash")

	m.Overview = "changed"
	assert.NotEqual(t, h1, DocumentHash(&m))
}

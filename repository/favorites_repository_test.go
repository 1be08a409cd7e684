package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"cinebrowse/database"
	"cinebrowse/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRepo(t *testing.T) (*FavoritesRepository, KVStore, func()) {
	// Create a temporary test database
	testDB, err := database.NewDB(":memory:")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	// Initialize schema
	if err := testDB.InitSchema(); err != nil {
		t.Fatalf("Failed to initialize test schema: %v", err)
	}

	kv := NewSQLiteStore(testDB)
	repo := NewFavoritesRepository(kv)

	cleanup := func() {
		if err := repo.Close(); err != nil {
			t.Logf("Failed to close test database: %v", err)
		}
	}

	return repo, kv, cleanup
}

func backends(t *testing.T) map[string]func() KVStore {
	return map[string]func() KVStore{
		"sqlite": func() KVStore {
			db, err := database.NewDB(":memory:")
			require.NoError(t, err)
			require.NoError(t, db.InitSchema())
			return NewSQLiteStore(db)
		},
		"memory": func() KVStore {
			return NewMemoryStore()
		},
		"redis": func() KVStore {
			server := miniredis.RunT(t)
			store, err := NewRedisStore("redis://" + server.Addr())
			require.NoError(t, err)
			return store
		},
		"badger": func() KVStore {
			store, err := NewBadgerStore("")
			require.NoError(t, err)
			return store
		},
	}
}

func testMovie(id int, title string) models.Movie {
	poster := fmt.Sprintf("/poster-%d.jpg", id)
	runtime := 120
	return models.Movie{
		ID:               id,
		Title:            title,
		Overview:         "A test movie",
		PosterPath:       &poster,
		ReleaseDate:      "2022-03-01",
		VoteAverage:      7.5,
		VoteCount:        1000,
		Popularity:       55.2,
		Genres:           []models.Genre{{ID: 28, Name: "Action"}},
		Runtime:          &runtime,
		OriginalLanguage: "en",
	}
}

func ids(movies []models.Movie) []int {
	out := make([]int, len(movies))
	for i, m := range movies {
		out[i] = m.ID
	}
	return out
}

type failingStore struct {
	getErr error
	setErr error
}

func (s *failingStore) Get(context.Context, string) ([]byte, error) { return nil, s.getErr }
func (s *failingStore) Set(context.Context, string, []byte) error { return s.setErr }
func (s *failingStore) Close() error { return nil }

func TestFavoritesRepository_Backends(t *testing.T) {
	ctx := context.Background()

	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			kv := newStore()
			repo := NewFavoritesRepository(kv)
			defer func() {
				assert.NoError(t, repo.Close())
			}()

			// Absence is an empty set, not an error
			movies, err := repo.GetAll(ctx)
			require.NoError(t, err)
			assert.NotNil(t, movies)
			assert.Empty(t, movies)

			a, b := testMovie(1, "A"), testMovie(2, "B")
			require.NoError(t, repo.ReplaceAll(ctx, []models.Movie{a, b}))

			movies, err = repo.GetAll(ctx)
			require.NoError(t, err)
			assert.Equal(t, []models.Movie{a, b}, movies)

			// Replace overwrites wholesale
			require.NoError(t, repo.ReplaceAll(ctx, []models.Movie{b}))
			movies, err = repo.GetAll(ctx)
			require.NoError(t, err)
			assert.Equal(t, []int{2}, ids(movies))

			require.NoError(t, repo.ReplaceAll(ctx, nil))
			movies, err = repo.GetAll(ctx)
			require.NoError(t, err)
			assert.Empty(t, movies)
		})
	}
}

func TestFavoritesRepository_StoresFullRecordsUnderFixedKey(t *testing.T) {
	repo, kv, cleanup := setupTestRepo(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, repo.ReplaceAll(ctx, []models.Movie{testMovie(414906, "The Batman")}))

	raw, err := kv.Get(ctx, "@FavoriteList")
	require.NoError(t, err)
	assert.JSONEq(t, `[{
		"id": 414906,
		"title": "The Batman",
		"overview": "A test movie",
		"poster_path": "/poster-414906.jpg",
		"backdrop_path": null,
		"release_date": "2022-03-01",
		"vote_average": 7.5,
		"vote_count": 1000,
		"popularity": 55.2,
		"genres": [{"id": 28, "name": "Action"}],
		"runtime": 120,
		"original_language": "en"
	}]`, string(raw))
}

func TestFavoritesRepository_ReadsExistingBlob(t *testing.T) {
	repo, kv, cleanup := setupTestRepo(t)
	defer cleanup()
	ctx := context.Background()

	// Records written by earlier clients carry extra catalog fields
	legacy := `[{"adult":false,"backdrop_path":"/b.jpg","genres":[{"id":18,"name":"Drama"}],"id":550,
		"original_language":"en","overview":"...","popularity":61.4,"poster_path":"/p.jpg",
		"release_date":"1999-10-15","runtime":139,"title":"Fight Club","video":false,"vote_average":8.4,"vote_count":26280}]`
	require.NoError(t, kv.Set(ctx, FavoritesKey, []byte(legacy)))

	movies, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, movies, 1)
	assert.Equal(t, "Fight Club", movies[0].Title)
	require.NotNil(t, movies[0].Runtime)
	assert.Equal(t, 139, *movies[0].Runtime)
	assert.Equal(t, []models.Genre{{ID: 18, Name: "Drama"}}, movies[0].Genres)
}

func TestFavoritesRepository_UpdateKeepsUnmodeledFields(t *testing.T) {
	repo, kv, cleanup := setupTestRepo(t)
	defer cleanup()
	ctx := context.Background()

	existing := `[{"id":603,"title":"The Matrix","original_title":"The Matrix","tagline":"Welcome to the Real World.",` +
		`"adult":false,"video":false,"poster_path":"/m.jpg","vote_average":8.2}]`
	require.NoError(t, kv.Set(ctx, FavoritesKey, []byte(existing)))

	_, err := repo.Update(ctx, func(movies []models.Movie) ([]models.Movie, error) {
		return append(movies, testMovie(1, "Added")), nil
	})
	require.NoError(t, err)

	data, err := kv.Get(ctx, FavoritesKey)
	require.NoError(t, err)
	var records []map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &records))
	require.Len(t, records, 2)

	kept := records[0]
	assert.Equal(t, float64(603), kept["id"])
	assert.Equal(t, "Welcome to the Real World.", kept["tagline"])
	assert.Equal(t, "The Matrix", kept["original_title"])
	assert.Contains(t, kept, "adult")
	assert.Contains(t, kept, "video")
	assert.NotContains(t, kept, "release_date")
	assert.NotContains(t, kept, "original_language")

	assert.Equal(t, float64(1), records[1]["id"])
	assert.Equal(t, "Added", records[1]["title"])
}

func TestFavoritesRepository_UpdateRewritesChangedRecord(t *testing.T) {
	repo, kv, cleanup := setupTestRepo(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, FavoritesKey, []byte(`[{"id":7,"title":"Old","tagline":"x"}]`)))

	_, err := repo.Update(ctx, func(movies []models.Movie) ([]models.Movie, error) {
		movies[0].Title = "New"
		return movies, nil
	})
	require.NoError(t, err)

	movies, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, movies, 1)
	assert.Equal(t, "New", movies[0].Title)
}

func TestFavoritesRepository_ReplaceAllKeepsUnchangedRecords(t *testing.T) {
	repo, kv, cleanup := setupTestRepo(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, FavoritesKey, []byte(`[{"id":5,"title":"Five","tagline":"kept"},{"id":6,"title":"Six"}]`)))

	movies, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.ReplaceAll(ctx, movies[:1]))

	data, err := kv.Get(ctx, FavoritesKey)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":5,"title":"Five","tagline":"kept"}]`, string(data))
}

func TestFavoritesRepository_CorruptBlob(t *testing.T) {
	repo, kv, cleanup := setupTestRepo(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, FavoritesKey, []byte("{not json")))

	_, err := repo.GetAll(ctx)
	var storeErr *models.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "get", storeErr.Op)
}

func TestFavoritesRepository_NullBlobIsEmpty(t *testing.T) {
	repo, kv, cleanup := setupTestRepo(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, FavoritesKey, []byte("null")))

	movies, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.NotNil(t, movies)
	assert.Empty(t, movies)
}

func TestFavoritesRepository_BackendErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("disk full")

	repo := NewFavoritesRepository(&failingStore{getErr: boom, setErr: boom})

	_, err := repo.GetAll(ctx)
	var storeErr *models.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.ErrorIs(t, err, boom)

	err = repo.ReplaceAll(ctx, []models.Movie{testMovie(1, "A")})
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "replace", storeErr.Op)
	assert.ErrorIs(t, err, boom)
}

func TestFavoritesRepository_ReplaceCollapsesDuplicates(t *testing.T) {
	repo, _, cleanup := setupTestRepo(t)
	defer cleanup()
	ctx := context.Background()

	first := testMovie(1, "First")
	second := testMovie(1, "Second")
	require.NoError(t, repo.ReplaceAll(ctx, []models.Movie{first, testMovie(2, "B"), second}))

	movies, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, ids(movies))
	assert.Equal(t, "First", movies[0].Title)
}

func TestFavoritesRepository_UpdateAbortWritesNothing(t *testing.T) {
	repo, _, cleanup := setupTestRepo(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, repo.ReplaceAll(ctx, []models.Movie{testMovie(1, "A")}))

	abort := errors.New("abort")
	_, err := repo.Update(ctx, func(movies []models.Movie) ([]models.Movie, error) {
		return nil, abort
	})
	assert.ErrorIs(t, err, abort)

	movies, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, ids(movies))
}

func TestFavoritesRepository_UpdateSetFailure(t *testing.T) {
	ctx := context.Background()
	repo := NewFavoritesRepository(&failingStore{getErr: ErrNotFound, setErr: errors.New("read-only")})

	_, err := repo.Update(ctx, func(movies []models.Movie) ([]models.Movie, error) {
		return append(movies, testMovie(1, "A")), nil
	})
	var storeErr *models.StoreError
	assert.ErrorAs(t, err, &storeErr)
}

func TestFavoritesRepository_ConcurrentUpdatesNotLost(t *testing.T) {
	repo, _, cleanup := setupTestRepo(t)
	defer cleanup()
	ctx := context.Background()

	concurrency := 20
	var wg sync.WaitGroup
	for i := 1; i <= concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_, err := repo.Update(ctx, func(movies []models.Movie) ([]models.Movie, error) {
				return append(movies, testMovie(id, "Concurrent")), nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	movies, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, movies, concurrency)
}

func TestFavoritesRepository_Contains(t *testing.T) {
	repo, _, cleanup := setupTestRepo(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, repo.ReplaceAll(ctx, []models.Movie{testMovie(7, "Seven")}))

	ok, err := repo.Contains(ctx, 7)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Contains(ctx, 8)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIndexOf(t *testing.T) {
	movies := []models.Movie{testMovie(3, "C"), testMovie(5, "E")}

	assert.Equal(t, 0, IndexOf(movies, 3))
	assert.Equal(t, 1, IndexOf(movies, 5))
	assert.Equal(t, -1, IndexOf(movies, 4))
	assert.Equal(t, -1, IndexOf(nil, 4))
}

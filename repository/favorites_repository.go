package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"cinebrowse/models"

	"github.com/rs/zerolog/log"
)

// FavoritesKey is the fixed key under which the favorites blob is stored.
// Existing persisted data uses this exact key.
const FavoritesKey = "@FavoriteList"

// FavoritesRepository persists the favorite movie set as a single JSON
// array of full movie records under FavoritesKey.
//
// Records are written back as they were read unless the caller changed
// them, so fields earlier clients stored but Movie does not model survive
// every rewrite.
//
// All mutations through one repository are serialized, so flows sharing an
// instance never lose each other's updates. Writers in other processes
// sharing the same backend are not coordinated with.
type FavoritesRepository struct {
	kv  KVStore
	key string
	mu  sync.Mutex
}

// NewFavoritesRepository creates a favorites repository over kv
func NewFavoritesRepository(kv KVStore) *FavoritesRepository {
	return &FavoritesRepository{kv: kv, key: FavoritesKey}
}

// GetAll returns the stored favorites in insertion order. A never-written
// set is returned as an empty slice, not an error.
func (r *FavoritesRepository) GetAll(ctx context.Context) ([]models.Movie, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	movies, _, err := r.load(ctx)
	return movies, err
}

// ReplaceAll overwrites the stored set with movies
func (r *FavoritesRepository) ReplaceAll(ctx context.Context, movies []models.Movie) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// An unreadable blob is replaced outright
	_, stored, err := r.load(ctx)
	if err != nil {
		stored = nil
	}
	return r.save(ctx, movies, stored)
}

// Update performs a read-modify-write of the stored set. fn receives the
// current set and returns the set to persist; if fn returns an error
// nothing is written and that error is returned unchanged.
func (r *FavoritesRepository) Update(ctx context.Context, fn func([]models.Movie) ([]models.Movie, error)) ([]models.Movie, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, stored, err := r.load(ctx)
	if err != nil {
		return nil, err
	}

	next, err := fn(current)
	if err != nil {
		return nil, err
	}

	next = dedupeByID(next)
	if err := r.save(ctx, next, stored); err != nil {
		return nil, err
	}
	return next, nil
}

// Contains reports whether a movie with id is in the stored set
func (r *FavoritesRepository) Contains(ctx context.Context, id int) (bool, error) {
	movies, err := r.GetAll(ctx)
	if err != nil {
		return false, err
	}
	return IndexOf(movies, id) >= 0, nil
}

// Close releases the underlying store
func (r *FavoritesRepository) Close() error {
	return r.kv.Close()
}

// storedFavorite is a decoded record together with the JSON it was read from
type storedFavorite struct {
	movie models.Movie
	raw   json.RawMessage
}

func (r *FavoritesRepository) load(ctx context.Context) ([]models.Movie, map[int]storedFavorite, error) {
	data, err := r.kv.Get(ctx, r.key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return []models.Movie{}, nil, nil
		}
		log.Error().Err(err).Msg("Failed to read favorites")
		return nil, nil, &models.StoreError{Op: "get", Err: err}
	}

	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		log.Error().Err(err).Msg("Stored favorites are not valid JSON")
		return nil, nil, &models.StoreError{Op: "get", Err: fmt.Errorf("failed to decode favorites: %w", err)}
	}

	movies := make([]models.Movie, 0, len(records))
	stored := make(map[int]storedFavorite, len(records))
	for _, raw := range records {
		var m models.Movie
		if err := json.Unmarshal(raw, &m); err != nil {
			log.Error().Err(err).Msg("Stored favorite is not a movie record")
			return nil, nil, &models.StoreError{Op: "get", Err: fmt.Errorf("failed to decode favorite: %w", err)}
		}
		if _, ok := stored[m.ID]; !ok {
			stored[m.ID] = storedFavorite{movie: m, raw: raw}
		}
		movies = append(movies, m)
	}
	return movies, stored, nil
}

// save writes movies as the stored set. A movie equal to the record it was
// decoded from is written back as its original JSON.
func (r *FavoritesRepository) save(ctx context.Context, movies []models.Movie, stored map[int]storedFavorite) error {
	movies = dedupeByID(movies)

	records := make([]json.RawMessage, 0, len(movies))
	for _, m := range movies {
		if s, ok := stored[m.ID]; ok && reflect.DeepEqual(s.movie, m) {
			records = append(records, s.raw)
			continue
		}
		raw, err := json.Marshal(m)
		if err != nil {
			return &models.StoreError{Op: "replace", Err: fmt.Errorf("failed to encode favorite %d: %w", m.ID, err)}
		}
		records = append(records, raw)
	}

	data, err := json.Marshal(records)
	if err != nil {
		return &models.StoreError{Op: "replace", Err: fmt.Errorf("failed to encode favorites: %w", err)}
	}

	if err := r.kv.Set(ctx, r.key, data); err != nil {
		log.Error().Err(err).Int("count", len(movies)).Msg("Failed to write favorites")
		return &models.StoreError{Op: "replace", Err: err}
	}

	log.Debug().Int("count", len(movies)).Msg("Favorites written")
	return nil
}

// IndexOf returns the position of the movie with id in movies, or -1
func IndexOf(movies []models.Movie, id int) int {
	for i, m := range movies {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// dedupeByID keeps the first occurrence of each movie id. A nil input
// becomes an empty slice so the stored blob is always a JSON array.
func dedupeByID(movies []models.Movie) []models.Movie {
	out := make([]models.Movie, 0, len(movies))
	seen := make(map[int]struct{}, len(movies))
	for _, m := range movies {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}

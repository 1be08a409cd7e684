package controllers

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"cinebrowse/models"
)

// GenreSource lists catalog genres
type GenreSource interface {
	FetchGenres(ctx context.Context) ([]models.Genre, error)
}

// GenreDiscoverer lists movies constrained to a set of genres
type GenreDiscoverer interface {
	DiscoverByGenres(ctx context.Context, genreIDs []int, page int) (*models.MoviePage, error)
}

// GenreFilter holds the genre list of a session and the user's multi-select
// choice over it. Toggling never touches the network.
type GenreFilter struct {
	source GenreSource

	mu       sync.RWMutex
	genres   []models.Genre
	loaded   bool
	selected []int
}

// NewGenreFilter creates an empty filter
func NewGenreFilter(source GenreSource) *GenreFilter {
	return &GenreFilter{
		source:   source,
		genres:   []models.Genre{},
		selected: []int{},
	}
}

// LoadGenres fetches the genre list on first use and returns the cached
// list afterwards. A failed fetch is not cached.
func (f *GenreFilter) LoadGenres(ctx context.Context) ([]models.Genre, error) {
	f.mu.RLock()
	if f.loaded {
		defer f.mu.RUnlock()
		return f.genresLocked(), nil
	}
	f.mu.RUnlock()

	genres, err := f.source.FetchGenres(ctx)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.loaded {
		f.genres = append([]models.Genre{}, genres...)
		f.loaded = true
	}
	return f.genresLocked(), nil
}

// Genres returns the loaded genres in display order
func (f *GenreFilter) Genres() []models.Genre {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.genresLocked()
}

// Toggle adds genreID to the selection if absent, removes it otherwise,
// and returns whether it is now selected. Ids outside the genre list are
// accepted; they simply never match a movie.
func (f *GenreFilter) Toggle(genreID int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, id := range f.selected {
		if id == genreID {
			f.selected = append(f.selected[:i:i], f.selected[i+1:]...)
			return false
		}
	}
	f.selected = append(f.selected, genreID)
	return true
}

// IsSelected reports whether genreID is selected
func (f *GenreFilter) IsSelected(genreID int) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, id := range f.selected {
		if id == genreID {
			return true
		}
	}
	return false
}

// CurrentSelection returns a copy of the selected ids in selection order
func (f *GenreFilter) CurrentSelection() []int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]int{}, f.selected...)
}

// Clear empties the selection
func (f *GenreFilter) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selected = []int{}
}

// Commit hands the current selection to a new, independent search session
// listing movies in all selected genres. Later toggles do not affect it.
// An empty selection yields a session that never fetches.
func (f *GenreFilter) Commit(discoverer GenreDiscoverer) *SearchController {
	ids := f.CurrentSelection()

	c := NewSearchController(func(ctx context.Context, _ string, page int) (*models.MoviePage, error) {
		return discoverer.DiscoverByGenres(ctx, ids, page)
	})
	c.SetQuery(selectionKey(ids))
	return c
}

func (f *GenreFilter) genresLocked() []models.Genre {
	return append([]models.Genre{}, f.genres...)
}

func selectionKey(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}

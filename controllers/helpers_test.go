package controllers

import (
	"context"
	"fmt"
	"sync"

	"cinebrowse/models"

	"github.com/stretchr/testify/mock"
)

func movie(id int, title string) models.Movie {
	return models.Movie{ID: id, Title: title, OriginalLanguage: "en"}
}

// moviePage builds a page with ids [from, to]
func moviePage(page, from, to int, tag string) *models.MoviePage {
	results := []models.Movie{}
	for id := from; id <= to; id++ {
		results = append(results, movie(id, fmt.Sprintf("%s-%d", tag, id)))
	}
	return &models.MoviePage{Page: page, Results: results}
}

func resultIDs(snap Snapshot) []int {
	out := make([]int, len(snap.Results))
	for i, m := range snap.Results {
		out[i] = m.ID
	}
	return out
}

type fetchCall struct {
	query string
	page  int
}

// fakeCatalog serves canned pages keyed by query and page. Errors are
// returned once and then cleared so a retry can succeed.
type fakeCatalog struct {
	mu      sync.Mutex
	calls   []fetchCall
	pages   map[string]*models.MoviePage
	errs    map[string]error
	gate    chan struct{}
	started chan fetchCall
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		pages:   make(map[string]*models.MoviePage),
		errs:    make(map[string]error),
		started: make(chan fetchCall, 32),
	}
}

func key(query string, page int) string {
	return fmt.Sprintf("%s#%d", query, page)
}

func (f *fakeCatalog) setPage(query string, page int, p *models.MoviePage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[key(query, page)] = p
}

func (f *fakeCatalog) failOnce(query string, page int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[key(query, page)] = err
}

// block makes every following fetch wait for release
func (f *fakeCatalog) block() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
}

func (f *fakeCatalog) release() {
	f.mu.Lock()
	gate := f.gate
	f.gate = nil
	f.mu.Unlock()
	if gate != nil {
		close(gate)
	}
}

func (f *fakeCatalog) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeCatalog) fetch(ctx context.Context, query string, page int) (*models.MoviePage, error) {
	f.mu.Lock()
	call := fetchCall{query: query, page: page}
	f.calls = append(f.calls, call)
	gate := f.gate
	f.mu.Unlock()

	select {
	case f.started <- call:
	default:
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, &models.FetchError{Op: "search", Err: ctx.Err()}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(query, page)
	if err, ok := f.errs[k]; ok {
		delete(f.errs, k)
		return nil, err
	}
	if p, ok := f.pages[k]; ok {
		return p, nil
	}
	return &models.MoviePage{Page: page, Results: []models.Movie{}}, nil
}

// mockCatalog is a testify mock of the catalog client
type mockCatalog struct {
	mock.Mock
}

func (m *mockCatalog) SearchMovies(ctx context.Context, query string, page int) (*models.MoviePage, error) {
	args := m.Called(ctx, query, page)
	p, _ := args.Get(0).(*models.MoviePage)
	return p, args.Error(1)
}

func (m *mockCatalog) FetchRecommendations(ctx context.Context, id, page int) (*models.MoviePage, error) {
	args := m.Called(ctx, id, page)
	p, _ := args.Get(0).(*models.MoviePage)
	return p, args.Error(1)
}

func (m *mockCatalog) DiscoverByGenres(ctx context.Context, genreIDs []int, page int) (*models.MoviePage, error) {
	args := m.Called(ctx, genreIDs, page)
	p, _ := args.Get(0).(*models.MoviePage)
	return p, args.Error(1)
}

func (m *mockCatalog) FetchGenres(ctx context.Context) ([]models.Genre, error) {
	args := m.Called(ctx)
	g, _ := args.Get(0).([]models.Genre)
	return g, args.Error(1)
}

// Package controllers holds the client-side state of the browsing screens:
// paginated search sessions, the genre filter selection, and the favorite
// toggle of the detail screen.
package controllers

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	"cinebrowse/models"

	"github.com/rs/zerolog/log"
)

// ErrSessionClosed is returned by operations on a closed search session
var ErrSessionClosed = errors.New("search session closed")

// State is the lifecycle state of a search session
type State int

// Search session states
const (
	StateIdle State = iota
	StateFetching
	StateReady
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateReady:
		return "ready"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// PageFetcher loads one page of results for query
type PageFetcher func(ctx context.Context, query string, page int) (*models.MoviePage, error)

// Snapshot is a point-in-time copy of a search session
type Snapshot struct {
	Query   string         `json:"query"`
	Page    int            `json:"page"`
	Results []models.Movie `json:"results"`
	State   State          `json:"-"`
	Err     error          `json:"-"`
}

// IsFetching reports whether a page request is in flight
func (s Snapshot) IsFetching() bool { return s.State == StateFetching }

// Exhausted reports whether the catalog has no further pages for the query
func (s Snapshot) Exhausted() bool { return s.State == StateExhausted }

// SearchController owns one paginated search session. Results accumulate
// across pages in arrival order with duplicate movie ids dropped, and at
// most one page request is in flight per session.
//
// Changing the query starts a new session; a response that arrives for a
// previous session, or after Close, is discarded.
type SearchController struct {
	fetch PageFetcher

	mu         sync.Mutex
	query      string
	page       int
	results    []models.Movie
	seen       map[int]struct{}
	state      State
	lastErr    error
	generation uint64
	closed     bool

	listeners    map[int]func(Snapshot)
	nextListener int
}

// NewSearchController creates an idle session that loads pages with fetch
func NewSearchController(fetch PageFetcher) *SearchController {
	return &SearchController{
		fetch:     fetch,
		page:      1,
		results:   []models.Movie{},
		seen:      make(map[int]struct{}),
		state:     StateIdle,
		listeners: make(map[int]func(Snapshot)),
	}
}

// SetQuery changes the query. A different query resets the session;
// the same query leaves it untouched. Nothing is fetched.
func (c *SearchController) SetQuery(q string) {
	c.mu.Lock()
	if c.closed || q == c.query {
		c.mu.Unlock()
		return
	}

	c.query = q
	c.reset()
	snap, listeners := c.snapshotLocked(), c.listenersLocked()
	c.mu.Unlock()

	notify(listeners, snap)
}

// Submit fetches the current page for the current query. It is a no-op for
// a blank query, while a request is in flight, or once exhausted.
func (c *SearchController) Submit(ctx context.Context) (Snapshot, error) {
	return c.fetchNext(ctx, "submit")
}

// LoadMore fetches the next page. It is a no-op for a blank query, while a
// request is in flight, or once exhausted.
func (c *SearchController) LoadMore(ctx context.Context) (Snapshot, error) {
	return c.fetchNext(ctx, "load_more")
}

// Snapshot returns a copy of the current session state
func (c *SearchController) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe registers fn to receive a snapshot after every state change.
// The returned function removes the subscription.
func (c *SearchController) Subscribe(fn func(Snapshot)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// Close discards the session. Responses still in flight are dropped when
// they arrive, and later calls return ErrSessionClosed.
func (c *SearchController) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.generation++
	c.listeners = make(map[int]func(Snapshot))
}

func (c *SearchController) fetchNext(ctx context.Context, trigger string) (Snapshot, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Snapshot{}, ErrSessionClosed
	}
	if strings.TrimSpace(c.query) == "" || c.state == StateFetching || c.state == StateExhausted {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, nil
	}

	prev := c.state
	gen := c.generation
	query, page := c.query, c.page
	c.state = StateFetching
	snap, listeners := c.snapshotLocked(), c.listenersLocked()
	c.mu.Unlock()

	notify(listeners, snap)

	log.Debug().Str("query", query).Int("page", page).Str("trigger", trigger).Msg("Fetching search page")
	result, err := c.fetch(ctx, query, page)

	c.mu.Lock()
	if closed := c.closed; closed || gen != c.generation {
		snap = c.snapshotLocked()
		c.mu.Unlock()
		log.Debug().Str("query", query).Int("page", page).Msg("Dropping response for discarded session")
		if closed {
			return snap, ErrSessionClosed
		}
		return snap, nil
	}

	if err != nil {
		c.state = prev
		c.lastErr = err
		snap, listeners = c.snapshotLocked(), c.listenersLocked()
		c.mu.Unlock()

		log.Warn().Err(err).Str("query", query).Int("page", page).Msg("Search page fetch failed")
		notify(listeners, snap)
		return snap, err
	}

	if result == nil {
		// A nil page ends the list like an empty one
		result = &models.MoviePage{}
	}
	added := c.appendUnique(result.Results)
	c.page = page + 1
	c.lastErr = nil
	if added == 0 || len(result.Results) < models.PageSize || (result.TotalPages > 0 && page >= result.TotalPages) {
		c.state = StateExhausted
	} else {
		c.state = StateReady
	}
	snap, listeners = c.snapshotLocked(), c.listenersLocked()
	c.mu.Unlock()

	log.Debug().
		Str("query", query).
		Int("page", page).
		Int("received", len(result.Results)).
		Int("added", added).
		Str("state", snap.State.String()).
		Msg("Search page loaded")
	notify(listeners, snap)
	return snap, nil
}

// appendUnique appends movies whose id is not yet in the session and
// returns how many were added. Must be called with c.mu held.
func (c *SearchController) appendUnique(movies []models.Movie) int {
	added := 0
	for _, m := range movies {
		if _, ok := c.seen[m.ID]; ok {
			continue
		}
		c.seen[m.ID] = struct{}{}
		c.results = append(c.results, m)
		added++
	}
	return added
}

// reset starts a new session for the current query. Must be called with c.mu held.
func (c *SearchController) reset() {
	c.page = 1
	c.results = []models.Movie{}
	c.seen = make(map[int]struct{})
	c.state = StateIdle
	c.lastErr = nil
	c.generation++
}

func (c *SearchController) snapshotLocked() Snapshot {
	results := make([]models.Movie, len(c.results))
	copy(results, c.results)
	return Snapshot{
		Query:   c.query,
		Page:    c.page,
		Results: results,
		State:   c.state,
		Err:     c.lastErr,
	}
}

func (c *SearchController) listenersLocked() []func(Snapshot) {
	if len(c.listeners) == 0 {
		return nil
	}
	fns := make([]func(Snapshot), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	return fns
}

func notify(listeners []func(Snapshot), snap Snapshot) {
	for _, fn := range listeners {
		fn(snap)
	}
}

// MovieSearcher searches the catalog by keyword
type MovieSearcher interface {
	SearchMovies(ctx context.Context, query string, page int) (*models.MoviePage, error)
}

// NewKeywordSearch creates a keyword search session
func NewKeywordSearch(searcher MovieSearcher) *SearchController {
	return NewSearchController(searcher.SearchMovies)
}

// Recommender lists recommendations for a movie
type Recommender interface {
	FetchRecommendations(ctx context.Context, id, page int) (*models.MoviePage, error)
}

// NewRecommendations creates a session listing recommendations for movieID.
// It is ready to fetch immediately.
func NewRecommendations(recommender Recommender, movieID int) *SearchController {
	c := NewSearchController(func(ctx context.Context, _ string, page int) (*models.MoviePage, error) {
		return recommender.FetchRecommendations(ctx, movieID, page)
	})
	c.SetQuery(strconv.Itoa(movieID))
	return c
}

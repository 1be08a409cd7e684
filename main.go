// Package main provides the headless app shell of the movie browser. It
// exposes search, genre filtering and favorites to a UI layer as a local
// JSON API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"cinebrowse/config"
	"cinebrowse/controllers"
	"cinebrowse/database"
	"cinebrowse/jobs"
	"cinebrowse/logging"
	"cinebrowse/models"
	"cinebrowse/repository"
	"cinebrowse/services"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// App represents the application with its dependencies and the state of
// the screens currently mounted
type App struct {
	catalog     *services.CatalogClient
	favorites   *repository.FavoritesRepository
	loadManager *jobs.LoadManager
	imageBase   string

	keywordSearch *controllers.SearchController
	genreFilter   *controllers.GenreFilter
	favorite      *controllers.FavoriteController

	mu              sync.Mutex
	genreResults    *controllers.SearchController
	detailMovie     *models.Movie
	recommendations *controllers.SearchController
}

// NewApp wires the screen controllers over the catalog and favorites store
func NewApp(catalog *services.CatalogClient, favorites *repository.FavoritesRepository, imageBase string) *App {
	return &App{
		catalog:       catalog,
		favorites:     favorites,
		loadManager:   jobs.NewLoadManager(),
		imageBase:     imageBase,
		keywordSearch: controllers.NewKeywordSearch(catalog),
		genreFilter:   controllers.NewGenreFilter(catalog),
		favorite:      controllers.NewFavoriteController(favorites),
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Setup(cfg.LogLevel, cfg.LogPretty)

	kv, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.FavoritesBackend).Msg("Failed to open favorites store")
	}
	favorites := repository.NewFavoritesRepository(kv)
	defer func() {
		if err := favorites.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close favorites store")
		}
	}()

	catalog := services.NewCatalogClient(cfg.TMDBBaseURL, cfg.TMDBAccessToken, cfg.TMDBRatePerSec)

	app := NewApp(catalog, favorites, cfg.TMDBImageBase)
	app.loadManager.Start()
	defer app.loadManager.Stop()

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      app.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", server.Addr).Str("favorites", cfg.FavoritesBackend).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
	app.closeSessions()
}

// openStore opens the configured favorites backend
func openStore(cfg *config.Config) (repository.KVStore, error) {
	switch cfg.FavoritesBackend {
	case config.BackendSQLite:
		db, err := database.NewDB(cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
		if err := db.InitSchema(); err != nil {
			_ = db.Close()
			return nil, err
		}
		return repository.NewSQLiteStore(db), nil
	case config.BackendRedis:
		return repository.NewRedisStore(cfg.RedisURL)
	case config.BackendBadger:
		return repository.NewBadgerStore(cfg.BadgerPath)
	case config.BackendMemory:
		log.Warn().Msg("Favorites are kept in memory and will not survive a restart")
		return repository.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown favorites backend %q", cfg.FavoritesBackend)
	}
}

func (app *App) routes() *mux.Router {
	r := mux.NewRouter()

	// Health check endpoint
	r.HandleFunc("/health", healthHandler).Methods("GET")

	// API routes
	api := r.PathPrefix("/api/v1").Subrouter()

	// Keyword search
	api.HandleFunc("/search", app.getSearchHandler).Methods("GET")
	api.HandleFunc("/search/query", app.setQueryHandler).Methods("PUT")
	api.HandleFunc("/search/submit", app.submitSearchHandler).Methods("POST")
	api.HandleFunc("/search/more", app.loadMoreSearchHandler).Methods("POST")

	// Category search
	api.HandleFunc("/genres", app.getGenresHandler).Methods("GET")
	api.HandleFunc("/genres/{id}/toggle", app.toggleGenreHandler).Methods("POST")
	api.HandleFunc("/genres/search", app.commitGenresHandler).Methods("POST")
	api.HandleFunc("/genres/results", app.getGenreResultsHandler).Methods("GET")
	api.HandleFunc("/genres/results/more", app.loadMoreGenreResultsHandler).Methods("POST")

	// Movie detail
	api.HandleFunc("/movies/{id}", app.getMovieHandler).Methods("GET")
	api.HandleFunc("/movies/{id}/recommendations", app.getRecommendationsHandler).Methods("GET")
	api.HandleFunc("/movies/{id}/recommendations/more", app.loadMoreRecommendationsHandler).Methods("POST")
	api.HandleFunc("/movies/{id}/favorite", app.toggleFavoriteHandler).Methods("POST")

	// Favorites
	api.HandleFunc("/favorites", app.getFavoritesHandler).Methods("GET")

	return r
}

// closeSessions discards every mounted search session
func (app *App) closeSessions() {
	app.mu.Lock()
	defer app.mu.Unlock()

	app.keywordSearch.Close()
	if app.genreResults != nil {
		app.genreResults.Close()
	}
	if app.recommendations != nil {
		app.recommendations.Close()
	}
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}

// searchResponse is the JSON view of a search session snapshot
type searchResponse struct {
	Query      string         `json:"query"`
	Page       int            `json:"page"` // next page to request
	Results    []models.Movie `json:"results"`
	State      string         `json:"state"`
	IsFetching bool           `json:"is_fetching"`
	Exhausted  bool           `json:"exhausted"`
	Error      string         `json:"error,omitempty"`
}

func newSearchResponse(snap controllers.Snapshot) searchResponse {
	resp := searchResponse{
		Query:      snap.Query,
		Page:       snap.Page,
		Results:    snap.Results,
		State:      snap.State.String(),
		IsFetching: snap.IsFetching(),
		Exhausted:  snap.Exhausted(),
	}
	if resp.Results == nil {
		resp.Results = []models.Movie{}
	}
	if snap.Err != nil {
		resp.Error = snap.Err.Error()
	}
	return resp
}

func (app *App) getSearchHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newSearchResponse(app.keywordSearch.Snapshot()))
}

func (app *App) setQueryHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	app.keywordSearch.SetQuery(body.Query)
	writeJSON(w, http.StatusOK, newSearchResponse(app.keywordSearch.Snapshot()))
}

func (app *App) submitSearchHandler(w http.ResponseWriter, r *http.Request) {
	snap, err := app.keywordSearch.Submit(r.Context())
	writeSnapshot(w, snap, err)
}

func (app *App) loadMoreSearchHandler(w http.ResponseWriter, r *http.Request) {
	app.loadMore(w, r, app.keywordSearch)
}

// loadMore runs a page load for session, in the background when the
// request asks for it with async=true
func (app *App) loadMore(w http.ResponseWriter, r *http.Request, session *controllers.SearchController) {
	if r.URL.Query().Get("async") == "true" {
		if !app.loadManager.Trigger(session) {
			http.Error(w, "Background loading unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusAccepted, newSearchResponse(session.Snapshot()))
		return
	}

	snap, err := session.LoadMore(r.Context())
	writeSnapshot(w, snap, err)
}

func (app *App) getGenresHandler(w http.ResponseWriter, r *http.Request) {
	genres, err := app.genreFilter.LoadGenres(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"genres":   genres,
		"selected": app.genreFilter.CurrentSelection(),
	})
}

func (app *App) toggleGenreHandler(w http.ResponseWriter, r *http.Request) {
	genreID, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid genre ID", http.StatusBadRequest)
		return
	}

	selected := app.genreFilter.Toggle(genreID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"genre_id":  genreID,
		"selected":  selected,
		"selection": app.genreFilter.CurrentSelection(),
	})
}

// commitGenresHandler hands the selection to a fresh results session,
// replacing the previous one, and loads its first page
func (app *App) commitGenresHandler(w http.ResponseWriter, r *http.Request) {
	session := app.genreFilter.Commit(app.catalog)

	app.mu.Lock()
	if app.genreResults != nil {
		app.genreResults.Close()
	}
	app.genreResults = session
	app.mu.Unlock()

	log.Info().Ints("genres", app.genreFilter.CurrentSelection()).Msg("Searching by genre")

	snap, err := session.LoadMore(r.Context())
	writeSnapshot(w, snap, err)
}

func (app *App) currentGenreResults() *controllers.SearchController {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.genreResults
}

func (app *App) getGenreResultsHandler(w http.ResponseWriter, _ *http.Request) {
	session := app.currentGenreResults()
	if session == nil {
		http.Error(w, "No genre search in progress", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, newSearchResponse(session.Snapshot()))
}

func (app *App) loadMoreGenreResultsHandler(w http.ResponseWriter, r *http.Request) {
	session := app.currentGenreResults()
	if session == nil {
		http.Error(w, "No genre search in progress", http.StatusNotFound)
		return
	}
	app.loadMore(w, r, session)
}

// detailResponse is the JSON view of the detail screen
type detailResponse struct {
	Movie       *models.Movie `json:"movie"`
	Favorite    bool          `json:"favorite"`
	PosterURL   string        `json:"poster_url,omitempty"`
	BackdropURL string        `json:"backdrop_url,omitempty"`
}

// getMovieHandler mounts the detail screen for a movie: it loads the
// record, recomputes the favorite flag and resets the recommendations list
func (app *App) getMovieHandler(w http.ResponseWriter, r *http.Request) {
	movieID, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid movie ID", http.StatusBadRequest)
		return
	}

	movie, err := app.catalog.FetchMovieDetail(r.Context(), movieID)
	if err != nil {
		writeError(w, err)
		return
	}

	app.mu.Lock()
	app.detailMovie = movie
	app.mu.Unlock()
	app.recommendationsFor(movieID)

	favorite, err := app.favorite.View(r.Context(), movieID)
	if err != nil {
		// The detail is still shown; the flag stays at its last known value
		log.Warn().Err(err).Int("movie_id", movieID).Msg("Failed to read favorite state")
	}

	writeJSON(w, http.StatusOK, detailResponse{
		Movie:       movie,
		Favorite:    favorite,
		PosterURL:   services.ImageURL(app.imageBase, movie.PosterPath),
		BackdropURL: services.ImageURL(app.imageBase, movie.BackdropPath),
	})
}

// recommendationsFor returns the recommendations session of movieID,
// replacing the session of any previously viewed movie
func (app *App) recommendationsFor(movieID int) *controllers.SearchController {
	app.mu.Lock()
	defer app.mu.Unlock()

	query := strconv.Itoa(movieID)
	if app.recommendations != nil && app.recommendations.Snapshot().Query == query {
		return app.recommendations
	}
	if app.recommendations != nil {
		app.recommendations.Close()
	}
	app.recommendations = controllers.NewRecommendations(app.catalog, movieID)
	return app.recommendations
}

func (app *App) getRecommendationsHandler(w http.ResponseWriter, r *http.Request) {
	movieID, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid movie ID", http.StatusBadRequest)
		return
	}

	session := app.recommendationsFor(movieID)
	snap := session.Snapshot()
	if snap.State == controllers.StateIdle {
		snap, err = session.LoadMore(r.Context())
	}
	writeSnapshot(w, snap, err)
}

func (app *App) loadMoreRecommendationsHandler(w http.ResponseWriter, r *http.Request) {
	movieID, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid movie ID", http.StatusBadRequest)
		return
	}
	app.loadMore(w, r, app.recommendationsFor(movieID))
}

// toggleFavoriteHandler flips the favorite state of a movie. The full
// record is stored, taken from the mounted detail screen when it matches
// and fetched from the catalog otherwise.
func (app *App) toggleFavoriteHandler(w http.ResponseWriter, r *http.Request) {
	movieID, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid movie ID", http.StatusBadRequest)
		return
	}

	app.mu.Lock()
	movie := app.detailMovie
	app.mu.Unlock()

	if movie == nil || movie.ID != movieID {
		movie, err = app.catalog.FetchMovieDetail(r.Context(), movieID)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	favorite, err := app.favorite.Toggle(r.Context(), *movie)
	if err != nil {
		writeJSON(w, statusFor(err), map[string]interface{}{
			"error":    err.Error(),
			"movie_id": movieID,
			"favorite": favorite,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"movie_id": movieID,
		"favorite": favorite,
	})
}

func (app *App) getFavoritesHandler(w http.ResponseWriter, r *http.Request) {
	movies, err := app.favorite.Favorites(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, movies)
}

func writeSnapshot(w http.ResponseWriter, snap controllers.Snapshot, err error) {
	if err != nil {
		resp := newSearchResponse(snap)
		resp.Error = err.Error()
		writeJSON(w, statusFor(err), resp)
		return
	}
	writeJSON(w, http.StatusOK, newSearchResponse(snap))
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

// statusFor maps core errors onto HTTP status codes
func statusFor(err error) int {
	var fetchErr *models.FetchError
	var storeErr *models.StoreError
	switch {
	case errors.Is(err, controllers.ErrSessionClosed):
		return http.StatusConflict
	case errors.As(err, &fetchErr):
		return http.StatusBadGateway
	case errors.As(err, &storeErr):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

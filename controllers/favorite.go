package controllers

import (
	"context"
	"sync"

	"cinebrowse/models"
	"cinebrowse/repository"

	"github.com/rs/zerolog/log"
)

// FavoritesStore is the persisted favorite set shared by every screen
type FavoritesStore interface {
	GetAll(ctx context.Context) ([]models.Movie, error)
	Contains(ctx context.Context, id int) (bool, error)
	Update(ctx context.Context, fn func([]models.Movie) ([]models.Movie, error)) ([]models.Movie, error)
}

// FavoriteController projects the favorite flag of the movie on a detail
// screen from the favorites store. The displayed flag only ever reflects
// a successfully read or written store state.
type FavoriteController struct {
	store FavoritesStore

	mu       sync.Mutex
	movieID  int
	favorite bool
}

// NewFavoriteController creates a controller over store
func NewFavoriteController(store FavoritesStore) *FavoriteController {
	return &FavoriteController{store: store}
}

// View switches the screen to movieID and recomputes the displayed flag.
// Call it on every screen focus.
func (c *FavoriteController) View(ctx context.Context, movieID int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if movieID != c.movieID {
		c.movieID = movieID
		c.favorite = false
	}
	return c.refreshLocked(ctx, movieID)
}

// IsFavorite reads the store and reports whether movieID is a favorite.
// If movieID is the viewed movie the displayed flag is refreshed too.
func (c *FavoriteController) IsFavorite(ctx context.Context, movieID int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.refreshLocked(ctx, movieID)
}

// Toggle adds movie to the favorites if absent and removes it otherwise,
// returning the new state. On failure the displayed flag is left as it was
// and returned together with the error.
func (c *FavoriteController) Toggle(ctx context.Context, movie models.Movie) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var nowFavorite bool
	_, err := c.store.Update(ctx, func(movies []models.Movie) ([]models.Movie, error) {
		if i := repository.IndexOf(movies, movie.ID); i >= 0 {
			nowFavorite = false
			return append(movies[:i:i], movies[i+1:]...), nil
		}
		nowFavorite = true
		return append(movies, movie), nil
	})
	if err != nil {
		log.Warn().Err(err).Int("movie_id", movie.ID).Msg("Favorite toggle not persisted")
		return c.displayedFor(movie.ID), err
	}

	if movie.ID == c.movieID {
		c.favorite = nowFavorite
	}
	log.Info().Int("movie_id", movie.ID).Bool("favorite", nowFavorite).Msg("Favorite toggled")
	return nowFavorite, nil
}

// Displayed returns the flag currently shown for the viewed movie
func (c *FavoriteController) Displayed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.favorite
}

// Favorites lists the stored favorites for the favorites screen
func (c *FavoriteController) Favorites(ctx context.Context) ([]models.Movie, error) {
	return c.store.GetAll(ctx)
}

func (c *FavoriteController) refreshLocked(ctx context.Context, movieID int) (bool, error) {
	isFav, err := c.store.Contains(ctx, movieID)
	if err != nil {
		return c.displayedFor(movieID), err
	}

	if movieID == c.movieID {
		c.favorite = isFav
	}
	return isFav, nil
}

func (c *FavoriteController) displayedFor(movieID int) bool {
	return movieID == c.movieID && c.favorite
}

// Package services provides external service integrations.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cinebrowse/models"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ErrEmptyQuery is returned when a search is attempted with a blank query.
// No request is sent in that case.
var ErrEmptyQuery = errors.New("empty search query")

// CatalogClient handles read-only queries against The Movie Database v3 API
type CatalogClient struct {
	baseURL     string
	accessToken string
	client      *http.Client
	limiter     *rate.Limiter
}

type genreListResponse struct {
	Genres []models.Genre `json:"genres"`
}

// NewCatalogClient creates a new catalog client authenticating with a bearer token.
// ratePerSec bounds outbound requests; zero or less disables limiting.
func NewCatalogClient(baseURL, accessToken string, ratePerSec float64) *CatalogClient {
	limit := rate.Inf
	burst := 1
	if ratePerSec > 0 {
		limit = rate.Limit(ratePerSec)
		burst = max(1, int(ratePerSec))
	}
	return &CatalogClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(limit, burst),
	}
}

// FetchGenres fetches the movie genre list
func (c *CatalogClient) FetchGenres(ctx context.Context) ([]models.Genre, error) {
	var resp genreListResponse
	if err := c.get(ctx, "genres", "/genre/movie/list", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Genres == nil {
		resp.Genres = []models.Genre{}
	}
	return resp.Genres, nil
}

// SearchMovies searches movies by title keyword
func (c *CatalogClient) SearchMovies(ctx context.Context, query string, page int) (*models.MoviePage, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("page", strconv.Itoa(normalizePage(page)))

	return c.getPage(ctx, "search", "/search/movie", params)
}

// FetchMovieDetail fetches a single movie by id
func (c *CatalogClient) FetchMovieDetail(ctx context.Context, id int) (*models.Movie, error) {
	var movie models.Movie
	if err := c.get(ctx, "detail", fmt.Sprintf("/movie/%d", id), nil, &movie); err != nil {
		return nil, err
	}
	return &movie, nil
}

// FetchRecommendations fetches the recommendations list for a movie
func (c *CatalogClient) FetchRecommendations(ctx context.Context, id, page int) (*models.MoviePage, error) {
	params := url.Values{}
	params.Set("page", strconv.Itoa(normalizePage(page)))

	return c.getPage(ctx, "recommendations", fmt.Sprintf("/movie/%d/recommendations", id), params)
}

// DiscoverByGenres lists movies matching every genre in genreIDs
func (c *CatalogClient) DiscoverByGenres(ctx context.Context, genreIDs []int, page int) (*models.MoviePage, error) {
	ids := make([]string, len(genreIDs))
	for i, id := range genreIDs {
		ids[i] = strconv.Itoa(id)
	}

	params := url.Values{}
	params.Set("with_genres", strings.Join(ids, ","))
	params.Set("page", strconv.Itoa(normalizePage(page)))

	return c.getPage(ctx, "discover", "/discover/movie", params)
}

func (c *CatalogClient) getPage(ctx context.Context, op, path string, params url.Values) (*models.MoviePage, error) {
	var page models.MoviePage
	if err := c.get(ctx, op, path, params, &page); err != nil {
		return nil, err
	}
	if page.Results == nil {
		page.Results = []models.Movie{}
	}
	return &page, nil
}

// get issues a GET request and decodes the JSON body into dest.
// Every failure is reported as a *models.FetchError.
func (c *CatalogClient) get(ctx context.Context, op, path string, params url.Values, dest any) error {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return &models.FetchError{Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return &models.FetchError{Op: op, Err: fmt.Errorf("failed to build request: %w", err)}
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	log.Debug().Str("op", op).Str("path", path).Msg("Catalog request")

	resp, err := c.client.Do(req)
	if err != nil {
		return &models.FetchError{Op: op, Err: fmt.Errorf("request failed: %w", err)}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return &models.FetchError{Op: op, Err: fmt.Errorf("catalog returned status %d", resp.StatusCode)}
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return &models.FetchError{Op: op, Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	return nil
}

func normalizePage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}

// ImageURL joins an image base URL with a catalog image path.
// A nil or empty path yields the empty string.
func ImageURL(imageBase string, path *string) string {
	if path == nil || *path == "" {
		return ""
	}
	return strings.TrimRight(imageBase, "/") + *path
}

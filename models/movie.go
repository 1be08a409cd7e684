// Package models defines the data structures used throughout the application.
package models

// PageSize is the number of results the catalog returns for a full page.
const PageSize = 20

// Genre represents a catalog genre
type Genre struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Movie represents a movie record as returned by the catalog.
// The JSON shape is also the persisted favorites shape, so field names
// must stay compatible with data written by earlier clients.
type Movie struct {
	ID               int     `json:"id"`
	Title            string  `json:"title"`
	Overview         string  `json:"overview"`
	PosterPath       *string `json:"poster_path"`
	BackdropPath     *string `json:"backdrop_path"`
	ReleaseDate      string  `json:"release_date"`
	VoteAverage      float64 `json:"vote_average"`
	VoteCount        int     `json:"vote_count"`
	Popularity       float64 `json:"popularity"`
	GenreIDs         []int   `json:"genre_ids,omitempty"`
	Genres           []Genre `json:"genres,omitempty"`
	Runtime          *int    `json:"runtime,omitempty"` // in minutes
	OriginalLanguage string  `json:"original_language"`
}

// MoviePage is one page of a paginated catalog listing
type MoviePage struct {
	Page         int     `json:"page"`
	Results      []Movie `json:"results"`
	TotalPages   int     `json:"total_pages"`
	TotalResults int     `json:"total_results"`
}

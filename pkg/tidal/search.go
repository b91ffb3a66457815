package tidal

import (
	"context"
	"net/url"
)

// SearchService provides free-text catalogue search.
type SearchService struct {
	client *Client
}

// searchResponse is the wire shape of a search result page.
type searchResponse struct {
	Tracks []Track `json:"tracks"`
}

// BestTrackMatch searches the catalogue with a free-text query and returns
// the best matching track, or ErrNotFound when the search produced nothing.
func (s *SearchService) BestTrackMatch(ctx context.Context, query string) (*Track, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("type", "TRACKS")
	params.Set("limit", "1")

	body, err := s.client.get(ctx, "/search", params, "")
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := decode(body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Tracks) == 0 {
		return nil, ErrNotFound
	}
	return &resp.Tracks[0], nil
}

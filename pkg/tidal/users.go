package tidal

import (
	"context"
	"net/url"
	"strconv"
)

// UsersService provides access to a user's listening history.
type UsersService struct {
	client *Client
}

// RecentlyPlayed fetches one page of the user's most recent plays, newest
// first. An empty cursor requests the first page; the returned page carries
// the cursor for the next one.
func (s *UsersService) RecentlyPlayed(ctx context.Context, userID, accessToken string, limit int, cursor string) (*HistoryPage, error) {
	if accessToken == "" {
		return nil, ErrNoAccessToken
	}
	if limit <= 0 {
		limit = 50
	}

	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	body, err := s.client.get(ctx, "/users/"+userID+"/history", params, accessToken)
	if err != nil {
		return nil, err
	}

	var page HistoryPage
	if err := decode(body, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

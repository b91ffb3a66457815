package tidal

import (
	"context"
	"fmt"
	"strings"
)

// CatalogService provides single-item catalogue lookups.
//
// The Tidal API offers no batch endpoint for these; callers that need many
// items fetch them one by one through the shared request throttle.
type CatalogService struct {
	client *Client
}

// GetTrack fetches one track by its external id.
func (s *CatalogService) GetTrack(ctx context.Context, id string) (*Track, error) {
	body, err := s.client.get(ctx, "/tracks/"+id, nil, "")
	if err != nil {
		return nil, err
	}

	var track Track
	if err := decode(body, &track); err != nil {
		return nil, err
	}
	return &track, nil
}

// GetAlbum fetches one album by its external id.
func (s *CatalogService) GetAlbum(ctx context.Context, id string) (*Album, error) {
	body, err := s.client.get(ctx, "/albums/"+id, nil, "")
	if err != nil {
		return nil, err
	}

	var album Album
	if err := decode(body, &album); err != nil {
		return nil, err
	}
	return &album, nil
}

// GetArtist fetches one artist by its external id.
func (s *CatalogService) GetArtist(ctx context.Context, id string) (*Artist, error) {
	body, err := s.client.get(ctx, "/artists/"+id, nil, "")
	if err != nil {
		return nil, err
	}

	var artist Artist
	if err := decode(body, &artist); err != nil {
		return nil, err
	}
	return &artist, nil
}

// ParseTrackURI extracts the track id from a Tidal track URI of the form
// "tidal:track:<id>" or a plain track URL.
func ParseTrackURI(uri string) (string, error) {
	if id, ok := strings.CutPrefix(uri, "tidal:track:"); ok && id != "" {
		return id, nil
	}
	if idx := strings.LastIndex(uri, "/track/"); idx >= 0 {
		id := strings.Trim(uri[idx+len("/track/"):], "/")
		if id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("tidal: unrecognized track uri %q", uri)
}

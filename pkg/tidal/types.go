package tidal

import "time"

// Track is a catalogue track.
type Track struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	DurationMS int64    `json:"durationMs"`
	AlbumID    string   `json:"albumId"`
	ArtistID   string   `json:"artistId"`
	ArtistIDs  []string `json:"artistIds"`
}

// Album is a catalogue album.
type Album struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	ArtistID string `json:"artistId"`
}

// Artist is a catalogue artist.
type Artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// HistoryEntry is one played track from a user's listening history.
type HistoryEntry struct {
	Track    Track     `json:"track"`
	PlayedAt time.Time `json:"playedAt"`
}

// HistoryPage is one page of listening history with its pagination cursor.
type HistoryPage struct {
	Entries []HistoryEntry `json:"items"`
	Cursor  string         `json:"cursor"`
}

// Tokens is the result of an OAuth token exchange or refresh.
type Tokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"-"`
}

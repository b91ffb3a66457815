package store

import "time"

// PlaybackEvent is one completed listen of a track by a user.
// Events are immutable once written.
type PlaybackEvent struct {
	ID          int64
	UserID      string
	TrackID     string
	PlayedAt    time.Time
	DurationMS  int64
	AlbumID     string
	ArtistID    string
	ArtistIDs   []string
	Blacklisted bool
}

// TrackRecord is a denormalized copy of a track from the external service,
// keyed by its external id. Records are append-only; staleness is accepted.
type TrackRecord struct {
	ID         string
	Name       string
	DurationMS int64
	AlbumID    string
	ArtistID   string
	ArtistIDs  []string
}

// AlbumRecord is a cached external album.
type AlbumRecord struct {
	ID       string
	Name     string
	ArtistID string
}

// ArtistRecord is a cached external artist.
type ArtistRecord struct {
	ID   string
	Name string
}

// Import lifecycle statuses.
const (
	ImportStatusPending = "pending"
	ImportStatusRunning = "running"
	ImportStatusDone    = "done"
	ImportStatusFailed  = "failed"
)

// Importer kinds.
const (
	ImportKindTidal   = "tidal"
	ImportKindSpotify = "spotify"
)

// ImporterState is the persisted progress of a single import run.
// Cursor only ever advances; a resumed run picks up from it.
type ImporterState struct {
	ID        string
	UserID    string
	Kind      string
	Status    string
	Cursor    int
	Total     int
	Imported  int
	Skipped   int
	Errors    int
	FilePaths []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// User is a registered account whose listening history is synced.
type User struct {
	ID              string
	TidalUserID     string
	AccessToken     string
	RefreshToken    string
	TokenExpiry     time.Time
	NeedsRelogin    bool
	LastSyncedAt    time.Time
	FirstListenedAt time.Time // zero if no play stored yet
}

// HasCredentials reports whether the user has tokens usable for API calls.
func (u *User) HasCredentials() bool {
	return u.AccessToken != "" && u.RefreshToken != "" && !u.NeedsRelogin
}

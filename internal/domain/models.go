// Package domain contains core business models and logic with no external dependencies
// beyond small helper libraries.
// This package defines the fundamental entities of the encore player engine.
package domain

import (
	"strings"

	"github.com/samber/lo"
)

// DefaultVolume is the volume used when no preference record exists.
const DefaultVolume = 0.3

// Track represents one playable item with its display metadata.
// Tracks are immutable once placed in a playlist; the store only hands out copies.
type Track struct {
	// ID is the stable identifier, unique within a playlist
	ID string

	// Title is the song title
	Title string

	// Artist is the performing artist name
	Artist string

	// AlbumCoverURL points to the cover art (nil when unknown)
	AlbumCoverURL *string

	// ExternalMediaID is the identifier understood by the embed widget
	ExternalMediaID string

	// DurationSeconds is the advertised length. The widget reports the
	// authoritative value after load, which may differ.
	DurationSeconds *float64

	// Tags is an ordered list of free-form labels
	Tags []string

	// ReleaseDate is the release date as supplied by the content layer
	ReleaseDate string

	// Description is free-form text
	Description string
}

// TrackRecord is the flat record handed over by the content layer.
// Keys are snake_case at this boundary.
type TrackRecord struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Artist          string   `json:"artist"`
	AlbumCoverURL   *string  `json:"album_cover_url"`
	YoutubeVideoID  string   `json:"youtube_video_id"`
	DurationSeconds *float64 `json:"duration_seconds"`
	Tags            []string `json:"tags,omitempty"`
	ReleaseDate     string   `json:"release_date,omitempty"`
	Description     string   `json:"description,omitempty"`
}

// NewTrack normalizes a content record into a Track.
// Records without an id or media id cannot be played and are rejected.
func NewTrack(record TrackRecord) (Track, error) {
	id := strings.TrimSpace(record.ID)
	if id == "" {
		return Track{}, NewValidationError("id", record.ID, "must not be empty")
	}

	mediaID := strings.TrimSpace(record.YoutubeVideoID)
	if mediaID == "" {
		return Track{}, NewValidationError("youtube_video_id", record.YoutubeVideoID, "must not be empty")
	}

	track := Track{
		ID:              id,
		Title:           strings.TrimSpace(record.Title),
		Artist:          strings.TrimSpace(record.Artist),
		ExternalMediaID: mediaID,
		ReleaseDate:     strings.TrimSpace(record.ReleaseDate),
		Description:     record.Description,
	}

	if record.AlbumCoverURL != nil && strings.TrimSpace(*record.AlbumCoverURL) != "" {
		cover := strings.TrimSpace(*record.AlbumCoverURL)
		track.AlbumCoverURL = &cover
	}

	if record.DurationSeconds != nil && *record.DurationSeconds > 0 {
		duration := *record.DurationSeconds
		track.DurationSeconds = &duration
	}

	if len(record.Tags) > 0 {
		track.Tags = lo.Compact(lo.Map(record.Tags, func(tag string, _ int) string {
			return strings.TrimSpace(tag)
		}))
	}

	return track, nil
}

// NewTracks converts a batch of records, skipping the ones that cannot be played.
// It returns the usable tracks and the number of records dropped.
func NewTracks(records []TrackRecord) ([]Track, int) {
	tracks := make([]Track, 0, len(records))
	dropped := 0
	for _, record := range records {
		track, err := NewTrack(record)
		if err != nil {
			dropped++
			continue
		}
		tracks = append(tracks, track)
	}
	return tracks, dropped
}

// Record converts the track back to its boundary shape.
func (t Track) Record() TrackRecord {
	return TrackRecord{
		ID:              t.ID,
		Title:           t.Title,
		Artist:          t.Artist,
		AlbumCoverURL:   t.AlbumCoverURL,
		YoutubeVideoID:  t.ExternalMediaID,
		DurationSeconds: t.DurationSeconds,
		Tags:            t.Tags,
		ReleaseDate:     t.ReleaseDate,
		Description:     t.Description,
	}
}

// Playlist is an ordered track sequence with a current position pointer.
// Index is -1 when the playlist is empty or unset.
type Playlist struct {
	Tracks []Track
	Index  int
}

// NewPlaylist returns an empty playlist.
func NewPlaylist() Playlist {
	return Playlist{Index: -1}
}

// Len returns the number of tracks.
func (p Playlist) Len() int {
	return len(p.Tracks)
}

// Current returns the track at the current index.
func (p Playlist) Current() (Track, bool) {
	if p.Index < 0 || p.Index >= len(p.Tracks) {
		return Track{}, false
	}
	return p.Tracks[p.Index], true
}

// IndexOf returns the position of the track with the given id, or -1.
func (p Playlist) IndexOf(id string) int {
	_, index, found := lo.FindIndexOf(p.Tracks, func(t Track) bool {
		return t.ID == id
	})
	if !found {
		return -1
	}
	return index
}

// NextIndex returns the index after i with wraparound. Returns -1 on an empty playlist.
func (p Playlist) NextIndex(i int) int {
	n := len(p.Tracks)
	if n == 0 {
		return -1
	}
	return ((i+1)%n + n) % n
}

// PreviousIndex returns the index before i with wraparound. Returns -1 on an empty playlist.
func (p Playlist) PreviousIndex(i int) int {
	n := len(p.Tracks)
	if n == 0 {
		return -1
	}
	return ((i-1)%n + n) % n
}

// Replace swaps in a new track list, keeping the track with currentID selected
// when it is still present. Otherwise the index resets to 0, or -1 when empty.
func (p Playlist) Replace(tracks []Track, currentID string) Playlist {
	next := Playlist{Tracks: append([]Track(nil), tracks...), Index: -1}
	if len(next.Tracks) == 0 {
		return next
	}

	next.Index = 0
	if currentID != "" {
		if i := next.IndexOf(currentID); i >= 0 {
			next.Index = i
		}
	}
	return next
}

// PlayerState is one snapshot of the session-scoped player state.
// Snapshots are values; mutating a snapshot never affects the store.
type PlayerState struct {
	// Track is the currently loaded track (nil if none)
	Track *Track

	// IsPlaying and IsPaused are never both true. Both are false before the first load.
	IsPlaying bool
	IsPaused  bool

	// Volume is always within [0, 1]
	Volume float64

	CurrentTime float64
	Duration    float64

	// IsReady reports whether the embed widget finished initializing
	IsReady bool

	// HasVisited reports whether a preference record from an earlier session existed
	HasVisited bool

	// Playlist is a copy of the ordered track list
	Playlist []Track

	// CurrentIndex is -1 or a valid index into Playlist
	CurrentIndex int

	// Lifecycle is the engine lifecycle state
	Lifecycle EngineState

	// Error holds the last surfaced playback or initialization error ("" when none)
	Error string

	// Version increases by one with every published snapshot
	Version uint64
}

// Clone returns a deep copy of the snapshot.
func (s PlayerState) Clone() PlayerState {
	out := s
	if s.Track != nil {
		track := *s.Track
		out.Track = &track
	}
	out.Playlist = append([]Track(nil), s.Playlist...)
	return out
}

// Preferences is the durable per-installation preference record.
type Preferences struct {
	Volume       float64 `json:"volume"`
	LastPosition float64 `json:"lastPosition"`
	HasVisited   bool    `json:"hasVisited"`
}

// DefaultPreferences returns the record used on first run.
func DefaultPreferences() Preferences {
	return Preferences{Volume: DefaultVolume}
}

// ClampVolume limits v to [0, 1].
func ClampVolume(v float64) float64 {
	if v != v { // NaN
		return 0
	}
	return lo.Clamp(v, 0.0, 1.0)
}

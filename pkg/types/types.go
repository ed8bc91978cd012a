package types

import (
	"time"
)

// Song represents a single playable track.
type Song struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	Album    string `json:"album,omitempty"`
	Genre    string `json:"genre,omitempty"`
	Duration int    `json:"duration,omitempty"` // seconds
	URL      string `json:"url"`                // http(s):// or s3:// source
	Size     int64  `json:"size,omitempty"`     // bytes, 0 when unknown
}

// PlayMode is the traversal policy over a playlist. It determines which
// tracks count as "next" for prefetching purposes.
type PlayMode string

const (
	PlayModeSequence PlayMode = "sequence"
	PlayModeListLoop PlayMode = "list_loop"
	PlayModeRandom   PlayMode = "random"
)

// PreloadStatus describes the lifecycle state of a preload item.
type PreloadStatus int

const (
	// StatusIdle - no preload has been attempted for the song
	StatusIdle PreloadStatus = iota
	// StatusLoading - a fetch is in flight
	StatusLoading
	// StatusLoaded - bytes are available in the cache
	StatusLoaded
	// StatusError - the fetch terminated with an error
	StatusError
	// StatusCancelled - the fetch was cancelled explicitly or by preemption
	StatusCancelled
)

// String returns string representation of the status
func (s PreloadStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusLoaded:
		return "loaded"
	case StatusError:
		return "error"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is a final state.
func (s PreloadStatus) Terminal() bool {
	return s == StatusLoaded || s == StatusError || s == StatusCancelled
}

// Candidate represents a song proposed for prefetching.
type Candidate struct {
	Song     Song    `json:"song"`
	Priority float64 `json:"priority"` // higher = more urgent
	Reason   string  `json:"reason"`   // human-readable tag, e.g. "next_1"
}

// ConnectionType classifies the active network link.
type ConnectionType string

const (
	ConnectionWifi     ConnectionType = "wifi"
	ConnectionCellular ConnectionType = "cellular"
	ConnectionUnknown  ConnectionType = "unknown"
)

// NetworkInfo represents a snapshot of network conditions used to gate
// prefetching decisions.
type NetworkInfo struct {
	Connected     bool           `json:"connected"`
	Type          ConnectionType `json:"type"`
	Metered       bool           `json:"metered"`
	DownloadSpeed float64        `json:"download_speed,omitempty"` // bytes/sec, 0 when unknown
}

// UserBehavior is an aggregate listening-behavior signal. The preloader
// consumes it as an opaque value; how it is computed belongs to the
// behavior analyzer.
type UserBehavior struct {
	SkipRate          float64            `json:"skip_rate"`
	RepeatRate        float64            `json:"repeat_rate"`
	GenrePreferences  map[string]float64 `json:"genre_preferences"`
	ArtistPreferences map[string]float64 `json:"artist_preferences"`
	TimeOfDayPatterns map[int]float64    `json:"time_of_day_patterns"` // hour -> activity weight
	SessionLength     time.Duration      `json:"session_length"`
	PlayCounts        map[string]int     `json:"play_counts"`     // song id -> total plays
	RecentlyPlayed    []string           `json:"recently_played"` // song ids, most recent first
}

// CacheStats represents cache performance statistics
type CacheStats struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	Entries     int     `json:"entries"`
	Size        int64   `json:"size"`
	Capacity    int64   `json:"capacity"`
	HitRate     float64 `json:"hit_rate"`
	Utilization float64 `json:"utilization"`
}

// Package behavior derives an aggregate listening signal from play history.
package behavior

import (
	"sync"
	"time"

	"github.com/tunecache/tunecache/pkg/types"
)

// Defaults for the event window and session detection.
const (
	defaultWindowSize = 500
	sessionGap        = 30 * time.Minute
	recentLimit       = 20
)

// PlayEvent records one playback of a track, complete or skipped.
type PlayEvent struct {
	SongID    string        `json:"song_id"`
	Artist    string        `json:"artist,omitempty"`
	Genre     string        `json:"genre,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Played    time.Duration `json:"played"`   // time actually listened
	Duration  time.Duration `json:"duration"` // full track length
	Skipped   bool          `json:"skipped"`
}

// Analyzer accumulates play events in a bounded window and derives the
// UserBehavior signal consumed by candidate ranking. It implements
// types.BehaviorAnalyzer.
type Analyzer struct {
	mu         sync.RWMutex
	events     []PlayEvent
	windowSize int
	playCounts map[string]int
	now        func() time.Time
}

// NewAnalyzer creates a behavior analyzer. windowSize <= 0 uses the default.
func NewAnalyzer(windowSize int) *Analyzer {
	if windowSize <= 0 {
		windowSize = defaultWindowSize
	}
	return &Analyzer{
		events:     make([]PlayEvent, 0, windowSize),
		windowSize: windowSize,
		playCounts: make(map[string]int),
		now:        time.Now,
	}
}

// RecordPlay adds one play event to the window.
func (a *Analyzer) RecordPlay(event PlayEvent) {
	if event.SongID == "" {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = a.now()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.events = append(a.events, event)
	if len(a.events) > a.windowSize {
		dropped := a.events[0]
		a.events = a.events[1:]
		if a.playCounts[dropped.SongID] > 0 {
			a.playCounts[dropped.SongID]--
		}
	}
	a.playCounts[event.SongID]++
}

// CurrentBehavior derives the aggregate signal from the current window.
func (a *Analyzer) CurrentBehavior() types.UserBehavior {
	a.mu.RLock()
	defer a.mu.RUnlock()

	behavior := types.UserBehavior{
		GenrePreferences:  make(map[string]float64),
		ArtistPreferences: make(map[string]float64),
		TimeOfDayPatterns: make(map[int]float64),
		PlayCounts:        make(map[string]int, len(a.playCounts)),
	}

	for id, n := range a.playCounts {
		if n > 0 {
			behavior.PlayCounts[id] = n
		}
	}

	if len(a.events) == 0 {
		return behavior
	}

	skipped := 0
	repeats := 0
	seen := make(map[string]bool, len(a.events))
	hours := make(map[int]int)

	for _, e := range a.events {
		if e.Skipped {
			skipped++
		}
		if seen[e.SongID] {
			repeats++
		}
		seen[e.SongID] = true
		hours[e.Timestamp.Hour()]++

		// Completion-weighted preference: a track listened to the end
		// counts fully, an early skip barely at all.
		weight := 1.0
		if e.Duration > 0 {
			weight = float64(e.Played) / float64(e.Duration)
			if weight > 1 {
				weight = 1
			}
			if weight < 0 {
				weight = 0
			}
		}
		if e.Genre != "" {
			behavior.GenrePreferences[e.Genre] += weight
		}
		if e.Artist != "" {
			behavior.ArtistPreferences[e.Artist] += weight
		}
	}

	total := float64(len(a.events))
	behavior.SkipRate = float64(skipped) / total
	behavior.RepeatRate = float64(repeats) / total

	normalize(behavior.GenrePreferences)
	normalize(behavior.ArtistPreferences)

	for hour, n := range hours {
		behavior.TimeOfDayPatterns[hour] = float64(n) / total
	}

	behavior.SessionLength = a.sessionLengthLocked()
	behavior.RecentlyPlayed = a.recentLocked()

	return behavior
}

// sessionLengthLocked measures the span of the current listening session,
// where a gap above sessionGap starts a new session.
func (a *Analyzer) sessionLengthLocked() time.Duration {
	last := a.events[len(a.events)-1].Timestamp
	start := last
	for i := len(a.events) - 2; i >= 0; i-- {
		ts := a.events[i].Timestamp
		if start.Sub(ts) > sessionGap {
			break
		}
		start = ts
	}
	return last.Sub(start)
}

// recentLocked returns distinct song ids, most recent first.
func (a *Analyzer) recentLocked() []string {
	var recent []string
	seen := make(map[string]bool)
	for i := len(a.events) - 1; i >= 0 && len(recent) < recentLimit; i-- {
		id := a.events[i].SongID
		if seen[id] {
			continue
		}
		seen[id] = true
		recent = append(recent, id)
	}
	return recent
}

// normalize scales map values into [0, 1] relative to the maximum.
func normalize(m map[string]float64) {
	var max float64
	for _, v := range m {
		if v > max {
			max = v
		}
	}
	if max <= 0 {
		return
	}
	for k, v := range m {
		m[k] = v / max
	}
}

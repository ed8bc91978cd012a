package candidate

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/tunecache/tunecache/internal/config"
	"github.com/tunecache/tunecache/pkg/types"
)

// maxCandidates caps the ranked list handed to the scheduler.
const maxCandidates = 10

// Per-source geometric decay applied to the base weight by rank offset.
const (
	decayNext     = 0.2
	decayPrevious = 0.3
	decayRelated  = 0.2
	decayPopular  = 0.4
	decayRecent   = 0.3
)

// Counts for the aggregate-signal sources not tied to playlist position.
const (
	popularSongsCount = 3
	recentSongsCount  = 3
)

// Params carries the per-invocation knobs the generator needs. The
// scheduler fills it from its configuration snapshot.
type Params struct {
	NextCount    int
	PrevCount    int
	RelatedCount int
	Weights      config.Weights
}

// Generator turns the current playback position and a behavior signal into
// a ranked, deduplicated list of prefetch candidates.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a candidate generator. seed fixes the random-mode sampling
// order; pass 0 for a time-based seed.
func New(seed int64) *Generator {
	if seed == 0 {
		seed = rand.Int63()
	}
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

// Generate produces at most maxCandidates candidates, deduplicated by song
// id (keeping the maximum priority seen), sorted descending by priority.
// The current song is never a candidate.
func (g *Generator) Generate(current types.Song, playlist []types.Song, index int, mode types.PlayMode, behavior types.UserBehavior, p Params) []types.Candidate {
	var raw []types.Candidate

	raw = append(raw, g.nextCandidates(playlist, index, mode, p)...)
	raw = append(raw, prevCandidates(playlist, index, p)...)
	raw = append(raw, relatedCandidates(current, playlist, behavior, p)...)
	raw = append(raw, popularCandidates(playlist, behavior, p)...)
	raw = append(raw, recentCandidates(playlist, behavior, p)...)

	// Dedup by id keeping the maximum priority; the current song and
	// non-positive priorities are excluded.
	best := make(map[string]types.Candidate, len(raw))
	order := make([]string, 0, len(raw))
	for _, c := range raw {
		if c.Song.ID == "" || c.Song.ID == current.ID || c.Priority <= 0 {
			continue
		}
		prev, seen := best[c.Song.ID]
		if !seen {
			best[c.Song.ID] = c
			order = append(order, c.Song.ID)
			continue
		}
		if c.Priority > prev.Priority {
			best[c.Song.ID] = c
		}
	}

	result := make([]types.Candidate, 0, len(order))
	for _, id := range order {
		result = append(result, best[id])
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Priority > result[j].Priority
	})

	if len(result) > maxCandidates {
		result = result[:maxCandidates]
	}
	return result
}

// nextCandidates emits the upcoming tracks for the active play mode.
func (g *Generator) nextCandidates(playlist []types.Song, index int, mode types.PlayMode, p Params) []types.Candidate {
	if len(playlist) < 2 || p.NextCount <= 0 || index < 0 || index >= len(playlist) {
		return nil
	}

	var picked []types.Song
	switch mode {
	case types.PlayModeSequence:
		for k := 1; k <= p.NextCount && index+k < len(playlist); k++ {
			picked = append(picked, playlist[index+k])
		}
	case types.PlayModeListLoop:
		for k := 1; k <= p.NextCount && k < len(playlist); k++ {
			picked = append(picked, playlist[(index+k)%len(playlist)])
		}
	case types.PlayModeRandom:
		picked = g.sample(playlist, index, p.NextCount)
	default:
		// Unknown modes degrade to sequence behavior.
		for k := 1; k <= p.NextCount && index+k < len(playlist); k++ {
			picked = append(picked, playlist[index+k])
		}
	}

	out := make([]types.Candidate, 0, len(picked))
	for i, song := range picked {
		out = append(out, types.Candidate{
			Song:     song,
			Priority: p.Weights.Next * (1 - float64(i)*decayNext),
			Reason:   fmt.Sprintf("next_%d", i+1),
		})
	}
	return out
}

// prevCandidates emits the immediately preceding tracks, supporting rewind.
// There is no wrap-around through the end of the playlist.
func prevCandidates(playlist []types.Song, index int, p Params) []types.Candidate {
	if len(playlist) < 2 || p.PrevCount <= 0 || index <= 0 || index >= len(playlist) {
		return nil
	}

	var out []types.Candidate
	for k := 1; k <= p.PrevCount && index-k >= 0; k++ {
		i := k - 1
		out = append(out, types.Candidate{
			Song:     playlist[index-k],
			Priority: p.Weights.Previous * (1 - float64(i)*decayPrevious),
			Reason:   fmt.Sprintf("prev_%d", k),
		})
	}
	return out
}

// relatedCandidates scores playlist tracks against the listener's genre and
// artist preferences and emits the strongest matches.
func relatedCandidates(current types.Song, playlist []types.Song, behavior types.UserBehavior, p Params) []types.Candidate {
	if p.RelatedCount <= 0 {
		return nil
	}

	type scored struct {
		song  types.Song
		score float64
	}

	var matches []scored
	for _, song := range playlist {
		if song.ID == current.ID {
			continue
		}
		score := behavior.GenrePreferences[song.Genre] + behavior.ArtistPreferences[song.Artist]
		if score > 0 {
			matches = append(matches, scored{song: song, score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})
	if len(matches) > p.RelatedCount {
		matches = matches[:p.RelatedCount]
	}

	out := make([]types.Candidate, 0, len(matches))
	for i, m := range matches {
		out = append(out, types.Candidate{
			Song:     m.song,
			Priority: p.Weights.Related * (1 - float64(i)*decayRelated),
			Reason:   fmt.Sprintf("related_%d", i+1),
		})
	}
	return out
}

// popularCandidates emits the most-played playlist tracks from the
// historical signal.
func popularCandidates(playlist []types.Song, behavior types.UserBehavior, p Params) []types.Candidate {
	if len(behavior.PlayCounts) == 0 {
		return nil
	}

	type counted struct {
		song  types.Song
		plays int
	}

	var played []counted
	for _, song := range playlist {
		if n := behavior.PlayCounts[song.ID]; n > 0 {
			played = append(played, counted{song: song, plays: n})
		}
	}

	sort.SliceStable(played, func(i, j int) bool {
		return played[i].plays > played[j].plays
	})
	if len(played) > popularSongsCount {
		played = played[:popularSongsCount]
	}

	out := make([]types.Candidate, 0, len(played))
	for i, c := range played {
		out = append(out, types.Candidate{
			Song:     c.song,
			Priority: p.Weights.Popular * (1 - float64(i)*decayPopular),
			Reason:   fmt.Sprintf("popular_%d", i+1),
		})
	}
	return out
}

// recentCandidates emits recently played tracks, most recent first.
func recentCandidates(playlist []types.Song, behavior types.UserBehavior, p Params) []types.Candidate {
	if len(behavior.RecentlyPlayed) == 0 {
		return nil
	}

	byID := make(map[string]types.Song, len(playlist))
	for _, song := range playlist {
		byID[song.ID] = song
	}

	var out []types.Candidate
	for _, id := range behavior.RecentlyPlayed {
		if len(out) >= recentSongsCount {
			break
		}
		song, ok := byID[id]
		if !ok {
			continue
		}
		i := len(out)
		out = append(out, types.Candidate{
			Song:     song,
			Priority: p.Weights.Recent * (1 - float64(i)*decayRecent),
			Reason:   fmt.Sprintf("recent_%d", i+1),
		})
	}
	return out
}

// sample draws up to n distinct tracks uniformly, excluding the current
// index. The no-repeat guarantee holds within one call only.
func (g *Generator) sample(playlist []types.Song, exclude, n int) []types.Song {
	g.mu.Lock()
	perm := g.rng.Perm(len(playlist))
	g.mu.Unlock()

	var picked []types.Song
	for _, i := range perm {
		if i == exclude {
			continue
		}
		picked = append(picked, playlist[i])
		if len(picked) >= n {
			break
		}
	}
	return picked
}

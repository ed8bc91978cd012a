package behavior

import (
	"fmt"
	"testing"
	"time"

	"github.com/tunecache/tunecache/pkg/types"
)

func at(minute int) time.Time {
	return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC).Add(time.Duration(minute) * time.Minute)
}

func play(id string, minute int) PlayEvent {
	return PlayEvent{
		SongID:    id,
		Timestamp: at(minute),
		Played:    3 * time.Minute,
		Duration:  3 * time.Minute,
	}
}

func TestCurrentBehaviorEmpty(t *testing.T) {
	a := NewAnalyzer(0)
	b := a.CurrentBehavior()

	if b.SkipRate != 0 || b.RepeatRate != 0 {
		t.Errorf("expected zero rates, got skip=%f repeat=%f", b.SkipRate, b.RepeatRate)
	}
	if len(b.RecentlyPlayed) != 0 {
		t.Errorf("expected no recent songs, got %v", b.RecentlyPlayed)
	}
	if b.GenrePreferences == nil || b.PlayCounts == nil {
		t.Error("maps must be initialized even for an empty window")
	}
}

func TestSkipAndRepeatRates(t *testing.T) {
	a := NewAnalyzer(0)

	e1 := play("s1", 0)
	e2 := play("s2", 3)
	e2.Skipped = true
	e2.Played = 10 * time.Second
	e3 := play("s1", 6) // repeat
	e4 := play("s3", 9)

	for _, e := range []PlayEvent{e1, e2, e3, e4} {
		a.RecordPlay(e)
	}

	b := a.CurrentBehavior()
	if b.SkipRate != 0.25 {
		t.Errorf("expected skip rate 0.25, got %f", b.SkipRate)
	}
	if b.RepeatRate != 0.25 {
		t.Errorf("expected repeat rate 0.25, got %f", b.RepeatRate)
	}
	if b.PlayCounts["s1"] != 2 {
		t.Errorf("expected 2 plays of s1, got %d", b.PlayCounts["s1"])
	}
}

func TestCompletionWeightedPreferences(t *testing.T) {
	a := NewAnalyzer(0)

	full := play("s1", 0)
	full.Genre = "rock"
	full.Artist = "A"
	a.RecordPlay(full)

	bail := play("s2", 3)
	bail.Genre = "pop"
	bail.Artist = "B"
	bail.Played = 18 * time.Second // 10% of 3min
	a.RecordPlay(bail)

	b := a.CurrentBehavior()
	if b.GenrePreferences["rock"] != 1.0 {
		t.Errorf("expected rock normalized to 1.0, got %f", b.GenrePreferences["rock"])
	}
	if got := b.GenrePreferences["pop"]; got < 0.09 || got > 0.11 {
		t.Errorf("expected pop near 0.1, got %f", got)
	}
	if b.ArtistPreferences["A"] != 1.0 {
		t.Errorf("expected artist A at 1.0, got %f", b.ArtistPreferences["A"])
	}
}

func TestRecentlyPlayedDistinctMostRecentFirst(t *testing.T) {
	a := NewAnalyzer(0)
	for i, id := range []string{"s1", "s2", "s1", "s3"} {
		a.RecordPlay(play(id, i*3))
	}

	b := a.CurrentBehavior()
	want := []string{"s3", "s1", "s2"}
	if len(b.RecentlyPlayed) != len(want) {
		t.Fatalf("expected %v, got %v", want, b.RecentlyPlayed)
	}
	for i := range want {
		if b.RecentlyPlayed[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, b.RecentlyPlayed)
		}
	}
}

func TestWindowTrimmingDecrementsCounts(t *testing.T) {
	a := NewAnalyzer(3)

	a.RecordPlay(play("old", 0))
	for i := 0; i < 3; i++ {
		a.RecordPlay(play(fmt.Sprintf("s%d", i), i+1))
	}

	b := a.CurrentBehavior()
	if _, ok := b.PlayCounts["old"]; ok {
		t.Error("expected trimmed event to leave the play counts")
	}
	if len(b.PlayCounts) != 3 {
		t.Errorf("expected 3 counted songs, got %d", len(b.PlayCounts))
	}
}

func TestSessionLengthRespectsGap(t *testing.T) {
	a := NewAnalyzer(0)

	// An earlier session, then a gap well past the threshold.
	a.RecordPlay(play("s1", 0))
	a.RecordPlay(play("s2", 5))
	a.RecordPlay(play("s3", 120))
	a.RecordPlay(play("s4", 130))

	b := a.CurrentBehavior()
	if b.SessionLength != 10*time.Minute {
		t.Errorf("expected current session of 10m, got %v", b.SessionLength)
	}
}

func TestTimeOfDayPatterns(t *testing.T) {
	a := NewAnalyzer(0)
	a.RecordPlay(play("s1", 0))  // 09:00
	a.RecordPlay(play("s2", 10)) // 09:10
	a.RecordPlay(play("s3", 70)) // 10:10

	b := a.CurrentBehavior()
	if got := b.TimeOfDayPatterns[9]; got < 0.66 || got > 0.67 {
		t.Errorf("expected ~2/3 of plays at hour 9, got %f", got)
	}
	if got := b.TimeOfDayPatterns[10]; got < 0.33 || got > 0.34 {
		t.Errorf("expected ~1/3 of plays at hour 10, got %f", got)
	}
}

func TestRecordPlayIgnoresEmptyID(t *testing.T) {
	a := NewAnalyzer(0)
	a.RecordPlay(PlayEvent{})

	if got := a.CurrentBehavior(); len(got.PlayCounts) != 0 {
		t.Errorf("expected empty window, got %v", got.PlayCounts)
	}
}

func TestAnalyzerImplementsInterface(t *testing.T) {
	var _ types.BehaviorAnalyzer = NewAnalyzer(0)
}

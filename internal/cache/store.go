package cache

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tunecache/tunecache/pkg/errors"
	"github.com/tunecache/tunecache/pkg/types"
)

// Store is a thread-safe, size-bounded byte cache keyed by song id.
//
// Eviction under size pressure is oldest-insertion-first: entries are
// ordered by the time they were added, not the time they were last read.
// A frequently replayed but originally old entry is therefore evicted
// before a rarely used, recently added one. Callers that need true LRU
// should re-add entries on access.
type Store struct {
	mu sync.RWMutex

	maxSize          int64
	cleanupThreshold int64
	maxAge           time.Duration

	entries     map[string]*entry
	currentSize int64

	stats types.CacheStats

	logger *slog.Logger
	now    func() time.Time

	stopCh    chan struct{}
	closeOnce sync.Once
}

// entry holds one cached payload and its bookkeeping.
type entry struct {
	data       []byte
	size       int64
	insertedAt time.Time
}

// Options configures a Store.
type Options struct {
	// MaxSize is the hard capacity in bytes.
	MaxSize int64
	// CleanupThreshold is the size cleanup evicts down to. Must be
	// strictly below MaxSize to leave headroom for new writes.
	CleanupThreshold int64
	// MaxAge is the TTL applied by the background sweep.
	MaxAge time.Duration
	// SweepInterval is how often the TTL sweep runs.
	SweepInterval time.Duration
	// Logger for eviction events. nil uses slog.Default.
	Logger *slog.Logger
	// Clock overrides time.Now, used by tests.
	Clock func() time.Time
}

// NewStore creates a bounded cache store and starts its TTL sweeper.
func NewStore(opts Options) *Store {
	if opts.MaxSize <= 0 {
		opts.MaxSize = 100 * 1024 * 1024
	}
	if opts.CleanupThreshold <= 0 || opts.CleanupThreshold >= opts.MaxSize {
		opts.CleanupThreshold = opts.MaxSize * 8 / 10
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 30 * time.Minute
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 5 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	s := &Store{
		maxSize:          opts.MaxSize,
		cleanupThreshold: opts.CleanupThreshold,
		maxAge:           opts.MaxAge,
		entries:          make(map[string]*entry),
		logger:           opts.Logger.With("component", "cache"),
		now:              opts.Clock,
		stopCh:           make(chan struct{}),
		stats: types.CacheStats{
			Capacity: opts.MaxSize,
		},
	}

	go s.sweepLoop(opts.SweepInterval)

	return s
}

// Add stores a payload for a song id. When the write would push the cache
// over capacity, a synchronous size cleanup runs first and evicts oldest
// entries until the incoming payload fits without exceeding capacity and
// the total is at or below the cleanup threshold.
func (s *Store) Add(songID string, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	size := int64(len(data))

	s.mu.Lock()
	defer s.mu.Unlock()

	if size > s.maxSize {
		return errors.NewError(errors.ErrCodeEntryTooLarge,
			"payload exceeds cache capacity").WithComponent("cache").WithSong(songID)
	}

	// Replacing an existing entry releases its size first.
	if old, exists := s.entries[songID]; exists {
		s.currentSize -= old.size
		delete(s.entries, songID)
	}

	if s.currentSize+size > s.maxSize {
		// The target accounts for the incoming payload: when it is larger
		// than the headroom below the threshold, cleanup evicts further so
		// the insert cannot land above capacity.
		s.cleanupLocked(min(s.cleanupThreshold, s.maxSize-size))
	}

	payload := make([]byte, len(data))
	copy(payload, data)

	s.entries[songID] = &entry{
		data:       payload,
		size:       size,
		insertedAt: s.now(),
	}
	s.currentSize += size

	return nil
}

// Get returns the cached payload for a song id, or false when absent.
func (s *Store) Get(songID string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.entries[songID]
	if !exists {
		s.stats.Misses++
		return nil, false
	}

	s.stats.Hits++

	result := make([]byte, len(e.data))
	copy(result, e.data)
	return result, true
}

// Contains reports whether a song id is cached without counting a hit or miss.
func (s *Store) Contains(songID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.entries[songID]
	return exists
}

// Remove drops the given song ids and subtracts their sizes.
func (s *Store) Remove(songIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range songIDs {
		s.removeLocked(id)
	}
}

// Clear drops every entry and resets the size counter.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.Evictions += uint64(len(s.entries))
	s.entries = make(map[string]*entry)
	s.currentSize = 0
}

// Size returns the current total payload size in bytes.
func (s *Store) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentSize
}

// Len returns the number of cached entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Stats returns cache statistics.
func (s *Store) Stats() types.CacheStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := s.stats
	stats.Entries = len(s.entries)
	stats.Size = s.currentSize
	stats.Capacity = s.maxSize
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	if s.maxSize > 0 {
		stats.Utilization = float64(s.currentSize) / float64(s.maxSize)
	}
	return stats
}

// UpdateLimits applies new capacity settings at runtime. Shrinking below
// the current size triggers an immediate cleanup.
func (s *Store) UpdateLimits(maxSize, cleanupThreshold int64, maxAge time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if maxSize > 0 {
		s.maxSize = maxSize
		s.stats.Capacity = maxSize
	}
	if cleanupThreshold > 0 && cleanupThreshold < s.maxSize {
		s.cleanupThreshold = cleanupThreshold
	}
	if maxAge > 0 {
		s.maxAge = maxAge
	}

	if s.currentSize > s.maxSize {
		s.cleanupLocked(s.cleanupThreshold)
	}
}

// SweepExpired removes entries older than the configured TTL and returns
// how many were evicted. The background sweeper calls this on its interval;
// it is exported so callers can force a sweep.
func (s *Store) SweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.maxAge)
	var expired []string
	for id, e := range s.entries {
		if e.insertedAt.Before(cutoff) {
			expired = append(expired, id)
		}
	}

	for _, id := range expired {
		s.removeLocked(id)
	}

	if len(expired) > 0 {
		s.logger.Debug("ttl sweep evicted entries",
			"count", len(expired), "size", s.currentSize)
	}

	return len(expired)
}

// Close stops the background sweeper.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.stopCh)
	})
}

func (s *Store) removeLocked(songID string) {
	e, exists := s.entries[songID]
	if !exists {
		return
	}
	delete(s.entries, songID)
	s.currentSize -= e.size
	s.stats.Evictions++
}

// cleanupLocked evicts oldest-by-insertion entries until the total size is
// at or below target. Caller must hold the write lock.
func (s *Store) cleanupLocked(target int64) {
	type aged struct {
		id         string
		size       int64
		insertedAt time.Time
	}

	ordered := make([]aged, 0, len(s.entries))
	for id, e := range s.entries {
		ordered = append(ordered, aged{id: id, size: e.size, insertedAt: e.insertedAt})
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].insertedAt.Before(ordered[j].insertedAt)
	})

	evicted := 0
	for _, a := range ordered {
		if s.currentSize <= target {
			break
		}
		s.removeLocked(a.id)
		evicted++
	}

	if evicted > 0 {
		s.logger.Debug("size cleanup evicted entries",
			"count", evicted, "size", s.currentSize, "target", target)
	}
}

func (s *Store) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.SweepExpired()
		case <-s.stopCh:
			return
		}
	}
}

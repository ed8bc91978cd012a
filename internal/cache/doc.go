/*
Package cache provides the bounded in-memory byte cache holding preloaded audio.

The store keeps complete audio payloads keyed by song id, bounded both by
total size and by entry age. It is the hand-off point between the preload
pipeline and playback: the scheduler writes fetched bytes in, the player
reads them out at song-change time.

# Eviction

Two independent mechanisms destroy entries:

	┌──────────────────────────────────────────────┐
	│                 Add(song, data)              │
	│  would exceed maxSize?                       │
	│      └── size cleanup: evict oldest entries  │
	│          until total <= cleanupThreshold     │
	│          and the new payload fits            │
	└──────────────────────────────────────────────┘
	┌──────────────────────────────────────────────┐
	│            background sweep (ticker)         │
	│  entry older than maxAge?                    │
	│      └── TTL sweep: drop expired entries     │
	└──────────────────────────────────────────────┘

Size cleanup orders strictly by insertion time. Reading an entry does not
refresh it, so a frequently replayed song is evicted on the same schedule
as an untouched one; entries are short-lived enough that recency tracking
has not earned its overhead. The cleanup threshold sits below the maximum
so each cleanup frees a batch of space instead of running on every Add.

# Concurrency

All operations are safe for concurrent use. Get and Add copy payload bytes
so callers can never observe or cause mutation of cached data.
*/
package cache

package preload

import (
	"context"
	stderr "errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tunecache/tunecache/internal/cache"
	"github.com/tunecache/tunecache/internal/candidate"
	"github.com/tunecache/tunecache/internal/circuit"
	"github.com/tunecache/tunecache/internal/config"
	"github.com/tunecache/tunecache/internal/metrics"
	"github.com/tunecache/tunecache/pkg/types"
)

// EventType identifies a preloader lifecycle notification.
type EventType string

const (
	EventStarted         EventType = "started"
	EventLoaded          EventType = "loaded"
	EventFailed          EventType = "failed"
	EventCancelled       EventType = "cancelled"
	EventStrategySkipped EventType = "strategy_skipped"
)

// Event is delivered to registered callbacks when a preload item changes
// state. Notifications are explicit per instance; there is no ambient
// broadcast channel.
type Event struct {
	Type   EventType
	Song   types.Song
	Reason string
	Err    error
}

// Item tracks one song under preload consideration.
type Item struct {
	Song      types.Song
	Status    types.PreloadStatus
	Priority  float64
	Reason    string
	Timestamp time.Time
	Err       error

	cancel context.CancelFunc
}

// Skip causes reported when the network gate stops a strategy run.
const (
	skipDisconnected = "disconnected"
	skipWifiOnly     = "wifi_only"
	skipCellular     = "cellular_disallowed"
	skipCircuitOpen  = "circuit_open"
)

// maxTerminalItems bounds the per-song finished-item history. Far larger
// than any playlist the scheduler walks in one session.
const maxTerminalItems = 256

// Options wires a Preloader's collaborators.
type Options struct {
	// Config is the live configuration. nil uses the defaults.
	Config *config.Manager
	// Fetcher retrieves audio payloads. Required.
	Fetcher types.Fetcher
	// Network gates prefetching. nil assumes an unmetered connection.
	Network types.NetworkMonitor
	// Behavior supplies the listening signal. nil yields an empty signal.
	Behavior types.BehaviorAnalyzer
	// Breaker, when set, lets an open fetch circuit veto strategy runs.
	Breaker *circuit.Breaker
	// Metrics, when set, receives counters and gauges.
	Metrics *metrics.Collector
	// Logger for scheduling decisions. nil uses slog.Default.
	Logger *slog.Logger
	// RandSeed fixes random-mode candidate sampling, for tests.
	RandSeed int64
	// Clock overrides time.Now in the cache store, for tests.
	Clock func() time.Time
}

// Preloader owns the predictive preload pipeline: candidate generation,
// bounded-concurrency cancellable fetches, and the bounded byte cache.
//
// Construct one per player and pass it explicitly to whatever controls
// playback; there is no package-level singleton.
type Preloader struct {
	cfg       *config.Manager
	store     *cache.Store
	generator *candidate.Generator
	fetcher   types.Fetcher
	network   types.NetworkMonitor
	behavior  types.BehaviorAnalyzer
	breaker   *circuit.Breaker
	metrics   *metrics.Collector
	logger    *slog.Logger

	mu       sync.Mutex
	active   map[string]*Item // items currently Loading
	terminal map[string]*Item // bounded history of finished items

	cbMu      sync.RWMutex
	callbacks []func(Event)

	rootCtx    context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// New creates a Preloader.
func New(opts Options) (*Preloader, error) {
	if opts.Config == nil {
		mgr, err := config.NewManager(nil)
		if err != nil {
			return nil, err
		}
		opts.Config = mgr
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Network == nil {
		opts.Network = staticNetwork{}
	}

	cfg := opts.Config.Snapshot()

	store := cache.NewStore(cache.Options{
		MaxSize:          int64(cfg.MaxCacheSize),
		CleanupThreshold: int64(cfg.CleanupThreshold),
		MaxAge:           cfg.MaxCacheAge,
		SweepInterval:    cfg.SweepInterval,
		Logger:           opts.Logger,
		Clock:            opts.Clock,
	})

	rootCtx, rootCancel := context.WithCancel(context.Background())

	return &Preloader{
		cfg:        opts.Config,
		store:      store,
		generator:  candidate.New(opts.RandSeed),
		fetcher:    opts.Fetcher,
		network:    opts.Network,
		behavior:   opts.Behavior,
		breaker:    opts.Breaker,
		metrics:    opts.Metrics,
		logger:     opts.Logger.With("component", "preload"),
		active:     make(map[string]*Item),
		terminal:   make(map[string]*Item),
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
	}, nil
}

// staticNetwork is the permissive default when no monitor is wired.
type staticNetwork struct{}

func (staticNetwork) Info() types.NetworkInfo {
	return types.NetworkInfo{Connected: true, Type: types.ConnectionUnknown}
}

// StartPreloadStrategy runs one scheduling pass for the given playback
// position. It is fire-and-forget: it never blocks on network work and
// never propagates a failure to the caller.
func (p *Preloader) StartPreloadStrategy(current types.Song, playlist []types.Song, index int, mode types.PlayMode) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("preload strategy panicked", "panic", r)
		}
	}()

	cfg := p.cfg.Snapshot()

	info := p.network.Info()
	if cause, ok := p.gate(cfg, info); !ok {
		p.logger.Info("preload strategy skipped", "cause", cause)
		if p.metrics != nil {
			p.metrics.RecordStrategySkipped(cause)
		}
		p.emit(Event{Type: EventStrategySkipped, Song: current, Reason: cause})
		return
	}

	behavior := p.behaviorSignal()

	candidates := p.generator.Generate(current, playlist, index, mode, behavior, candidate.Params{
		NextCount:    cfg.NextSongsCount,
		PrevCount:    cfg.PrevSongsCount,
		RelatedCount: cfg.RelatedSongsCount,
		Weights:      cfg.PriorityWeights,
	})
	if len(candidates) == 0 {
		return
	}

	var events []Event

	p.mu.Lock()

	// Preemption first: when the active set exceeds the concurrency cap
	// (the cap was lowered, or overlapping invocations raced), cancel the
	// lowest-priority in-flight items that rank strictly below the
	// minimum priority of the top candidates, until the cap holds again.
	top := candidates
	if len(top) > cfg.MaxConcurrentPreloads {
		top = top[:cfg.MaxConcurrentPreloads]
	}
	minPriority := top[len(top)-1].Priority

	for _, item := range p.activeByPriorityLocked() {
		if len(p.active) <= cfg.MaxConcurrentPreloads {
			break
		}
		if item.Priority >= minPriority {
			break
		}
		p.cancelLocked(item, "preempted")
		events = append(events, Event{Type: EventCancelled, Song: item.Song, Reason: "preempted"})
	}

	// Launch into free slots, best candidates first.
	for _, c := range candidates {
		if len(p.active) >= cfg.MaxConcurrentPreloads {
			break
		}
		if p.store.Contains(c.Song.ID) {
			continue
		}
		if _, inFlight := p.active[c.Song.ID]; inFlight {
			continue
		}
		if !p.allowedOnNetwork(c.Song, cfg, info) {
			continue
		}
		p.launchLocked(c.Song, c.Priority, c.Reason)
		events = append(events, Event{Type: EventStarted, Song: c.Song, Reason: c.Reason})
	}

	p.mu.Unlock()

	for _, e := range events {
		p.emit(e)
	}
}

// PreloadSong schedules a single song fetch. It is idempotent: songs
// already cached or already in flight are a logged no-op. It never
// propagates a failure to the caller.
func (p *Preloader) PreloadSong(song types.Song, priority float64, reason string) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("preload panicked", "song_id", song.ID, "panic", r)
		}
	}()

	cfg := p.cfg.Snapshot()

	p.mu.Lock()

	if p.store.Contains(song.ID) {
		p.mu.Unlock()
		p.logger.Debug("already cached", "song_id", song.ID)
		return
	}
	if _, inFlight := p.active[song.ID]; inFlight {
		p.mu.Unlock()
		p.logger.Debug("already preloading", "song_id", song.ID)
		return
	}
	if len(p.active) >= cfg.MaxConcurrentPreloads {
		p.mu.Unlock()
		p.logger.Debug("concurrency limit reached, skipping",
			"song_id", song.ID, "limit", cfg.MaxConcurrentPreloads)
		return
	}

	p.launchLocked(song, priority, reason)
	p.mu.Unlock()

	p.emit(Event{Type: EventStarted, Song: song, Reason: reason})
}

// GetPreloadedAudio returns the cached payload for a song, or nil when the
// song has not been preloaded. Callers fall back to a direct fetch on nil.
func (p *Preloader) GetPreloadedAudio(songID string) []byte {
	data, ok := p.store.Get(songID)
	if p.metrics != nil {
		if ok {
			p.metrics.RecordCacheHit()
		} else {
			p.metrics.RecordCacheMiss()
		}
	}
	if !ok {
		return nil
	}
	return data
}

// GetPreloadStatus reports the lifecycle state for a song id.
func (p *Preloader) GetPreloadStatus(songID string) types.PreloadStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, inFlight := p.active[songID]; inFlight {
		return types.StatusLoading
	}
	if p.store.Contains(songID) {
		return types.StatusLoaded
	}
	if item, ok := p.terminal[songID]; ok {
		// A Loaded record whose bytes were since evicted is stale: the
		// song must be fetched again, so it reads as never preloaded.
		if item.Status == types.StatusLoaded {
			delete(p.terminal, songID)
			return types.StatusIdle
		}
		return item.Status
	}
	return types.StatusIdle
}

// GetPreloadError returns the recorded error for a song whose preload
// terminated as Error, or nil.
func (p *Preloader) GetPreloadError(songID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if item, ok := p.terminal[songID]; ok && item.Status == types.StatusError {
		return item.Err
	}
	return nil
}

// CancelPreload aborts an in-flight preload. The status flips to Cancelled
// immediately; the underlying transport may take longer to stop.
func (p *Preloader) CancelPreload(songID string) {
	p.mu.Lock()
	item, inFlight := p.active[songID]
	if !inFlight {
		p.mu.Unlock()
		return
	}
	p.cancelLocked(item, "cancelled")
	p.mu.Unlock()

	p.emit(Event{Type: EventCancelled, Song: item.Song, Reason: "cancelled"})
}

// ClearCache removes the given songs from the cache, or everything when
// called with no arguments.
func (p *Preloader) ClearCache(songIDs ...string) {
	before := p.store.Len()
	if len(songIDs) == 0 {
		p.store.Clear()
	} else {
		p.store.Remove(songIDs...)
	}
	p.recordCacheState(before - p.store.Len())
}

// UpdateConfig applies a partial configuration mutation. The cache limits
// take effect immediately; strategy runs already in progress keep their
// snapshot.
func (p *Preloader) UpdateConfig(mutate func(*config.Config)) error {
	if err := p.cfg.Update(mutate); err != nil {
		return err
	}

	cfg := p.cfg.Snapshot()
	p.store.UpdateLimits(int64(cfg.MaxCacheSize), int64(cfg.CleanupThreshold), cfg.MaxCacheAge)
	return nil
}

// Config returns a snapshot of the current configuration.
func (p *Preloader) Config() config.Config {
	return p.cfg.Snapshot()
}

// CacheStats returns cache statistics.
func (p *Preloader) CacheStats() types.CacheStats {
	return p.store.Stats()
}

// SweepCache forces a TTL sweep, returning the number of evicted entries.
func (p *Preloader) SweepCache() int {
	n := p.store.SweepExpired()
	p.recordCacheState(n)
	return n
}

// OnEvent registers a callback for preload lifecycle events. Callbacks run
// synchronously on the goroutine finishing the transition and must not
// block.
func (p *Preloader) OnEvent(fn func(Event)) {
	p.cbMu.Lock()
	defer p.cbMu.Unlock()
	p.callbacks = append(p.callbacks, fn)
}

// Close cancels all in-flight fetches, waits for them to finish, and stops
// the cache sweeper.
func (p *Preloader) Close() {
	p.closeOnce.Do(func() {
		p.rootCancel()
		p.wg.Wait()
		p.store.Close()
	})
}

// gate decides whether prefetching is currently permitted.
func (p *Preloader) gate(cfg config.Config, info types.NetworkInfo) (cause string, ok bool) {
	if !info.Connected {
		return skipDisconnected, false
	}
	if cfg.WifiOnlyPreload && info.Type != types.ConnectionWifi {
		return skipWifiOnly, false
	}
	if (info.Metered || info.Type == types.ConnectionCellular) && !cfg.EnableOnCellular {
		return skipCellular, false
	}
	if p.breaker != nil && !p.breaker.Allow() {
		return skipCircuitOpen, false
	}
	return "", true
}

// allowedOnNetwork applies the per-song cellular quality cap.
func (p *Preloader) allowedOnNetwork(song types.Song, cfg config.Config, info types.NetworkInfo) bool {
	onCellular := info.Metered || info.Type == types.ConnectionCellular
	if !onCellular || cfg.CellularQualityLimit <= 0 {
		return true
	}
	return song.Size <= 0 || song.Size <= int64(cfg.CellularQualityLimit)
}

func (p *Preloader) behaviorSignal() types.UserBehavior {
	if p.behavior == nil {
		return types.UserBehavior{}
	}
	return p.behavior.CurrentBehavior()
}

// activeByPriorityLocked returns the in-flight items ordered lowest
// priority first. Caller must hold p.mu.
func (p *Preloader) activeByPriorityLocked() []*Item {
	items := make([]*Item, 0, len(p.active))
	for _, item := range p.active {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].Priority < items[j].Priority
	})
	return items
}

// launchLocked creates a fresh Loading item and starts its fetch. A song
// whose previous item reached a terminal state gets a new item; terminal
// states are never mutated. Caller must hold p.mu.
func (p *Preloader) launchLocked(song types.Song, priority float64, reason string) {
	itemCtx, cancel := context.WithCancel(p.rootCtx)

	item := &Item{
		Song:      song,
		Status:    types.StatusLoading,
		Priority:  priority,
		Reason:    reason,
		Timestamp: time.Now(),
		cancel:    cancel,
	}
	p.active[song.ID] = item

	if p.metrics != nil {
		p.metrics.RecordPreloadStarted(reasonSource(reason))
	}
	p.logger.Debug("preload started",
		"song_id", song.ID, "priority", priority, "reason", reason)

	p.wg.Add(1)
	go p.run(itemCtx, item)
}

// finalizeLocked records a finished item in the bounded history, evicting
// the stalest recorded item when full. Caller must hold p.mu.
func (p *Preloader) finalizeLocked(item *Item) {
	p.terminal[item.Song.ID] = item

	for len(p.terminal) > maxTerminalItems {
		var oldestID string
		var oldest time.Time
		for id, t := range p.terminal {
			if oldestID == "" || t.Timestamp.Before(oldest) {
				oldestID = id
				oldest = t.Timestamp
			}
		}
		delete(p.terminal, oldestID)
	}
}

// cancelLocked triggers the item's abort signal and finalizes it as
// Cancelled. Caller must hold p.mu.
func (p *Preloader) cancelLocked(item *Item, reason string) {
	item.cancel()
	item.Status = types.StatusCancelled
	delete(p.active, item.Song.ID)
	p.finalizeLocked(item)

	if p.metrics != nil {
		p.metrics.RecordPreloadCancelled()
	}
	p.logger.Debug("preload cancelled", "song_id", item.Song.ID, "reason", reason)
}

// run performs one fetch and finalizes the item. Every failure is recorded
// on the item; nothing escalates past this goroutine.
func (p *Preloader) run(ctx context.Context, item *Item) {
	defer p.wg.Done()
	defer item.cancel()

	start := time.Now()
	data, err := p.fetcher.Fetch(ctx, item.Song)

	p.mu.Lock()

	// A concurrent CancelPreload or preemption already finalized the item.
	if p.active[item.Song.ID] != item {
		p.mu.Unlock()
		return
	}
	delete(p.active, item.Song.ID)

	if err == nil {
		err = p.store.Add(item.Song.ID, data)
	}

	var event Event
	switch {
	case err == nil:
		item.Status = types.StatusLoaded
		p.finalizeLocked(item)
		if p.metrics != nil {
			p.metrics.RecordPreloadCompleted(len(data), time.Since(start))
			p.metrics.UpdateCacheStats(p.store.Stats())
		}
		p.logger.Debug("preload completed",
			"song_id", item.Song.ID, "bytes", len(data), "duration", time.Since(start))
		event = Event{Type: EventLoaded, Song: item.Song, Reason: item.Reason}

	case stderr.Is(err, context.Canceled):
		item.Status = types.StatusCancelled
		p.finalizeLocked(item)
		if p.metrics != nil {
			p.metrics.RecordPreloadCancelled()
		}
		event = Event{Type: EventCancelled, Song: item.Song, Reason: item.Reason}

	default:
		item.Status = types.StatusError
		item.Err = err
		p.finalizeLocked(item)
		if p.metrics != nil {
			p.metrics.RecordPreloadFailed()
		}
		p.logger.Warn("preload failed", "song_id", item.Song.ID, "error", err)
		event = Event{Type: EventFailed, Song: item.Song, Reason: item.Reason, Err: err}
	}

	p.mu.Unlock()
	p.emit(event)
}

func (p *Preloader) emit(event Event) {
	p.cbMu.RLock()
	callbacks := p.callbacks
	p.cbMu.RUnlock()

	for _, fn := range callbacks {
		fn(event)
	}
}

func (p *Preloader) recordCacheState(evicted int) {
	if p.metrics == nil {
		return
	}
	if evicted > 0 {
		p.metrics.RecordEviction(evicted)
	}
	p.metrics.UpdateCacheStats(p.store.Stats())
}

// reasonSource strips the rank suffix from a candidate reason tag, so
// "next_2" and "next_3" count under one metric label.
func reasonSource(reason string) string {
	i := strings.LastIndex(reason, "_")
	if i <= 0 || i == len(reason)-1 {
		return reason
	}
	for _, r := range reason[i+1:] {
		if r < '0' || r > '9' {
			return reason
		}
	}
	return reason[:i]
}

// Package network tracks connectivity conditions used to gate prefetching.
//
// Connection type and metering are facts only a platform layer can know, so
// the monitor accepts pushed updates via SetInfo. The optional reachability
// probe covers the part we can observe directly: whether the origin answers
// and roughly how fast bytes arrive.
package network

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/tunecache/tunecache/pkg/types"
)

// Options configures a Monitor.
type Options struct {
	// ProbeURL is fetched periodically to verify reachability and estimate
	// download speed. Empty disables probing; the monitor then reports
	// whatever SetInfo last pushed.
	ProbeURL string
	// ProbeInterval is how often the probe runs.
	ProbeInterval time.Duration
	// ProbeTimeout bounds a single probe request.
	ProbeTimeout time.Duration
	// Client overrides the default http.Client for probes.
	Client *http.Client
	// Logger for probe outcomes. nil uses slog.Default.
	Logger *slog.Logger
	// Initial seeds the cached snapshot. nil starts disconnected with an
	// unknown connection type.
	Initial *types.NetworkInfo
}

// Monitor caches the most recent network snapshot. It implements
// types.NetworkMonitor.
type Monitor struct {
	mu   sync.RWMutex
	info types.NetworkInfo

	probeURL      string
	probeInterval time.Duration
	probeTimeout  time.Duration
	client        *http.Client
	logger        *slog.Logger

	stopCh    chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

// NewMonitor creates a network monitor. Call Start to begin probing.
func NewMonitor(opts Options) *Monitor {
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = 30 * time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 5 * time.Second
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	info := types.NetworkInfo{Type: types.ConnectionUnknown}
	if opts.Initial != nil {
		info = *opts.Initial
	}

	return &Monitor{
		info:          info,
		probeURL:      opts.ProbeURL,
		probeInterval: opts.ProbeInterval,
		probeTimeout:  opts.ProbeTimeout,
		client:        opts.Client,
		logger:        opts.Logger.With("component", "network"),
		stopCh:        make(chan struct{}),
	}
}

// Info returns the most recent network snapshot.
func (m *Monitor) Info() types.NetworkInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.info
}

// SetInfo replaces the cached snapshot. Platform integrations push
// connection type and metering changes through here.
func (m *Monitor) SetInfo(info types.NetworkInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.info = info
}

// Start launches the periodic reachability probe. It is a no-op when no
// probe URL is configured.
func (m *Monitor) Start() {
	if m.probeURL == "" {
		return
	}
	m.startOnce.Do(func() {
		go m.probeLoop()
	})
}

// Stop halts the probe loop.
func (m *Monitor) Stop() {
	m.closeOnce.Do(func() {
		close(m.stopCh)
	})
}

func (m *Monitor) probeLoop() {
	ticker := time.NewTicker(m.probeInterval)
	defer ticker.Stop()

	m.probe()
	for {
		select {
		case <-ticker.C:
			m.probe()
		case <-m.stopCh:
			return
		}
	}
}

// probe performs one reachability check and folds the result into the
// cached snapshot, preserving pushed type/metering facts.
func (m *Monitor) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), m.probeTimeout)
	defer cancel()

	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.probeURL, nil)
	if err != nil {
		m.logger.Warn("invalid probe URL", "url", m.probeURL, "error", err)
		return
	}

	resp, err := m.client.Do(req)
	if err != nil {
		m.markDisconnected()
		m.logger.Debug("reachability probe failed", "error", err)
		return
	}
	defer resp.Body.Close()

	n, err := io.Copy(io.Discard, resp.Body)
	elapsed := time.Since(start)
	if err != nil || resp.StatusCode < 200 || resp.StatusCode > 299 {
		m.markDisconnected()
		m.logger.Debug("reachability probe failed",
			"status", resp.StatusCode, "error", err)
		return
	}

	var speed float64
	if elapsed > 0 && n > 0 {
		speed = float64(n) / elapsed.Seconds()
	}

	m.mu.Lock()
	m.info.Connected = true
	if speed > 0 {
		m.info.DownloadSpeed = speed
	}
	m.mu.Unlock()
}

func (m *Monitor) markDisconnected() {
	m.mu.Lock()
	m.info.Connected = false
	m.info.DownloadSpeed = 0
	m.mu.Unlock()
}

// Static is a fixed-snapshot NetworkMonitor, useful for tests and for
// platforms that manage connectivity entirely outside this module.
type Static struct {
	NetworkInfo types.NetworkInfo
}

// Info returns the fixed snapshot.
func (s Static) Info() types.NetworkInfo {
	return s.NetworkInfo
}

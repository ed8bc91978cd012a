package types

import (
	"context"
)

// NetworkMonitor supplies the current network conditions. Implementations
// may probe actively or be fed by a platform layer; callers only see the
// most recent snapshot.
type NetworkMonitor interface {
	Info() NetworkInfo
}

// BehaviorAnalyzer supplies the aggregate listening-behavior signal used
// to rank prefetch candidates.
type BehaviorAnalyzer interface {
	CurrentBehavior() UserBehavior
}

// Fetcher retrieves the raw audio payload for a song. A non-2xx response
// or transport failure is an error; cancellation propagates through ctx.
type Fetcher interface {
	Fetch(ctx context.Context, song Song) ([]byte, error)
}

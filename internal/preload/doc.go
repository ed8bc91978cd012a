/*
Package preload implements the predictive audio preload scheduler.

The Preloader fetches songs the listener is likely to play next, ahead of
time, so song changes start from memory instead of the network. It ties
together candidate generation, the bounded byte cache, and a cancellable
fetch pipeline under a fixed concurrency cap.

# Pipeline

One strategy invocation runs the full decision chain:

	StartPreloadStrategy(current, playlist, index, mode)
	       │
	       ├── network gate ── disconnected / metered / wifi-only /
	       │                   open fetch circuit → skip entirely
	       │
	       ├── candidate generation ── ranked, deduplicated list from
	       │                           playlist position + behavior signal
	       │
	       ├── preemption ── cancel lowest-priority in-flight items that
	       │                 rank below the new top candidates, while over
	       │                 the concurrency cap
	       │
	       └── launch ── fill free slots, best candidates first

Every launched item owns a context.CancelFunc, so a single preload can be
aborted without disturbing its siblings. Item states move strictly
Idle → Loading → one of Loaded, Error, Cancelled; terminal states are
never mutated, and preloading a song again after a terminal state creates
a fresh item.

Strategy runs and single-song preloads are fire-and-forget: failures are
recorded on the item and surfaced through events and logs, never returned
to the caller driving playback.

# Configuration

Each invocation works from an immutable snapshot of the live
configuration, so a concurrent UpdateConfig never changes the rules in
the middle of a scheduling pass.
*/
package preload

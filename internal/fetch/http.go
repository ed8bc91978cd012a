package fetch

import (
	"context"
	stderr "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/tunecache/tunecache/internal/circuit"
	"github.com/tunecache/tunecache/pkg/errors"
	"github.com/tunecache/tunecache/pkg/retry"
	"github.com/tunecache/tunecache/pkg/types"
)

// HTTPOptions configures an HTTPFetcher.
type HTTPOptions struct {
	// Client overrides the default http.Client.
	Client *http.Client
	// Timeout bounds a single fetch attempt. Zero disables the deadline
	// and leaves cancellation entirely to the caller's context.
	Timeout time.Duration
	// RequestsPerSecond throttles outgoing requests. Zero means no limit.
	RequestsPerSecond float64
	// Burst is the limiter burst size when throttled.
	Burst int
	// Retry configures per-song retry behavior.
	Retry retry.Config
	// Breaker guards the origin. nil disables circuit breaking.
	Breaker *circuit.Breaker
	// Logger for fetch outcomes. nil uses slog.Default.
	Logger *slog.Logger
}

// HTTPFetcher retrieves audio payloads over HTTP(S). Fetches are abortable
// through the caller's context, deduplicated per song id for concurrent
// callers, rate limited, retried with backoff, and guarded by an optional
// circuit breaker.
type HTTPFetcher struct {
	client  *http.Client
	timeout time.Duration
	limiter *rate.Limiter
	retryer *retry.Retryer
	breaker *circuit.Breaker
	group   singleflight.Group
	logger  *slog.Logger
}

// NewHTTPFetcher creates an HTTP fetcher.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return &HTTPFetcher{
		client:  opts.Client,
		timeout: opts.Timeout,
		limiter: limiter,
		retryer: retry.New(opts.Retry),
		breaker: opts.Breaker,
		logger:  opts.Logger.With("component", "fetch"),
	}
}

// Fetch retrieves the raw payload for a song. Concurrent calls for the
// same song id share a single request.
func (f *HTTPFetcher) Fetch(ctx context.Context, song types.Song) ([]byte, error) {
	if song.URL == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidURL, "song has no source URL").
			WithComponent("fetch").WithSong(song.ID)
	}

	v, err, _ := f.group.Do(song.ID, func() (interface{}, error) {
		return f.fetchWithRetry(ctx, song)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (f *HTTPFetcher) fetchWithRetry(ctx context.Context, song types.Song) ([]byte, error) {
	var payload []byte

	err := f.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		attempt := func(ctx context.Context) error {
			data, err := f.fetchOnce(ctx, song)
			if err != nil {
				return err
			}
			payload = data
			return nil
		}

		if f.breaker != nil {
			return f.breaker.Execute(ctx, attempt)
		}
		return attempt(ctx)
	})
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, song types.Song) ([]byte, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	parent := ctx
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, song.URL, nil)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeInvalidURL,
			fmt.Sprintf("invalid song URL %q", song.URL)).
			WithComponent("fetch").WithSong(song.ID).WithCause(err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		// A deadline hit on the per-attempt timeout is a retryable slow
		// attempt; an expired or cancelled caller context passes through
		// untouched so the retry loop stops.
		if parent.Err() != nil {
			return nil, parent.Err()
		}
		if stderr.Is(err, context.DeadlineExceeded) {
			return nil, errors.NewError(errors.ErrCodeFetchTimeout,
				"fetch timed out").WithComponent("fetch").WithSong(song.ID).WithCause(err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.NewError(errors.ErrCodeConnectionFailed,
			"request failed").WithComponent("fetch").WithSong(song.ID).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errors.NewError(errors.ErrCodeObjectNotFound,
			"song not found at origin").WithComponent("fetch").WithSong(song.ID).
			WithRetryable(false)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		ferr := errors.NewError(errors.ErrCodeFetchBadStatus,
			fmt.Sprintf("unexpected status %d", resp.StatusCode)).
			WithComponent("fetch").WithSong(song.ID)
		// Server-side errors are worth retrying, client errors are not.
		ferr.Retryable = resp.StatusCode >= 500
		return nil, ferr
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if parent.Err() != nil {
			return nil, parent.Err()
		}
		if stderr.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return nil, errors.NewError(errors.ErrCodeFetchTimeout,
				"fetch timed out reading response body").
				WithComponent("fetch").WithSong(song.ID).WithCause(err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.NewError(errors.ErrCodeFetchFailed,
			"failed reading response body").WithComponent("fetch").WithSong(song.ID).WithCause(err)
	}

	f.logger.Debug("fetched song",
		"song_id", song.ID, "bytes", len(data), "duration", time.Since(start))

	return data, nil
}

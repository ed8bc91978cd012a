package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	preloaderr "github.com/tunecache/tunecache/pkg/errors"
	"github.com/tunecache/tunecache/pkg/retry"
	"github.com/tunecache/tunecache/pkg/types"
)

func quickRetry(attempts int) retry.Config {
	return retry.Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func errCode(t *testing.T, err error) preloaderr.ErrorCode {
	t.Helper()
	var perr *preloaderr.PreloadError
	if !errors.As(err, &perr) {
		t.Fatalf("expected a PreloadError, got %T: %v", err, err)
	}
	return perr.Code
}

func TestHTTPFetcherSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("mp3 payload"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{Retry: quickRetry(1)})
	data, err := f.Fetch(context.Background(), types.Song{ID: "s1", URL: srv.URL})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(data) != "mp3 payload" {
		t.Errorf("unexpected payload %q", data)
	}
}

func TestHTTPFetcherEmptyURL(t *testing.T) {
	f := NewHTTPFetcher(HTTPOptions{Retry: quickRetry(1)})
	_, err := f.Fetch(context.Background(), types.Song{ID: "s1"})
	if code := errCode(t, err); code != preloaderr.ErrCodeInvalidURL {
		t.Errorf("expected ErrCodeInvalidURL, got %s", code)
	}
}

func TestHTTPFetcherNotFound(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{Retry: quickRetry(3)})
	_, err := f.Fetch(context.Background(), types.Song{ID: "s1", URL: srv.URL})

	if code := errCode(t, err); code != preloaderr.ErrCodeObjectNotFound {
		t.Errorf("expected ErrCodeObjectNotFound, got %s", code)
	}
	if n := atomic.LoadInt32(&requests); n != 1 {
		t.Errorf("404 must not be retried, got %d requests", n)
	}
}

func TestHTTPFetcherClientErrorNotRetried(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{Retry: quickRetry(3)})
	_, err := f.Fetch(context.Background(), types.Song{ID: "s1", URL: srv.URL})

	if code := errCode(t, err); code != preloaderr.ErrCodeFetchBadStatus {
		t.Errorf("expected ErrCodeFetchBadStatus, got %s", code)
	}
	if n := atomic.LoadInt32(&requests); n != 1 {
		t.Errorf("4xx must not be retried, got %d requests", n)
	}
}

func TestHTTPFetcherServerErrorRetriedUntilExhausted(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{Retry: quickRetry(3)})
	_, err := f.Fetch(context.Background(), types.Song{ID: "s1", URL: srv.URL})

	if code := errCode(t, err); code != preloaderr.ErrCodeRetryExhausted {
		t.Errorf("expected ErrCodeRetryExhausted, got %s", code)
	}
	if n := atomic.LoadInt32(&requests); n != 3 {
		t.Errorf("expected 3 attempts against a 5xx origin, got %d", n)
	}
}

func TestHTTPFetcherRecoversAfterTransientError(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("second time lucky"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{Retry: quickRetry(3)})
	data, err := f.Fetch(context.Background(), types.Song{ID: "s1", URL: srv.URL})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(data) != "second time lucky" {
		t.Errorf("unexpected payload %q", data)
	}
	if n := atomic.LoadInt32(&requests); n != 2 {
		t.Errorf("expected 2 requests, got %d", n)
	}
}

func TestHTTPFetcherCancellation(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{Retry: quickRetry(3)})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := f.Fetch(ctx, types.Song{ID: "s1", URL: srv.URL})
		errCh <- err
	}()

	<-started
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation did not abort the fetch")
	}
}

func TestHTTPFetcherTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{Timeout: 50 * time.Millisecond, Retry: quickRetry(1)})
	_, err := f.Fetch(context.Background(), types.Song{ID: "s1", URL: srv.URL})

	if code := errCode(t, err); code != preloaderr.ErrCodeFetchTimeout {
		t.Errorf("expected ErrCodeFetchTimeout, got %s", code)
	}
}

func TestHTTPFetcherTimeoutRetried(t *testing.T) {
	// A slow attempt that exceeds the per-attempt timeout is transient;
	// the next attempt goes through.
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) == 1 {
			<-r.Context().Done()
			return
		}
		w.Write([]byte("fast this time"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{Timeout: 50 * time.Millisecond, Retry: quickRetry(3)})
	data, err := f.Fetch(context.Background(), types.Song{ID: "s1", URL: srv.URL})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(data) != "fast this time" {
		t.Errorf("unexpected payload %q", data)
	}
	if n := atomic.LoadInt32(&requests); n != 2 {
		t.Errorf("expected a retry after the slow attempt, got %d requests", n)
	}
}

func TestHTTPFetcherCallerDeadlineNotRetried(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		<-r.Context().Done()
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{Retry: quickRetry(3)})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.Fetch(ctx, types.Song{ID: "s1", URL: srv.URL})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected the caller's deadline to pass through, got %v", err)
	}
	if n := atomic.LoadInt32(&requests); n != 1 {
		t.Errorf("an expired caller context must stop the retry loop, got %d requests", n)
	}
}

func TestHTTPFetcherDeduplicatesConcurrentRequests(t *testing.T) {
	var requests int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		<-release
		w.Write([]byte("shared payload"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{Retry: quickRetry(1)})
	song := types.Song{ID: "s1", URL: srv.URL}

	var wg sync.WaitGroup
	results := make(chan string, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := f.Fetch(context.Background(), song)
			if err != nil {
				t.Errorf("Fetch failed: %v", err)
				return
			}
			results <- string(data)
		}()
	}

	// Give all callers time to join the in-flight request.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	for got := range results {
		if got != "shared payload" {
			t.Errorf("unexpected payload %q", got)
		}
	}
	if n := atomic.LoadInt32(&requests); n != 1 {
		t.Errorf("expected a single origin request for concurrent callers, got %d", n)
	}
}

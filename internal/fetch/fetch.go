// Package fetch retrieves raw audio payloads from a song's source URL.
// HTTP(S) origins go through a rate-limited, retrying, breaker-guarded
// client; s3:// origins go straight to object storage.
package fetch

import (
	"context"
	"fmt"
	"strings"

	"github.com/tunecache/tunecache/pkg/errors"
	"github.com/tunecache/tunecache/pkg/types"
)

// Dispatcher routes fetches to a backend by URL scheme. It implements
// types.Fetcher.
type Dispatcher struct {
	http types.Fetcher
	s3   types.Fetcher
}

// NewDispatcher combines an HTTP fetcher with an optional S3 fetcher.
func NewDispatcher(httpFetcher, s3Fetcher types.Fetcher) *Dispatcher {
	return &Dispatcher{http: httpFetcher, s3: s3Fetcher}
}

// Fetch retrieves the song payload via the backend matching its URL scheme.
func (d *Dispatcher) Fetch(ctx context.Context, song types.Song) ([]byte, error) {
	switch {
	case strings.HasPrefix(song.URL, "http://"), strings.HasPrefix(song.URL, "https://"):
		return d.http.Fetch(ctx, song)
	case strings.HasPrefix(song.URL, "s3://"):
		if d.s3 == nil {
			return nil, errors.NewError(errors.ErrCodeInvalidURL,
				"s3 source URLs require an S3 fetcher").WithComponent("fetch").WithSong(song.ID)
		}
		return d.s3.Fetch(ctx, song)
	default:
		return nil, errors.NewError(errors.ErrCodeInvalidURL,
			fmt.Sprintf("unsupported source URL %q", song.URL)).
			WithComponent("fetch").WithSong(song.ID)
	}
}

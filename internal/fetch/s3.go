package fetch

import (
	"context"
	stderr "errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/tunecache/tunecache/pkg/errors"
	"github.com/tunecache/tunecache/pkg/types"
)

// S3API is the subset of the S3 client used for audio retrieval.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Fetcher retrieves audio payloads for songs whose source URL uses the
// s3://bucket/key form, for libraries self-hosted in object storage.
type S3Fetcher struct {
	client S3API
	logger *slog.Logger
}

// NewS3Fetcher creates an S3 fetcher using the default AWS credential chain.
func NewS3Fetcher(ctx context.Context, logger *slog.Logger) (*S3Fetcher, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeConfigLoad,
			"failed to load AWS configuration").WithComponent("fetch").WithCause(err)
	}
	return NewS3FetcherWithClient(s3.NewFromConfig(cfg), logger), nil
}

// NewS3FetcherWithClient creates an S3 fetcher around an existing client.
func NewS3FetcherWithClient(client S3API, logger *slog.Logger) *S3Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &S3Fetcher{
		client: client,
		logger: logger.With("component", "fetch_s3"),
	}
}

// Fetch retrieves the object behind the song's s3:// URL.
func (f *S3Fetcher) Fetch(ctx context.Context, song types.Song) ([]byte, error) {
	bucket, key, err := ParseS3URL(song.URL)
	if err != nil {
		return nil, err
	}

	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if stderr.As(err, &noKey) {
			return nil, errors.NewError(errors.ErrCodeObjectNotFound,
				fmt.Sprintf("object %s/%s does not exist", bucket, key)).
				WithComponent("fetch_s3").WithSong(song.ID).WithRetryable(false)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.NewError(errors.ErrCodeFetchFailed,
			fmt.Sprintf("failed to get object %s/%s", bucket, key)).
			WithComponent("fetch_s3").WithSong(song.ID).WithCause(err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.NewError(errors.ErrCodeFetchFailed,
			"failed reading object body").WithComponent("fetch_s3").WithSong(song.ID).WithCause(err)
	}

	f.logger.Debug("fetched song from s3",
		"song_id", song.ID, "bucket", bucket, "key", key, "bytes", len(data))

	return data, nil
}

// ParseS3URL splits an s3://bucket/key URL into bucket and key.
func ParseS3URL(raw string) (bucket, key string, err error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "s3" || u.Host == "" {
		return "", "", errors.NewError(errors.ErrCodeInvalidURL,
			fmt.Sprintf("not a valid s3 URL: %q", raw)).WithComponent("fetch_s3")
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", errors.NewError(errors.ErrCodeInvalidURL,
			fmt.Sprintf("s3 URL missing object key: %q", raw)).WithComponent("fetch_s3")
	}
	return u.Host, key, nil
}

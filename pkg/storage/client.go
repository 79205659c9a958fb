package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dustin/go-humanize"

	"github.com/boxel-io/boxel-flash/pkg/errors"
)

const scheme = "s3://"

// ErrNotFound means the bucket has no object under the requested key.
var ErrNotFound = errors.New("object not found")

// IsRemote reports whether path is an s3:// URI.
func IsRemote(path string) bool {
	return strings.HasPrefix(path, scheme)
}

// ParseURI splits s3://bucket/key into its parts.
func ParseURI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, scheme)
	if !ok {
		return "", "", fmt.Errorf("not an s3 uri: %q", uri)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("s3 uri %q has no bucket", uri)
	}
	return bucket, key, nil
}

// Client provides S3 storage operations
type Client struct {
	s3Client *s3.Client
}

// NewClient creates a new S3 client for anonymous access
func NewClient(ctx context.Context, region string) (*Client, error) {
	slog.Info("s3_client_init", "region", region)

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(aws.AnonymousCredentials{}),
	)
	if err != nil {
		slog.Error("aws_config_load_failed", "error", err)
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	return &Client{s3Client: s3.NewFromConfig(cfg)}, nil
}

// DownloadResult contains download metadata
type DownloadResult struct {
	LocalPath string
	SHA256    string
	Size      int64
}

// Download fetches uri into localPath and computes its SHA256. The object is
// written to a temporary file first so an interrupted download never leaves a
// truncated image behind.
func (c *Client) Download(ctx context.Context, uri, localPath string) (*DownloadResult, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, fmt.Errorf("%w: %s names a bucket, not an image", ErrNotFound, uri)
	}

	slog.Info("s3_download_start", "bucket", bucket, "s3_key", key, "local_path", localPath)

	result, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			slog.Error("s3_object_not_found", "bucket", bucket, "s3_key", key)
			return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
		}
		slog.Error("s3_get_object_failed", "s3_key", key, "error", err)
		return nil, errors.Wrap(err, "failed to get object from S3")
	}
	defer result.Body.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create download directory")
	}
	tmp := localPath + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		slog.Error("local_file_creation_failed", "path", tmp, "error", err)
		return nil, errors.Wrap(err, "failed to create local file")
	}
	defer os.Remove(tmp)
	defer f.Close()

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, hash), result.Body)
	if err != nil {
		slog.Error("s3_download_failed", "s3_key", key, "error", err)
		return nil, errors.Wrap(err, "failed to download file")
	}
	if err := f.Close(); err != nil {
		return nil, errors.Wrap(err, "failed to close local file")
	}
	if err := os.Rename(tmp, localPath); err != nil {
		return nil, errors.Wrap(err, "failed to move download into place")
	}

	checksum := hex.EncodeToString(hash.Sum(nil))

	slog.Info("s3_download_complete",
		"s3_key", key,
		"size", humanize.IBytes(uint64(size)),
		"local_path", localPath,
		"sha256", checksum[:16]+"...",
	)

	return &DownloadResult{
		LocalPath: localPath,
		SHA256:    checksum,
		Size:      size,
	}, nil
}

// ObjectInfo describes a remote image.
type ObjectInfo struct {
	URI  string `json:"uri" yaml:"uri"`
	Size int64  `json:"size" yaml:"size"`
}

// ListObjects lists the objects under an s3://bucket/prefix URI.
func (c *Client) ListObjects(ctx context.Context, uri string) ([]ObjectInfo, error) {
	bucket, prefix, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	slog.Info("s3_list_start", "bucket", bucket, "prefix", prefix)

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}

	var objects []ObjectInfo
	paginator := s3.NewListObjectsV2Paginator(c.s3Client, input)

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			slog.Error("s3_list_failed", "prefix", prefix, "error", err)
			return nil, errors.Wrap(err, "failed to list objects")
		}

		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			objects = append(objects, ObjectInfo{
				URI:  scheme + bucket + "/" + *obj.Key,
				Size: aws.ToInt64(obj.Size),
			})
		}
	}

	slog.Info("s3_list_complete", "prefix", prefix, "object_count", len(objects))
	return objects, nil
}

// Exists checks if an object exists in S3
func (c *Client) Exists(ctx context.Context, uri string) (bool, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return false, err
	}

	_, err = c.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			slog.Info("s3_object_not_found", "s3_key", key)
			return false, nil
		}
		slog.Error("s3_head_object_failed", "s3_key", key, "error", err)
		return false, errors.Wrap(err, "failed to check object existence")
	}

	slog.Info("s3_object_exists", "s3_key", key)
	return true, nil
}

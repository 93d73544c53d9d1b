package origin

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/JonMunkholm/snapimport/internal/core"
)

// S3 lists and downloads export files from an S3-compatible bucket.
type S3 struct {
	client      *minio.Client
	downloadDir string
}

// S3Config configures an S3 origin.
type S3Config struct {
	Endpoint    string // host[:port] or URL; https URLs enable TLS
	Region      string
	AccessKey   string
	SecretKey   string
	UseSSL      bool
	DownloadDir string // defaults to os.TempDir()
}

// NewS3 creates an S3 origin. Empty credentials fall back to the AWS_* and
// MINIO_* environment variables.
func NewS3(cfg S3Config) (*S3, error) {
	if cfg.Endpoint == "" {
		return nil, wrapError(CodeEndpointUnreachable, false, fmt.Errorf("endpoint is required"))
	}

	endpoint, useSSL := cfg.Endpoint, cfg.UseSSL
	if u, err := url.Parse(cfg.Endpoint); err == nil && u.Host != "" {
		endpoint = u.Host
		useSSL = u.Scheme == "https"
	}

	creds := credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	if cfg.AccessKey == "" {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
		})
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, wrapError(CodeEndpointUnreachable, true, fmt.Errorf("create minio client: %w", err))
	}

	dir := cfg.DownloadDir
	if dir == "" {
		dir = os.TempDir()
	}
	return &S3{client: client, downloadDir: dir}, nil
}

// ListFiles returns every object key in the bucket ending in suffix, sorted.
func (s *S3) ListFiles(ctx context.Context, bucket, suffix string) ([]string, error) {
	if bucket == "" {
		return nil, wrapError(CodeBucketNotFound, false, fmt.Errorf("bucket is required"))
	}

	var keys []string
	for obj := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return nil, classifyMinioError(obj.Err)
		}
		if strings.HasSuffix(obj.Key, suffix) {
			keys = append(keys, obj.Key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// FetchFile downloads the object into a private directory under the
// download dir. Closing the handle removes the directory.
func (s *S3) FetchFile(ctx context.Context, bucket, name string) (core.Handle, error) {
	if err := os.MkdirAll(s.downloadDir, 0o755); err != nil {
		return nil, wrapError(CodeDownloadFailed, false, err)
	}
	dir, err := os.MkdirTemp(s.downloadDir, "import-*")
	if err != nil {
		return nil, wrapError(CodeDownloadFailed, false, err)
	}

	dest := filepath.Join(dir, path.Base(name))
	if err := s.client.FGetObject(ctx, bucket, name, dest, minio.GetObjectOptions{}); err != nil {
		_ = os.RemoveAll(dir)
		return nil, classifyMinioError(err)
	}

	info, err := os.Stat(dest)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, wrapError(CodeDownloadFailed, false, err)
	}
	return &File{path: dest, size: info.Size(), cleanup: dir}, nil
}

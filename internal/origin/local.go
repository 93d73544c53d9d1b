package origin

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/JonMunkholm/snapimport/internal/core"
)

// Local serves buckets from subdirectories of a root directory. Files are
// read in place.
type Local struct {
	root string
}

// NewLocal creates an origin rooted at dir.
func NewLocal(root string) *Local {
	return &Local{root: root}
}

func (l *Local) bucketPath(bucket string) string {
	return filepath.Join(l.root, filepath.FromSlash(bucket))
}

// ListFiles returns the slash-separated paths of all files under the bucket
// ending in suffix, sorted.
func (l *Local) ListFiles(ctx context.Context, bucket, suffix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	base := l.bucketPath(bucket)
	info, err := os.Stat(base)
	if err != nil || !info.IsDir() {
		return nil, wrapError(CodeBucketNotFound, false, fmt.Errorf("bucket does not exist: %s", bucket))
	}

	var names []string
	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), suffix) {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, wrapError(CodePermissionDenied, false, err)
	}
	sort.Strings(names)
	return names, nil
}

// FetchFile returns the file in place; nothing is copied.
func (l *Local) FetchFile(ctx context.Context, bucket, name string) (core.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	base := l.bucketPath(bucket)
	path := filepath.Join(base, filepath.FromSlash(name))
	if rel, err := filepath.Rel(base, path); err != nil || strings.HasPrefix(rel, "..") {
		return nil, wrapError(CodeObjectNotFound, false, fmt.Errorf("key outside bucket: %s", name))
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, wrapError(CodeObjectNotFound, false, fmt.Errorf("key does not exist: %s", name))
		}
		return nil, wrapError(CodePermissionDenied, false, err)
	}
	return &File{path: path, size: info.Size()}, nil
}

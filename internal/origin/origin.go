// Package origin provides the object-origin collaborator: listing and
// fetching export files from an S3-compatible bucket or a local directory.
package origin

import (
	"strings"

	"github.com/JonMunkholm/snapimport/internal/core"
)

// LocalScheme selects a Local origin when used as an endpoint prefix, as in
// "file:///var/exports".
const LocalScheme = "file://"

// Defaults fill in what a job's storage info leaves out.
type Defaults struct {
	Endpoint    string
	Region      string
	UseSSL      bool
	DownloadDir string
}

// Factory returns a core.OriginFactory that opens the origin named by each
// job's storage info.
func Factory(d Defaults) core.OriginFactory {
	return func(info core.StorageInfo) (core.Origin, error) {
		return Open(info, d)
	}
}

// Open picks the origin for info. An endpoint with the file:// scheme serves
// buckets from a local directory; anything else is treated as S3.
func Open(info core.StorageInfo, d Defaults) (core.Origin, error) {
	endpoint := info.Endpoint
	if endpoint == "" {
		endpoint = d.Endpoint
	}
	if root, ok := strings.CutPrefix(endpoint, LocalScheme); ok {
		return NewLocal(root), nil
	}

	region := info.Region
	if region == "" {
		region = d.Region
	}
	s3, err := NewS3(S3Config{
		Endpoint:    endpoint,
		Region:      region,
		AccessKey:   info.AccessKey,
		SecretKey:   info.SecretKey,
		UseSSL:      d.UseSSL,
		DownloadDir: d.DownloadDir,
	})
	if err != nil {
		return nil, err
	}
	return s3, nil
}

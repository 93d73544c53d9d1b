package origin

import (
	"io"
	"os"
)

// File is a source file available on local disk.
type File struct {
	path    string
	size    int64
	cleanup string
}

// Path returns the file's location on disk.
func (f *File) Path() string { return f.path }

// Size returns the file size in bytes.
func (f *File) Size() int64 { return f.size }

// Open opens the file for one read pass.
func (f *File) Open() (io.ReadCloser, error) {
	return os.Open(f.path)
}

// Close removes the downloaded copy, if any.
func (f *File) Close() error {
	if f.cleanup == "" {
		return nil
	}
	return os.RemoveAll(f.cleanup)
}

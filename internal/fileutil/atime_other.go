//go:build !linux

package fileutil

import (
	"os"
	"time"
)

// Atime approximates the last-access time on platforms where the Go
// standard library exposes no portable accessor for it. Falling back to
// ModTime only weakens the LRU ordering used by Store.Purge, never the
// expiration semantics, which are always derived from ModTime regardless
// of platform.
func Atime(fi os.FileInfo) time.Time {
	return fi.ModTime()
}

// Package filename implements the on-disk filename grammar: permanent
// filenames embed a key hash, the response's modified timestamp, and an
// optional ETag hash so the newest version of a key can be found by
// lexicographic listing without an auxiliary index; temporary filenames
// are bare UUIDs staged under the store's temp directory during
// publication.
package filename

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sandrolain/httpfilecache/internal/fileutil"
)

// Kind identifies which of the three file extensions a FileName carries.
type Kind int

const (
	// ResponseMeta is a ".response.json" metadata file.
	ResponseMeta Kind = iota
	// ResponseBody is a ".response.bin" body file.
	ResponseBody
	// Variation is a ".variation.json" indirection record.
	Variation
)

const (
	extResponseMeta = ".response.json"
	extResponseBody = ".response.bin"
	extVariation    = ".variation.json"

	// timestampLayout is the 17-character "yyyy-MM-ddTHHmmss" portion; the
	// trailing literal "Z" is appended separately per the grammar.
	timestampLayout = "2006-01-02T150405"
)

func (k Kind) extension() string {
	switch k {
	case ResponseBody:
		return extResponseBody
	case Variation:
		return extVariation
	default:
		return extResponseMeta
	}
}

// FileName is a parsed or constructed on-disk filename.
type FileName struct {
	Temporary   bool
	UUID        string // set when Temporary
	KeyHash     string // set when !Temporary
	ModifiedUTC time.Time
	ETagHash    string // optional, may be ""
	Kind        Kind
}

// Metadata returns the permanent metadata filename for a (key hash,
// modified, etag hash) triple.
func Metadata(keyHash string, modified time.Time, etagHash string) FileName {
	return FileName{KeyHash: keyHash, ModifiedUTC: modified.UTC(), ETagHash: etagHash, Kind: ResponseMeta}
}

// VariationFile returns the permanent variation filename for the same
// triple.
func VariationFile(keyHash string, modified time.Time, etagHash string) FileName {
	return FileName{KeyHash: keyHash, ModifiedUTC: modified.UTC(), ETagHash: etagHash, Kind: Variation}
}

// Temp returns a fresh temporary filename of the given kind, staged under
// the store's temp directory during publication.
func Temp(kind Kind) FileName {
	return FileName{Temporary: true, UUID: uuid.NewString(), Kind: kind}
}

// ToResponseFileName returns the body filename paired with a metadata
// filename. It panics if called on anything but a ResponseMeta name, since
// only metadata names have a defined body sibling.
func ToResponseFileName(meta FileName) FileName {
	if meta.Kind != ResponseMeta {
		panic("filename: ToResponseFileName requires a ResponseMeta name")
	}
	body := meta
	body.Kind = ResponseBody
	return body
}

// String serializes the filename: permanent names as
// "{keyHash}_{modifiedUtc}Z_{etagHash?}{extension}", temporary names as
// "{uuid}{extension}".
func (f FileName) String() string {
	if f.Temporary {
		return f.UUID + f.Kind.extension()
	}
	return fmt.Sprintf("%s_%sZ_%s%s", f.KeyHash, f.ModifiedUTC.UTC().Format(timestampLayout), f.ETagHash, f.Kind.extension())
}

// ErrCorruptFilename is returned by Parse when name does not match the
// grammar. Callers enumerating a directory should skip the file and log at
// trace level, never fail the whole operation over one corrupt name.
type ErrCorruptFilename struct{ Name string }

func (e ErrCorruptFilename) Error() string { return "filename: corrupt filename: " + e.Name }

// Parse reconstructs a FileName from its on-disk basename.
func Parse(name string) (FileName, error) {
	ext, kind, ok := stripExtension(name)
	if !ok {
		return FileName{}, ErrCorruptFilename{Name: name}
	}
	base := strings.TrimSuffix(name, ext)

	firstDot := strings.IndexByte(name, '.')
	prefixLen := firstDot
	if prefixLen < 0 {
		prefixLen = len(name)
	}
	if prefixLen == 36 {
		if _, err := uuid.Parse(name[:36]); err == nil {
			return FileName{Temporary: true, UUID: name[:36], Kind: kind}, nil
		}
	}

	underscore := strings.IndexByte(base, '_')
	if underscore < 0 || len(base) < underscore+1+18 {
		return FileName{}, ErrCorruptFilename{Name: name}
	}
	keyHash := base[:underscore]
	rest := base[underscore+1:]

	stamp := rest[:18]
	if stamp[17] != 'Z' {
		return FileName{}, ErrCorruptFilename{Name: name}
	}
	modified, err := time.Parse(timestampLayout, stamp[:17])
	if err != nil {
		return FileName{}, ErrCorruptFilename{Name: name}
	}

	remainder := rest[18:]
	if len(remainder) == 0 || remainder[0] != '_' {
		return FileName{}, ErrCorruptFilename{Name: name}
	}
	etagHash := remainder[1:]

	return FileName{KeyHash: keyHash, ModifiedUTC: modified.UTC(), ETagHash: etagHash, Kind: kind}, nil
}

func stripExtension(name string) (ext string, kind Kind, ok bool) {
	switch {
	case strings.HasSuffix(name, extResponseBody):
		return extResponseBody, ResponseBody, true
	case strings.HasSuffix(name, extResponseMeta):
		return extResponseMeta, ResponseMeta, true
	case strings.HasSuffix(name, extVariation):
		return extVariation, Variation, true
	default:
		return "", 0, false
	}
}

// GetExpiration returns the absolute UTC expiration instant encoded in
// path's last-write time.
func GetExpiration(path string) (time.Time, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return fi.ModTime().UTC(), nil
}

// SetExpiration rewrites path's last-write time to instant, preserving the
// file's last-access time (its LRU position).
func SetExpiration(path string, instant time.Time) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	return os.Chtimes(path, fileutil.Atime(fi), instant)
}

// Refresh sets path's last-access time to now, preserving its last-write
// time (its expiration).
func Refresh(path string, now time.Time) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	return os.Chtimes(path, now, fi.ModTime())
}

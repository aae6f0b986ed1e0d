// Package filestore implements the two-level on-disk cache engine: atomic
// publication of a (metadata, body) pair or a variation indirection record,
// lookup by key, capacity-bounded eviction, and orphan cleanup. The
// cache.Facade drives its lookups, publications, and refreshes and owns the
// two-level key resolution this package is agnostic to; the root package's
// Transport calls Purge and Clear on it directly.
package filestore

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sandrolain/httpfilecache/filename"
	"github.com/sandrolain/httpfilecache/internal/fileutil"
	"github.com/sandrolain/httpfilecache/metrics"
)

// HeaderField is one header name plus its ordered list of values, matching
// the on-disk {key, value[]} shape.
type HeaderField struct {
	Key   string   `json:"key"`
	Value []string `json:"value"`
}

// ResponseMeta is the on-disk metadata JSON for a response entry; the body
// is stored separately in the paired .response.bin file.
type ResponseMeta struct {
	URL             string        `json:"url"`
	Version         string        `json:"version"`
	StatusCode      int           `json:"statusCode"`
	ReasonPhrase    string        `json:"reasonPhrase"`
	ResponseHeaders []HeaderField `json:"responseHeaders"`
	ContentHeaders  []HeaderField `json:"contentHeaders"`
	TrailingHeaders []HeaderField `json:"trailingHeaders"`
}

// VariationMeta is the on-disk JSON for a variation indirection record.
type VariationMeta struct {
	Key                   string   `json:"key"`
	CacheType             string   `json:"cacheType"`
	NormalizedVaryHeaders []string `json:"normalizedVaryHeaders"`
}

// Kind tags what Lookup found.
type Kind int

const (
	// NotFound means no live permanent entry exists for the key.
	NotFound Kind = iota
	ResponseHit
	VariationHit
)

// LookupResult is the tagged variant Lookup returns; exactly one of
// Response/Variation is set depending on Kind.
type LookupResult struct {
	Kind        Kind
	Response    *ResponseMeta
	Body        io.ReadCloser
	Variation   *VariationMeta
	MetaPath    string
	ModifiedUTC time.Time
	ETagHash    string
}

// Store implements the file-backed cache engine rooted at Root.
type Store struct {
	Root   string
	Temp   string
	Clock  Clock
	Codec  Compression
	Secret string // non-empty enables at-rest encryption

	Logger  *slog.Logger
	Metrics metrics.Collector
	enc     *encryptor
}

// Clock is the time source every time-dependent decision consumes, so tests
// can drive expiration deterministically without sleeping.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the Clock used when none is configured.
var SystemClock Clock = systemClock{}

// New creates a Store rooted at root, creating root and root/temp if
// missing. If secret is non-empty, metadata and bodies are encrypted at
// rest with AES-256-GCM under a key derived from it.
func New(root string, codec Compression, secret string) (*Store, error) {
	temp := filepath.Join(root, "temp")
	if err := os.MkdirAll(temp, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: creating root: %w", err)
	}

	s := &Store{
		Root:    root,
		Temp:    temp,
		Clock:   SystemClock,
		Codec:   codec,
		Secret:  secret,
		Logger:  slog.Default(),
		Metrics: metrics.Default,
	}

	if secret != "" {
		enc, err := newEncryptor(root, secret)
		if err != nil {
			return nil, err
		}
		s.enc = enc
	}

	return s, nil
}

func (s *Store) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Store) metrics() metrics.Collector {
	if s.Metrics != nil {
		return s.Metrics
	}
	return metrics.Default
}

// HashKey returns the lowercase hex SHA-1 of key, the prefix every
// permanent filename for that key begins with.
func HashKey(key string) string {
	sum := sha1.Sum([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Lookup resolves key to the newest live permanent entry, or NotFound if
// none exists or the newest one has expired (in which case it is deleted
// before Lookup returns). The caller is responsible for closing Body on a
// ResponseHit.
func (s *Store) Lookup(ctx context.Context, key string) (result LookupResult, err error) {
	start := s.Clock.Now()
	result.Kind = NotFound

	hash := HashKey(key)
	matches, err := filepath.Glob(filepath.Join(s.Root, hash+"_*.json"))
	if err != nil {
		return result, fmt.Errorf("filestore: globbing: %w", err)
	}
	if len(matches) == 0 {
		s.metrics().RecordLookup("miss", s.Clock.Now().Sub(start))
		return result, nil
	}
	sort.Strings(matches)
	metaPath := matches[len(matches)-1]

	fi, err := os.Stat(metaPath)
	if err != nil {
		s.metrics().RecordLookup("miss", s.Clock.Now().Sub(start))
		return result, nil
	}
	if fi.ModTime().Before(s.Clock.Now()) {
		s.metrics().RecordLookup("expired", s.Clock.Now().Sub(start))
		_ = s.deletePair(filepath.Base(metaPath))
		return result, nil
	}

	fn, err := filename.Parse(filepath.Base(metaPath))
	if err != nil {
		s.logger().Debug("filestore: corrupt filename during lookup", "name", filepath.Base(metaPath), "error", err)
		s.metrics().RecordLookup("miss", s.Clock.Now().Sub(start))
		return result, nil
	}

	raw, err := s.readFile(metaPath)
	if err != nil {
		return result, fmt.Errorf("filestore: reading %s: %w", metaPath, err)
	}

	result.MetaPath = metaPath
	result.ModifiedUTC = fn.ModifiedUTC
	result.ETagHash = fn.ETagHash

	switch fn.Kind {
	case filename.Variation:
		var v VariationMeta
		if err := json.Unmarshal(raw, &v); err != nil {
			return result, fmt.Errorf("filestore: decoding variation record: %w", err)
		}
		result.Kind = VariationHit
		result.Variation = &v
		s.metrics().RecordLookup("hit-variation", s.Clock.Now().Sub(start))
		return result, nil
	default:
		var m ResponseMeta
		if err := json.Unmarshal(raw, &m); err != nil {
			return result, fmt.Errorf("filestore: decoding response metadata: %w", err)
		}
		bodyPath := filepath.Join(s.Root, filename.ToResponseFileName(fn).String())
		body, err := s.openBody(bodyPath)
		if err != nil {
			s.metrics().RecordLookup("miss", s.Clock.Now().Sub(start))
			return LookupResult{Kind: NotFound}, nil
		}
		result.Kind = ResponseHit
		result.Response = &m
		result.Body = body
		s.metrics().RecordLookup("hit-response", s.Clock.Now().Sub(start))
		return result, nil
	}
}

// PublishResponse atomically stores meta and body under key. modified is
// the response's Last-Modified time (or the time of storage, absent that)
// and is embedded in the permanent filename; expiration is written as the
// file's last-write time and is a separate instant entirely. etag, if
// non-empty, is hashed into the permanent filename. The body is published
// before the metadata so any observer that sees the metadata can always
// open the body.
func (s *Store) PublishResponse(ctx context.Context, key string, meta ResponseMeta, body io.Reader, modified, expiration time.Time, etag string) error {
	start := s.Clock.Now()
	hash := HashKey(key)
	etagHash := etagHashOf(etag)

	tmpBody := filename.Temp(filename.ResponseBody)
	tmpMeta := filename.Temp(filename.ResponseMeta)
	tmpBodyPath := filepath.Join(s.Temp, tmpBody.String())
	tmpMetaPath := filepath.Join(s.Temp, tmpMeta.String())

	if err := s.writeBody(tmpBodyPath, body); err != nil {
		return fmt.Errorf("filestore: staging body: %w", err)
	}

	raw, err := json.Marshal(meta)
	if err != nil {
		_ = os.Remove(tmpBodyPath)
		return fmt.Errorf("filestore: encoding metadata: %w", err)
	}
	if err := s.writeFile(tmpMetaPath, raw); err != nil {
		_ = os.Remove(tmpBodyPath)
		return fmt.Errorf("filestore: staging metadata: %w", err)
	}
	if err := os.Chtimes(tmpMetaPath, s.Clock.Now(), expiration); err != nil {
		return fmt.Errorf("filestore: setting expiration: %w", err)
	}

	permMeta := filename.Metadata(hash, modified, etagHash)
	permBody := filename.ToResponseFileName(permMeta)
	permMetaPath := filepath.Join(s.Root, permMeta.String())
	permBodyPath := filepath.Join(s.Root, permBody.String())

	// Body first, then metadata: a crash between the two renames leaves an
	// orphan body, never a metadata file pointing at a missing body.
	if err := os.Rename(tmpBodyPath, permBodyPath); err != nil {
		s.logger().Debug("filestore: body publish race, leaving temp pair for next purge", "key_hash", hash, "error", err)
		return nil
	}
	if err := os.Rename(tmpMetaPath, permMetaPath); err != nil {
		s.logger().Debug("filestore: metadata publish race, leaving temp pair for next purge", "key_hash", hash, "error", err)
		return nil
	}

	s.metrics().RecordPublish("response", s.Clock.Now().Sub(start))
	return nil
}

// PublishVariation atomically stores a variation indirection record under
// key with the same modified/expiration instants as the response it
// points to.
func (s *Store) PublishVariation(ctx context.Context, key string, v VariationMeta, modified, expiration time.Time) error {
	start := s.Clock.Now()
	hash := HashKey(key)

	tmp := filename.Temp(filename.Variation)
	tmpPath := filepath.Join(s.Temp, tmp.String())

	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("filestore: encoding variation record: %w", err)
	}
	if err := s.writeFile(tmpPath, raw); err != nil {
		return fmt.Errorf("filestore: staging variation record: %w", err)
	}
	if err := os.Chtimes(tmpPath, s.Clock.Now(), expiration); err != nil {
		return fmt.Errorf("filestore: setting expiration: %w", err)
	}

	perm := filename.VariationFile(hash, modified, "")
	permPath := filepath.Join(s.Root, perm.String())
	if err := os.Rename(tmpPath, permPath); err != nil {
		s.logger().Debug("filestore: variation publish race, leaving temp file for next purge", "key_hash", hash, "error", err)
		return nil
	}

	s.metrics().RecordPublish("variation", s.Clock.Now().Sub(start))
	return nil
}

// Refresh touches metaPath's last-access time to now and sets its
// last-write time (expiration) to newExpiration, without moving the file.
func (s *Store) Refresh(metaPath string, newExpiration time.Time) error {
	return os.Chtimes(metaPath, s.Clock.Now(), newExpiration)
}

// Delete unlinks the metadata file at metaPath first, then its body
// sibling if it is a response entry. Body-unlink failures are tolerated:
// the file becomes an orphan swept by the next Purge.
func (s *Store) Delete(metaPath string) error {
	return s.deletePair(filepath.Base(metaPath))
}

func (s *Store) deletePair(metaName string) error {
	metaPath := filepath.Join(s.Root, metaName)
	fn, err := filename.Parse(metaName)
	if err != nil {
		return os.Remove(metaPath)
	}

	if err := os.Remove(metaPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	if fn.Kind == filename.ResponseMeta {
		bodyPath := filepath.Join(s.Root, filename.ToResponseFileName(fn).String())
		if err := os.Remove(bodyPath); err != nil && !os.IsNotExist(err) {
			s.logger().Debug("filestore: body unlink failed, will be swept as orphan", "path", bodyPath, "error", err)
		}
	}
	return nil
}

// Purge enforces MaxEntries by last-access-time recency, clears temp/, and
// sweeps orphaned body files. It runs on the periodic maintenance timer and
// on demand.
func (s *Store) Purge(ctx context.Context, maxEntries int) error {
	start := s.Clock.Now()

	entries, err := os.ReadDir(s.Root)
	if err != nil {
		return fmt.Errorf("filestore: reading root: %w", err)
	}

	type jsonEntry struct {
		name  string
		atime time.Time
	}
	var metas []jsonEntry
	bodies := map[string]bool{}
	metaBases := map[string]bool{}

	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		switch {
		case hasSuffixResponseBin(name):
			bodies[name] = true
		case hasSuffixJSON(name):
			fi, err := de.Info()
			if err != nil {
				continue
			}
			metas = append(metas, jsonEntry{name: name, atime: atimeOf(fi)})
			metaBases[name] = true
		}
	}

	sort.Slice(metas, func(i, j int) bool { return metas[i].atime.After(metas[j].atime) })

	evicted := 0
	if maxEntries > 0 && len(metas) > maxEntries {
		for _, m := range metas[maxEntries:] {
			if err := s.deletePair(m.name); err != nil {
				s.logger().Debug("filestore: purge delete failed", "name", m.name, "error", err)
				continue
			}
			evicted++
		}
	}

	tempEntries, err := os.ReadDir(s.Temp)
	if err == nil {
		for _, de := range tempEntries {
			_ = os.Remove(filepath.Join(s.Temp, de.Name()))
		}
	}

	orphans := 0
	for body := range bodies {
		fn, err := filename.Parse(body)
		if err != nil {
			continue
		}
		metaName := filename.Metadata(fn.KeyHash, fn.ModifiedUTC, fn.ETagHash).String()
		if metaBases[metaName] {
			continue
		}
		if err := os.Remove(filepath.Join(s.Root, body)); err == nil {
			orphans++
		}
	}

	count, _ := s.countEntries()
	s.metrics().RecordEntries(count)
	s.metrics().RecordPurge(evicted, orphans, s.Clock.Now().Sub(start))
	return nil
}

func (s *Store) countEntries() (int, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, de := range entries {
		if !de.IsDir() && hasSuffixJSON(de.Name()) {
			n++
		}
	}
	return n, nil
}

// Clear deletes every metadata and variation file, then sweeps orphans.
func (s *Store) Clear(ctx context.Context) error {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		return fmt.Errorf("filestore: reading root: %w", err)
	}
	for _, de := range entries {
		if de.IsDir() || !hasSuffixJSON(de.Name()) {
			continue
		}
		if err := s.deletePair(de.Name()); err != nil {
			s.logger().Debug("filestore: clear delete failed", "name", de.Name(), "error", err)
		}
	}
	return s.Purge(ctx, 0)
}

func hasSuffixJSON(name string) bool {
	return len(name) > 5 && (name[len(name)-5:] == ".json")
}

func hasSuffixResponseBin(name string) bool {
	const suffix = ".response.bin"
	return len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix
}

func etagHashOf(etag string) string {
	if etag == "" {
		return ""
	}
	sum := sha1.Sum([]byte(etag))
	return hex.EncodeToString(sum[:])
}

// writeFile stages raw to path, encrypting it first if the store has a
// secret configured.
func (s *Store) writeFile(path string, raw []byte) error {
	if s.enc != nil {
		sealed, err := s.enc.seal(raw)
		if err != nil {
			return err
		}
		raw = sealed
	}
	return os.WriteFile(path, raw, 0o644)
}

func (s *Store) readFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if s.enc != nil {
		return s.enc.open(raw)
	}
	return raw, nil
}

// writeBody streams src into path, applying the store's body compression
// and, if configured, encryption. Encrypted bodies are buffered in memory
// ahead of the at-rest transform since GCM sealing needs the whole
// plaintext at once; unencrypted bodies, compressed or not, stream to disk
// through the codec writer. Compression always runs on plaintext, never on
// ciphertext: sealed output is indistinguishable from random data, so
// compressing it afterward would only spend CPU without shrinking it.
func (s *Store) writeBody(path string, src io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if s.enc == nil {
		w, err := encodeBody(f, s.Codec)
		if err != nil {
			return err
		}
		if _, err := io.Copy(w, src); err != nil {
			return err
		}
		return w.Close()
	}

	plain, err := io.ReadAll(src)
	if err != nil {
		return err
	}
	compressed, err := compressPayload(plain, s.Codec)
	if err != nil {
		return err
	}
	sealed, err := s.enc.seal(compressed)
	if err != nil {
		return err
	}
	if _, err := f.Write([]byte{byte(s.Codec)}); err != nil {
		return err
	}
	_, err = f.Write(sealed)
	return err
}

func (s *Store) openBody(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if s.enc == nil {
		r, err := decodeBody(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return readCloser{r, f}, nil
	}

	raw, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		return nil, err
	}
	if len(raw) < 1 {
		return nil, fmt.Errorf("filestore: body file %s missing compression marker", path)
	}
	codec, sealed := Compression(raw[0]), raw[1:]
	compressed, err := s.enc.open(sealed)
	if err != nil {
		return nil, err
	}
	plain, err := decompressPayload(compressed, codec)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytesReader(plain)), nil
}

// readCloser pairs a decoding reader with the underlying file it must close.
type readCloser struct {
	io.Reader
	f io.Closer
}

func (rc readCloser) Close() error { return rc.f.Close() }

func bytesReader(b []byte) io.Reader { return &byteReader{b: b} }

type byteReader struct {
	b []byte
	i int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.i >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.i:])
	r.i += n
	return n, nil
}

func atimeOf(fi os.FileInfo) time.Time {
	return fileutil.Atime(fi)
}

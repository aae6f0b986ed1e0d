// Package cache implements the public cache operations the middleware
// drives: getResponse, getResponseWithVariation, setResponse, and the two
// refresh variants. It composes cachekey, variation, and filestore to
// resolve the two-level lookup, and owns the translation between
// *http.Response and the filestore's on-disk ResponseMeta/VariationMeta
// shapes.
package cache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/sandrolain/httpfilecache/cachekey"
	"github.com/sandrolain/httpfilecache/filename"
	"github.com/sandrolain/httpfilecache/filestore"
	"github.com/sandrolain/httpfilecache/internal/directives"
	"github.com/sandrolain/httpfilecache/variation"
)

// InvalidArgumentError is returned by RefreshResponse304 when the supplied
// response is not a 304.
type InvalidArgumentError struct{ reason string }

func (e InvalidArgumentError) Error() string { return "cache: invalid argument: " + e.reason }

// Facade is the cache API the middleware drives.
type Facade struct {
	Store  *filestore.Store
	Keys   cachekey.Computer
	Clock  filestore.Clock
	Logger *slog.Logger

	// DefaultInitialExpiration is applied to freshly stored entries that
	// lack a response max-age.
	DefaultInitialExpiration time.Duration
	// DefaultRefreshExpiration applies to refreshes without an explicit
	// new max-age.
	DefaultRefreshExpiration time.Duration
}

// Hit is the result of a successful GetResponse or GetResponseWithVariation
// lookup.
type Hit struct {
	Response  *http.Response
	Variation variation.Variation

	// entryPath is the K1 file: the response itself for a direct hit, or
	// the variation record pointing at responsePath for a varied hit.
	entryPath string
	// responsePath is the K2 response file. Equal to entryPath for a
	// direct hit; distinct for a hit resolved through a variation record.
	responsePath string
}

func (f *Facade) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

// GetResponse resolves only the entry-key lookup for req: it hits when K1
// points directly at a stored response, and misses (without error) when K1
// is absent or resolves to a variation record. Callers that need the
// variation record followed to its K2 response should use
// GetResponseWithVariation instead.
func (f *Facade) GetResponse(ctx context.Context, req *http.Request) (*Hit, error) {
	k1, ok := f.Keys.Compute(req, variation.Neutral())
	if !ok {
		return nil, nil
	}

	r1, err := f.Store.Lookup(ctx, k1)
	if err != nil {
		return nil, err
	}
	if r1.Kind != filestore.ResponseHit {
		return nil, nil
	}

	resp, err := toHTTPResponse(r1.Response, r1.Body, req)
	if err != nil {
		return nil, err
	}
	return &Hit{Response: resp, Variation: variation.Neutral(), entryPath: r1.MetaPath, responsePath: r1.MetaPath}, nil
}

// GetResponseWithVariation resolves the two-level lookup for req: the
// entry-key lookup either hits a shared response directly, or a variation
// record whose vary rules let the caller recompute the response key.
func (f *Facade) GetResponseWithVariation(ctx context.Context, req *http.Request) (*Hit, error) {
	k1, ok := f.Keys.Compute(req, variation.Neutral())
	if !ok {
		return nil, nil
	}

	r1, err := f.Store.Lookup(ctx, k1)
	if err != nil {
		return nil, err
	}

	switch r1.Kind {
	case filestore.ResponseHit:
		resp, err := toHTTPResponse(r1.Response, r1.Body, req)
		if err != nil {
			return nil, err
		}
		return &Hit{Response: resp, Variation: variation.Neutral(), entryPath: r1.MetaPath, responsePath: r1.MetaPath}, nil

	case filestore.VariationHit:
		if err := filename.Refresh(r1.MetaPath, f.Clock.Now()); err != nil {
			f.logger().Debug("cache: refreshing variation record access time failed", "path", r1.MetaPath, "error", err)
		}
		v := variation.Variation{
			Type:                  variation.ParseCacheType(r1.Variation.CacheType),
			NormalizedVaryHeaders: r1.Variation.NormalizedVaryHeaders,
		}
		k2, ok := f.Keys.Compute(req, v)
		if !ok {
			return nil, nil
		}
		r2, err := f.Store.Lookup(ctx, k2)
		if err != nil {
			return nil, err
		}
		if r2.Kind != filestore.ResponseHit {
			return nil, nil
		}
		resp, err := toHTTPResponse(r2.Response, r2.Body, req)
		if err != nil {
			return nil, err
		}
		return &Hit{Response: resp, Variation: v, entryPath: r1.MetaPath, responsePath: r2.MetaPath}, nil

	default:
		return nil, nil
	}
}

// SetResponse classifies resp and, if cacheable, publishes it (and, for a
// varied response, the entry-key variation record pointing at it). It
// returns the stored response with a fresh readable body, or nil if resp
// was not cacheable.
func (f *Facade) SetResponse(ctx context.Context, req *http.Request, resp *http.Response) (*http.Response, error) {
	v := variation.Derive(req, resp)
	if v.Type == variation.None {
		return nil, nil
	}

	k1, ok := f.Keys.Compute(req, variation.Neutral())
	if !ok {
		return nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("cache: reading response body: %w", err)
	}

	now := f.Clock.Now()
	expiration := expirationOf(resp.Header, now, f.DefaultInitialExpiration)
	modified := modifiedOf(resp.Header, now)
	etag := resp.Header.Get("ETag")
	meta := toResponseMeta(resp)

	if v.Type == variation.Shared && len(v.NormalizedVaryHeaders) == 0 {
		if err := f.Store.PublishResponse(ctx, k1, meta, bytes.NewReader(body), modified, expiration, etag); err != nil {
			return nil, err
		}
		return rehydrate(resp, body), nil
	}

	k2, ok := f.Keys.Compute(req, v)
	if !ok {
		return nil, nil
	}
	if err := f.Store.PublishResponse(ctx, k2, meta, bytes.NewReader(body), modified, expiration, etag); err != nil {
		return nil, err
	}

	vm := filestore.VariationMeta{
		Key:                   k1,
		CacheType:             v.Type.String(),
		NormalizedVaryHeaders: v.NormalizedVaryHeaders,
	}
	if err := f.Store.PublishVariation(ctx, k1, vm, modified, expiration); err != nil {
		return nil, err
	}

	return rehydrate(resp, body), nil
}

// RefreshResponse sets the cached entry's expiration to now +
// DefaultRefreshExpiration. Both the entry-key file and, when hit came
// through a variation record, the underlying response file are refreshed:
// otherwise the variation pointer's own TTL would never be extended and a
// continuously-served varied entry would still be deleted on the next
// lookup after it expires.
func (f *Facade) RefreshResponse(ctx context.Context, hit *Hit) error {
	expiration := f.Clock.Now().Add(f.DefaultRefreshExpiration)
	return f.refreshPair(hit, expiration)
}

// RefreshResponse304 refreshes the cached entry after a 304 response,
// using the 304's max-age when present, else DefaultRefreshExpiration. It
// fails with InvalidArgumentError if notModified304 is not actually a 304.
func (f *Facade) RefreshResponse304(ctx context.Context, hit *Hit, notModified304 *http.Response) error {
	if notModified304.StatusCode != http.StatusNotModified {
		return InvalidArgumentError{reason: "refreshResponse304 requires a 304 response"}
	}
	now := f.Clock.Now()
	expiration := expirationOf(notModified304.Header, now, f.DefaultRefreshExpiration)
	return f.refreshPair(hit, expiration)
}

func (f *Facade) refreshPair(hit *Hit, expiration time.Time) error {
	if err := f.Store.Refresh(hit.entryPath, expiration); err != nil {
		return err
	}
	if hit.responsePath == hit.entryPath {
		return nil
	}
	return f.Store.Refresh(hit.responsePath, expiration)
}

func expirationOf(h http.Header, now time.Time, fallback time.Duration) time.Time {
	if seconds, ok := directives.Parse(h).MaxAgeSeconds(); ok {
		return now.Add(time.Duration(seconds) * time.Second)
	}
	return now.Add(fallback)
}

func modifiedOf(h http.Header, fallback time.Time) time.Time {
	if lm := h.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			return t.UTC()
		}
	}
	return fallback.UTC()
}

func rehydrate(resp *http.Response, body []byte) *http.Response {
	clone := *resp
	clone.Body = io.NopCloser(bytes.NewReader(body))
	return &clone
}

func toResponseMeta(resp *http.Response) filestore.ResponseMeta {
	return filestore.ResponseMeta{
		URL:             resp.Request.URL.String(),
		Version:         fmt.Sprintf("HTTP/%d.%d", resp.ProtoMajor, resp.ProtoMinor),
		StatusCode:      resp.StatusCode,
		ReasonPhrase:    http.StatusText(resp.StatusCode),
		ResponseHeaders: splitHeaders(resp.Header, false),
		ContentHeaders:  splitHeaders(resp.Header, true),
		TrailingHeaders: allHeaderFields(resp.Trailer),
	}
}

// contentHeaderNames is the set of headers that describe the body itself
// rather than the transfer or caching context, split out so the on-disk
// metadata keeps them separate from the surrounding response headers.
var contentHeaderNames = map[string]bool{
	"Content-Type":        true,
	"Content-Length":      true,
	"Content-Encoding":    true,
	"Content-Language":    true,
	"Content-Location":    true,
	"Content-MD5":         true,
	"Content-Range":       true,
	"Content-Disposition": true,
	"Expires":             true,
	"Last-Modified":       true,
}

func splitHeaders(h http.Header, content bool) []filestore.HeaderField {
	var fields []filestore.HeaderField
	for name := range h {
		isContent := contentHeaderNames[http.CanonicalHeaderKey(name)]
		if isContent != content {
			continue
		}
		fields = append(fields, filestore.HeaderField{Key: name, Value: append([]string(nil), h.Values(name)...)})
	}
	// http.Header does not preserve wire order; a stable sort by name is
	// the closest approximation available once headers reach net/http.
	sort.Slice(fields, func(i, j int) bool { return fields[i].Key < fields[j].Key })
	return fields
}

func allHeaderFields(h http.Header) []filestore.HeaderField {
	var fields []filestore.HeaderField
	for name := range h {
		fields = append(fields, filestore.HeaderField{Key: name, Value: append([]string(nil), h.Values(name)...)})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Key < fields[j].Key })
	return fields
}

func toHTTPResponse(meta *filestore.ResponseMeta, body io.ReadCloser, req *http.Request) (*http.Response, error) {
	header := http.Header{}
	for _, f := range meta.ResponseHeaders {
		header[f.Key] = append([]string(nil), f.Value...)
	}
	for _, f := range meta.ContentHeaders {
		header[f.Key] = append([]string(nil), f.Value...)
	}

	resp := &http.Response{
		Status:     fmt.Sprintf("%d %s", meta.StatusCode, meta.ReasonPhrase),
		StatusCode: meta.StatusCode,
		Proto:      meta.Version,
		Header:     header,
		Body:       body,
		Request:    req,
	}
	if len(meta.TrailingHeaders) > 0 {
		resp.Trailer = http.Header{}
		for _, f := range meta.TrailingHeaders {
			resp.Trailer[f.Key] = append([]string(nil), f.Value...)
		}
	}
	return resp, nil
}

package httpcache

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sandrolain/httpfilecache/cache"
	"github.com/sandrolain/httpfilecache/cachekey"
	"github.com/sandrolain/httpfilecache/filestore"
	"github.com/sandrolain/httpfilecache/internal/directives"
	"github.com/sandrolain/httpfilecache/metrics"
	"github.com/sandrolain/httpfilecache/variation"
)

const (
	// DefaultMaxEntries is the soft cap on *.json entries under root/.
	DefaultMaxEntries = 1000
	// DefaultInitialExpiration is applied to freshly stored entries that
	// lack a max-age directive.
	DefaultInitialExpiration = 2 * 24 * time.Hour
	// DefaultRefreshExpiration applies to refreshes without an explicit
	// new max-age.
	DefaultRefreshExpiration = 2 * 24 * time.Hour
)

// Transport is an http.RoundTripper that serves GET/HEAD requests from a
// local on-disk cache where possible, revalidates with conditional
// headers when required, and stores cacheable origin responses.
type Transport struct {
	// Next is the underlying RoundTripper used to forward requests that
	// are not served from cache. If nil, http.DefaultTransport is used.
	Next http.RoundTripper

	Facade *cache.Facade

	// MaxEntries is the soft cap on permanent entries, enforced lazily by
	// the periodic purge.
	MaxEntries int

	Logger  *slog.Logger
	Clock   Clock
	Metrics metrics.Collector

	// RequireJWT mirrors cachekey.Computer.RequireJWT: when true, an
	// unparseable bearer token yields no key instead of falling back to
	// the raw Authorization header value.
	RequireJWT bool

	resilience           *resilienceConfig
	compression          filestore.Compression
	encryptionPassphrase string
	initialExpiration    time.Duration
	refreshExpiration    time.Duration

	stopMaintenance chan struct{}
}

// NewTransport creates a Transport rooted at rootDir, applying any options.
// rootDir defaults to {os.TempDir()}/HttpClient.FileCache when empty.
func NewTransport(rootDir string, opts ...TransportOption) (*Transport, error) {
	if rootDir == "" {
		rootDir = defaultRoot()
	}

	t := &Transport{
		MaxEntries:        DefaultMaxEntries,
		Clock:             systemClock{},
		Metrics:           metrics.Default,
		initialExpiration: DefaultInitialExpiration,
		refreshExpiration: DefaultRefreshExpiration,
	}

	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}

	store, err := filestore.New(rootDir, storeCompression(t), storeSecret(t))
	if err != nil {
		return nil, err
	}
	store.Clock = t.Clock
	store.Metrics = t.Metrics
	store.Logger = t.Logger

	t.Facade = &cache.Facade{
		Store:                    store,
		Keys:                     cachekey.Computer{RequireJWT: t.RequireJWT},
		Clock:                    t.Clock,
		Logger:                   t.Logger,
		DefaultInitialExpiration: t.initialExpiration,
		DefaultRefreshExpiration: t.refreshExpiration,
	}

	return t, nil
}

// maintenanceInterval is how often StartMaintenance runs Purge.
const maintenanceInterval = 5 * time.Minute

// StartMaintenance runs Purge once and then every five minutes until
// StopMaintenance is called or ctx is cancelled. It is safe to call at most
// once per Transport.
func (t *Transport) StartMaintenance(ctx context.Context) {
	t.stopMaintenance = make(chan struct{})
	go func() {
		ticker := time.NewTicker(maintenanceInterval)
		defer ticker.Stop()
		_ = t.Purge(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.stopMaintenance:
				return
			case <-ticker.C:
				_ = t.Purge(ctx)
			}
		}
	}()
}

// StopMaintenance halts the periodic purge started by StartMaintenance.
func (t *Transport) StopMaintenance() {
	if t.stopMaintenance != nil {
		close(t.stopMaintenance)
	}
}

// Purge runs capacity-bounded eviction, temp cleanup, and orphan sweep on
// demand; it is also invoked periodically by StartMaintenance.
func (t *Transport) Purge(ctx context.Context) error {
	return t.Facade.Store.Purge(ctx, t.MaxEntries)
}

// Clear deletes every cache entry.
func (t *Transport) Clear(ctx context.Context) error {
	return t.Facade.Store.Clear(ctx)
}

// Client returns an *http.Client that uses this Transport.
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}

func (t *Transport) next() http.RoundTripper {
	if t.Next != nil {
		return t.Next
	}
	return http.DefaultTransport
}

// RoundTrip implements the cache-decision state machine of the request
// pipeline: cacheability gate, lookup, serve-vs-revalidate, origin send,
// 304 handling, and store.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	log := t.logger()

	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return t.send(req)
	}
	if directives.Parse(req.Header).Has(directives.NoCache) {
		log.Debug("httpcache: request Cache-Control: no-cache, skipping lookup")
		return t.storeAfterSend(ctx, req, nil)
	}

	hit, err := t.Facade.GetResponseWithVariation(ctx, req)
	if err != nil {
		log.Debug("httpcache: lookup failed", "error", err)
	}
	if hit == nil {
		return t.storeAfterSend(ctx, req, nil)
	}

	cc := directives.Parse(hit.Response.Header)
	switch {
	case cc.Has(directives.MustRevalidate):
		setConditionalHeaders(req, hit.Response)
		return t.storeAfterSend(ctx, req, hit)

	case cc.Has(directives.NoCache):
		return t.storeAfterSend(ctx, req, hit)

	default:
		if err := t.Facade.RefreshResponse(ctx, hit); err != nil {
			log.Debug("httpcache: refresh failed", "error", err)
		}
		return annotated(hit.Response, req, hit.Variation.Type), nil
	}
}

func setConditionalHeaders(req *http.Request, cached *http.Response) {
	if etag := cached.Header.Get("ETag"); etag != "" {
		req.Header.Set("If-None-Match", etag)
		return
	}
	if lm := cached.Header.Get("Last-Modified"); lm != "" {
		req.Header.Set("If-Modified-Since", lm)
	}
}

// storeAfterSend forwards req to the origin, handles a 304 against an
// existing hit, and otherwise stores the fresh response.
func (t *Transport) storeAfterSend(ctx context.Context, req *http.Request, hit *cache.Hit) (*http.Response, error) {
	origin, err := t.send(req)
	if err != nil {
		return nil, err
	}

	if hit != nil && origin.StatusCode == http.StatusNotModified {
		if err := t.Facade.RefreshResponse304(ctx, hit, origin); err != nil {
			t.logger().Debug("httpcache: 304 refresh failed", "error", err)
		}
		_ = origin.Body.Close()
		return annotated(hit.Response, req, hit.Variation.Type), nil
	}

	if hit != nil {
		_ = hit.Response.Body.Close()
	}

	stored, err := t.Facade.SetResponse(ctx, req, origin)
	if err != nil {
		t.logger().Debug("httpcache: store failed", "error", err)
		return annotated(origin, req, variation.None), nil
	}
	if stored != nil {
		_ = origin.Body.Close()
		return annotated(stored, req, variation.Derive(req, origin).Type), nil
	}
	return annotated(origin, req, variation.None), nil
}

func (t *Transport) send(req *http.Request) (*http.Response, error) {
	if t.resilience == nil {
		return t.next().RoundTrip(req)
	}
	return t.resilience.execute(func() (*http.Response, error) {
		attempt := req
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			attempt = req.Clone(req.Context())
			attempt.Body = body
		}
		return t.next().RoundTrip(attempt)
	})
}

// annotated attaches the resolved CacheType to resp.Request's context,
// the per-request-option annotation the middleware API promises callers.
func annotated(resp *http.Response, req *http.Request, ct variation.CacheType) *http.Response {
	annotatedReq := req.WithContext(withCacheType(req.Context(), ct))
	clone := *resp
	clone.Request = annotatedReq
	return &clone
}

func defaultRoot() string {
	return filepath.Join(os.TempDir(), "HttpClient.FileCache")
}

func storeCompression(t *Transport) filestore.Compression {
	return t.compression
}

func storeSecret(t *Transport) string {
	return t.encryptionPassphrase
}

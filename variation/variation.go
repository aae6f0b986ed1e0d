// Package variation classifies a cached response into the cache-type
// algebra used to split the cache key into an entry key and a response
// key: a response is either not cacheable at all (None), cacheable for any
// requester (Shared), or scoped to the requester that produced it
// (Private). It also normalizes the set of request headers a response
// varies on, matching the Vary-handling component of the original
// httpcache.Transport (see vary.go) but producing a storable value rather
// than doing the header comparison itself.
package variation

import (
	"net/http"
	"sort"
	"strings"

	"github.com/sandrolain/httpfilecache/internal/directives"
)

// CacheType is the classification a response receives for caching purposes.
type CacheType int

const (
	// None means the response must not be cached.
	None CacheType = iota
	// Shared means the response may be served to any requester.
	Shared
	// Private means the response may only be served back to the requester
	// it was produced for (see cachekey's principal derivation).
	Private
)

// String renders the CacheType the way it is written to JSON and to the
// "HttpClient.Cache.CacheType" request-option annotation.
func (c CacheType) String() string {
	switch c {
	case Shared:
		return "shared"
	case Private:
		return "private"
	default:
		return "none"
	}
}

// ParseCacheType parses the JSON/annotation representation back into a
// CacheType. Unrecognized values decode as None.
func ParseCacheType(s string) CacheType {
	switch s {
	case "shared":
		return Shared
	case "private":
		return Private
	default:
		return None
	}
}

// Variation is the value stored in a VariationEntry: the cache-type a
// response was classified as, plus the sorted, lowercased, deduplicated
// list of header names it declared in its Vary response header.
type Variation struct {
	Type                  CacheType
	NormalizedVaryHeaders []string
}

// Neutral is the variation used to compute the entry key (K1): Shared with
// no vary headers.
func Neutral() Variation {
	return Variation{Type: Shared}
}

// Equal reports structural equality: same cache type and the same ordered
// sequence of normalized vary headers.
func (v Variation) Equal(o Variation) bool {
	if v.Type != o.Type || len(v.NormalizedVaryHeaders) != len(o.NormalizedVaryHeaders) {
		return false
	}
	for i, h := range v.NormalizedVaryHeaders {
		if o.NormalizedVaryHeaders[i] != h {
			return false
		}
	}
	return true
}

// Derive classifies resp (whose originating request is req):
//
//   - not GET/HEAD                                        => None
//   - not a 2xx status                                    => None
//   - Cache-Control: no-store on request or response       => None
//   - Cache-Control: private on response                   => Private
//   - Authorization on request and no "public" on response => Private
//   - otherwise                                            => Shared
//
// Derivation is idempotent: feeding a response already tagged with the
// resulting Variation's Vary header back through Derive yields an equal
// value, since it only ever reads Vary, status, method, Cache-Control, and
// the request's Authorization header.
func Derive(req *http.Request, resp *http.Response) Variation {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return Variation{Type: None}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Variation{Type: None}
	}

	reqCC := directives.Parse(req.Header)
	respCC := directives.Parse(resp.Header)
	if reqCC.Has(directives.NoStore) || respCC.Has(directives.NoStore) {
		return Variation{Type: None}
	}

	vary := normalizedVaryHeaders(resp.Header)

	if respCC.Has(directives.Private) {
		return Variation{Type: Private, NormalizedVaryHeaders: vary}
	}

	if req.Header.Get("Authorization") != "" && !respCC.Has(directives.Public) {
		return Variation{Type: Private, NormalizedVaryHeaders: vary}
	}

	return Variation{Type: Shared, NormalizedVaryHeaders: vary}
}

// normalizedVaryHeaders returns the response's Vary field values lowercased,
// deduplicated, and sorted byte-wise: a duplicated header name can never
// change key derivation, and a smaller, stable list makes the stored
// Variation cheaper to compare and serialize.
func normalizedVaryHeaders(headers http.Header) []string {
	var names []string
	seen := map[string]bool{}
	for _, raw := range headers.Values("Vary") {
		for _, part := range strings.Split(raw, ",") {
			name := strings.ToLower(strings.TrimSpace(part))
			if name == "" || name == "*" || seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

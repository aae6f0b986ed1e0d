// Package cachekey computes the stable text key the file store uses to
// locate an entry: a byte-concatenation of the request's method, scheme,
// host, port, and path+query, plus a principal token when the variation is
// Private, plus the request's values for each header the variation says
// the response varies on. See httpcache's cacheKeyWithHeaders/cacheKeyWithVary
// for the analogous (simpler, non-principal-aware) key derivation this
// generalizes.
package cachekey

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sandrolain/httpfilecache/variation"
)

// recordSeparator is the ASCII Record Separator (0x1E) used to join key
// components so that no legal header value or URL segment can forge a
// field boundary.
const recordSeparator = "\x1e"

// absentByte marks a missing principal or a missing varied header with a
// single NUL byte, reserved for "not present".
const absentByte = "\x00"

// Computer derives cache keys for requests. The zero value is ready to use
// (RequireJWT defaults to false, matching RequireJwtToken's default).
type Computer struct {
	// RequireJWT mirrors the RequireJwtToken configuration flag: when true,
	// an Authorization: Bearer header that does not parse as a JWT yields
	// no key (KeyUnavailable) instead of falling back to the raw header
	// value as the principal token.
	RequireJWT bool
}

// scratch is the per-goroutine string-builder pool used to assemble keys
// without an allocation per field; sync.Pool is the idiomatic Go analogue
// of thread-local scratch space, since goroutines, not OS threads, are the
// unit of concurrency here.
var scratch = sync.Pool{
	New: func() any { return new(strings.Builder) },
}

// Compute derives the cache key for req under variation v. It returns
// ok=false (KeyUnavailable) only when v.Type is Private and no principal
// can be derived from the request's Authorization header — in every other
// case a key is always produced.
func (c *Computer) Compute(req *http.Request, v variation.Variation) (key string, ok bool) {
	principal := absentByte
	if v.Type == variation.Private {
		p, derived := c.principal(req)
		if !derived {
			return "", false
		}
		principal = p
	}

	b := scratch.Get().(*strings.Builder)
	b.Reset()
	defer scratch.Put(b)

	b.WriteString(strings.ToLower(req.Method))
	b.WriteString(recordSeparator)
	b.WriteString(strings.ToLower(req.URL.Scheme))
	b.WriteString(recordSeparator)
	b.WriteString(strings.ToLower(req.URL.Hostname()))
	b.WriteString(recordSeparator)
	b.WriteString(portOf(req.URL))
	b.WriteString(recordSeparator)
	b.WriteString(req.URL.RequestURI())
	b.WriteString(recordSeparator)
	b.WriteString(principal)

	for _, name := range v.NormalizedVaryHeaders {
		b.WriteString(recordSeparator)
		b.WriteString(name)
		b.WriteString("=")
		b.WriteString(varyValue(req.Header, name))
	}

	return b.String(), true
}

// defaultPorts maps a scheme to the port implied when the URL carries none.
var defaultPorts = map[string]string{"http": "80", "https": "443"}

// portOf returns the URL's port, defaulting to the scheme's well-known
// port the way net/url's own Port() does not.
func portOf(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	return defaultPorts[strings.ToLower(u.Scheme)]
}

func varyValue(h http.Header, name string) string {
	values := append([]string(nil), h.Values(http.CanonicalHeaderKey(name))...)
	if len(values) == 0 {
		return absentByte
	}
	sort.Strings(values)
	return strings.Join(values, ",")
}

// principal derives the principal token for a Private-classified request:
// a Bearer JWT's "sub" claim (prefixed "sub:"), falling back to
// "client_id" (prefixed "client_id:"), falling back to the raw
// Authorization header value unless RequireJWT is set — in which case a
// bearer token that doesn't parse as a JWT, or parses but carries neither
// claim, yields no principal at all — falling back to "no principal" when
// Authorization is altogether absent.
func (c *Computer) principal(req *http.Request) (string, bool) {
	auth := req.Header.Get("Authorization")
	if auth == "" {
		return "", false
	}

	const bearerPrefix = "bearer "
	if len(auth) > len(bearerPrefix) && strings.EqualFold(auth[:len(bearerPrefix)], bearerPrefix) {
		token := strings.TrimSpace(auth[len(bearerPrefix):])
		if claims, err := parseClaims(token); err == nil {
			if sub, ok := claims["sub"].(string); ok && sub != "" {
				return "sub:" + sub, true
			}
			if cid, ok := claims["client_id"].(string); ok && cid != "" {
				return "client_id:" + cid, true
			}
		}
		if c.RequireJWT {
			return "", false
		}
	}

	return auth, true
}

// parseClaims extracts the claim set from a bearer token without verifying
// its signature: the token is only ever used to partition the cache, never
// to authorize the request, so signature validation is out of scope here
// (the origin server is the one that authorizes).
func parseClaims(token string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(token, claims)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// Package httpcache provides an RFC 7234–oriented http.RoundTripper that
// caches GET/HEAD responses on the local filesystem with bounded capacity
// and expiration. It supports three caching policies selected per response:
// no caching, shared caching, and per-principal ("private") caching keyed
// off a bearer JWT's subject claim.
//
// On each outbound request the Transport decides whether a stored response
// may be served, conditionally revalidates with the origin when the cached
// response requires it, and, after receiving a fresh response, decides
// whether and how to store it. Storage, key derivation, and variation
// handling live in the filestore, cachekey, and variation subpackages;
// Transport composes them through the cache package's Facade.
package httpcache

package httpcache

import (
	"context"

	"github.com/sandrolain/httpfilecache/variation"
)

// cacheTypeContextKey is the annotation key downstream code can read with
// CacheTypeFromContext; it mirrors the "HttpClient.Cache.CacheType"
// request-option annotation.
type cacheTypeContextKey struct{}

// AnnotationKey is the name under which the resolved CacheType is attached
// to the request, for callers that prefer a string-keyed lookup.
const AnnotationKey = "HttpClient.Cache.CacheType"

func withCacheType(ctx context.Context, t variation.CacheType) context.Context {
	ctx = context.WithValue(ctx, AnnotationKey, t)
	return context.WithValue(ctx, cacheTypeContextKey{}, t)
}

// CacheTypeFromContext reports the CacheType a response this request
// resolved to was classified as, and whether Transport ever set one.
func CacheTypeFromContext(ctx context.Context) (variation.CacheType, bool) {
	t, ok := ctx.Value(cacheTypeContextKey{}).(variation.CacheType)
	return t, ok
}

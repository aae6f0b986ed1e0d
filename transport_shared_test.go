package httpcache

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandrolain/httpfilecache/variation"
)

// TestSharedWarmHit exercises scenario 1 from the testable-properties
// section: a second request for the same resource is served from cache
// with CacheType=Shared and without contacting the origin again.
func TestSharedWarmHit(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Cache-Control", "max-age=60")
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	tr := newTestTransport(t)
	client := tr.Client()

	resp1, err := client.Get(srv.URL + "/")
	require.NoError(t, err)
	body1, _ := io.ReadAll(resp1.Body)
	resp1.Body.Close()
	assert.Equal(t, "ok", string(body1))

	resp2, err := client.Get(srv.URL + "/")
	require.NoError(t, err)
	body2, _ := io.ReadAll(resp2.Body)
	resp2.Body.Close()
	assert.Equal(t, "ok", string(body2))

	ct, ok := CacheTypeFromContext(resp2.Request.Context())
	require.True(t, ok)
	assert.Equal(t, variation.Shared, ct)

	assert.EqualValues(t, 1, atomic.LoadInt32(&hits), "origin should only be contacted once")
}

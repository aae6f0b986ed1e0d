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

// TestMustRevalidateConditional exercises scenario 4: a must-revalidate
// response with an ETag is conditionally revalidated on the second
// request; a 304 from the origin serves the cached body back unchanged.
func TestMustRevalidateConditional(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Cache-Control", "must-revalidate, max-age=60")
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte("revalidated-body"))
	}))
	defer srv.Close()

	tr := newTestTransport(t)
	client := tr.Client()

	resp1, err := client.Get(srv.URL + "/")
	require.NoError(t, err)
	body1, _ := io.ReadAll(resp1.Body)
	resp1.Body.Close()
	assert.Equal(t, "revalidated-body", string(body1))
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))

	resp2, err := client.Get(srv.URL + "/")
	require.NoError(t, err)
	body2, _ := io.ReadAll(resp2.Body)
	resp2.Body.Close()

	assert.Equal(t, "revalidated-body", string(body2))
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits), "must-revalidate forwards a conditional request to the origin")
	assert.Equal(t, http.StatusOK, resp2.StatusCode, "caller receives the cached 200, not the origin's 304")

	ct, _ := CacheTypeFromContext(resp2.Request.Context())
	assert.Equal(t, variation.Shared, ct)
}

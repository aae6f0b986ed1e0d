package httpcache

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNoCacheRequestBypass exercises scenario 6: a request bearing
// Cache-Control: no-cache always reaches the origin, but the store-phase
// still runs and a subsequent unqualified request sees the freshly stored
// response.
func TestNoCacheRequestBypass(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		w.Header().Set("Cache-Control", "max-age=60")
		_, _ = fmt.Fprintf(w, "v%d", n)
	}))
	defer srv.Close()

	tr := newTestTransport(t)
	client := tr.Client()

	req1, err := http.NewRequest(http.MethodGet, srv.URL+"/", nil)
	require.NoError(t, err)
	req1.Header.Set("Cache-Control", "no-cache")
	resp1, err := client.Do(req1)
	require.NoError(t, err)
	body1, _ := io.ReadAll(resp1.Body)
	resp1.Body.Close()
	assert.Equal(t, "v1", string(body1))
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))

	req2, err := http.NewRequest(http.MethodGet, srv.URL+"/", nil)
	require.NoError(t, err)
	req2.Header.Set("Cache-Control", "no-cache")
	resp2, err := client.Do(req2)
	require.NoError(t, err)
	body2, _ := io.ReadAll(resp2.Body)
	resp2.Body.Close()
	assert.Equal(t, "v2", string(body2), "no-cache always reaches the origin")
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))

	resp3, err := client.Get(srv.URL + "/")
	require.NoError(t, err)
	body3, _ := io.ReadAll(resp3.Body)
	resp3.Body.Close()
	assert.Equal(t, "v2", string(body3), "unqualified request should see the freshly stored response")
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits), "unqualified request should be served from cache")
}

package cache

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandrolain/httpfilecache/cachekey"
	"github.com/sandrolain/httpfilecache/filestore"
	"github.com/sandrolain/httpfilecache/variation"
)

type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time { return c.now }

func newFacade(t *testing.T) (*Facade, *stepClock) {
	t.Helper()
	store, err := filestore.New(t.TempDir(), filestore.NoCompression, "")
	require.NoError(t, err)
	clock := &stepClock{now: time.Now().UTC()}
	store.Clock = clock
	return &Facade{
		Store:                    store,
		Keys:                     cachekey.Computer{},
		Clock:                    clock,
		DefaultInitialExpiration: 2 * 24 * time.Hour,
		DefaultRefreshExpiration: 2 * 24 * time.Hour,
	}, clock
}

func newOriginResponse(req *http.Request, status int, headers map[string]string, body string) *http.Response {
	resp := &http.Response{
		StatusCode: status,
		Header:     http.Header{},
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
		Request:    req,
	}
	for k, v := range headers {
		resp.Header.Set(k, v)
	}
	return resp
}

func TestFacadeSetThenGetSharedNoVary(t *testing.T) {
	f, _ := newFacade(t)
	req := httptest.NewRequest(http.MethodGet, "https://example.com/a", nil)
	origin := newOriginResponse(req, 200, map[string]string{"Cache-Control": "max-age=60"}, "hello")

	stored, err := f.SetResponse(t.Context(), req, origin)
	require.NoError(t, err)
	require.NotNil(t, stored)

	hit, err := f.GetResponseWithVariation(t.Context(), req)
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, variation.Shared, hit.Variation.Type)

	body, _ := io.ReadAll(hit.Response.Body)
	assert.Equal(t, "hello", string(body))
}

func TestFacadeSetNoStoreReturnsNil(t *testing.T) {
	f, _ := newFacade(t)
	req := httptest.NewRequest(http.MethodGet, "https://example.com/a", nil)
	origin := newOriginResponse(req, 200, map[string]string{"Cache-Control": "no-store"}, "hello")

	stored, err := f.SetResponse(t.Context(), req, origin)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestFacadeGetMissReturnsNilWithoutError(t *testing.T) {
	f, _ := newFacade(t)
	req := httptest.NewRequest(http.MethodGet, "https://example.com/nowhere", nil)

	hit, err := f.GetResponseWithVariation(t.Context(), req)
	require.NoError(t, err)
	assert.Nil(t, hit)
}

func TestFacadeVaryResolvesThroughVariationRecord(t *testing.T) {
	f, _ := newFacade(t)
	reqDa := httptest.NewRequest(http.MethodGet, "https://example.com/x", nil)
	reqDa.Header.Set("Accept-Language", "da")
	origin := newOriginResponse(reqDa, 200,
		map[string]string{"Cache-Control": "max-age=60", "Vary": "Accept-Language"}, "Hej")

	_, err := f.SetResponse(t.Context(), reqDa, origin)
	require.NoError(t, err)

	hit, err := f.GetResponseWithVariation(t.Context(), reqDa)
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, []string{"accept-language"}, hit.Variation.NormalizedVaryHeaders)

	body, _ := io.ReadAll(hit.Response.Body)
	assert.Equal(t, "Hej", string(body))

	reqEn := httptest.NewRequest(http.MethodGet, "https://example.com/x", nil)
	reqEn.Header.Set("Accept-Language", "en")
	miss, err := f.GetResponseWithVariation(t.Context(), reqEn)
	require.NoError(t, err)
	assert.Nil(t, miss, "a language not yet stored should still miss even though the variation record exists")
}

func TestFacadeRefreshResponseExtendsExpiration(t *testing.T) {
	f, clock := newFacade(t)
	req := httptest.NewRequest(http.MethodGet, "https://example.com/a", nil)
	origin := newOriginResponse(req, 200, map[string]string{"Cache-Control": "max-age=1"}, "hello")
	_, err := f.SetResponse(t.Context(), req, origin)
	require.NoError(t, err)

	hit, err := f.GetResponseWithVariation(t.Context(), req)
	require.NoError(t, err)
	require.NotNil(t, hit)

	require.NoError(t, f.RefreshResponse(t.Context(), hit))

	clock.now = clock.now.Add(25 * time.Hour)
	stillThere, err := f.GetResponseWithVariation(t.Context(), req)
	require.NoError(t, err)
	assert.NotNil(t, stillThere, "refresh should have pushed expiration out to DefaultRefreshExpiration")
}

func TestFacadeRefreshResponseExtendsVariationRecordExpiration(t *testing.T) {
	f, clock := newFacade(t)
	f.DefaultInitialExpiration = time.Hour
	req := httptest.NewRequest(http.MethodGet, "https://example.com/x", nil)
	req.Header.Set("Accept-Language", "da")
	origin := newOriginResponse(req, 200,
		map[string]string{"Cache-Control": "max-age=1", "Vary": "Accept-Language"}, "Hej")

	_, err := f.SetResponse(t.Context(), req, origin)
	require.NoError(t, err)

	hit, err := f.GetResponseWithVariation(t.Context(), req)
	require.NoError(t, err)
	require.NotNil(t, hit)
	require.NotEqual(t, variation.Neutral(), hit.Variation, "lookup must have resolved through a variation record")

	require.NoError(t, f.RefreshResponse(t.Context(), hit))

	// Past the stored expiration (max-age=1, so 1s) but within
	// DefaultRefreshExpiration (2 days): only a refresh of the K1 variation
	// record itself, not just
	// its access time, keeps the entry-key pointer alive this far out.
	clock.now = clock.now.Add(25 * time.Hour)
	stillThere, err := f.GetResponseWithVariation(t.Context(), req)
	require.NoError(t, err)
	require.NotNil(t, stillThere, "refresh must extend the entry-key variation record's own expiration, not just its access time")

	body, _ := io.ReadAll(stillThere.Response.Body)
	assert.Equal(t, "Hej", string(body))
}

func TestFacadeGetResponseSkipsVariationRecords(t *testing.T) {
	f, _ := newFacade(t)
	reqDa := httptest.NewRequest(http.MethodGet, "https://example.com/x", nil)
	reqDa.Header.Set("Accept-Language", "da")
	origin := newOriginResponse(reqDa, 200,
		map[string]string{"Cache-Control": "max-age=60", "Vary": "Accept-Language"}, "Hej")
	_, err := f.SetResponse(t.Context(), reqDa, origin)
	require.NoError(t, err)

	hit, err := f.GetResponse(t.Context(), reqDa)
	require.NoError(t, err)
	assert.Nil(t, hit, "GetResponse must not follow a variation record to its K2 response")

	plainReq := httptest.NewRequest(http.MethodGet, "https://example.com/a", nil)
	plainOrigin := newOriginResponse(plainReq, 200, map[string]string{"Cache-Control": "max-age=60"}, "hello")
	_, err = f.SetResponse(t.Context(), plainReq, plainOrigin)
	require.NoError(t, err)

	plainHit, err := f.GetResponse(t.Context(), plainReq)
	require.NoError(t, err)
	require.NotNil(t, plainHit)
	body, _ := io.ReadAll(plainHit.Response.Body)
	assert.Equal(t, "hello", string(body))
}

func TestFacadeRefreshResponse304RejectsNon304(t *testing.T) {
	f, _ := newFacade(t)
	req := httptest.NewRequest(http.MethodGet, "https://example.com/a", nil)
	origin := newOriginResponse(req, 200, map[string]string{"Cache-Control": "max-age=60"}, "hello")
	_, err := f.SetResponse(t.Context(), req, origin)
	require.NoError(t, err)

	hit, err := f.GetResponseWithVariation(t.Context(), req)
	require.NoError(t, err)
	require.NotNil(t, hit)

	notA304 := newOriginResponse(req, 200, nil, "")
	err = f.RefreshResponse304(t.Context(), hit, notA304)
	var invalid InvalidArgumentError
	assert.ErrorAs(t, err, &invalid)
}

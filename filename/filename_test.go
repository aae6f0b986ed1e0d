package filename

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermanentRoundTrip(t *testing.T) {
	modified := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	fn := Metadata("deadbeef", modified, "cafebabe")

	parsed, err := Parse(fn.String())
	require.NoError(t, err)
	assert.False(t, parsed.Temporary)
	assert.Equal(t, "deadbeef", parsed.KeyHash)
	assert.Equal(t, "cafebabe", parsed.ETagHash)
	assert.True(t, parsed.ModifiedUTC.Equal(modified))
	assert.Equal(t, ResponseMeta, parsed.Kind)
}

func TestPermanentRoundTripEmptyETag(t *testing.T) {
	modified := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	fn := VariationFile("deadbeef", modified, "")

	parsed, err := Parse(fn.String())
	require.NoError(t, err)
	assert.Equal(t, "", parsed.ETagHash)
	assert.Equal(t, Variation, parsed.Kind)
}

func TestTempRoundTrip(t *testing.T) {
	fn := Temp(ResponseBody)
	parsed, err := Parse(fn.String())
	require.NoError(t, err)
	assert.True(t, parsed.Temporary)
	assert.Equal(t, fn.UUID, parsed.UUID)
	assert.Equal(t, ResponseBody, parsed.Kind)
}

func TestToResponseFileName(t *testing.T) {
	modified := time.Now().UTC()
	meta := Metadata("abc123", modified, "")
	body := ToResponseFileName(meta)
	assert.Equal(t, ResponseBody, body.Kind)
	assert.Equal(t, meta.KeyHash, body.KeyHash)
	assert.True(t, body.ModifiedUTC.Equal(meta.ModifiedUTC))
}

func TestToResponseFileNamePanicsOnNonMetadata(t *testing.T) {
	defer func() {
		assert.NotNil(t, recover())
	}()
	ToResponseFileName(Temp(ResponseBody))
}

func TestParseCorruptFilename(t *testing.T) {
	for _, name := range []string{
		"not-even-close.response.json",
		"abc_2026-01-02T030405Z_tail.unknown",
		"abc_short.response.json",
	} {
		_, err := Parse(name)
		assert.Error(t, err, name)
		var corrupt ErrCorruptFilename
		assert.ErrorAs(t, err, &corrupt)
	}
}

func TestExpirationRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "entry.response.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	expiry := time.Date(2030, 6, 15, 12, 0, 0, 0, time.UTC)
	require.NoError(t, SetExpiration(path, expiry))

	got, err := GetExpiration(path)
	require.NoError(t, err)
	assert.True(t, got.Equal(expiry), "got %v want %v", got, expiry)
}

func TestRefreshPreservesExpiration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "entry.response.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	expiry := time.Date(2030, 6, 15, 12, 0, 0, 0, time.UTC)
	require.NoError(t, SetExpiration(path, expiry))

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, Refresh(path, now))

	got, err := GetExpiration(path)
	require.NoError(t, err)
	assert.True(t, got.Equal(expiry), "refresh must not disturb expiration")
}

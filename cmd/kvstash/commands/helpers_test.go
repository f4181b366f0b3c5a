package commands

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kverrors "github.com/kvstash/kvstash/internal/errors"
)

func TestParseTags(t *testing.T) {
	t.Parallel()

	out, err := parseTags([]string{"note=primary", "folder=payments", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"note": "primary", "folder": "payments", "empty": ""}, out)

	out, err = parseTags(nil)
	require.NoError(t, err)
	assert.Nil(t, out)

	for _, bad := range []string{"novalue", "=orphan"} {
		_, err := parseTags([]string{bad})
		var verr kverrors.ValidationError
		assert.ErrorAs(t, err, &verr, "input %q", bad)
	}
}

func TestParseExpiry(t *testing.T) {
	t.Parallel()

	ts, err := parseExpiry("2027-01-02T15:04:05Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2027, 1, 2, 15, 4, 5, 0, time.UTC), ts)

	ts, err = parseExpiry("720h")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(720*time.Hour), ts, time.Minute)

	ts, err = parseExpiry("")
	require.NoError(t, err)
	assert.True(t, ts.IsZero())

	for _, bad := range []string{"tomorrow", "-5h", "2026-13-01"} {
		_, err := parseExpiry(bad)
		var verr kverrors.ValidationError
		assert.ErrorAs(t, err, &verr, "input %q", bad)
	}
}

func TestProfileFromVaultFlag(t *testing.T) {
	t.Parallel()

	app := &App{Vault: "ad-hoc-vault"}
	p, err := app.profile()
	require.NoError(t, err)
	assert.Equal(t, "https://ad-hoc-vault.vault.azure.net", p.ResolveVaultURL())
}

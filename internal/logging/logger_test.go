package logging_test

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kvstash/kvstash/internal/logging"
)

func TestSecretIsRedactedInAllVerbs(t *testing.T) {
	t.Parallel()

	s := logging.Secret("hunter2")
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%s", s))
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%#v", s))
	assert.NotContains(t, fmt.Sprintf("%s %v %#v", s, s, s), "hunter2")
}

func TestRedactReplacesKnownSecrets(t *testing.T) {
	t.Parallel()

	out := logging.Redact("token=abcd1234 other=ok", []string{"abcd1234", ""})
	assert.Equal(t, "token=[REDACTED] other=ok", out)

	// Trivially short values are left alone to avoid mangling output.
	out = logging.Redact("x=ab", []string{"ab"})
	assert.Equal(t, "x=ab", out)
}

func TestDebugSuppressedByDefault(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := logging.NewWithWriter(&buf, false, true)
	l.Debug("should not appear")
	assert.Empty(t, buf.String())

	l = logging.NewWithWriter(&buf, true, true)
	l.Debug("now visible")
	assert.Contains(t, buf.String(), "[DEBUG] now visible")
}

func TestNoColorOutput(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := logging.NewWithWriter(&buf, false, true)
	l.Info("done")
	assert.Equal(t, "✓ done\n", buf.String())
	assert.NotContains(t, buf.String(), "\033[")
}

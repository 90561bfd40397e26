package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactorReplacesEveryOccurrence(t *testing.T) {
	r := NewRedactor("s3cret")

	got := r.Redact("Authorization: s3cret and again s3cret done")
	assert.Equal(t, "Authorization: [REDACTED] and again [REDACTED] done", got)
}

func TestRedactorMultipleSecrets(t *testing.T) {
	r := NewRedactor("alpha-token", "beta-token")

	got := r.Redact("alpha-token beta-token plain")
	assert.Equal(t, "[REDACTED] [REDACTED] plain", got)
}

func TestRedactorIgnoresEmptySecrets(t *testing.T) {
	r := NewRedactor("", "real")
	assert.Equal(t, "keep [REDACTED]", r.Redact("keep real"))
	assert.Equal(t, "untouched", r.Redact("untouched"))
}

func TestEnvRedactorPicksUpTokenVariables(t *testing.T) {
	t.Setenv("REGISTRY_TOKEN", "env-primary")
	t.Setenv("REGISTRIES_MIRROR_TOKEN", "env-mirror")
	t.Setenv("UNRELATED", "not-a-secret")

	r := NewEnvRedactor("resolved-token")

	got := r.Redact("resolved-token env-primary env-mirror not-a-secret")
	assert.Equal(t, "[REDACTED] [REDACTED] [REDACTED] not-a-secret", got)
}

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/piwi3910/shipper/pkg/types"
)

func TestClassifyFailureRetryable(t *testing.T) {
	cases := []string{
		"HTTP 429 too many requests",
		"error: connection reset by peer",
		"request timed out",
		"503 service unavailable",
		"tls handshake failure",
	}
	for _, stderr := range cases {
		class, _ := classifyFailure(stderr, "")
		assert.Equal(t, types.ErrorClassRetryable, class, stderr)
	}
}

func TestClassifyFailurePermanent(t *testing.T) {
	cases := []string{
		"error: permission denied",
		"failed to parse manifest at Cargo.toml",
		"crate demo@0.1.0 already uploaded",
		"401 unauthorized",
		"package is not allowed to be published",
	}
	for _, stderr := range cases {
		class, _ := classifyFailure(stderr, "")
		assert.Equal(t, types.ErrorClassPermanent, class, stderr)
	}
}

func TestClassifyFailureUnknownDefaultsToAmbiguous(t *testing.T) {
	class, msg := classifyFailure("strange output nobody has seen", "")
	assert.Equal(t, types.ErrorClassAmbiguous, class)
	assert.Contains(t, msg, "ambiguous")
}

func TestClassifyFailureChecksStdoutToo(t *testing.T) {
	class, _ := classifyFailure("", "server error 502")
	assert.Equal(t, types.ErrorClassRetryable, class)
}

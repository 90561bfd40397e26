package engine

import (
	"strings"

	"github.com/piwi3910/shipper/pkg/types"
)

// retryablePatterns match backpressure and transient network failures
// in tool output.
var retryablePatterns = []string{
	"too many requests",
	"429",
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"connection closed",
	"dns",
	"tls",
	"temporarily unavailable",
	"failed to download",
	"failed to send",
	"server error",
	"502",
	"503",
	"504",
}

// permanentPatterns match manifest, packaging, and authorization
// failures that a retry cannot fix.
var permanentPatterns = []string{
	"failed to parse manifest",
	"invalid",
	"missing",
	"license",
	"description",
	"readme",
	"repository",
	"could not compile",
	"compilation failed",
	"failed to verify",
	"already uploaded",
	"package is not allowed to be published",
	"publish is disabled",
	"yanked",
	"forbidden",
	"permission denied",
	"not authorized",
	"unauthorized",
	"400",
	"401",
	"403",
	"422",
}

// classifyFailure maps a failed upload attempt to an error class by
// string-matching well-known phrases in the combined output. Unknown
// failure shapes default to ambiguous, never to permanent: the server
// may have accepted the upload before the client saw an error.
func classifyFailure(stderr, stdout string) (types.ErrorClass, string) {
	hay := strings.ToLower(stderr + "\n" + stdout)

	for _, p := range retryablePatterns {
		if strings.Contains(hay, p) {
			return types.ErrorClassRetryable, "transient failure (retryable)"
		}
	}

	for _, p := range permanentPatterns {
		if strings.Contains(hay, p) {
			return types.ErrorClassPermanent, "permanent failure (fix required)"
		}
	}

	return types.ErrorClassAmbiguous, "publish outcome ambiguous; registry did not show version"
}

// Package registry probes a crates.io-compatible registry: version
// existence, crate ownership, and sparse-index visibility.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/piwi3910/shipper/pkg/types"
)

// Client is the registry prober used by preflight, the execution
// engine, and the readiness loop. All requests carry a bounded timeout
// and a shipper user agent.
type Client struct {
	registry  types.Registry
	http      *http.Client
	userAgent string
	limiter   *rate.Limiter
}

// Option customizes client construction.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithRateLimit bounds outgoing probes to r requests per second with
// the given burst.
func WithRateLimit(r float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(r), burst) }
}

// NewClient creates a registry client.
func NewClient(registry types.Registry, version string, opts ...Option) *Client {
	c := &Client{
		registry:  registry,
		http:      &http.Client{Timeout: 30 * time.Second},
		userAgent: "shipper/" + version,
		// Probes are small and bursty: allow 5 requests per second
		// with a burst of 10.
		limiter: rate.NewLimiter(rate.Limit(5), 10),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry returns the registry this client targets.
func (c *Client) Registry() types.Registry {
	return c.registry
}

// VersionExists reports whether name@version is present on the
// registry. 200 means present, 404 absent; 429/5xx/network errors are
// retryable, any other status is permanent.
func (c *Client) VersionExists(ctx context.Context, name, version string) (bool, error) {
	url := fmt.Sprintf("%s/api/v1/crates/%s/%s",
		strings.TrimRight(c.registry.APIBase, "/"), name, version)

	status, _, err := c.get(ctx, url, "")
	if err != nil {
		return false, err
	}
	switch {
	case status == http.StatusOK:
		return true, nil
	case status == http.StatusNotFound:
		return false, nil
	default:
		return false, classifyStatus(status, "checking version existence").
			WithPackage(types.PackageKey(name, version))
	}
}

// CrateExists reports whether the crate is known to the registry at
// all. Used for new-crate detection in preflight.
func (c *Client) CrateExists(ctx context.Context, name string) (bool, error) {
	url := fmt.Sprintf("%s/api/v1/crates/%s",
		strings.TrimRight(c.registry.APIBase, "/"), name)

	status, _, err := c.get(ctx, url, "")
	if err != nil {
		return false, err
	}
	switch {
	case status == http.StatusOK:
		return true, nil
	case status == http.StatusNotFound:
		return false, nil
	default:
		return false, classifyStatus(status, "checking crate existence").WithPackage(name)
	}
}

// Owner is one entry of a crate's owners list.
type Owner struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name,omitempty"`
}

type ownersResponse struct {
	Users []Owner `json:"users"`
}

// ListOwners fetches the crate's owners. The token is sent verbatim in
// the Authorization header.
func (c *Client) ListOwners(ctx context.Context, name, token string) ([]Owner, error) {
	url := fmt.Sprintf("%s/api/v1/crates/%s/owners",
		strings.TrimRight(c.registry.APIBase, "/"), name)

	status, body, err := c.get(ctx, url, token)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, classifyStatus(status, "querying owners").WithPackage(name)
	}

	var parsed ownersResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, types.NewPermanentError("failed to parse owners response", err).WithPackage(name)
	}
	return parsed.Users, nil
}

// VerifyOwnership is the best-effort ownership preflight: auth-shaped
// failures (401/403/404) degrade to "not verified" rather than
// erroring; transport failures still surface.
func (c *Client) VerifyOwnership(ctx context.Context, name, token string) (bool, error) {
	_, err := c.ListOwners(ctx, name, token)
	if err == nil {
		return true, nil
	}
	if types.IsPermanent(err) {
		return false, nil
	}
	return false, err
}

// IndexLookup reports whether the version appears in the registry's
// sparse index entry for the crate.
func (c *Client) IndexLookup(ctx context.Context, name, version string) (bool, error) {
	url := fmt.Sprintf("%s/%s",
		strings.TrimRight(c.registry.ResolvedIndexBase(), "/"), IndexPath(name))

	status, body, err := c.get(ctx, url, "")
	if err != nil {
		return false, err
	}
	switch {
	case status == http.StatusOK:
		return indexHasVersion(body, version), nil
	case status == http.StatusNotFound:
		return false, nil
	default:
		return false, classifyStatus(status, "fetching index entry").
			WithPackage(types.PackageKey(name, version))
	}
}

// IndexPath derives the sparse-index path for a crate using the
// registry's standard prefix rules: "1/x", "2/xy", "3/x/xyz", and
// "xy/za/xyzabc" for longer names.
func IndexPath(name string) string {
	lower := strings.ToLower(name)
	switch len(lower) {
	case 0:
		return ""
	case 1:
		return "1/" + lower
	case 2:
		return "2/" + lower
	case 3:
		return "3/" + lower[:1] + "/" + lower
	default:
		return lower[:2] + "/" + lower[2:4] + "/" + lower
	}
}

// indexHasVersion scans line-delimited JSON index records for a
// matching "vers" field. Malformed lines are skipped.
func indexHasVersion(body []byte, version string) bool {
	type indexRecord struct {
		Vers string `json:"vers"`
	}
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var rec indexRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if rec.Vers == version {
			return true
		}
	}
	return false
}

// get performs a rate-limited GET, returning status and body. Network
// failures are retryable errors.
func (c *Client) get(ctx context.Context, url, token string) (int, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, types.NewCancelledError("registry request cancelled", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, types.NewPermanentError("failed to build registry request", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if token != "" {
		req.Header.Set("Authorization", token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, types.NewCancelledError("registry request cancelled", err)
		}
		return 0, nil, types.NewRetryableError("registry unreachable", err).
			WithCode(types.ErrCodeRegistryUnreachable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return 0, nil, types.NewRetryableError("failed to read registry response", err).
			WithCode(types.ErrCodeRegistryUnreachable)
	}
	return resp.StatusCode, body, nil
}

// classifyStatus maps an unexpected HTTP status to an error class:
// 429 and 5xx retryable, other 4xx permanent.
func classifyStatus(status int, op string) *types.Error {
	msg := fmt.Sprintf("unexpected status %d while %s", status, op)
	if status == http.StatusTooManyRequests || status >= 500 {
		return types.NewRetryableError(msg, nil).WithCode(types.ErrCodeRegistryUnreachable)
	}
	return types.NewPermanentError(msg, nil)
}

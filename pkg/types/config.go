package types

import "time"

// ReadinessMethod selects how version visibility is confirmed.
type ReadinessMethod string

const (
	// ReadinessAPI polls the registry HTTP API (fast).
	ReadinessAPI ReadinessMethod = "api"
	// ReadinessIndex polls the sparse index (slower, more accurate).
	ReadinessIndex ReadinessMethod = "index"
	// ReadinessBoth polls both (slowest, most reliable).
	ReadinessBoth ReadinessMethod = "both"
)

// ReadinessConfig controls the post-upload visibility probe.
type ReadinessConfig struct {
	Enabled      bool            `json:"enabled" yaml:"enabled"`
	Method       ReadinessMethod `json:"method" yaml:"method" validate:"omitempty,oneof=api index both"`
	InitialDelay Duration        `json:"initial_delay" yaml:"initial_delay"`
	PollInterval Duration        `json:"poll_interval" yaml:"poll_interval"`
	MaxDelay     Duration        `json:"max_delay" yaml:"max_delay"`
	MaxTotalWait Duration        `json:"max_total_wait" yaml:"max_total_wait"`
	JitterFactor float64         `json:"jitter_factor" yaml:"jitter_factor" validate:"gte=0,lte=1"`
	PreferIndex  bool            `json:"prefer_index" yaml:"prefer_index"`
}

// DefaultReadinessConfig returns the stock readiness settings.
func DefaultReadinessConfig() ReadinessConfig {
	return ReadinessConfig{
		Enabled:      true,
		Method:       ReadinessAPI,
		InitialDelay: Duration(1 * time.Second),
		PollInterval: Duration(2 * time.Second),
		MaxDelay:     Duration(60 * time.Second),
		MaxTotalWait: Duration(5 * time.Minute),
		JitterFactor: 0.5,
	}
}

// RetryStrategy selects the delay curve between attempts.
type RetryStrategy string

const (
	RetryImmediate   RetryStrategy = "immediate"
	RetryExponential RetryStrategy = "exponential"
	RetryLinear      RetryStrategy = "linear"
	RetryConstant    RetryStrategy = "constant"
)

// RetryConfig controls the attempt loop for upload failures.
type RetryConfig struct {
	Strategy    RetryStrategy `json:"strategy" yaml:"strategy" validate:"omitempty,oneof=immediate exponential linear constant"`
	MaxAttempts uint32        `json:"max_attempts" yaml:"max_attempts" validate:"gte=1"`
	BaseDelay   Duration      `json:"base_delay" yaml:"base_delay"`
	MaxDelay    Duration      `json:"max_delay" yaml:"max_delay"`
	Jitter      float64       `json:"jitter" yaml:"jitter" validate:"gte=0,lte=1"`
}

// DefaultRetryConfig returns the stock retry settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Strategy:    RetryExponential,
		MaxAttempts: 6,
		BaseDelay:   Duration(2 * time.Second),
		MaxDelay:    Duration(120 * time.Second),
		Jitter:      0.5,
	}
}

// ParallelConfig controls dependency-level-parallel execution.
type ParallelConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// MaxConcurrent bounds the in-wave fan-out.
	MaxConcurrent int `json:"max_concurrent" yaml:"max_concurrent" validate:"gte=0"`

	// PerPackageTimeout arms the subprocess deadline in parallel mode.
	PerPackageTimeout Duration `json:"per_package_timeout" yaml:"per_package_timeout"`
}

// DefaultParallelConfig returns the stock parallel settings
// (disabled; sequential is the default mode).
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{
		Enabled:           false,
		MaxConcurrent:     4,
		PerPackageTimeout: Duration(30 * time.Minute),
	}
}

// PublishPolicy bundles verification strictness presets.
type PublishPolicy string

const (
	// PolicySafe runs dry-run plus strict checks (default).
	PolicySafe PublishPolicy = "safe"
	// PolicyBalanced verifies only when needed.
	PolicyBalanced PublishPolicy = "balanced"
	// PolicyFast skips verification; explicit risk.
	PolicyFast PublishPolicy = "fast"
)

// VerifyMode selects the dry-run granularity.
type VerifyMode string

const (
	// VerifyWorkspace runs a single workspace dry-run (default, safest).
	VerifyWorkspace VerifyMode = "workspace"
	// VerifyPackage runs a dry-run per package.
	VerifyPackage VerifyMode = "package"
	// VerifyNone skips dry-run.
	VerifyNone VerifyMode = "none"
)

// WebhookConfig controls optional HTTP POST notifications.
// Disabled by default; failures never block publishing.
type WebhookConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	URL     string   `json:"url,omitempty" yaml:"url" validate:"omitempty,url"`
	Secret  string   `json:"-" yaml:"secret"`
	Timeout Duration `json:"timeout" yaml:"timeout"`
}

// DefaultWebhookConfig returns the stock webhook settings.
func DefaultWebhookConfig() WebhookConfig {
	return WebhookConfig{Timeout: Duration(30 * time.Second)}
}

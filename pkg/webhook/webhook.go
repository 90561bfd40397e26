// Package webhook sends optional HTTP POST notifications for publish
// events. Delivery is fire-and-forget: failures are logged and never
// block publishing.
package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/piwi3910/shipper/pkg/telemetry"
	"github.com/piwi3910/shipper/pkg/types"
)

// SignatureHeader carries the hex HMAC-SHA256 of the payload when a
// secret is configured.
const SignatureHeader = "X-Shipper-Signature"

// EventName identifies a webhook event.
type EventName string

const (
	EventPublishStarted   EventName = "publish_started"
	EventPackagePublished EventName = "package_published"
	EventPackageFailed    EventName = "package_failed"
	EventPublishCompleted EventName = "publish_completed"
)

// Event is the notification body.
type Event struct {
	Name           EventName `json:"event"`
	PlanID         string    `json:"plan_id"`
	Registry       string    `json:"registry,omitempty"`
	PackageName    string    `json:"package_name,omitempty"`
	PackageVersion string    `json:"package_version,omitempty"`
	ErrorClass     string    `json:"error_class,omitempty"`
	Message        string    `json:"message,omitempty"`
	PackageCount   int       `json:"package_count,omitempty"`
	SuccessCount   int       `json:"success_count,omitempty"`
	FailureCount   int       `json:"failure_count,omitempty"`
	SkippedCount   int       `json:"skipped_count,omitempty"`
	Result         string    `json:"result,omitempty"`
	DurationMS     int64     `json:"duration_ms,omitempty"`
}

// payload wraps the event with a timestamp.
type payload struct {
	Timestamp time.Time `json:"timestamp"`
	Event     Event     `json:"event_data"`
}

// Client posts webhook events. A nil Client is safe to use and sends
// nothing.
type Client struct {
	http   *http.Client
	url    string
	secret string
	logger *telemetry.Logger
}

// NewClient builds a webhook client from config. Returns nil when
// webhooks are disabled or no URL is configured.
func NewClient(cfg types.WebhookConfig, logger *telemetry.Logger) *Client {
	if !cfg.Enabled || cfg.URL == "" {
		return nil
	}
	timeout := cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		http:   &http.Client{Timeout: timeout},
		url:    cfg.URL,
		secret: cfg.Secret,
		logger: logger,
	}
}

// Send delivers the event in a background goroutine. Errors are logged
// at warn level only.
func (c *Client) Send(event Event) {
	if c == nil {
		return
	}
	go func() {
		if err := c.send(event); err != nil && c.logger != nil {
			c.logger.WithError(err).Warn("webhook delivery failed")
		}
	}()
}

// SendSync delivers the event synchronously; used by tests.
func (c *Client) SendSync(event Event) error {
	if c == nil {
		return nil
	}
	return c.send(event)
}

func (c *Client) send(event Event) error {
	body, err := json.Marshal(payload{Timestamp: time.Now().UTC(), Event: event})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.secret != "" {
		req.Header.Set(SignatureHeader, Sign(c.secret, body))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return types.NewRetryableError("webhook endpoint returned "+resp.Status, nil)
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 signature of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

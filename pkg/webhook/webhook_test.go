package webhook

import (
	"crypto/hmac"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piwi3910/shipper/pkg/types"
)

func TestClientDisabledIsNil(t *testing.T) {
	assert.Nil(t, NewClient(types.WebhookConfig{Enabled: false, URL: "https://x"}, nil))
	assert.Nil(t, NewClient(types.WebhookConfig{Enabled: true}, nil))

	// A nil client swallows sends.
	var c *Client
	c.Send(Event{Name: EventPublishStarted})
	assert.NoError(t, c.SendSync(Event{Name: EventPublishStarted}))
}

func TestSendDeliversSignedPayload(t *testing.T) {
	var gotBody []byte
	var gotSig string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get(SignatureHeader)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(types.WebhookConfig{
		Enabled: true,
		URL:     server.URL,
		Secret:  "hush",
		Timeout: types.Duration(5 * time.Second),
	}, nil)
	require.NotNil(t, client)

	err := client.SendSync(Event{
		Name:           EventPackagePublished,
		PlanID:         "plan-1",
		PackageName:    "demo",
		PackageVersion: "0.1.0",
	})
	require.NoError(t, err)

	var p payload
	require.NoError(t, json.Unmarshal(gotBody, &p))
	assert.Equal(t, EventPackagePublished, p.Event.Name)
	assert.Equal(t, "demo", p.Event.PackageName)
	assert.False(t, p.Timestamp.IsZero())

	// The signature verifies against the raw body.
	assert.True(t, hmac.Equal([]byte(Sign("hush", gotBody)), []byte(gotSig)))
}

func TestSendWithoutSecretOmitsSignature(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get(SignatureHeader))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(types.WebhookConfig{Enabled: true, URL: server.URL}, nil)
	require.NoError(t, client.SendSync(Event{Name: EventPublishCompleted, PlanID: "p"}))
}

func TestSendSurfacesServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(types.WebhookConfig{Enabled: true, URL: server.URL}, nil)
	assert.Error(t, client.SendSync(Event{Name: EventPublishStarted, PlanID: "p"}))
}

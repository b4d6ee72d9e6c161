package notifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePayload() WebhookPayload {
	return WebhookPayload{
		DeliveryID:  "9b2e3f1c-0000-5000-8000-000000000001",
		Event:       EventPayload{ID: "event-1", Name: "Family", EventDate: "2026-12-24"},
		Giver:       GiverPayload{ID: "giver-1", Name: "Ada", Email: "ada@example.com"},
		Recipient:   RecipientPayload{ID: "recipient-1", Name: "Grace"},
		CompletedAt: "2026-12-01T09:00:00Z",
	}
}

func TestHTTPWebhookSender_HeadersAndSignature(t *testing.T) {
	var (
		gotMethod string
		gotHeader http.Header
		gotBody   []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeader = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	result := NewHTTPWebhookSender().Send(context.Background(), WebhookRequest{
		URL:     srv.URL,
		Secret:  "topsecret",
		Timeout: 5 * time.Second,
		Payload: samplePayload(),
	})

	require.NoError(t, result.Error)
	assert.Equal(t, http.StatusAccepted, result.StatusCode)
	assert.True(t, result.Duration > 0)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/json", gotHeader.Get("Content-Type"))
	assert.Equal(t, "9b2e3f1c-0000-5000-8000-000000000001", gotHeader.Get(HeaderDeliveryID))
	assert.Equal(t, "event-1", gotHeader.Get(HeaderEventID))
	assert.True(t, VerifySignature("topsecret", gotBody, gotHeader.Get(HeaderSignature)))
	assert.False(t, VerifySignature("other", gotBody, gotHeader.Get(HeaderSignature)))

	var decoded WebhookPayload
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	assert.Equal(t, samplePayload().Giver, decoded.Giver)
	assert.False(t, decoded.Event.PriceLimit.Valid)
}

func TestHTTPWebhookSender_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	result := NewHTTPWebhookSender().Send(context.Background(), WebhookRequest{
		URL:     srv.URL,
		Timeout: 50 * time.Millisecond,
		Payload: samplePayload(),
	})

	require.Error(t, result.Error)
	assert.ErrorIs(t, result.Error, context.DeadlineExceeded)
	assert.True(t, result.IsRetryable())
}

func TestHTTPWebhookSender_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	result := NewHTTPWebhookSender().Send(context.Background(), WebhookRequest{URL: url, Payload: samplePayload()})
	require.Error(t, result.Error)
	assert.Zero(t, result.StatusCode)
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"delivery_id":"x"}`)
	sig := computeSignature("k", body)

	assert.Len(t, sig, 64)
	assert.True(t, VerifySignature("k", body, sig))
	assert.False(t, VerifySignature("k", []byte(`{"delivery_id":"y"}`), sig))
	assert.False(t, VerifySignature("k", body, ""))
}

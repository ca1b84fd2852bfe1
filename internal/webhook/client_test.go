package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(attempts int) *Client {
	return NewClient(Config{
		SigningSecret:  "test-secret",
		Timeout:        2 * time.Second,
		MaxAttempts:    attempts,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
	})
}

func TestSendSignsEnvelope(t *testing.T) {
	var (
		header http.Header
		body   []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Clone()
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := testClient(1).Send(context.Background(), srv.URL, EventDerivativeReady, map[string]any{"fingerprint": "abc"})
	require.NoError(t, err)

	assert.Equal(t, EventDerivativeReady, header.Get(HeaderEvent))
	assert.NotEmpty(t, header.Get(HeaderDelivery))
	assert.True(t, Verify("test-secret", header.Get(HeaderTimestamp), header.Get(HeaderSignature), body))
	assert.False(t, Verify("other-secret", header.Get(HeaderTimestamp), header.Get(HeaderSignature), body))

	var envelope struct {
		ID    string         `json:"id"`
		Event string         `json:"event"`
		Data  map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &envelope))
	assert.Equal(t, header.Get(HeaderDelivery), envelope.ID)
	assert.Equal(t, EventDerivativeReady, envelope.Event)
	assert.Equal(t, "abc", envelope.Data["fingerprint"])
}

func TestSendRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, testClient(3).Send(context.Background(), srv.URL, EventDerivativeFailed, nil))
	assert.Equal(t, int32(3), calls.Load())
}

func TestSendGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := testClient(2).Send(context.Background(), srv.URL, EventDerivativeReady, nil)
	assert.ErrorContains(t, err, "after 2 attempts")
	assert.Equal(t, int32(2), calls.Load())
}

func TestSendDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	err := testClient(5).Send(context.Background(), srv.URL, EventDerivativeReady, nil)
	assert.ErrorContains(t, err, "status=410")
	assert.Equal(t, int32(1), calls.Load())
}

func TestSendWithoutEndpointIsNoop(t *testing.T) {
	assert.NoError(t, testClient(1).Send(context.Background(), "  ", EventDerivativeReady, nil))
}

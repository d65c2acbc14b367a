package swish

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePayment(t *testing.T) {
	var received PaymentRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/paymentrequests", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"ref-123","status":"CREATED"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "1230000000", time.Second)
	resp, err := client.CreatePayment(context.Background(), PaymentRequest{
		Amount:             "500.00",
		Message:            "August fee",
		CallbackIdentifier: "cb-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "ref-123", resp.Reference)
	// The configured alias fills in when the caller leaves it empty.
	assert.Equal(t, "1230000000", received.PayeeAlias)
}

func TestCreatePaymentUsesLocationHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "ref-from-header")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", time.Second)
	resp, err := client.CreatePayment(context.Background(), PaymentRequest{Amount: "100.00"})
	require.NoError(t, err)
	assert.Equal(t, "ref-from-header", resp.Reference)
}

func TestCreatePaymentRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"errorCode":"RP03","errorMessage":"Callback URL is missing"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", time.Second)
	_, err := client.CreatePayment(context.Background(), PaymentRequest{Amount: "100.00"})
	require.Error(t, err)
	assert.True(t, IsRejected(err))
	assert.Contains(t, err.Error(), "RP03")
}

func TestCreatePaymentServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", time.Second)
	_, err := client.CreatePayment(context.Background(), PaymentRequest{Amount: "100.00"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.False(t, IsRejected(err))
}

func TestCreatePaymentTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", 20*time.Millisecond)
	_, err := client.CreatePayment(context.Background(), PaymentRequest{Amount: "100.00"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

package api

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

// TestGetSuccess tests a plain read with bearer authorization
func TestGetSuccess(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"p1","name":"Sugar"}]`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "token-123", 0)
	body, err := client.Get(context.Background(), "/api/products")
	require.NoError(t, err)

	assert.Equal(t, "Bearer token-123", gotAuth)
	assert.JSONEq(t, `[{"id":"p1","name":"Sugar"}]`, string(body))
}

// TestPostSendsJSONBody tests that creates carry the payload and content type
func TestPostSendsJSONBody(t *testing.T) {
	var gotBody []byte
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		var buf [256]byte
		n, _ := r.Body.Read(buf[:])
		gotBody = buf[:n]
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"p1","name":"Sugar","sku":"SKU1"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "token-123", 0)
	resp, err := client.Post(context.Background(), "/api/products", json.RawMessage(`{"name":"Sugar","sku":"SKU1"}`))
	require.NoError(t, err)

	assert.Equal(t, "application/json", gotContentType)
	assert.JSONEq(t, `{"name":"Sugar","sku":"SKU1"}`, string(gotBody))
	assert.JSONEq(t, `{"id":"p1","name":"Sugar","sku":"SKU1"}`, string(resp))
}

// TestApplicationErrorPropagates tests that 4xx responses surface as *Error
func TestApplicationErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"not allowed"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "token-123", 0)
	_, err := client.Get(context.Background(), "/api/retailers")
	require.Error(t, err)

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Contains(t, apiErr.Body, "not allowed")
	assert.False(t, IsNetworkError(err), "application errors must not classify as network failures")
}

// TestNetworkErrorClassification tests that an unreachable server is network-class
func TestNetworkErrorClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	client := NewClient(srv.URL, "token-123", 0)
	_, err := client.Get(context.Background(), "/api/products")
	require.Error(t, err)
	assert.True(t, IsNetworkError(err))
}

// TestTimeoutClassification tests that a slow server counts as a network timeout
func TestTimeoutClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "token-123", 20*time.Millisecond)
	_, err := client.Get(context.Background(), "/api/products")
	require.Error(t, err)
	assert.True(t, IsNetworkError(err))
	assert.True(t, IsTimeout(err))
	assert.Contains(t, UserMessage(err), "cold-starting")
}

// TestUserMessages tests the friendly message mapping
func TestUserMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	client := NewClient(srv.URL, "token-123", 0)
	_, err := client.Get(context.Background(), "/api/products")
	require.Error(t, err)
	assert.Contains(t, UserMessage(err), "check your connection")

	appErr := &Error{Status: 422, Body: "bad payload"}
	assert.Contains(t, UserMessage(appErr), "422")
}

// TestMissingToken tests that calls without a token are refused locally
func TestMissingToken(t *testing.T) {
	client := NewClient("http://localhost:1", "", 0)
	_, err := client.Get(context.Background(), "/api/products")
	require.ErrorIs(t, err, ErrNoToken)
	assert.False(t, IsNetworkError(err), "a missing token is not a connectivity problem")
}

// TestPingTreatsApplicationErrorAsReachable tests reachability semantics
func TestPingTreatsApplicationErrorAsReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "token-123", 0)
	assert.NoError(t, client.Ping(context.Background()), "any HTTP response proves connectivity")

	srv.Close()
	assert.Error(t, client.Ping(context.Background()))
}

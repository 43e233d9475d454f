package loiterkiller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHealthCheck_EnablesClientOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)
	require.False(t, c.Enabled())

	require.NoError(t, c.HealthCheck(context.Background(), time.Second))
	require.True(t, c.Enabled())
}

func TestHealthCheck_StaysDisabledOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	require.Error(t, c.HealthCheck(context.Background(), time.Second))
	require.False(t, c.Enabled())
}

func TestAcquire_DisablesClientOnFailureAfterHealthy(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/session/s1/acquire":
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)
	require.NoError(t, c.HealthCheck(context.Background(), time.Second))
	require.True(t, c.Enabled())

	_, _, err = c.AcquireForVectorStore(context.Background(), "s1", false)
	require.Error(t, err)
	require.False(t, c.Enabled(), "a failed call must disable the client for the rest of the process")

	// A second attempt must not even reach the server once disabled.
	before := calls
	_, _, err = c.AcquireForVectorStore(context.Background(), "s1", false)
	require.Error(t, err)
	require.Equal(t, before, calls)
}

func TestAcquire_ReturnsTrackedFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/session/s1/acquire":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, true, body["protected"])
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(AcquireResponse{
				VectorStoreID: "vs-1",
				TrackedFiles:  []string{"a.go", "b.go"},
			})
		}
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)
	require.NoError(t, c.HealthCheck(context.Background(), time.Second))

	id, files, err := c.AcquireForVectorStore(context.Background(), "s1", true)
	require.NoError(t, err)
	require.Equal(t, "vs-1", id)
	require.ElementsMatch(t, []string{"a.go", "b.go"}, files)
}

func TestNew_RejectsMissingBaseURL(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

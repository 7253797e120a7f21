package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPChecker(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		healthy bool
	}{
		{"ok", http.StatusOK, true},
		{"no content", http.StatusNoContent, false},
		{"redirect", http.StatusFound, false},
		{"default backend", http.StatusNotFound, false},
		{"bad gateway", http.StatusBadGateway, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.status == http.StatusFound {
					w.Header().Set("Location", "/login")
				}
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			result := NewHTTPChecker(server.URL).Check(context.Background())
			assert.Equal(t, tt.healthy, result.Healthy, result.Message)
			assert.False(t, result.CheckedAt.IsZero())
		})
	}
}

func TestHTTPCheckerAddressKeepsHostHeader(t *testing.T) {
	hosts := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hosts <- r.Host
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	addr, err := url.Parse(server.URL)
	require.NoError(t, err)

	result := NewHTTPChecker("http://ab12cd34.apps.local").
		WithAddress(addr.Host).
		Check(context.Background())

	assert.True(t, result.Healthy, result.Message)
	assert.Equal(t, "ab12cd34.apps.local", <-hosts)
}

func TestHTTPCheckerTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	result := NewHTTPChecker(server.URL).WithTimeout(20 * time.Millisecond).Check(context.Background())
	assert.False(t, result.Healthy)
	assert.Contains(t, result.Message, "request failed")
}

func TestHTTPCheckerContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := NewHTTPChecker(server.URL).Check(ctx)
	assert.False(t, result.Healthy)
}

func TestHTTPProber(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusServiceUnavailable)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer server.Close()

	addr, err := url.Parse(server.URL)
	require.NoError(t, err)
	prober := &HTTPProber{Address: addr.Host, Timeout: time.Second}

	result := prober.Probe(context.Background(), "http://ab12cd34.apps.local")
	assert.False(t, result.Healthy)
	assert.Contains(t, result.Message, "503")

	status.Store(http.StatusOK)
	result = prober.Probe(context.Background(), "http://ab12cd34.apps.local")
	assert.True(t, result.Healthy, result.Message)
}

func TestHTTPProberLocalhost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	// httptest URLs use 127.0.0.1, which always resolves.
	result := (&HTTPProber{}).Probe(context.Background(), server.URL)
	assert.True(t, result.Healthy, result.Message)
}

func TestHTTPProberUnresolvableHost(t *testing.T) {
	result := (&HTTPProber{Timeout: time.Second}).Probe(context.Background(), "http://store.invalid")
	assert.False(t, result.Healthy)
	assert.Contains(t, result.Message, "does not resolve")
}
